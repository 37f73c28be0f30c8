package commands

import (
	"database/sql"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

// openDatabase opens and migrates the configured database.
// SQLite uses database.path; Postgres uses database.dsn.
func openDatabase(cfg *am.Config) (*sql.DB, db.Dialect, error) {
	dialect, err := db.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, "", err
	}

	dsn := cfg.GetDatabasePath()
	if dialect == db.DialectPostgres {
		dsn = cfg.Database.DSN
		if dsn == "" {
			return nil, "", errors.WithHint(errors.New("database.dsn is required for postgres"),
				"set JOBPULSE_DATABASE_DSN or DATABASE_URL")
		}
	}

	database, err := db.OpenWithMigrations(dialect, dsn, logger.Logger)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open %s database", dialect)
	}
	return database, dialect, nil
}

// describeDatabase names the database for banners without leaking credentials
func describeDatabase(cfg *am.Config, dialect db.Dialect) string {
	if dialect == db.DialectPostgres {
		return "postgres"
	}
	return cfg.GetDatabasePath()
}
