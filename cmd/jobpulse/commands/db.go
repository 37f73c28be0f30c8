package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the jobpulse database",
	Long: sym.DB + ` db - Manage the jobpulse database

Opening the database applies any pending migrations, so every command
here leaves the schema current.

Examples:
  jobpulse db migrate             # Apply migrations and list them
  jobpulse db stats               # Row counts per table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts per table",
	RunE:  runDbStats,
}

// statTables are the tables reported by db stats, in schema order
var statTables = []string{
	"timers",
	"workflow_runs",
	"applications",
	"user_settings",
	"follow_up_tracking",
	"generated_documents",
	"notifications",
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	rows, err := database.Query(`SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return errors.Wrap(err, "failed to list migrations")
	}
	defer rows.Close()

	data := pterm.TableData{{"Version", "Applied"}}
	for rows.Next() {
		var version, appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return errors.Wrap(err, "failed to scan migration")
		}
		data = append(data, []string{version, appliedAt})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to list migrations")
	}

	pterm.Success.Printf("%s %s schema is current\n", sym.DB, describeDatabase(cfg, dialect))
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	data := pterm.TableData{{"Table", "Rows"}}
	for _, table := range statTables {
		var n int
		// table names come from statTables, never from input
		if err := database.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", table)
		}
		data = append(data, []string{table, fmt.Sprint(n)})
	}

	fmt.Printf("%s Database: %s (%s)\n", sym.DB, describeDatabase(cfg, dialect), dialect)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
