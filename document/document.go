// Package document stores the records of generated resumes and cover letters.
// The file bytes live in blob storage under StorageKey.
package document

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
)

// Kind distinguishes resumes from cover letters
type Kind string

const (
	KindResume      Kind = "resume"
	KindCoverLetter Kind = "cover-letter"
)

// Document is a generated file attached to an application
type Document struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ApplicationID string    `json:"application_id,omitempty"`
	Kind          Kind      `json:"kind"`
	Filename      string    `json:"filename"`
	StorageKey    string    `json:"storage_key"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store handles persistence of generated document records
type Store struct {
	q       db.Querier
	dialect db.Dialect
}

// NewStore creates a new document store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{q: conn, dialect: dialect}
}

// WithTx returns a copy of the store that runs its statements in tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	cp := *s
	cp.q = tx
	return &cp
}

// Create inserts a document record, generating an ID when empty
func (s *Store) Create(ctx context.Context, doc *Document) error {
	if doc.StorageKey == "" {
		return errors.NewInvalidRequestError("document requires a storage key")
	}
	if doc.Kind != KindResume && doc.Kind != KindCoverLetter {
		return errors.NewInvalidRequestError("unknown document kind %q", doc.Kind)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now().UTC()

	_, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO generated_documents (id, user_id, application_id, kind, filename, storage_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), doc.ID, doc.UserID, sql.NullString{String: doc.ApplicationID, Valid: doc.ApplicationID != ""},
		string(doc.Kind), doc.Filename, doc.StorageKey, db.FormatTime(doc.CreatedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewConflictError("document %s already exists", doc.ID)
		}
		return errors.Wrapf(err, "failed to create document %s", doc.ID)
	}
	return nil
}

// Get retrieves a document record. A missing record returns nil, nil:
// deletion treats "already gone" as done.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	var kind, createdAt string
	var applicationID sql.NullString

	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT id, user_id, application_id, kind, filename, storage_key, created_at
		FROM generated_documents WHERE id = ?
	`), id).Scan(&doc.ID, &doc.UserID, &applicationID, &kind, &doc.Filename, &doc.StorageKey, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get document %s", id)
	}

	doc.ApplicationID = applicationID.String
	doc.Kind = Kind(kind)
	if doc.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for document %s", id)
	}
	return &doc, nil
}

// Delete removes a document record and reports whether a row was removed.
// Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM generated_documents WHERE id = ?`), id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}
