// Package store persists buildlog documents locally in SQLite: saved
// drafts plus an upload outbox that the background worker drains.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildlog-ai/buildlog/internal/model"
)

// ErrNotFound is returned when a requested document is not stored.
var ErrNotFound = errors.New("store: buildlog not found")

// schema is applied on every open; statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS buildlogs (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		format     TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		body       BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		document_id TEXT PRIMARY KEY REFERENCES buildlogs(id) ON DELETE CASCADE,
		enqueued_at TIMESTAMP NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_buildlogs_created_at ON buildlogs(created_at DESC)`,
}

// Store is the local document database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Entry is one saved document's summary row.
type Entry struct {
	ID        string
	Title     string
	Format    model.Format
	CreatedAt time.Time
}

// PendingUpload is one outbox row joined with its document.
type PendingUpload struct {
	DocumentID string
	Attempts   int
	LastError  string
	Document   *model.Document
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite handles one writer; a larger pool only produces
	// SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a document.
func (s *Store) Save(ctx context.Context, doc *model.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO buildlogs (id, title, format, created_at, body) VALUES (?, ?, ?, ?, ?)`,
		doc.Metadata.ID.String(), doc.Metadata.Title, string(doc.Format), doc.Metadata.CreatedAt.UTC(), body)
	if err != nil {
		return fmt.Errorf("store: save document: %w", err)
	}
	return nil
}

// Get loads a document by id. Documents of either schema generation
// decode; legacy ones come back converted.
func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM buildlogs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load document: %w", err)
	}
	return model.DecodeDocument(body)
}

// List returns saved document summaries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, format, created_at FROM buildlogs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var format string
		if err := rows.Scan(&e.ID, &e.Title, &format, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		e.Format = model.Format(format)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes a document and, via cascade, its outbox row.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM buildlogs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Enqueue marks a saved document for upload by the outbox worker.
func (s *Store) Enqueue(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO outbox (document_id, enqueued_at) VALUES (?, ?)`,
		documentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: enqueue upload: %w", err)
	}
	return nil
}

// NextBatch returns up to limit pending uploads, oldest first.
func (s *Store) NextBatch(ctx context.Context, limit int) ([]PendingUpload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.document_id, o.attempts, COALESCE(o.last_error, ''), b.body
		 FROM outbox o JOIN buildlogs b ON b.id = o.document_id
		 ORDER BY o.enqueued_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: read outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []PendingUpload
	for rows.Next() {
		var p PendingUpload
		var body []byte
		if err := rows.Scan(&p.DocumentID, &p.Attempts, &p.LastError, &body); err != nil {
			return nil, fmt.Errorf("store: scan outbox row: %w", err)
		}
		doc, err := model.DecodeDocument(body)
		if err != nil {
			return nil, fmt.Errorf("store: outbox document %s: %w", p.DocumentID, err)
		}
		p.Document = doc
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkUploaded removes a successfully uploaded entry from the outbox.
func (s *Store) MarkUploaded(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: clear outbox entry: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt count and records the failure. The
// entry stays queued; there is no retry cap, the caller decides when
// to give up by deleting the document.
func (s *Store) MarkFailed(ctx context.Context, documentID, reason string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE document_id = ?`,
		reason, documentID); err != nil {
		return fmt.Errorf("store: record outbox failure: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued uploads.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count outbox: %w", err)
	}
	return n, nil
}
