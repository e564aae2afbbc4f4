// Package store persists documents, published analysis results, and the
// recency index on SQLite. Results publish atomically: a reader either sees
// the complete result or nothing. Status transitions are monotonic; updates
// that would move a document backwards are ignored.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finlens/reportpipe/classify"
	"github.com/finlens/reportpipe/dbopen"
	"github.com/finlens/reportpipe/extract"
	"github.com/finlens/reportpipe/ingest"
	"github.com/finlens/reportpipe/insight"
	"github.com/finlens/reportpipe/segment"
)

// RecencyLimit is the number of completed analyses kept in the recency index.
const RecencyLimit = 6

// ErrNotFound is returned when no published result exists for a document.
var ErrNotFound = errors.New("store: not found")

// AnalysisResult is the published output for one document.
type AnalysisResult struct {
	Document       ingest.Document   `json:"document"`
	Classification classify.Result   `json:"classification"`
	Metrics        []extract.Metric  `json:"metrics"`
	Insights       []insight.Insight `json:"insights"`
	Quality        *segment.Quality  `json:"quality,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

// Progress is the submitter-visible processing state of a document.
type Progress struct {
	DocumentID    string        `json:"document_id"`
	Status        ingest.Status `json:"status"`
	Stage         string        `json:"stage,omitempty"`
	Percent       int           `json:"percent"`
	FailureReason string        `json:"failure_reason,omitempty"`
	UpdatedAt     string        `json:"updated_at"`
}

// RecentEntry is one row of the recency index.
type RecentEntry struct {
	DocumentID  string `json:"document_id"`
	Label       string `json:"label"`
	MetricCount int    `json:"metric_count"`
	CreatedAt   string `json:"created_at"`
}

// Store wraps the SQLite database holding documents and results.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already-open database (tests use dbopen.OpenMemory).
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// DB returns the underlying *sql.DB for sharing with the event logger.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id              TEXT PRIMARY KEY,
    origin          TEXT NOT NULL,
    source_url      TEXT DEFAULT '',
    page_count      INTEGER DEFAULT 0,
    raw_size_bytes  INTEGER DEFAULT 0,
    sha256          TEXT DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'received',
    stage           TEXT DEFAULT '',
    percent         INTEGER DEFAULT 0,
    failure_reason  TEXT DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
    document_id     TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    payload         TEXT NOT NULL,
    label           TEXT NOT NULL,
    metric_count    INTEGER NOT NULL,
    created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recency (
    document_id     TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    label           TEXT NOT NULL,
    metric_count    INTEGER NOT NULL,
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_recency_created  ON recency(created_at);
`
	_, err := s.db.Exec(ddl)
	return err
}

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, d *ingest.Document) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, origin, source_url, page_count, raw_size_bytes, sha256, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Origin, d.SourceURL, d.PageCount, d.RawSizeBytes, d.SHA256, d.Status, d.CreatedAt, now,
	)
	return err
}

// UpdateDocumentMeta backfills metadata learned after the row was created
// (URL submissions create the row before the fetch completes).
func (s *Store) UpdateDocumentMeta(ctx context.Context, id string, pageCount int, rawSizeBytes int64, sha256 string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET page_count = ?, raw_size_bytes = ?, sha256 = ?, updated_at = ? WHERE id = ?`,
		pageCount, rawSizeBytes, sha256, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// UpdateStatus advances a document's lifecycle state. Updates that would
// move the document to an equal or earlier rank are silently ignored, as is
// any update to a terminal document. Unknown documents return ErrNotFound.
func (s *Store) UpdateStatus(ctx context.Context, id string, status ingest.Status, stage string, percent int) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var cur ingest.Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if ingest.StatusRank(cur) >= ingest.StatusRank(ingest.StatusCompleted) {
			return nil // terminal, never rewritten
		}
		if ingest.StatusRank(status) <= ingest.StatusRank(cur) {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET status = ?, stage = ?, percent = ?, updated_at = ? WHERE id = ?`,
			status, stage, percent, time.Now().UTC().Format(time.RFC3339), id,
		)
		return err
	})
}

// MarkFailed moves a document to failed with a reason. Terminal documents
// are left untouched.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var cur ingest.Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if ingest.StatusRank(cur) >= ingest.StatusRank(ingest.StatusCompleted) {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
			ingest.StatusFailed, reason, time.Now().UTC().Format(time.RFC3339), id,
		)
		return err
	})
}

// GetProgress returns the processing state of a document.
func (s *Store) GetProgress(ctx context.Context, id string) (*Progress, error) {
	p := &Progress{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, stage, percent, failure_reason, updated_at FROM documents WHERE id = ?`, id,
	).Scan(&p.DocumentID, &p.Status, &p.Stage, &p.Percent, &p.FailureReason, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Put publishes a result atomically: the result row, the completed status,
// and the recency index (pruned to RecencyLimit) commit together. A crash
// mid-publish leaves no partial result visible.
func (s *Store) Put(ctx context.Context, res *AnalysisResult) error {
	if res.CreatedAt == "" {
		res.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		docID := res.Document.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO results (document_id, payload, label, metric_count, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			docID, string(payload), res.Classification.Label, len(res.Metrics), res.CreatedAt,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = ?, stage = 'completed', percent = 100, updated_at = ?
			 WHERE id = ? AND status != ?`,
			ingest.StatusCompleted, time.Now().UTC().Format(time.RFC3339), docID, ingest.StatusFailed,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO recency (document_id, label, metric_count, created_at)
			 VALUES (?, ?, ?, ?)`,
			docID, res.Classification.Label, len(res.Metrics), res.CreatedAt,
		); err != nil {
			return err
		}

		// Prune beyond the newest RecencyLimit entries.
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM recency WHERE document_id NOT IN (
			     SELECT document_id FROM recency ORDER BY created_at DESC, document_id DESC LIMIT %d
			 )`, RecencyLimit))
		return err
	})
}

// Get returns the published result for a document, or ErrNotFound if none
// has been published (including documents still in flight or failed).
func (s *Store) Get(ctx context.Context, id string) (*AnalysisResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM results WHERE document_id = ?`, id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res AnalysisResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, fmt.Errorf("store: unmarshal result %s: %w", id, err)
	}
	return &res, nil
}

// ListRecent returns the recency index, newest first, at most RecencyLimit
// entries. Only completed analyses ever appear here.
func (s *Store) ListRecent(ctx context.Context) ([]RecentEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, label, metric_count, created_at
		 FROM recency ORDER BY created_at DESC, document_id DESC LIMIT ?`, RecencyLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecentEntry
	for rows.Next() {
		var e RecentEntry
		if err := rows.Scan(&e.DocumentID, &e.Label, &e.MetricCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
