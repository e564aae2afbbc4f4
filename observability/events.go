// Package observability records pipeline stage events and HTTP request logs
// in SQLite, with retention-based cleanup. Recording is best-effort: a
// failing observability store never blocks the pipeline.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/finlens/reportpipe/idgen"
)

// StageEvent represents one document stage transition to record.
type StageEvent struct {
	DocumentID string
	Stage      string // ingestion | segmentation | classification | extraction | insight | publish
	Status     string // started | ok | failed | cancelled
	Detail     string // optional JSON
	Duration   time.Duration
}

// StageLogger writes stage events and manages retention cleanup.
type StageLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// StageLoggerOption configures a StageLogger.
type StageLoggerOption func(*StageLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) StageLoggerOption {
	return func(l *StageLogger) { l.newID = gen }
}

// NewStageLogger creates a logger backed by the given database.
func NewStageLogger(db *sql.DB, opts ...StageLoggerOption) *StageLogger {
	l := &StageLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogStage records a stage event. Non-blocking: errors are logged via slog
// but do not propagate, so a failing observability store never blocks the
// pipeline.
func (l *StageLogger) LogStage(ctx context.Context, event StageEvent) {
	eventID := l.newID()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stage_events (
			event_id, document_id, stage, status, detail, duration_ms, created_at
		) VALUES (?,?,?,?,?,?,?)`,
		eventID, event.DocumentID, event.Stage, event.Status, event.Detail,
		event.Duration.Milliseconds(), time.Now().Unix())
	if err != nil {
		slog.Error("stage event log failed", "error", err, "stage", event.Stage, "document_id", event.DocumentID)
	}
}

// LogRequest records one HTTP request. Best-effort like LogStage.
func (l *StageLogger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, ip, userAgent string) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO http_request_logs (method, path, status_code, duration_ms, ip_address, user_agent, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		method, path, statusCode, duration.Milliseconds(), ip, userAgent, time.Now().Unix())
	if err != nil {
		slog.Warn("http request log failed", "error", err, "path", path)
	}
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	StageEventsDays int
	HTTPLogsDays    int
	RunVacuumAfter  bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	// allowedTables and allowedColumns are whitelists to prevent SQL injection
	// if this pattern is ever refactored to accept external input.
	allowedTables := map[string]bool{
		"stage_events":      true,
		"http_request_logs": true,
	}
	allowedColumns := map[string]bool{
		"created_at": true,
	}

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"stage_events", "created_at", cfg.StageEventsDays},
		{"http_request_logs", "created_at", cfg.HTTPLogsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if !allowedTables[t.table] || !allowedColumns[t.column] {
			return fmt.Errorf("cleanup: invalid table/column %s/%s", t.table, t.column)
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
