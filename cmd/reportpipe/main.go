// Entry point for the report analysis HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/finlens/reportpipe/ingest"
	"github.com/finlens/reportpipe/observability"
	"github.com/finlens/reportpipe/pipeline"
	"github.com/finlens/reportpipe/safeurl"
	"github.com/finlens/reportpipe/shield"
	"github.com/finlens/reportpipe/store"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Configuration: YAML file if given, env overrides on top.
	cfg := pipeline.DefaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		var err error
		cfg, err = pipeline.LoadConfig(path)
		if err != nil {
			slog.Error("config", "path", path, "error", err)
			os.Exit(1)
		}
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Store.
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Stage events share the store database.
	if err := observability.Init(st.DB()); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	events := observability.NewStageLogger(st.DB())

	// Periodic retention cleanup.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := observability.Cleanup(ctx, st.DB(), observability.RetentionConfig{
					StageEventsDays: cfg.Retention.StageEventsDays,
					HTTPLogsDays:    cfg.Retention.HTTPLogsDays,
				}); err != nil {
					slog.Warn("retention cleanup", "error", err)
				}
			}
		}
	}()

	// Pipeline runner.
	runner, err := pipeline.New(pipeline.Options{
		Config: cfg,
		Store:  st,
		Events: events,
		Logger: logger,
	})
	if err != nil {
		slog.Error("pipeline", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(int64(cfg.MaxFileMB+1) << 20) {
		r.Use(mw)
	}
	r.Use(requestLog(events))

	health := func(w http.ResponseWriter, r *http.Request) {
		if err := st.DB().PingContext(r.Context()); err != nil {
			writeJSON(w, 503, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		writeJSON(w, 200, map[string]string{"status": "ok"})
	}
	r.Get("/health", health)
	r.Get("/v1/health", health)

	r.Route("/v1/analyses", func(r chi.Router) {
		r.Post("/", handleSubmit(runner, cfg))
		r.Get("/recent", handleRecent(st))
		r.Get("/{id}", handleResult(st))
		r.Get("/{id}/progress", handleProgress(st))
		r.Delete("/{id}", handleCancel(runner, st))
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Handlers ---

// handleSubmit accepts either a multipart upload ("file" field) or a JSON
// body with a "url" field. Validation failures surface synchronously with
// the mapped status code; accepted submissions return 202 with the document
// ID to poll.
func handleSubmit(runner *pipeline.Runner, cfg *pipeline.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")

		if strings.HasPrefix(ct, "multipart/form-data") {
			// Parse cap slightly above the document limit so the ingest
			// layer, not the multipart reader, reports oversize.
			if err := r.ParseMultipartForm(int64(cfg.MaxFileMB+1) << 20); err != nil {
				writeSubmitBad(w, err)
				return
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				writeSubmitBad(w, errors.New("multipart field 'file' is required"))
				return
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, int64(cfg.MaxFileMB+1)<<20))
			if err != nil {
				writeSubmitBad(w, err)
				return
			}
			docID, err := runner.SubmitBytes(r.Context(), data)
			if err != nil {
				writeSubmitError(w, err)
				return
			}
			writeAccepted(w, docID)
			return
		}

		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeSubmitBad(w, err)
			return
		}
		if req.URL == "" {
			writeSubmitBad(w, errors.New("url is required"))
			return
		}
		docID, err := runner.SubmitURL(r.Context(), req.URL)
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		writeAccepted(w, docID)
	}
}

// docID validates the {id} route parameter before it reaches the store.
// A malformed identifier cannot name a stored document, so it answers 404
// without a query.
func docID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := safeurl.ValidateIdentifier(id); err != nil {
		writeError(w, 404, errors.New("unknown document"))
		return "", false
	}
	return id, true
}

func handleResult(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := docID(w, r)
		if !ok {
			return
		}
		res, err := st.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, 404, errors.New("no published result for document"))
			return
		}
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, res)
	}
}

func handleProgress(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := docID(w, r)
		if !ok {
			return
		}
		p, err := st.GetProgress(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, 404, errors.New("unknown document"))
			return
		}
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, p)
	}
}

func handleRecent(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent, err := st.ListRecent(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		if recent == nil {
			recent = []store.RecentEntry{}
		}
		writeJSON(w, 200, map[string]any{"recent": recent})
	}
}

// handleCancel aborts an in-flight analysis. Unknown documents return 404;
// cancelling a finished document is a no-op and returns 200.
func handleCancel(runner *pipeline.Runner, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := docID(w, r)
		if !ok {
			return
		}
		if _, err := st.GetProgress(r.Context(), id); errors.Is(err, store.ErrNotFound) {
			writeError(w, 404, errors.New("unknown document"))
			return
		}
		runner.Cancel(id)
		writeJSON(w, 200, map[string]string{"document_id": id, "status": "cancelling"})
	}
}

// --- Middleware ---

// requestLog records method, path, status, and latency for every request.
func requestLog(events *observability.StageLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: 200}
			next.ServeHTTP(sw, r)
			events.LogRequest(r.Context(), r.Method, r.URL.Path, sw.code,
				time.Since(started), r.RemoteAddr, r.UserAgent())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeAccepted answers a scheduled submission: redirect points at the
// result location the client polls.
func writeAccepted(w http.ResponseWriter, docID string) {
	writeJSON(w, 202, map[string]any{
		"success":     true,
		"document_id": docID,
		"redirect":    "/v1/analyses/" + docID,
	})
}

// writeSubmitBad answers a malformed submission request.
func writeSubmitBad(w http.ResponseWriter, err error) {
	writeJSON(w, 400, map[string]any{"success": false, "error": err.Error()})
}

// writeSubmitError maps submission errors to HTTP status codes.
func writeSubmitError(w http.ResponseWriter, err error) {
	code := 500
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		code = 413
	case errors.Is(err, ingest.ErrInvalidFormat):
		code = 422
	case errors.Is(err, ingest.ErrFetchFailed):
		code = 400
	}
	writeJSON(w, code, map[string]any{"success": false, "error": err.Error()})
}
