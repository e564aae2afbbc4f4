// WHAT: Tests for the orchestrator: synchronous validation surfaces,
// failure reason mapping, cancellation bookkeeping, and config loading.
// WHY: Submitters only ever see document IDs, progress rows, and failure
// reasons; the mapping from internal errors to those surfaces is the
// contract.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/finlens/reportpipe/dbopen"
	"github.com/finlens/reportpipe/ingest"
	"github.com/finlens/reportpipe/store"
)

func newRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.NewWithDB(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	r, err := New(Options{Store: st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r, st
}

func TestSubmitBytesRejectsInvalidSynchronously(t *testing.T) {
	r, st := newRunner(t)

	_, err := r.SubmitBytes(context.Background(), []byte("not a pdf"))
	if !errors.Is(err, ingest.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}

	// Rejected submissions leave no trace.
	recent, err := st.ListRecent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 0 {
		t.Errorf("recent = %+v, want empty", recent)
	}
}

func TestSubmitURLRejectsUnsafeURLSynchronously(t *testing.T) {
	r, _ := newRunner(t)

	for _, raw := range []string{
		"ftp://example.com/report.pdf",
		"http://127.0.0.1/report.pdf",
		"not a url at all",
	} {
		_, err := r.SubmitURL(context.Background(), raw)
		if !errors.Is(err, ingest.ErrFetchFailed) {
			t.Errorf("SubmitURL(%q) = %v, want ErrFetchFailed", raw, err)
		}
	}
}

func TestCancelUnknownDocumentIsNoop(t *testing.T) {
	r, _ := newRunner(t)
	r.Cancel("doc_never_existed")
}

func TestFailureReasonMapping(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{ingest.ErrInvalidFormat, ReasonInvalidFormat},
		{ingest.ErrTooLarge, ReasonTooLarge},
		{ingest.ErrFetchFailed, ReasonFetchFailed},
		{context.Canceled, ReasonCancelled},
		{ErrCancelled, ReasonCancelled},
		{errors.New("disk on fire"), ReasonInternal},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.reason {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.reason)
		}
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without store must fail")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Listen != ":8085" || cfg.MaxFileMB != 50 || cfg.MaxConcurrent != 4 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.Attempts != 3 {
		t.Errorf("fetch defaults = %+v", cfg.Fetch)
	}
	if cfg.Segment.TableThreshold != 0.6 {
		t.Errorf("segment defaults = %+v", cfg.Segment)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `listen: ":9090"
db_path: /tmp/test.db
max_file_mb: 10
fetch:
  timeout: 5s
  attempts: 2
segment:
  table_threshold: 0.7
extract:
  synonyms:
    total_revenue: ["group revenue"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.MaxFileMB != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Fetch.Timeout != 5*time.Second || cfg.Fetch.Attempts != 2 {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if cfg.Segment.TableThreshold != 0.7 {
		t.Errorf("segment = %+v", cfg.Segment)
	}
	if got := cfg.Extract.Synonyms["total_revenue"]; len(got) != 1 || got[0] != "group revenue" {
		t.Errorf("synonyms = %+v", cfg.Extract.Synonyms)
	}
	// Unset fields pick up defaults.
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want default 4", cfg.MaxConcurrent)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Segment.TableThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("threshold > 1 must fail validation")
	}
}

func TestValidateRejectsMissingTaxonomy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classify.TaxonomyPath = "/nonexistent/taxonomy.yaml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing taxonomy file must fail validation")
	}
}
