// Package pipeline orchestrates the analysis of one document through the
// stages: ingestion, segmentation, classification and extraction (in
// parallel), insight generation, and publication. Submissions validate
// synchronously and process asynchronously; progress is observable at every
// stage boundary and cancellation is honored between stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finlens/reportpipe/classify"
	"github.com/finlens/reportpipe/extract"
	"github.com/finlens/reportpipe/ingest"
	"github.com/finlens/reportpipe/insight"
	"github.com/finlens/reportpipe/observability"
	"github.com/finlens/reportpipe/segment"
	"github.com/finlens/reportpipe/store"
)

// ErrCancelled marks a run aborted by explicit cancellation.
var ErrCancelled = errors.New("pipeline: analysis cancelled")

// Failure reasons surfaced in progress rows.
const (
	ReasonInvalidFormat = "invalid_format"
	ReasonTooLarge      = "too_large"
	ReasonFetchFailed   = "fetch_failed"
	ReasonSegmentation  = "segmentation"
	ReasonCancelled     = "cancelled"
	ReasonInternal      = "internal"
)

// Stage completion percentages reported in progress.
const (
	pctReceived  = 15
	pctSegmented = 40
	pctAnalyzed  = 75
	pctDone      = 100
)

// Options wires a Runner.
type Options struct {
	Config *Config
	Store  *store.Store

	// Events is optional; nil disables stage event recording.
	Events *observability.StageLogger

	Logger *slog.Logger
}

// Runner owns the per-document analysis lifecycle.
type Runner struct {
	cfg    *Config
	ing    *ingest.Service
	seg    *segment.Segmenter
	cls    *classify.Classifier
	ext    *extract.Extractor
	gen    *insight.Generator
	store  *store.Store
	events *observability.StageLogger
	logger *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// New builds a Runner from configuration.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config

	tax := classify.DefaultTaxonomy()
	if cfg.Classify.TaxonomyPath != "" {
		var err error
		tax, err = classify.LoadTaxonomy(cfg.Classify.TaxonomyPath)
		if err != nil {
			return nil, err
		}
	}

	vocab := extract.DefaultVocabulary()
	if len(cfg.Extract.Synonyms) > 0 {
		vocab = vocab.Merge(extract.Vocabulary(cfg.Extract.Synonyms))
	}

	return &Runner{
		cfg: cfg,
		ing: ingest.New(ingest.Config{
			MaxFileMB: cfg.MaxFileMB,
			Fetch: ingest.FetchConfig{
				Timeout:   cfg.Fetch.Timeout,
				Attempts:  cfg.Fetch.Attempts,
				Backoff:   cfg.Fetch.Backoff,
				UserAgent: cfg.Fetch.UserAgent,
			},
			Logger: opts.Logger,
		}),
		seg:     segment.New(segment.Config{TableThreshold: cfg.Segment.TableThreshold, Logger: opts.Logger}),
		cls:     classify.New(tax, opts.Logger),
		ext:     extract.New(extract.Config{Vocabulary: vocab, Logger: opts.Logger}),
		gen:     insight.New(insight.Config{OutlierMultiple: cfg.Insight.OutlierMultiple, NotableChangePct: cfg.Insight.NotableChangePct, Logger: opts.Logger}),
		store:   opts.Store,
		events:  opts.Events,
		logger:  opts.Logger,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// SubmitBytes validates an uploaded document synchronously and starts the
// analysis in the background. Validation failures (ErrInvalidFormat,
// ErrTooLarge) surface to the submitter; no document row is created for
// them.
func (r *Runner) SubmitBytes(ctx context.Context, data []byte) (string, error) {
	src, err := r.ing.FromBytes(ctx, data)
	if err != nil {
		return "", err
	}
	if err := r.store.CreateDocument(ctx, src.Doc); err != nil {
		return "", fmt.Errorf("pipeline: create document: %w", err)
	}
	r.logEvent(ctx, src.Doc.ID, "ingestion", "ok", 0)

	r.start(src.Doc.ID, func(runCtx context.Context) {
		r.run(runCtx, src)
	})
	return src.Doc.ID, nil
}

// SubmitURL validates the URL synchronously (syntax and SSRF) and performs
// the fetch and analysis in the background. Fetch failures are observable
// via progress; no result is ever published for them.
func (r *Runner) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	if err := r.ing.ValidateURL(rawURL); err != nil {
		return "", fmt.Errorf("%w: %v", ingest.ErrFetchFailed, err)
	}

	docID := r.ing.NewID()
	doc := &ingest.Document{
		ID:        docID,
		Origin:    ingest.OriginURL,
		SourceURL: rawURL,
		Status:    ingest.StatusReceived,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.store.CreateDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("pipeline: create document: %w", err)
	}

	r.start(docID, func(runCtx context.Context) {
		started := time.Now()
		src, err := r.ing.FromURLAs(runCtx, docID, rawURL)
		if err != nil {
			r.fail(docID, err)
			return
		}
		r.logEvent(runCtx, docID, "ingestion", "ok", time.Since(started))
		if err := r.store.UpdateDocumentMeta(runCtx, docID, src.Doc.PageCount, src.Doc.RawSizeBytes, src.Doc.SHA256); err != nil {
			r.logger.Warn("document meta update failed", "document_id", docID, "error", err)
		}
		r.run(runCtx, src)
	})
	return docID, nil
}

// Cancel aborts an in-flight analysis. The run stops at the next stage
// boundary and the document fails with reason cancelled. Cancelling an
// unknown or finished document is a no-op.
func (r *Runner) Cancel(id string) {
	r.mu.Lock()
	cancel := r.cancels[id]
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close cancels all in-flight runs and waits for them to settle.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// start launches fn on its own run context, bounded by the concurrency cap.
func (r *Runner) start(docID string, fn func(context.Context)) {
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return
	}
	r.cancels[docID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, docID)
			r.mu.Unlock()
			cancel()
		}()

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-runCtx.Done():
			r.fail(docID, ErrCancelled)
			return
		}
		fn(runCtx)
	}()
}

// run executes the stages after ingestion. Cancellation is checked at every
// stage boundary; a cancelled run fails with reason cancelled and publishes
// nothing.
func (r *Runner) run(ctx context.Context, src *ingest.Source) {
	docID := src.Doc.ID
	if err := r.store.UpdateStatus(ctx, docID, ingest.StatusReceived, "ingestion", pctReceived); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("status update failed", "document_id", docID, "error", err)
	}

	// Segmentation.
	started := time.Now()
	blocks, quality, err := r.seg.Segment(ctx, src)
	if err != nil {
		r.logEvent(ctx, docID, "segmentation", eventStatus(err), time.Since(started))
		if ctx.Err() != nil {
			r.fail(docID, ctx.Err())
		} else {
			r.failWith(docID, ReasonSegmentation, err)
		}
		return
	}
	r.logEvent(ctx, docID, "segmentation", "ok", time.Since(started))
	r.setStatus(ctx, docID, ingest.StatusSegmented, "segmentation", pctSegmented)

	if err := ctx.Err(); err != nil {
		r.fail(docID, err)
		return
	}

	// Classification and extraction are independent; run them in parallel.
	var (
		cls     *classify.Result
		metrics []extract.Metric
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		started := time.Now()
		res, err := r.cls.Classify(gctx, docID, blocks)
		r.logEvent(gctx, docID, "classification", eventStatus(err), time.Since(started))
		if err != nil {
			return err
		}
		cls = res
		r.setStatus(gctx, docID, ingest.StatusClassified, "classification", pctAnalyzed)
		return nil
	})
	g.Go(func() error {
		started := time.Now()
		ms, err := r.ext.Extract(gctx, docID, blocks)
		r.logEvent(gctx, docID, "extraction", eventStatus(err), time.Since(started))
		if err != nil {
			return err
		}
		metrics = ms
		r.setStatus(gctx, docID, ingest.StatusExtracted, "extraction", pctAnalyzed)
		return nil
	})
	if err := g.Wait(); err != nil {
		r.fail(docID, err)
		return
	}

	if err := ctx.Err(); err != nil {
		r.fail(docID, err)
		return
	}

	// Insights.
	started = time.Now()
	insights, err := r.gen.Generate(ctx, docID, metrics)
	r.logEvent(ctx, docID, "insight", eventStatus(err), time.Since(started))
	if err != nil {
		r.fail(docID, err)
		return
	}

	// Publish.
	doc := *src.Doc
	doc.Status = ingest.StatusCompleted
	res := &store.AnalysisResult{
		Document:       doc,
		Classification: *cls,
		Metrics:        metrics,
		Insights:       insights,
		Quality:        quality,
	}
	started = time.Now()
	if err := r.store.Put(ctx, res); err != nil {
		r.logEvent(ctx, docID, "publish", "failed", time.Since(started))
		r.fail(docID, err)
		return
	}
	r.logEvent(ctx, docID, "publish", "ok", time.Since(started))

	r.logger.Info("analysis completed",
		"document_id", docID,
		"label", cls.Label,
		"metrics", len(metrics),
		"insights", len(insights))
}

// fail marks the document failed with the reason mapped from err.
func (r *Runner) fail(docID string, err error) {
	r.failWith(docID, failureReason(err), err)
}

func (r *Runner) failWith(docID, reason string, err error) {
	if mErr := r.store.MarkFailed(context.Background(), docID, reason); mErr != nil && !errors.Is(mErr, store.ErrNotFound) {
		r.logger.Error("mark failed", "document_id", docID, "error", mErr)
	}
	r.logger.Warn("analysis failed", "document_id", docID, "reason", reason, "error", err)
}

func (r *Runner) setStatus(ctx context.Context, docID string, st ingest.Status, stage string, pct int) {
	if err := r.store.UpdateStatus(ctx, docID, st, stage, pct); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("status update failed", "document_id", docID, "status", st, "error", err)
	}
}

func (r *Runner) logEvent(ctx context.Context, docID, stage, status string, d time.Duration) {
	if r.events == nil {
		return
	}
	// Detached context: stage events outlive cancelled runs.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	r.events.LogStage(ctx, observability.StageEvent{
		DocumentID: docID,
		Stage:      stage,
		Status:     status,
		Duration:   d,
	})
}

func eventStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}

// failureReason maps an error to the submitter-visible reason.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrInvalidFormat):
		return ReasonInvalidFormat
	case errors.Is(err, ingest.ErrTooLarge):
		return ReasonTooLarge
	case errors.Is(err, ingest.ErrFetchFailed):
		return ReasonFetchFailed
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonInternal
	}
}
