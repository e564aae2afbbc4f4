// Package ingest validates and normalizes incoming annual-report PDFs.
//
// Input is either raw bytes (upload) or a URL (fetched with bounded timeout
// and capped retries). Both paths run the same validation: PDF signature,
// size ceiling, structural parse, and a text-layer check that rejects
// image-only documents, since downstream extraction has no OCR path.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/finlens/reportpipe/idgen"
)

// Failure classes surfaced to the submitter. Stage-local issues with a
// defined fallback are absorbed downstream; these abort the run.
var (
	ErrInvalidFormat = errors.New("ingest: invalid or unsupported document format")
	ErrTooLarge      = errors.New("ingest: document exceeds size limit")
	ErrFetchFailed   = errors.New("ingest: fetch failed")
)

// Config configures the ingestion service.
type Config struct {
	// MaxFileMB is the maximum accepted document size (default: 50 MB).
	MaxFileMB int

	// Fetch configures URL ingestion.
	Fetch FetchConfig

	// NewID generates document identifiers.
	NewID idgen.Generator

	// Logger for debug/quality messages.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = 50
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("doc_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MaxFileBytes returns the size ceiling in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// Service validates incoming documents and assigns identifiers.
type Service struct {
	cfg     Config
	fetcher *Fetcher
	logger  *slog.Logger
}

// New creates an ingestion Service.
func New(cfg Config) *Service {
	cfg.defaults()
	fetchCfg := cfg.Fetch
	if fetchCfg.MaxBytes <= 0 {
		fetchCfg.MaxBytes = cfg.MaxFileBytes()
	}
	return &Service{
		cfg:     cfg,
		fetcher: NewFetcher(fetchCfg),
		logger:  cfg.Logger,
	}
}

// Source is a validated document handed to the segmenter. The parsed PDF is
// owned by one pipeline run and is never shared across documents.
type Source struct {
	Doc *Document

	pdf *model.Context
}

// PDF returns the parsed PDF context for segmentation.
func (s *Source) PDF() *model.Context { return s.pdf }

// FromBytes validates an uploaded payload and emits a Received document.
// No partial documents are ever produced: any failure returns a nil Source.
func (s *Service) FromBytes(ctx context.Context, data []byte) (*Source, error) {
	return s.ingest(ctx, data, OriginUpload, "")
}

// FromURL fetches a remote PDF and validates it identically to an upload.
func (s *Service) FromURL(ctx context.Context, rawURL string) (*Source, error) {
	return s.FromURLAs(ctx, "", rawURL)
}

// FromURLAs is FromURL with a pre-allocated document ID, so callers can
// expose progress for the document before the fetch completes. An empty id
// generates one.
func (s *Service) FromURLAs(ctx context.Context, id, rawURL string) (*Source, error) {
	data, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	src, err := s.ingest(ctx, data, OriginURL, rawURL)
	if err != nil {
		return nil, err
	}
	if id != "" {
		src.Doc.ID = id
	}
	return src, nil
}

// NewID generates a fresh document identifier.
func (s *Service) NewID() string { return s.cfg.NewID() }

// ValidateURL checks a submission URL without fetching it. Used by the API
// layer to reject malformed or unsafe URLs at submission time.
func (s *Service) ValidateURL(rawURL string) error {
	return s.fetcher.cfg.URLValidator(rawURL)
}

func (s *Service) ingest(ctx context.Context, data []byte, origin Origin, sourceURL string) (*Source, error) {
	if int64(len(data)) > s.cfg.MaxFileBytes() {
		return nil, fmt.Errorf("%w: %d bytes (max %d MB)", ErrTooLarge, len(data), s.cfg.MaxFileMB)
	}
	if !hasPDFSignature(data) {
		return nil, fmt.Errorf("%w: missing %%PDF header", ErrInvalidFormat)
	}

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if pdfCtx.PageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrInvalidFormat)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Image-only (scanned) PDFs are rejected: there is no text layer to
	// segment and no OCR integration.
	textPages := countTextLayerPages(pdfCtx)
	if textPages == 0 && hasImageStreams(pdfCtx) {
		return nil, fmt.Errorf("%w: image-only PDF, no text layer", ErrInvalidFormat)
	}

	sum := sha256.Sum256(data)
	doc := &Document{
		ID:           s.cfg.NewID(),
		Origin:       origin,
		SourceURL:    sourceURL,
		PageCount:    pdfCtx.PageCount,
		RawSizeBytes: int64(len(data)),
		SHA256:       fmt.Sprintf("%x", sum),
		Status:       StatusReceived,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	s.logger.Debug("document ingested",
		"document_id", doc.ID,
		"origin", origin,
		"pages", doc.PageCount,
		"text_pages", textPages,
		"size_bytes", doc.RawSizeBytes)

	return &Source{Doc: doc, pdf: pdfCtx}, nil
}

// hasPDFSignature reports whether data carries a %PDF- header within the
// first 1024 bytes, as permitted by the PDF spec.
func hasPDFSignature(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// countTextLayerPages returns the number of pages whose content stream
// contains text-showing operators.
func countTextLayerPages(pdfCtx *model.Context) int {
	n := 0
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		if bytes.Contains(data, []byte("Tj")) || bytes.Contains(data, []byte("TJ")) {
			n++
		}
	}
	return n
}

// hasImageStreams checks whether the PDF contains image XObjects.
func hasImageStreams(pdfCtx *model.Context) bool {
	if pdfCtx.Optimize != nil {
		for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(pdfCtx, pageNr)) > 0 {
				return true
			}
		}
	}
	// Fallback: scan the XRefTable for image subtype stream objects.
	for _, entry := range pdfCtx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}
