package ingest

// Origin identifies how a document entered the system.
type Origin string

const (
	OriginUpload Origin = "upload"
	OriginURL    Origin = "url"
)

// Status is the pipeline lifecycle state of a document.
// Transitions are monotonic: a document never moves back to an earlier state,
// and Completed/Failed are terminal.
type Status string

const (
	StatusReceived   Status = "received"
	StatusSegmented  Status = "segmented"
	StatusClassified Status = "classified"
	StatusExtracted  Status = "extracted"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StatusRank orders statuses for monotonicity checks. Classified and
// Extracted may complete in either order; both rank between Segmented and
// Completed. Failed absorbs from any non-terminal state.
func StatusRank(s Status) int {
	switch s {
	case StatusReceived:
		return 1
	case StatusSegmented:
		return 2
	case StatusClassified, StatusExtracted:
		return 3
	case StatusCompleted:
		return 4
	case StatusFailed:
		return 5
	default:
		return 0
	}
}

// Document is the page-addressable unit the pipeline operates on.
// Immutable once Status reaches Completed or Failed.
type Document struct {
	ID           string `json:"id"`
	Origin       Origin `json:"origin"`
	SourceURL    string `json:"source_url,omitempty"`
	PageCount    int    `json:"page_count"`
	RawSizeBytes int64  `json:"raw_size_bytes"`
	SHA256       string `json:"sha256"`
	Status       Status `json:"status"`
	CreatedAt    string `json:"created_at"`
}
