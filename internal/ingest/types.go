package ingest

import (
	"context"
	"io"
	"time"
)

// RawRecord is one untrusted extraction from the portal before
// normalization. Keys in Fields are whatever the source used (snake_case,
// camelCase, display headers); the normalizer resolves them through its
// alias tables.
type RawRecord struct {
	Fields    map[string]string
	SourceURL string
	// Set by the deduplicator when the registration id had to be
	// synthesized from (name, district).
	LowConfidence bool
}

// Field returns a field value or "".
func (r RawRecord) Field(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// FetchedDocument is the raw result of one fetch.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// Target scopes one orchestrator run.
type Target struct {
	City         string
	AllDistricts bool
}

// Run states reported by the status endpoint.
const (
	RunStateRunning   = "Running"
	RunStateCompleted = "Completed"
	RunStatePartial   = "Partial"
	RunStateFailed    = "Failed"
)
