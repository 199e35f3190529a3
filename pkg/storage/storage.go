// Package storage defines the persistence contract for captured requests and
// their SSE events. Engine implementations live in subpackages (sqlite for
// the embedded on-disk store, inmemory for tests).
package storage

import (
	"context"
	"errors"

	"github.com/agentprobe/agentprobe/pkg/capture"
)

// ErrNotFound is returned when a request id does not exist in the store.
var ErrNotFound = errors.New("request not found")

// DefaultListLimit bounds list queries that do not specify a limit.
const DefaultListLimit = 100

// ListOptions narrows and orders a list query. Unknown filter keys are
// silently ignored; OrderBy is validated against the summary columns and
// falls back to "sequence DESC".
type ListOptions struct {
	// Filters maps an allowlisted field name to the value it must equal.
	// The "search" key instead substring-matches url, host, and path.
	Filters map[string]any

	// OrderBy is "column" or "column DESC"/"column ASC".
	OrderBy string

	Limit  int
	Offset int
}

// Stats aggregates the requests table for the dashboard.
type Stats struct {
	TotalRequests      int64    `json:"total_requests"`
	UniqueHosts        int64    `json:"unique_hosts"`
	UniqueAgents       int64    `json:"unique_agents"`
	TotalRequestBytes  int64    `json:"total_request_bytes"`
	TotalResponseBytes int64    `json:"total_response_bytes"`
	AvgDurationMS      *float64 `json:"avg_duration_ms"`
	StreamingCount     int64    `json:"streaming_count"`
}

// Store is the persistence driver for the capture pipeline.
//
// Writes commit synchronously: once SaveRequest or UpdateRequest returns,
// the record survives a process crash. UpdateRequest only touches the
// response half and classification columns; the request half is immutable
// after insert. Deleting requests cascades to their events.
type Store interface {
	// SaveRequest inserts a new record with its request half populated.
	SaveRequest(ctx context.Context, req *capture.Request) error

	// UpdateRequest applies a partial update to the record's updatable
	// columns. Fields outside the updatable set are ignored.
	UpdateRequest(ctx context.Context, requestID string, fields map[string]any) error

	// SaveSSEEvents bulk-inserts decoded events in one transaction.
	SaveSSEEvents(ctx context.Context, events []capture.SSEEvent) error

	// GetRequest returns the full record, or ErrNotFound.
	GetRequest(ctx context.Context, requestID string) (*capture.Request, error)

	// ListRequests returns summaries matching opts.
	ListRequests(ctx context.Context, opts ListOptions) ([]capture.Summary, error)

	// GetSSEEvents returns a record's events ordered by event_index.
	GetSSEEvents(ctx context.Context, requestID string) ([]capture.SSEEvent, error)

	// ClearAll deletes every event, then every request.
	ClearAll(ctx context.Context) error

	// Stats aggregates over all stored requests.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
