// Package sse provides a minimal, purpose-built SSE (Server-Sent Events)
// decoder for the agentprobe capture pipeline. It parses SSE events
// incrementally from opaque byte chunks as they arrive on a proxied response
// stream; the stream itself is never consumed or altered.
//
// This package intentionally does NOT provide SSE writer or server
// capabilities.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE spec.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n" (per the SSE spec, multiple data fields are joined
	// with a single newline).
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string

	// Retry is the raw value of the "retry:" field, if present. It is kept
	// as a string, never coerced to an integer; the capture pipeline records
	// whatever the provider sent.
	Retry string
}
