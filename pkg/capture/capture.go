// Package capture defines the canonical records produced by the proxy
// pipeline: one Request per observed HTTP transaction, the SSEEvents decoded
// from its streaming response, and the Summary projection used by list views
// and broadcasts.
package capture

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TruncationMarker is appended to bodies cut at the configured size cap.
// The *_size fields always carry the true observed byte length.
const TruncationMarker = "... [truncated]"

// Request is the canonical captured record. The request half is populated at
// ingress; the response half is filled in exactly once on completion and
// never un-set. Nullable response fields stay nil until then.
type Request struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	AgentType string `json:"agent_type"`
	SourcePID *int   `json:"source_pid"`

	Method string `json:"method"`
	URL    string `json:"url"`
	Host   string `json:"host"`
	Path   string `json:"path"`

	RequestHeaders map[string]string `json:"request_headers"`
	RequestBody    string            `json:"request_body"`
	RequestSize    int64             `json:"request_size"`

	StatusCode      *int              `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseBody    string            `json:"response_body"`
	ResponseSize    int64             `json:"response_size"`

	SSEEvents  []RawEvent `json:"sse_events"`
	DurationMS *float64   `json:"duration_ms"`
	TTFBMS     *float64   `json:"ttfb_ms"`

	ProtocolType string  `json:"protocol_type"`
	APIProvider  *string `json:"api_provider"`

	SessionID      *string `json:"session_id"`
	ConversationID *string `json:"conversation_id"`
	IsStreaming    bool    `json:"is_streaming"`
}

// RawEvent is a decoded SSE event as stored inline on the Request record.
type RawEvent struct {
	Event string `json:"event,omitempty"`
	Data  string `json:"data,omitempty"`
	ID    string `json:"id,omitempty"`
	Retry string `json:"retry,omitempty"`
}

// Summary is the Request projection carried by list endpoints and broadcast
// envelopes.
type Summary struct {
	ID           string    `json:"id"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Host         string    `json:"host"`
	Path         string    `json:"path"`
	StatusCode   *int      `json:"status_code"`
	AgentType    string    `json:"agent_type"`
	ProtocolType string    `json:"protocol_type"`
	DurationMS   *float64  `json:"duration_ms"`
	ResponseSize int64     `json:"response_size"`
	IsStreaming  bool      `json:"is_streaming"`
}

// SSEEvent is one decoded event persisted to the sse_events table.
// EventIndex is the 0-based ordinal within its Request, gap-free.
type SSEEvent struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	EventIndex int       `json:"event_index"`
	EventType  string    `json:"event_type"`
	Data       string    `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRequest returns a Request with a fresh id and an ingress timestamp.
func NewRequest(sequence int64) *Request {
	return &Request{
		ID:           uuid.NewString(),
		Sequence:     sequence,
		Timestamp:    time.Now().UTC(),
		ProtocolType: "http",
	}
}

// NewSSEEvent builds the persistent form of a raw event. A raw event without
// an event field takes the SSE default type "message".
func NewSSEEvent(requestID string, index int, raw RawEvent) SSEEvent {
	eventType := raw.Event
	if eventType == "" {
		eventType = "message"
	}
	return SSEEvent{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		EventIndex: index,
		EventType:  eventType,
		Data:       raw.Data,
		Timestamp:  time.Now().UTC(),
	}
}

// ToSummary projects the Request onto its list-view fields.
func (r *Request) ToSummary() Summary {
	return Summary{
		ID:           r.ID,
		Sequence:     r.Sequence,
		Timestamp:    r.Timestamp,
		Method:       r.Method,
		Host:         r.Host,
		Path:         r.Path,
		StatusCode:   r.StatusCode,
		AgentType:    r.AgentType,
		ProtocolType: r.ProtocolType,
		DurationMS:   r.DurationMS,
		ResponseSize: r.ResponseSize,
		IsStreaming:  r.IsStreaming,
	}
}

// FormatEvents reassembles decoded events into the canonical textual form
// stored as the response body of a streaming Request: one
// "event: …\ndata: …\n\n" block per event, lines omitted when absent.
func FormatEvents(events []RawEvent) string {
	var parts []string
	for _, ev := range events {
		if ev.Event != "" {
			parts = append(parts, "event: "+ev.Event)
		}
		if ev.Data != "" {
			parts = append(parts, "data: "+ev.Data)
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

// Truncate enforces the body-size cap: bodies longer than max bytes are cut
// and marked. A max of zero or less disables the cap.
func Truncate(body string, max int) string {
	if max <= 0 || len(body) <= max {
		return body
	}
	return body[:max] + TruncationMarker
}
