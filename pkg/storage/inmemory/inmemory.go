// Package inmemory implements storage.Store on plain maps. It exists for
// tests and ephemeral runs; nothing survives process exit.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentprobe/agentprobe/pkg/capture"
	"github.com/agentprobe/agentprobe/pkg/storage"
)

// Store implements storage.Store in memory. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	requests map[string]*capture.Request
	order    []string
	events   map[string][]capture.SSEEvent
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		requests: make(map[string]*capture.Request),
		events:   make(map[string][]capture.SSEEvent),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// SaveRequest stores a copy of req.
func (s *Store) SaveRequest(ctx context.Context, req *capture.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *req
	s.requests[req.ID] = &clone
	s.order = append(s.order, req.ID)
	return nil
}

// UpdateRequest applies the subset of fields this driver understands. The
// field vocabulary matches the sqlite driver's updatable columns.
func (s *Store) UpdateRequest(ctx context.Context, requestID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return storage.ErrNotFound
	}

	for key, value := range fields {
		switch key {
		case "status_code":
			if code, ok := value.(*int); ok {
				req.StatusCode = code
			} else if code, ok := value.(int); ok {
				req.StatusCode = &code
			}
		case "response_headers":
			if headers, ok := value.(map[string]string); ok {
				req.ResponseHeaders = headers
			}
		case "response_body":
			if body, ok := value.(string); ok {
				req.ResponseBody = body
			}
		case "response_size":
			switch size := value.(type) {
			case int64:
				req.ResponseSize = size
			case int:
				req.ResponseSize = int64(size)
			}
		case "sse_events":
			if events, ok := value.([]capture.RawEvent); ok {
				req.SSEEvents = events
			}
		case "duration_ms":
			req.DurationMS = toFloatPtr(value)
		case "ttfb_ms":
			req.TTFBMS = toFloatPtr(value)
		case "protocol_type":
			if protocol, ok := value.(string); ok {
				req.ProtocolType = protocol
			}
		case "api_provider":
			req.APIProvider = toStringPtr(value)
		case "session_id":
			req.SessionID = toStringPtr(value)
		case "conversation_id":
			req.ConversationID = toStringPtr(value)
		case "is_streaming":
			if streaming, ok := value.(bool); ok {
				req.IsStreaming = streaming
			}
		case "agent_type":
			if agent, ok := value.(string); ok {
				req.AgentType = agent
			}
		}
	}
	return nil
}

// SaveSSEEvents appends the events under their request ids.
func (s *Store) SaveSSEEvents(ctx context.Context, events []capture.SSEEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		s.events[ev.RequestID] = append(s.events[ev.RequestID], ev)
	}
	return nil
}

// GetRequest returns a copy of the record, or storage.ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*capture.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[requestID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *req
	return &clone, nil
}

// ListRequests filters, orders, and pages in memory.
func (s *Store) ListRequests(ctx context.Context, opts storage.ListOptions) ([]capture.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*capture.Request, 0, len(s.order))
	for _, id := range s.order {
		req := s.requests[id]
		if matchesFilters(req, opts.Filters) {
			matched = append(matched, req)
		}
	}

	sortRequests(matched, opts.OrderBy)

	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	start := opts.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	summaries := []capture.Summary{}
	for _, req := range matched[start:end] {
		summaries = append(summaries, req.ToSummary())
	}
	return summaries, nil
}

// GetSSEEvents returns the request's events ordered by index.
func (s *Store) GetSSEEvents(ctx context.Context, requestID string) ([]capture.SSEEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := append([]capture.SSEEvent{}, s.events[requestID]...)
	sort.Slice(events, func(i, j int) bool { return events[i].EventIndex < events[j].EventIndex })
	return events, nil
}

// ClearAll drops everything.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = make(map[string]*capture.Request)
	s.order = nil
	s.events = make(map[string][]capture.SSEEvent)
	return nil
}

// Stats aggregates over the stored requests.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{}
	hosts := make(map[string]bool)
	agents := make(map[string]bool)

	var durationSum float64
	var durationCount int64
	for _, req := range s.requests {
		stats.TotalRequests++
		hosts[req.Host] = true
		agents[req.AgentType] = true
		stats.TotalRequestBytes += req.RequestSize
		stats.TotalResponseBytes += req.ResponseSize
		if req.DurationMS != nil {
			durationSum += *req.DurationMS
			durationCount++
		}
		if req.IsStreaming {
			stats.StreamingCount++
		}
	}
	stats.UniqueHosts = int64(len(hosts))
	stats.UniqueAgents = int64(len(agents))
	if durationCount > 0 {
		avg := durationSum / float64(durationCount)
		stats.AvgDurationMS = &avg
	}
	return stats, nil
}

func matchesFilters(req *capture.Request, filters map[string]any) bool {
	for key, value := range filters {
		switch key {
		case "agent_type":
			if req.AgentType != asFilterString(value) {
				return false
			}
		case "host":
			if req.Host != asFilterString(value) {
				return false
			}
		case "method":
			if req.Method != asFilterString(value) {
				return false
			}
		case "status_code":
			if req.StatusCode == nil || *req.StatusCode != asFilterInt(value) {
				return false
			}
		case "protocol_type":
			if req.ProtocolType != asFilterString(value) {
				return false
			}
		case "api_provider":
			if req.APIProvider == nil || *req.APIProvider != asFilterString(value) {
				return false
			}
		case "session_id":
			if req.SessionID == nil || *req.SessionID != asFilterString(value) {
				return false
			}
		case "conversation_id":
			if req.ConversationID == nil || *req.ConversationID != asFilterString(value) {
				return false
			}
		case "is_streaming":
			if req.IsStreaming != asFilterBool(value) {
				return false
			}
		case "search":
			needle := strings.ToLower(asFilterString(value))
			haystack := strings.ToLower(req.URL + " " + req.Host + " " + req.Path)
			if !strings.Contains(haystack, needle) {
				return false
			}
		}
	}
	return true
}

func sortRequests(requests []*capture.Request, orderBy string) {
	column, direction, _ := strings.Cut(strings.TrimSpace(orderBy), " ")
	ascending := strings.EqualFold(strings.TrimSpace(direction), "ASC")

	var less func(a, b *capture.Request) bool
	switch column {
	case "timestamp":
		less = func(a, b *capture.Request) bool { return a.Timestamp.Before(b.Timestamp) }
	case "duration_ms":
		less = func(a, b *capture.Request) bool {
			return floatOrZero(a.DurationMS) < floatOrZero(b.DurationMS)
		}
	case "response_size":
		less = func(a, b *capture.Request) bool { return a.ResponseSize < b.ResponseSize }
	case "status_code":
		less = func(a, b *capture.Request) bool {
			return intOrZero(a.StatusCode) < intOrZero(b.StatusCode)
		}
	case "host":
		less = func(a, b *capture.Request) bool { return a.Host < b.Host }
	case "agent_type":
		less = func(a, b *capture.Request) bool { return a.AgentType < b.AgentType }
	default:
		less = func(a, b *capture.Request) bool { return a.Sequence < b.Sequence }
	}

	sort.SliceStable(requests, func(i, j int) bool {
		if ascending {
			return less(requests[i], requests[j])
		}
		return less(requests[j], requests[i])
	})
}

func asFilterString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asFilterInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	}
	return 0
}

func asFilterBool(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return false
}

func toFloatPtr(v any) *float64 {
	switch value := v.(type) {
	case *float64:
		return value
	case float64:
		return &value
	case time.Duration:
		f := float64(value.Milliseconds())
		return &f
	}
	return nil
}

func toStringPtr(v any) *string {
	switch value := v.(type) {
	case *string:
		return value
	case string:
		return &value
	}
	return nil
}

func floatOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
