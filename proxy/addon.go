// Package proxy implements the capture pipeline's flow controller: it binds
// MITM flow hooks to classification, record construction, persistence, and
// live broadcast. The controller is transport-neutral; the mitm subpackage
// adapts a concrete proxy engine onto its hooks.
package proxy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/capture"
	"github.com/agentprobe/agentprobe/pkg/classify"
	"github.com/agentprobe/agentprobe/pkg/hub"
	"github.com/agentprobe/agentprobe/pkg/session"
	"github.com/agentprobe/agentprobe/pkg/sse"
	"github.com/agentprobe/agentprobe/pkg/storage"
	"github.com/agentprobe/agentprobe/proxy/worker"
)

// FlowRequest is the request half of a proxied exchange as delivered by the
// MITM engine.
type FlowRequest struct {
	Method  string
	URL     string
	Host    string
	Path    string
	Headers map[string]string
	Body    []byte
}

// FlowResponse is the response half. Body holds the buffered bytes for
// non-streaming responses; for streaming responses the chunks have already
// passed through OnStreamChunk and Body is ignored.
type FlowResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// flowState is the in-flight state of one captured exchange. All mutation
// happens on the engine's callback goroutine for the flow, so no lock is
// needed beyond the pending-map's own.
type flowState struct {
	record *capture.Request
	start  time.Time
	isSSE  bool
	parser *sse.Parser
	events []capture.RawEvent
	ttfbMS *float64
}

// Addon is the flow controller. A failure anywhere in capture is logged and
// swallowed so the proxied request itself never breaks.
type Addon struct {
	store       storage.Store
	hub         *hub.Hub
	pool        *worker.Pool
	logger      *zap.Logger
	maxBodySize int

	sessionMu sync.Mutex
	sessions  *session.Tracker

	pendingMu sync.Mutex
	pending   map[string]*flowState

	sequence atomic.Int64
}

// NewAddon wires the controller to its store, hub, and async pool.
// maxBodySize caps persisted bodies in bytes; zero or less disables the cap.
func NewAddon(store storage.Store, h *hub.Hub, pool *worker.Pool, maxBodySize int, logger *zap.Logger) *Addon {
	return &Addon{
		store:       store,
		hub:         h,
		pool:        pool,
		logger:      logger,
		maxBodySize: maxBodySize,
		sessions:    session.NewTracker(),
		pending:     make(map[string]*flowState),
	}
}

// OnRequest captures the request half: classify, assign a sequence, start
// the clock, persist, and announce.
func (a *Addon) OnRequest(flowID string, req FlowRequest) {
	defer a.recoverHook("request")

	bodyText := strings.ToValidUTF8(string(req.Body), "�")
	var bodyJSON map[string]any
	if bodyText != "" {
		if err := json.Unmarshal([]byte(bodyText), &bodyJSON); err != nil {
			bodyJSON = nil
		}
	}

	agent := classify.DetectAgent(req.Headers, req.Headers["user-agent"])
	protocol, provider := classify.DetectProtocol(req.Host, req.Path, bodyJSON)

	record := capture.NewRequest(a.sequence.Add(1))
	record.AgentType = agent
	record.Method = req.Method
	record.URL = req.URL
	record.Host = req.Host
	record.Path = req.Path
	record.RequestHeaders = req.Headers
	record.RequestBody = capture.Truncate(bodyText, a.maxBodySize)
	record.RequestSize = int64(len(req.Body))
	record.ProtocolType = protocol
	if provider != "" {
		record.APIProvider = &provider
	}

	a.sessionMu.Lock()
	info := a.sessions.Track(agent, req.Host, protocol, provider, time.Now())
	a.sessionMu.Unlock()
	record.SessionID = &info.SessionID

	state := &flowState{record: record, start: time.Now()}
	a.pendingMu.Lock()
	a.pending[flowID] = state
	a.pendingMu.Unlock()

	snapshot := *record
	summary := record.ToSummary()
	a.enqueue(record.ID, "save_request", func(ctx context.Context) error {
		return a.store.SaveRequest(ctx, &snapshot)
	})
	a.enqueue(record.ID, "broadcast_new_request", func(ctx context.Context) error {
		a.hub.NewRequest(summary)
		return nil
	})

	a.logger.Debug("request captured",
		zap.String("id", record.ID),
		zap.Int64("sequence", record.Sequence),
		zap.String("agent", agent),
		zap.String("method", req.Method),
		zap.String("host", req.Host),
		zap.String("protocol", protocol),
	)
}

// OnResponseHeaders marks the flow streaming when the content type is SSE
// and attaches a fresh parser. Returns true when the caller should route
// response chunks through OnStreamChunk.
func (a *Addon) OnResponseHeaders(flowID string, contentType string) bool {
	defer a.recoverHook("responseheaders")

	if !classify.IsSSEContentType(contentType) {
		return false
	}

	a.pendingMu.Lock()
	state := a.pending[flowID]
	a.pendingMu.Unlock()
	if state == nil {
		return false
	}

	state.isSSE = true
	state.parser = sse.NewParser()
	return true
}

// OnStreamChunk feeds one response chunk through the flow's parser. The
// first chunk fixes ttfb. Each decoded event is broadcast live.
func (a *Addon) OnStreamChunk(flowID string, chunk []byte) {
	defer a.recoverHook("stream")

	a.pendingMu.Lock()
	state := a.pending[flowID]
	a.pendingMu.Unlock()
	if state == nil {
		return
	}

	if state.ttfbMS == nil {
		ttfb := float64(time.Since(state.start)) / float64(time.Millisecond)
		state.ttfbMS = &ttfb
	}
	if state.parser == nil || len(chunk) == 0 {
		return
	}

	for _, ev := range state.parser.Feed(chunk) {
		raw := rawEvent(ev)
		state.events = append(state.events, raw)
		requestID := state.record.ID
		a.enqueue(requestID, "broadcast_sse_event", func(ctx context.Context) error {
			a.hub.SSEEvent(requestID, raw)
			return nil
		})
	}
}

// OnResponse completes the flow: fill the response half, persist the update
// and the event batch, and announce completion. A flow the controller never
// saw (or one already completed) is ignored.
func (a *Addon) OnResponse(flowID string, resp *FlowResponse) {
	defer a.recoverHook("response")

	a.pendingMu.Lock()
	state := a.pending[flowID]
	delete(a.pending, flowID)
	a.pendingMu.Unlock()
	if state == nil {
		return
	}

	record := state.record
	elapsed := float64(time.Since(state.start)) / float64(time.Millisecond)

	fields := map[string]any{}
	if resp != nil {
		record.StatusCode = &resp.StatusCode
		record.ResponseHeaders = resp.Headers
		record.DurationMS = &elapsed
		record.TTFBMS = state.ttfbMS

		if state.isSSE {
			record.IsStreaming = true
			if state.parser != nil {
				for _, ev := range state.parser.Flush() {
					state.events = append(state.events, rawEvent(ev))
				}
			}
			record.SSEEvents = state.events
			body := capture.FormatEvents(state.events)
			record.ResponseBody = capture.Truncate(body, a.maxBodySize)
			record.ResponseSize = int64(len(body))
		} else {
			body := strings.ToValidUTF8(string(resp.Body), "�")
			record.ResponseBody = capture.Truncate(body, a.maxBodySize)
			record.ResponseSize = int64(len(resp.Body))
		}

		fields = map[string]any{
			"status_code":      *record.StatusCode,
			"response_headers": record.ResponseHeaders,
			"response_body":    record.ResponseBody,
			"response_size":    record.ResponseSize,
			"duration_ms":      record.DurationMS,
			"ttfb_ms":          record.TTFBMS,
			"is_streaming":     record.IsStreaming,
			"sse_events":       record.SSEEvents,
		}
	}

	requestID := record.ID
	a.enqueue(requestID, "update_request", func(ctx context.Context) error {
		return a.store.UpdateRequest(ctx, requestID, fields)
	})

	if len(state.events) > 0 {
		batch := make([]capture.SSEEvent, 0, len(state.events))
		for i, raw := range state.events {
			batch = append(batch, capture.NewSSEEvent(requestID, i, raw))
		}
		a.enqueue(requestID, "save_sse_events", func(ctx context.Context) error {
			return a.store.SaveSSEEvents(ctx, batch)
		})
	}

	summary := record.ToSummary()
	a.enqueue(requestID, "broadcast_request_complete", func(ctx context.Context) error {
		a.hub.RequestComplete(summary)
		return nil
	})

	a.logger.Debug("request completed",
		zap.String("id", requestID),
		zap.Bool("streaming", record.IsStreaming),
		zap.Int("events", len(state.events)),
		zap.Float64("duration_ms", elapsed),
	)
}

// PendingCount reports how many flows are awaiting their response hook.
func (a *Addon) PendingCount() int {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	return len(a.pending)
}

// ExpireSessions drops idle sessions and returns how many were removed.
func (a *Addon) ExpireSessions(now time.Time) int {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	return a.sessions.ExpireSessions(now)
}

func (a *Addon) enqueue(key, name string, fn func(ctx context.Context) error) {
	a.pool.Enqueue(worker.Job{Key: key, Name: name, Fn: fn})
}

func (a *Addon) recoverHook(hook string) {
	if r := recover(); r != nil {
		a.logger.Error("capture hook panicked", zap.String("hook", hook), zap.Any("panic", r))
	}
}

func rawEvent(ev sse.Event) capture.RawEvent {
	return capture.RawEvent{Event: ev.Type, Data: ev.Data, ID: ev.ID, Retry: ev.Retry}
}
