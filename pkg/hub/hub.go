// Package hub fans lifecycle messages out to live subscribers. Delivery is
// best-effort: a subscriber whose send fails is dropped from the set.
package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/capture"
)

// Message types carried in the broadcast envelope.
const (
	MessageNewRequest      = "new_request"
	MessageRequestComplete = "request_complete"
	MessageSSEEvent        = "sse_event"
)

// Subscriber receives serialized broadcast payloads. Send must be safe to
// call from multiple goroutines and should return an error once the
// underlying connection is gone.
type Subscriber interface {
	Send(payload []byte) error
}

// Envelope is the tagged wire form of every broadcast message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// sseEnvelope is the wire form of an sse_event broadcast. Unlike the
// Summary envelopes, request_id and event ride beside type, not under data.
type sseEnvelope struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id"`
	Event     capture.RawEvent `json:"event"`
}

// Hub maintains the subscriber set. All methods are safe for concurrent use;
// per subscriber, payloads arrive in the order Broadcast was called.
type Hub struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}
	log  *zap.Logger
}

// New returns an empty hub.
func New(log *zap.Logger) *Hub {
	return &Hub{
		subs: make(map[Subscriber]struct{}),
		log:  log,
	}
}

// Connect adds sub to the subscriber set.
func (h *Hub) Connect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
	h.log.Debug("subscriber connected", zap.Int("subscribers", len(h.subs)))
}

// Disconnect removes sub from the subscriber set.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
	h.log.Debug("subscriber disconnected", zap.Int("subscribers", len(h.subs)))
}

// Count returns the current number of subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// NewRequest announces a freshly captured request.
func (h *Hub) NewRequest(summary capture.Summary) {
	h.Broadcast(MessageNewRequest, summary)
}

// RequestComplete announces that a request's response half is persisted.
func (h *Hub) RequestComplete(summary capture.Summary) {
	h.Broadcast(MessageRequestComplete, summary)
}

// SSEEvent announces one decoded streaming event as it arrives.
func (h *Hub) SSEEvent(requestID string, event capture.RawEvent) {
	h.broadcast(MessageSSEEvent, sseEnvelope{Type: MessageSSEEvent, RequestID: requestID, Event: event})
}

// Broadcast wraps data in the tagged envelope and delivers it to every
// subscriber.
func (h *Hub) Broadcast(messageType string, data any) {
	h.broadcast(messageType, Envelope{Type: messageType, Data: data})
}

// broadcast serializes the envelope once and delivers it to every
// subscriber. Subscribers whose send fails are dropped.
func (h *Hub) broadcast(messageType string, envelope any) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.log.Error("marshal broadcast", zap.String("type", messageType), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []Subscriber
	for sub := range h.subs {
		if err := sub.Send(payload); err != nil {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		delete(h.subs, sub)
	}
	if len(dead) > 0 {
		h.log.Debug("dropped dead subscribers",
			zap.Int("dropped", len(dead)), zap.Int("subscribers", len(h.subs)))
	}
}
