package proxy_test

import (
	"context"
	"encoding/json"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/capture"
	"github.com/agentprobe/agentprobe/pkg/hub"
	"github.com/agentprobe/agentprobe/pkg/storage"
	"github.com/agentprobe/agentprobe/pkg/storage/inmemory"
	"github.com/agentprobe/agentprobe/proxy"
	"github.com/agentprobe/agentprobe/proxy/worker"
)

// wsRecorder captures broadcast envelopes like a websocket client would.
type wsRecorder struct {
	mu       sync.Mutex
	messages []map[string]any
}

func (r *wsRecorder) Send(payload []byte) error {
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *wsRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, msg := range r.messages {
		types = append(types, msg["type"].(string))
	}
	return types
}

var _ = Describe("Addon", func() {
	var (
		store    *inmemory.Store
		h        *hub.Hub
		pool     *worker.Pool
		addon    *proxy.Addon
		recorder *wsRecorder
		ctx      context.Context
	)

	newAddon := func(maxBodySize int) *proxy.Addon {
		return proxy.NewAddon(store, h, pool, maxBodySize, zap.NewNop())
	}

	anthropicRequest := func(body string) proxy.FlowRequest {
		return proxy.FlowRequest{
			Method: "POST",
			URL:    "https://api.anthropic.com/v1/messages",
			Host:   "api.anthropic.com",
			Path:   "/v1/messages",
			Headers: map[string]string{
				"user-agent":   "claude-cli/1.0.44 (external)",
				"content-type": "application/json",
			},
			Body: []byte(body),
		}
	}

	listAll := func() []capture.Summary {
		summaries, err := store.ListRequests(ctx, storage.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		return summaries
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.New()
		h = hub.New(zap.NewNop())
		pool = worker.NewPool(&worker.Config{Logger: zap.NewNop()})
		recorder = &wsRecorder{}
		h.Connect(recorder)
		addon = newAddon(0)
	})

	AfterEach(func() {
		pool.Close()
	})

	Describe("plain JSON exchange", func() {
		It("persists the classified record with both halves", func() {
			body := `{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hi"}]}`
			addon.OnRequest("f1", anthropicRequest(body))
			addon.OnResponse("f1", &proxy.FlowResponse{
				StatusCode: 200,
				Headers:    map[string]string{"content-type": "application/json"},
				Body:       []byte(`{"id":"msg_1","content":[]}`),
			})

			Eventually(listAll).Should(HaveLen(1))
			summary := listAll()[0]
			Expect(summary.AgentType).To(Equal("claude_code"))
			Expect(summary.ProtocolType).To(Equal("anthropic"))
			Expect(summary.Sequence).To(Equal(int64(1)))

			var record *capture.Request
			Eventually(func() *int {
				record, _ = store.GetRequest(ctx, summary.ID)
				return record.StatusCode
			}).ShouldNot(BeNil())

			Expect(*record.StatusCode).To(Equal(200))
			Expect(record.RequestBody).To(Equal(body))
			Expect(record.ResponseBody).To(Equal(`{"id":"msg_1","content":[]}`))
			Expect(record.IsStreaming).To(BeFalse())
			Expect(record.DurationMS).NotTo(BeNil())
			Expect(*record.DurationMS).To(BeNumerically(">=", 0))
			Expect(record.APIProvider).NotTo(BeNil())
			Expect(*record.APIProvider).To(Equal("anthropic"))
			Expect(record.SessionID).NotTo(BeNil())
		})

		It("assigns monotonic sequences across flows", func() {
			for _, id := range []string{"f1", "f2", "f3"} {
				addon.OnRequest(id, anthropicRequest(`{}`))
			}

			Eventually(listAll).Should(HaveLen(3))
			summaries := listAll()
			Expect(summaries[0].Sequence).To(Equal(int64(3)))
			Expect(summaries[2].Sequence).To(Equal(int64(1)))
		})
	})

	Describe("streaming exchange", func() {
		It("decodes chunked SSE into ordered events", func() {
			addon.OnRequest("f1", anthropicRequest(`{"stream":true}`))
			streaming := addon.OnResponseHeaders("f1", "text/event-stream; charset=utf-8")
			Expect(streaming).To(BeTrue())

			// Split mid-line across chunks.
			addon.OnStreamChunk("f1", []byte("event: message_start\ndata: {\"type\""))
			addon.OnStreamChunk("f1", []byte(":\"x\"}\n\nevent: ping\ndata: {}\n\n"))
			addon.OnResponse("f1", &proxy.FlowResponse{
				StatusCode: 200,
				Headers:    map[string]string{"content-type": "text/event-stream"},
			})

			Eventually(listAll).Should(HaveLen(1))
			id := listAll()[0].ID

			var record *capture.Request
			Eventually(func() bool {
				record, _ = store.GetRequest(ctx, id)
				return record != nil && record.IsStreaming
			}).Should(BeTrue())

			Expect(record.TTFBMS).NotTo(BeNil())
			Expect(record.SSEEvents).To(HaveLen(2))
			Expect(record.SSEEvents[0].Event).To(Equal("message_start"))
			Expect(record.SSEEvents[1].Event).To(Equal("ping"))
			Expect(record.ResponseBody).To(Equal(
				"event: message_start\ndata: {\"type\":\"x\"}\n\nevent: ping\ndata: {}\n"))

			var events []capture.SSEEvent
			Eventually(func() []capture.SSEEvent {
				events, _ = store.GetSSEEvents(ctx, id)
				return events
			}).Should(HaveLen(2))
			Expect(events[0].EventIndex).To(Equal(0))
			Expect(events[0].EventType).To(Equal("message_start"))
			Expect(events[1].EventIndex).To(Equal(1))
			Expect(events[1].EventType).To(Equal("ping"))
		})

		It("flushes parser residue at completion", func() {
			addon.OnRequest("f1", anthropicRequest(`{}`))
			Expect(addon.OnResponseHeaders("f1", "text/event-stream")).To(BeTrue())

			// No trailing blank line; only the flush recovers this event.
			addon.OnStreamChunk("f1", []byte("data: {\"last\":true}"))
			addon.OnResponse("f1", &proxy.FlowResponse{StatusCode: 200})

			Eventually(listAll).Should(HaveLen(1))
			id := listAll()[0].ID

			Eventually(func() []capture.SSEEvent {
				events, _ := store.GetSSEEvents(ctx, id)
				return events
			}).Should(HaveLen(1))
		})

		It("broadcasts each event live before completion", func() {
			addon.OnRequest("f1", anthropicRequest(`{}`))
			addon.OnResponseHeaders("f1", "text/event-stream")
			addon.OnStreamChunk("f1", []byte("event: ping\ndata: {}\n\n"))
			addon.OnResponse("f1", &proxy.FlowResponse{StatusCode: 200})

			Eventually(recorder.types).Should(Equal([]string{
				"new_request", "sse_event", "request_complete",
			}))
		})
	})

	Describe("orphan hooks", func() {
		It("ignores a response with no matching request", func() {
			addon.OnResponse("ghost", &proxy.FlowResponse{StatusCode: 502})
			pool.Close()
			pool = worker.NewPool(&worker.Config{Logger: zap.NewNop()})

			Expect(listAll()).To(BeEmpty())
			Expect(recorder.types()).To(BeEmpty())
		})

		It("ignores stream chunks for unknown flows", func() {
			addon.OnStreamChunk("ghost", []byte("data: {}\n\n"))
			Expect(addon.PendingCount()).To(BeZero())
		})

		It("records a request whose response never arrives", func() {
			addon.OnRequest("f1", anthropicRequest(`{}`))

			Eventually(listAll).Should(HaveLen(1))
			Expect(addon.PendingCount()).To(Equal(1))
			Expect(listAll()[0].StatusCode).To(BeNil())
		})
	})

	Describe("body policy", func() {
		It("truncates oversized bodies and keeps true sizes", func() {
			addon = newAddon(10)
			body := `{"padding":"0123456789abcdef"}`
			addon.OnRequest("f1", anthropicRequest(body))
			addon.OnResponse("f1", &proxy.FlowResponse{
				StatusCode: 200,
				Body:       []byte(body),
			})

			Eventually(listAll).Should(HaveLen(1))
			id := listAll()[0].ID

			var record *capture.Request
			Eventually(func() *int {
				record, _ = store.GetRequest(ctx, id)
				return record.StatusCode
			}).ShouldNot(BeNil())

			Expect(record.RequestBody).To(Equal(body[:10] + capture.TruncationMarker))
			Expect(record.RequestSize).To(Equal(int64(len(body))))
			Expect(record.ResponseBody).To(Equal(body[:10] + capture.TruncationMarker))
			Expect(record.ResponseSize).To(Equal(int64(len(body))))
		})
	})

	Describe("sessions", func() {
		It("shares one session id across quick successive requests", func() {
			addon.OnRequest("f1", anthropicRequest(`{}`))
			addon.OnRequest("f2", anthropicRequest(`{}`))

			Eventually(listAll).Should(HaveLen(2))

			ids := listAll()
			first, err := store.GetRequest(ctx, ids[0].ID)
			Expect(err).NotTo(HaveOccurred())
			second, err := store.GetRequest(ctx, ids[1].ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(first.SessionID).NotTo(BeNil())
			Expect(*first.SessionID).To(Equal(*second.SessionID))
		})
	})

	Describe("broadcast ordering", func() {
		It("announces new_request before request_complete", func() {
			addon.OnRequest("f1", anthropicRequest(`{}`))
			addon.OnResponse("f1", &proxy.FlowResponse{StatusCode: 200, Body: []byte(`{}`)})

			Eventually(recorder.types).Should(Equal([]string{"new_request", "request_complete"}))
		})
	})
})
