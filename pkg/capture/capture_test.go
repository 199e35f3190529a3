package capture_test

import (
	"encoding/json"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentprobe/agentprobe/pkg/capture"
)

var _ = Describe("NewRequest", func() {
	It("assigns a fresh id, UTC timestamp, and http default", func() {
		req := capture.NewRequest(7)
		Expect(req.ID).NotTo(BeEmpty())
		Expect(req.Sequence).To(Equal(int64(7)))
		Expect(req.Timestamp.Location()).To(Equal(time.UTC))
		Expect(req.ProtocolType).To(Equal("http"))
		Expect(req.StatusCode).To(BeNil())
		Expect(req.DurationMS).To(BeNil())

		other := capture.NewRequest(8)
		Expect(other.ID).NotTo(Equal(req.ID))
	})
})

var _ = Describe("NewSSEEvent", func() {
	It("carries the request id, index, and raw fields", func() {
		ev := capture.NewSSEEvent("req-1", 3, capture.RawEvent{Event: "ping", Data: "{}"})
		Expect(ev.RequestID).To(Equal("req-1"))
		Expect(ev.EventIndex).To(Equal(3))
		Expect(ev.EventType).To(Equal("ping"))
		Expect(ev.Data).To(Equal("{}"))
		Expect(ev.ID).NotTo(BeEmpty())
	})

	It("defaults a missing event field to message", func() {
		ev := capture.NewSSEEvent("req-1", 0, capture.RawEvent{Data: `{"x":1}`})
		Expect(ev.EventType).To(Equal("message"))
	})
})

var _ = Describe("ToSummary", func() {
	It("projects only the list-view fields", func() {
		status := 200
		duration := 120.5
		req := capture.NewRequest(4)
		req.Method = "POST"
		req.Host = "api.anthropic.com"
		req.Path = "/v1/messages"
		req.AgentType = "claude_code"
		req.ProtocolType = "anthropic"
		req.StatusCode = &status
		req.DurationMS = &duration
		req.ResponseSize = 512
		req.IsStreaming = true
		req.RequestBody = `{"large":"payload"}`

		summary := req.ToSummary()
		Expect(summary.ID).To(Equal(req.ID))
		Expect(summary.Sequence).To(Equal(int64(4)))
		Expect(summary.StatusCode).To(Equal(&status))
		Expect(summary.DurationMS).To(Equal(&duration))
		Expect(summary.IsStreaming).To(BeTrue())

		encoded, err := json.Marshal(summary)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(encoded)).NotTo(ContainSubstring("request_body"))
	})
})

var _ = Describe("FormatEvents", func() {
	It("reassembles events into canonical blocks", func() {
		events := []capture.RawEvent{
			{Event: "message_start", Data: `{"type":"x"}`},
			{Event: "ping", Data: "{}"},
		}
		Expect(capture.FormatEvents(events)).To(Equal(
			"event: message_start\ndata: {\"type\":\"x\"}\n\nevent: ping\ndata: {}\n"))
	})

	It("omits absent lines", func() {
		Expect(capture.FormatEvents([]capture.RawEvent{{Data: "only-data"}})).To(Equal("data: only-data\n"))
		Expect(capture.FormatEvents([]capture.RawEvent{{Event: "only-event"}})).To(Equal("event: only-event\n"))
	})

	It("returns empty for no events", func() {
		Expect(capture.FormatEvents(nil)).To(Equal(""))
	})
})

var _ = Describe("Truncate", func() {
	It("cuts bodies over the cap and appends the marker", func() {
		body := strings.Repeat("a", 20)
		got := capture.Truncate(body, 10)
		Expect(got).To(Equal(strings.Repeat("a", 10) + capture.TruncationMarker))
	})

	It("leaves bodies at or under the cap alone", func() {
		Expect(capture.Truncate("short", 10)).To(Equal("short"))
		Expect(capture.Truncate("exactly-10", 10)).To(Equal("exactly-10"))
	})

	It("disables the cap at zero or below", func() {
		body := strings.Repeat("a", 100)
		Expect(capture.Truncate(body, 0)).To(Equal(body))
		Expect(capture.Truncate(body, -1)).To(Equal(body))
	})
})
