package sse

import (
	"math/rand"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parser", func() {
	var p *Parser

	BeforeEach(func() {
		p = NewParser()
	})

	Describe("Feed", func() {
		Context("with standard SSE events", func() {
			It("parses a single event", func() {
				events := p.Feed([]byte("data: hello world\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Data).To(Equal("hello world"))
				Expect(events[0].Type).To(BeEmpty())
				Expect(events[0].ID).To(BeEmpty())
			})

			It("parses multiple events from one chunk", func() {
				events := p.Feed([]byte("data: first\n\ndata: second\n\n"))
				Expect(events).To(HaveLen(2))
				Expect(events[0].Data).To(Equal("first"))
				Expect(events[1].Data).To(Equal("second"))
			})

			It("parses event type", func() {
				events := p.Feed([]byte("event: message_start\ndata: {\"type\":\"x\"}\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Type).To(Equal("message_start"))
				Expect(events[0].Data).To(Equal("{\"type\":\"x\"}"))
			})

			It("parses event ID", func() {
				events := p.Feed([]byte("id: 42\ndata: hello\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].ID).To(Equal("42"))
			})

			It("joins multiple data lines with a single newline", func() {
				events := p.Feed([]byte("data: one\ndata: two\ndata: three\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Data).To(Equal("one\ntwo\nthree"))
			})

			It("captures retry as a raw string", func() {
				events := p.Feed([]byte("retry: 3000\ndata: x\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Retry).To(Equal("3000"))
			})
		})

		Context("with chunked delivery", func() {
			It("handles a chunk split mid-line", func() {
				Expect(p.Feed([]byte("event: message_start\ndata: {\"ty"))).To(BeEmpty())
				events := p.Feed([]byte("pe\":\"x\"}\n\nevent: ping\ndata: {}\n\n"))
				Expect(events).To(HaveLen(2))
				Expect(events[0].Type).To(Equal("message_start"))
				Expect(events[0].Data).To(Equal("{\"type\":\"x\"}"))
				Expect(events[1].Type).To(Equal("ping"))
			})

			It("handles a chunk split inside the event separator", func() {
				Expect(p.Feed([]byte("data: a\n"))).To(BeEmpty())
				events := p.Feed([]byte("\ndata: b\n\n"))
				Expect(events).To(HaveLen(2))
			})

			It("ignores empty chunks", func() {
				Expect(p.Feed(nil)).To(BeEmpty())
				Expect(p.Feed([]byte{})).To(BeEmpty())
				events := p.Feed([]byte("data: x\n\n"))
				Expect(events).To(HaveLen(1))
			})
		})

		Context("with edge-case input", func() {
			It("drops blocks containing only a comment", func() {
				Expect(p.Feed([]byte(": keep-alive\n\n"))).To(BeEmpty())
			})

			It("drops blocks containing only blank lines", func() {
				Expect(p.Feed([]byte("\n\n\n\n"))).To(BeEmpty())
			})

			It("emits events that carry only an id", func() {
				events := p.Feed([]byte("id: 7\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].ID).To(Equal("7"))
				Expect(events[0].Data).To(BeEmpty())
			})

			It("emits events that carry only a type", func() {
				events := p.Feed([]byte("event: ping\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Type).To(Equal("ping"))
			})

			It("strips a trailing carriage return from each line", func() {
				events := p.Feed([]byte("event: ping\r\ndata: {}\r\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Type).To(Equal("ping"))
				Expect(events[0].Data).To(Equal("{}"))
			})

			It("treats a line without a colon as a field with an empty value", func() {
				events := p.Feed([]byte("data\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Data).To(BeEmpty())
			})

			It("ignores unknown fields", func() {
				events := p.Feed([]byte("bogus: value\ndata: x\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Data).To(Equal("x"))
			})

			It("replaces invalid UTF-8 instead of failing", func() {
				events := p.Feed([]byte("data: a\xff\xfeb\n\n"))
				Expect(events).To(HaveLen(1))
				Expect(events[0].Data).To(ContainSubstring("a"))
				Expect(events[0].Data).To(ContainSubstring("b"))
			})
		})
	})

	Describe("Flush", func() {
		It("yields a trailing event with no final blank line", func() {
			Expect(p.Feed([]byte("data: last"))).To(BeEmpty())
			events := p.Flush()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Data).To(Equal("last"))
		})

		It("returns nothing for whitespace residue", func() {
			p.Feed([]byte("data: x\n\n\n"))
			Expect(p.Flush()).To(BeEmpty())
		})

		It("clears the buffer", func() {
			p.Feed([]byte("data: partial"))
			p.Flush()
			Expect(p.Flush()).To(BeEmpty())
		})
	})

	Describe("chunking invariance", func() {
		// Any split of a well-formed stream must decode to the same events.
		It("yields identical events for random chunk boundaries", func() {
			stream := "event: message_start\ndata: {\"a\":1}\n\n" +
				"data: line one\ndata: line two\n\n" +
				": comment only\n\n" +
				"event: content_block_delta\nid: 9\ndata: {\"b\":2}\n\n" +
				"event: message_stop\ndata: {}\n\n"

			whole := NewParser()
			expected := whole.Feed([]byte(stream))
			expected = append(expected, whole.Flush()...)
			Expect(expected).To(HaveLen(4))

			rng := rand.New(rand.NewSource(1138))
			for trial := 0; trial < 200; trial++ {
				chunked := NewParser()
				var got []Event

				rest := stream
				for len(rest) > 0 {
					n := 1 + rng.Intn(len(rest))
					got = append(got, chunked.Feed([]byte(rest[:n]))...)
					rest = rest[n:]
				}
				got = append(got, chunked.Flush()...)

				Expect(got).To(Equal(expected), "trial %d", trial)
			}
		})

		It("is invariant for byte-at-a-time delivery", func() {
			stream := "event: ping\ndata: {}\n\nid: 1\ndata: tail"
			var got []Event
			for _, b := range []byte(stream) {
				got = append(got, p.Feed([]byte{b})...)
			}
			got = append(got, p.Flush()...)

			Expect(got).To(HaveLen(2))
			Expect(got[0].Type).To(Equal("ping"))
			Expect(got[1].ID).To(Equal("1"))
			Expect(got[1].Data).To(Equal("tail"))
		})

		It("survives a multi-byte rune split across chunks", func() {
			payload := "data: héllo\n\n"
			raw := []byte(payload)
			// Split inside the two-byte é sequence.
			cut := strings.Index(payload, "h") + 2
			p.Feed(raw[:cut])
			events := p.Feed(raw[cut:])
			Expect(events).To(HaveLen(1))
		})
	})
})
