package parse_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentprobe/agentprobe/pkg/parse"
)

func decode(raw string) map[string]any {
	var m map[string]any
	Expect(json.Unmarshal([]byte(raw), &m)).To(Succeed())
	return m
}

var _ = Describe("AnthropicRequest", func() {
	It("summarizes model, messages, and tools", func() {
		body := decode(`{
			"model": "claude-sonnet-4",
			"max_tokens": 1024,
			"stream": true,
			"system": "You are helpful.",
			"messages": [
				{"role": "user", "content": "hello there"},
				{"role": "assistant", "content": [{"type": "text", "text": "hi"}]}
			],
			"tools": [{"name": "read_file"}, {"name": "bash"}]
		}`)

		summary := parse.AnthropicRequest(body)
		Expect(summary["model"]).To(Equal("claude-sonnet-4"))
		Expect(summary["max_tokens"]).To(Equal(1024))
		Expect(summary["stream"]).To(Equal(true))
		Expect(summary["system_length"]).To(Equal(len("You are helpful.")))
		Expect(summary["message_count"]).To(Equal(2))
		Expect(summary["tool_names"]).To(Equal([]string{"read_file", "bash"}))
		Expect(summary["has_tool_use"]).To(Equal(true))

		messages := summary["messages_summary"].([]map[string]any)
		Expect(messages).To(HaveLen(2))
		Expect(messages[0]["role"]).To(Equal("user"))
		Expect(messages[0]["type"]).To(Equal("text"))
		Expect(messages[0]["length"]).To(Equal(len("hello there")))
		Expect(messages[1]["block_types"]).To(Equal([]string{"text"}))
	})

	It("counts tool_result text toward lengths and estimates", func() {
		body := decode(`{
			"messages": [
				{"role": "user", "content": [
					{"type": "tool_result", "content": [{"type": "text", "text": "12345678"}]}
				]}
			]
		}`)

		summary := parse.AnthropicRequest(body)
		messages := summary["messages_summary"].([]map[string]any)
		Expect(messages[0]["length"]).To(Equal(8))
		Expect(summary["input_tokens_estimate"]).To(Equal(2))
	})

	It("flattens a block-list system prompt", func() {
		body := decode(`{
			"system": [{"type": "text", "text": "one"}, {"type": "text", "text": "two"}],
			"messages": []
		}`)

		summary := parse.AnthropicRequest(body)
		Expect(summary["system_length"]).To(Equal(len("one two")))
	})

	It("degrades to zero values on an empty body", func() {
		summary := parse.AnthropicRequest(map[string]any{})
		Expect(summary["model"]).To(Equal(""))
		Expect(summary["message_count"]).To(Equal(0))
		Expect(summary["has_tool_use"]).To(Equal(false))
		Expect(summary["input_tokens_estimate"]).To(Equal(0))
	})
})

var _ = Describe("AnthropicResponse", func() {
	It("joins text blocks and extracts tool calls and usage", func() {
		body := decode(`{
			"id": "msg_1",
			"model": "claude-sonnet-4",
			"role": "assistant",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "tu_1", "name": "read_file", "input": {"path": "a.txt"}}
			],
			"usage": {"input_tokens": 50, "output_tokens": 12, "cache_read_input_tokens": 40}
		}`)

		summary := parse.AnthropicResponse(body)
		Expect(summary["text"]).To(Equal("Let me check."))
		Expect(summary["text_length"]).To(Equal(len("Let me check.")))
		Expect(summary["stop_reason"]).To(Equal("tool_use"))
		Expect(summary["tool_call_count"]).To(Equal(1))
		Expect(summary["input_tokens"]).To(Equal(50))
		Expect(summary["output_tokens"]).To(Equal(12))
		Expect(summary["cache_read_tokens"]).To(Equal(40))

		calls := summary["tool_calls"].([]map[string]any)
		Expect(calls[0]["name"]).To(Equal("read_file"))
		Expect(calls[0]["input"]).To(HaveKeyWithValue("path", "a.txt"))
	})
})

var _ = Describe("AnthropicSSEEvent", func() {
	It("extracts identity from message_start", func() {
		data := decode(`{"message": {"id": "msg_1", "model": "claude-sonnet-4", "role": "assistant", "usage": {"input_tokens": 9}}}`)
		summary := parse.AnthropicSSEEvent("message_start", data)
		Expect(summary["event_type"]).To(Equal("message_start"))
		Expect(summary["id"]).To(Equal("msg_1"))
		Expect(summary["input_tokens"]).To(Equal(9))
	})

	It("extracts text deltas", func() {
		data := decode(`{"index": 0, "delta": {"type": "text_delta", "text": "hi"}}`)
		summary := parse.AnthropicSSEEvent("content_block_delta", data)
		Expect(summary["delta_type"]).To(Equal("text_delta"))
		Expect(summary["text"]).To(Equal("hi"))
		Expect(summary["text_length"]).To(Equal(2))
	})

	It("extracts tool identity from content_block_start", func() {
		data := decode(`{"index": 1, "content_block": {"type": "tool_use", "name": "bash", "id": "tu_2"}}`)
		summary := parse.AnthropicSSEEvent("content_block_start", data)
		Expect(summary["block_type"]).To(Equal("tool_use"))
		Expect(summary["tool_name"]).To(Equal("bash"))
	})

	It("extracts stop_reason and output tokens from message_delta", func() {
		data := decode(`{"delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 33}}`)
		summary := parse.AnthropicSSEEvent("message_delta", data)
		Expect(summary["stop_reason"]).To(Equal("end_turn"))
		Expect(summary["output_tokens"]).To(Equal(33))
	})

	It("carries only the type for ping", func() {
		summary := parse.AnthropicSSEEvent("ping", map[string]any{})
		Expect(summary).To(Equal(parse.Summary{"event_type": "ping"}))
	})
})
