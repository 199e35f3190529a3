package classify_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentprobe/agentprobe/pkg/classify"
)

var _ = Describe("DetectAgent", func() {
	It("recognizes agents from user-agent strings", func() {
		cases := map[string]string{
			"claude-cli/1.0.44 (external, cli)": classify.AgentClaudeCode,
			"Claude-Code/0.2.1":                 classify.AgentClaudeCode,
			"opencode/0.1.0":                    classify.AgentOpenCode,
			"VSCode/1.90 Cline/3.2":             classify.AgentCline,
			"openai-codex/2.0":                  classify.AgentCodex,
			"gemini-cli/0.4.0":                  classify.AgentGemini,
			"python-requests/2.31":              classify.AgentUnknown,
		}
		for ua, want := range cases {
			Expect(classify.DetectAgent(nil, ua)).To(Equal(want), ua)
		}
	})

	It("matches header keys case-insensitively", func() {
		headers := map[string]string{"User-Agent": "claude-cli/1.0.44"}
		Expect(classify.DetectAgent(headers, "")).To(Equal(classify.AgentClaudeCode))
	})

	It("prefers an explicit user agent over the header", func() {
		headers := map[string]string{"user-agent": "opencode/0.1.0"}
		Expect(classify.DetectAgent(headers, "gemini-cli/0.4.0")).To(Equal(classify.AgentGemini))
	})

	It("checks x-client-name and x-app markers", func() {
		headers := map[string]string{
			"user-agent":    "node",
			"x-client-name": "cline",
		}
		Expect(classify.DetectAgent(headers, "")).To(Equal(classify.AgentCline))
	})

	It("falls back to anthropic headers with a cli x-app", func() {
		headers := map[string]string{
			"user-agent":        "python-requests/2.31",
			"anthropic-version": "2023-06-01",
			"x-app":             "cli",
		}
		Expect(classify.DetectAgent(headers, "")).To(Equal(classify.AgentClaudeCode))
	})

	It("stays unknown on anthropic headers without a client marker", func() {
		headers := map[string]string{
			"user-agent":        "python-requests/2.32.0",
			"anthropic-version": "2023-06-01",
		}
		Expect(classify.DetectAgent(headers, "")).To(Equal(classify.AgentUnknown))
	})

	It("is deterministic across repeated calls", func() {
		headers := map[string]string{"User-Agent": "claude-cli/1.0.44"}
		first := classify.DetectAgent(headers, "")
		Expect(classify.DetectAgent(headers, "")).To(Equal(first))
	})
})

var _ = Describe("DetectProtocol", func() {
	It("recognizes known hosts", func() {
		protocol, provider := classify.DetectProtocol("api.anthropic.com", "/v1/messages", nil)
		Expect(protocol).To(Equal(classify.ProtocolAnthropic))
		Expect(provider).To(Equal("anthropic"))

		protocol, provider = classify.DetectProtocol("api.openai.com", "/v1/chat/completions", nil)
		Expect(protocol).To(Equal(classify.ProtocolOpenAI))
		Expect(provider).To(Equal("openai"))

		protocol, provider = classify.DetectProtocol("generativelanguage.googleapis.com",
			"/v1beta/models/gemini-pro:streamGenerateContent", nil)
		Expect(protocol).To(Equal(classify.ProtocolGoogle))
		Expect(provider).To(Equal("google"))
	})

	It("ignores port suffixes and query strings", func() {
		protocol, _ := classify.DetectProtocol("api.anthropic.com:443", "/v1/messages?beta=true", nil)
		Expect(protocol).To(Equal(classify.ProtocolAnthropic))
	})

	It("recognizes provider paths on unknown hosts", func() {
		protocol, provider := classify.DetectProtocol("llm.internal.example", "/v1/chat/completions", nil)
		Expect(protocol).To(Equal(classify.ProtocolOpenAI))
		Expect(provider).To(Equal(""))

		protocol, provider = classify.DetectProtocol("openrouter.ai", "/v1/chat/completions", nil)
		Expect(protocol).To(Equal(classify.ProtocolOpenAI))
		Expect(provider).To(Equal("openrouter"))
	})

	It("detects MCP from the body before host rules", func() {
		body := map[string]any{"jsonrpc": "2.0", "id": float64(1), "method": "tools/call"}
		protocol, provider := classify.DetectProtocol("api.openai.com", "/mcp", body)
		Expect(protocol).To(Equal(classify.ProtocolMCP))
		Expect(provider).To(Equal(""))
	})

	It("detects MCP responses by id plus result", func() {
		body := map[string]any{"jsonrpc": "2.0", "id": float64(1), "result": map[string]any{}}
		protocol, _ := classify.DetectProtocol("localhost:3000", "/rpc", body)
		Expect(protocol).To(Equal(classify.ProtocolMCP))
	})

	It("rejects JSON-RPC bodies without the 2.0 marker", func() {
		body := map[string]any{"jsonrpc": "1.0", "method": "tools/call"}
		protocol, _ := classify.DetectProtocol("localhost:3000", "/rpc", body)
		Expect(protocol).To(Equal(classify.ProtocolUnknown))
	})

	It("falls back to body shape for proxied providers", func() {
		openaiShape := map[string]any{
			"model":    "gpt-4o",
			"messages": []any{},
		}
		protocol, provider := classify.DetectProtocol("gateway.example.com", "/proxy", openaiShape)
		Expect(protocol).To(Equal(classify.ProtocolOpenAI))
		Expect(provider).To(Equal(""))

		googleShape := map[string]any{
			"contents":         []any{},
			"generationConfig": map[string]any{},
		}
		protocol, _ = classify.DetectProtocol("gateway.example.com", "/proxy", googleShape)
		Expect(protocol).To(Equal(classify.ProtocolGoogle))
	})

	It("classifies anthropic-flavored bodies behind azure hosts", func() {
		body := map[string]any{
			"model":    "claude-sonnet-4",
			"messages": []any{},
			"metadata": map[string]any{"anthropic-version": "2023-06-01"},
		}
		protocol, provider := classify.DetectProtocol("myinstance.azure.example", "/serve", body)
		Expect(protocol).To(Equal(classify.ProtocolAnthropic))
		Expect(provider).To(Equal("azure"))
	})

	It("returns unknown when nothing matches", func() {
		protocol, provider := classify.DetectProtocol("example.com", "/index.html", nil)
		Expect(protocol).To(Equal(classify.ProtocolUnknown))
		Expect(provider).To(Equal(""))
	})
})

var _ = Describe("IsSSEContentType", func() {
	It("matches event-stream content types with parameters", func() {
		Expect(classify.IsSSEContentType("text/event-stream")).To(BeTrue())
		Expect(classify.IsSSEContentType("Text/Event-Stream; charset=utf-8")).To(BeTrue())
		Expect(classify.IsSSEContentType("application/json")).To(BeFalse())
		Expect(classify.IsSSEContentType("")).To(BeFalse())
	})
})

var _ = Describe("GuessProvider", func() {
	It("infers providers from host substrings", func() {
		Expect(classify.GuessProvider("api.anthropic.com")).To(Equal("anthropic"))
		Expect(classify.GuessProvider("eu.api.openai.com")).To(Equal("openai"))
		Expect(classify.GuessProvider("generativelanguage.googleapis.com")).To(Equal("google"))
		Expect(classify.GuessProvider("foo.azure.com")).To(Equal("azure"))
		Expect(classify.GuessProvider("openrouter.ai")).To(Equal("openrouter"))
		Expect(classify.GuessProvider("example.com")).To(Equal(""))
	})
})
