package parse_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentprobe/agentprobe/pkg/parse"
)

var _ = Describe("MCPMessage", func() {
	It("summarizes a tools/call request", func() {
		body := decode(`{
			"jsonrpc": "2.0", "id": 7, "method": "tools/call",
			"params": {"name": "read_file", "arguments": {"path": "a.txt", "limit": 10}}
		}`)

		summary := parse.MCPMessage(body)
		Expect(summary["message_type"]).To(Equal("request"))
		Expect(summary["method"]).To(Equal("tools/call"))
		Expect(summary["category"]).To(Equal("tools"))

		params := summary["params"].(map[string]any)
		Expect(params["tool_name"]).To(Equal("read_file"))
		Expect(params["has_arguments"]).To(Equal(true))
		Expect(params["argument_keys"]).To(Equal([]string{"limit", "path"}))
	})

	It("summarizes an initialize request", func() {
		body := decode(`{
			"jsonrpc": "2.0", "id": 1, "method": "initialize",
			"params": {
				"protocolVersion": "2024-11-05",
				"clientInfo": {"name": "claude-code", "version": "1.0.44"},
				"capabilities": {"roots": {}, "sampling": {}}
			}
		}`)

		params := parse.MCPMessage(body)["params"].(map[string]any)
		Expect(params["protocol_version"]).To(Equal("2024-11-05"))
		Expect(params["client_name"]).To(Equal("claude-code"))
		Expect(params["capabilities"]).To(Equal([]string{"roots", "sampling"}))
	})

	It("classifies a method-without-id as a notification", func() {
		summary := parse.MCPMessage(decode(`{"jsonrpc": "2.0", "method": "notifications/initialized"}`))
		Expect(summary["message_type"]).To(Equal("notification"))
		Expect(summary["category"]).To(Equal("lifecycle"))
	})

	It("summarizes a tools/list result", func() {
		body := decode(`{
			"jsonrpc": "2.0", "id": 2,
			"result": {"tools": [{"name": "read_file"}, {"name": "bash"}]}
		}`)

		summary := parse.MCPMessage(body)
		Expect(summary["message_type"]).To(Equal("response"))
		Expect(summary["is_error"]).To(Equal(false))

		result := summary["result_summary"].(map[string]any)
		Expect(result["tool_count"]).To(Equal(2))
		Expect(result["tool_names"]).To(Equal([]string{"read_file", "bash"}))
	})

	It("summarizes an error response", func() {
		body := decode(`{"jsonrpc": "2.0", "id": 3, "error": {"code": -32601, "message": "method not found"}}`)
		summary := parse.MCPMessage(body)
		Expect(summary["is_error"]).To(Equal(true))
		Expect(summary["error_code"]).To(Equal(-32601))
		Expect(summary["error_message"]).To(Equal("method not found"))
	})

	It("marks a message with neither method nor result as unknown", func() {
		summary := parse.MCPMessage(decode(`{"jsonrpc": "2.0"}`))
		Expect(summary["message_type"]).To(Equal("unknown"))
	})
})

var _ = Describe("ClassifyMCPMethod", func() {
	It("resolves known methods, namespace prefixes, then custom", func() {
		Expect(parse.ClassifyMCPMethod("tools/call")).To(Equal("tools"))
		Expect(parse.ClassifyMCPMethod("logging/setLevel")).To(Equal("logging"))
		Expect(parse.ClassifyMCPMethod("sampling/createMessage")).To(Equal("sampling"))
		Expect(parse.ClassifyMCPMethod("vendor/custom_thing")).To(Equal("custom"))
		Expect(parse.ClassifyMCPMethod("ping")).To(Equal("custom"))
	})
})
