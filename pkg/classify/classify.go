// Package classify decides, from the observable surface of a proxied HTTP
// transaction, which agent produced it and which API protocol it speaks.
//
// Both detectors are pure functions over untrusted input: headers arrive
// with arbitrary casing, bodies may be absent or malformed, and anything
// unrecognized classifies as unknown rather than failing.
package classify

import (
	"regexp"
	"strings"
)

// Agent names returned by DetectAgent.
const (
	AgentClaudeCode = "claude_code"
	AgentOpenCode   = "opencode"
	AgentCline      = "cline"
	AgentCodex      = "codex"
	AgentGemini     = "gemini"
	AgentUnknown    = "unknown"
)

// Protocol names returned by DetectProtocol.
const (
	ProtocolAnthropic = "anthropic"
	ProtocolOpenAI    = "openai"
	ProtocolGoogle    = "google"
	ProtocolMCP       = "mcp"
	ProtocolHTTP      = "http"
	ProtocolUnknown   = "unknown"
)

// agentPattern binds an agent name to its user-agent regexes. Order matters:
// the first agent with any match wins, so the table is a slice, not a map.
type agentPattern struct {
	agent    string
	patterns []*regexp.Regexp
}

var agentPatterns = []agentPattern{
	{AgentClaudeCode, compileAll(`claude[-_]?code`, `claude[-_]?cli`, `anthropic[-_]?cli`)},
	{AgentOpenCode, compileAll(`opencode`, `open[-_]?code`)},
	{AgentCline, compileAll(`cline`, `vscode.*cline`)},
	{AgentCodex, compileAll(`codex`, `vscode.*codex`, `openai[-_]?codex`)},
	{AgentGemini, compileAll(`gemini[-_]?cli`, `google[-_]?gemini`)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		res[i] = regexp.MustCompile(`(?i)` + expr)
	}
	return res
}

var (
	anthropicHosts = map[string]struct{}{"api.anthropic.com": {}}
	openaiHosts    = map[string]struct{}{"api.openai.com": {}}
	googleHosts    = map[string]struct{}{"generativelanguage.googleapis.com": {}}

	anthropicPathRe       = regexp.MustCompile(`^/v1/messages`)
	openaiChatPathRe      = regexp.MustCompile(`^/v1/chat/completions`)
	openaiResponsesPathRe = regexp.MustCompile(`^/v1/responses`)
	googlePathRe          = regexp.MustCompile(`^/v1beta/models/.+:(generateContent|streamGenerateContent)`)
)

// mcpMethods is the set of well-known MCP method names used to recognize
// JSON-RPC traffic as Model-Context-Protocol.
var mcpMethods = map[string]struct{}{
	"initialize":                {},
	"initialized":               {},
	"shutdown":                  {},
	"tools/list":                {},
	"tools/call":                {},
	"resources/list":            {},
	"resources/read":            {},
	"prompts/list":              {},
	"prompts/get":               {},
	"notifications/initialized": {},
	"notifications/cancelled":   {},
	"completion/complete":       {},
}

// DetectAgent identifies the agent behind a request from its headers.
// Header keys are matched case-insensitively. An explicit userAgent, when
// non-empty, takes precedence over the User-Agent header.
func DetectAgent(headers map[string]string, userAgent string) string {
	normalized := make(map[string]string, len(headers))
	for key, value := range headers {
		normalized[strings.ToLower(key)] = value
	}

	ua := userAgent
	if ua == "" {
		ua = normalized["user-agent"]
	}
	xClient := normalized["x-client-name"]
	xApp := normalized["x-app"]

	combined := ua + " " + xClient + " " + xApp
	for _, ap := range agentPatterns {
		for _, re := range ap.patterns {
			if re.MatchString(combined) {
				return ap.agent
			}
		}
	}

	// Anthropic-specific headers plus a generic CLI marker still identify
	// Claude Code even when the UA string is something like python-requests.
	_, hasVersion := normalized["anthropic-version"]
	_, hasBeta := normalized["anthropic-beta"]
	if hasVersion || hasBeta {
		switch strings.ToLower(xApp) {
		case "cli", "claude-code":
			return AgentClaudeCode
		}
	}

	return AgentUnknown
}

// DetectProtocol identifies the API protocol and, where possible, the
// provider serving it. The body, when non-nil, is the JSON-decoded request
// body; MCP detection runs on the body before any host or path rule.
func DetectProtocol(host, path string, body map[string]any) (protocol string, provider string) {
	hostLower := strings.ToLower(host)
	if h, _, ok := strings.Cut(hostLower, ":"); ok {
		hostLower = h
	}
	pathClean := path
	if p, _, ok := strings.Cut(path, "?"); ok {
		pathClean = p
	}

	if body != nil && isMCPMessage(body) {
		return ProtocolMCP, ""
	}

	if _, ok := anthropicHosts[hostLower]; ok || anthropicPathRe.MatchString(pathClean) {
		if strings.Contains(hostLower, "anthropic") {
			return ProtocolAnthropic, "anthropic"
		}
		return ProtocolAnthropic, GuessProvider(hostLower)
	}

	_, openaiHost := openaiHosts[hostLower]
	if openaiHost || openaiChatPathRe.MatchString(pathClean) || openaiResponsesPathRe.MatchString(pathClean) {
		if strings.Contains(hostLower, "openai") {
			return ProtocolOpenAI, "openai"
		}
		return ProtocolOpenAI, GuessProvider(hostLower)
	}

	if _, ok := googleHosts[hostLower]; ok || googlePathRe.MatchString(pathClean) {
		return ProtocolGoogle, "google"
	}

	// Body-shape fallback for providers behind nonstandard hosts and paths.
	if body != nil {
		_, hasModel := body["model"]
		_, hasMessages := body["messages"]
		if hasModel && hasMessages {
			if metadata, ok := body["metadata"]; ok && strings.Contains(toString(metadata), "anthropic-version") {
				return ProtocolAnthropic, GuessProvider(hostLower)
			}
			return ProtocolOpenAI, GuessProvider(hostLower)
		}
		_, hasContents := body["contents"]
		_, hasGenConfig := body["generationConfig"]
		if hasContents && hasGenConfig {
			return ProtocolGoogle, GuessProvider(hostLower)
		}
	}

	return ProtocolUnknown, ""
}

// IsSSEContentType reports whether a Content-Type header marks a streaming
// Server-Sent-Events response.
func IsSSEContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

// GuessProvider infers an API provider from a host substring. Returns an
// empty string when nothing matches.
func GuessProvider(host string) string {
	host = strings.ToLower(host)
	switch {
	case strings.Contains(host, "anthropic"):
		return "anthropic"
	case strings.Contains(host, "openai"):
		return "openai"
	case strings.Contains(host, "google"), strings.Contains(host, "googleapis"):
		return "google"
	case strings.Contains(host, "azure"):
		return "azure"
	case strings.Contains(host, "openrouter"):
		return "openrouter"
	}
	return ""
}

// isMCPMessage reports whether a JSON body is a JSON-RPC 2.0 message in the
// MCP dialect: a known method, a namespaced method, or an id paired with a
// result or error.
func isMCPMessage(body map[string]any) bool {
	if body["jsonrpc"] != "2.0" {
		return false
	}

	method, _ := body["method"].(string)
	if _, ok := mcpMethods[method]; ok {
		return true
	}
	if strings.Contains(method, "/") {
		return true
	}

	if _, ok := body["id"]; ok {
		_, hasResult := body["result"]
		_, hasError := body["error"]
		if hasResult || hasError {
			return true
		}
	}

	return false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if m, ok := v.(map[string]any); ok {
		var sb strings.Builder
		for key, value := range m {
			sb.WriteString(key)
			sb.WriteString(":")
			sb.WriteString(toString(value))
			sb.WriteString(" ")
		}
		return sb.String()
	}
	return ""
}
