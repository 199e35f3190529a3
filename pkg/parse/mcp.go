package parse

import (
	"sort"
	"strings"
)

// methodCategories maps well-known MCP methods to their category.
var methodCategories = map[string]string{
	"initialize":                "lifecycle",
	"initialized":               "lifecycle",
	"shutdown":                  "lifecycle",
	"notifications/initialized": "lifecycle",
	"notifications/cancelled":   "lifecycle",
	"tools/list":                "tools",
	"tools/call":                "tools",
	"resources/list":            "resources",
	"resources/read":            "resources",
	"resources/subscribe":       "resources",
	"resources/unsubscribe":     "resources",
	"prompts/list":              "prompts",
	"prompts/get":               "prompts",
	"completion/complete":       "completion",
	"logging/setLevel":          "logging",

	"notifications/resources/updated":      "resources",
	"notifications/resources/list_changed": "resources",
	"notifications/tools/list_changed":     "tools",
	"notifications/prompts/list_changed":   "prompts",
}

// prefixCategories resolves unknown methods by their namespace prefix.
var prefixCategories = map[string]string{
	"tools":         "tools",
	"resources":     "resources",
	"prompts":       "prompts",
	"notifications": "notifications",
	"completion":    "completion",
	"logging":       "logging",
	"sampling":      "sampling",
}

// MCPMessage summarizes one JSON-RPC 2.0 message in the MCP dialect,
// classifying it as a request, notification, or response and reducing its
// params or result to a short summary.
func MCPMessage(body map[string]any) Summary {
	msgID, hasID := body["id"]
	method, hasMethod := body["method"].(string)
	result, hasResult := body["result"]
	_, hasError := body["error"]

	var msgType string
	switch {
	case hasMethod:
		if hasID {
			msgType = "request"
		} else {
			msgType = "notification"
		}
	case hasResult || hasError:
		msgType = "response"
	default:
		msgType = "unknown"
	}

	parsed := Summary{
		"jsonrpc":      asString(body, "jsonrpc"),
		"message_type": msgType,
	}

	if hasID {
		parsed["id"] = msgID
	}

	if hasMethod {
		parsed["method"] = method
		parsed["category"] = ClassifyMCPMethod(method)
	}

	switch msgType {
	case "request", "notification":
		parsed["params"] = mcpParamsSummary(method, asMap(body, "params"))
	case "response":
		if hasError {
			errObj := asMap(body, "error")
			parsed["is_error"] = true
			parsed["error_code"] = asInt(errObj, "code")
			parsed["error_message"] = asString(errObj, "message")
		} else {
			parsed["is_error"] = false
			parsed["result_summary"] = mcpResultSummary(result)
		}
	}

	return parsed
}

// ClassifyMCPMethod maps an MCP method name to its category, falling back to
// the namespace prefix and then "custom".
func ClassifyMCPMethod(method string) string {
	if category, ok := methodCategories[method]; ok {
		return category
	}

	prefix := method
	if before, _, ok := strings.Cut(method, "/"); ok {
		prefix = before
	}
	if category, ok := prefixCategories[prefix]; ok {
		return category
	}

	return "custom"
}

// mcpParamsSummary reduces request params per method; unknown methods get
// just their key list.
func mcpParamsSummary(method string, params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}

	switch method {
	case "tools/call":
		args := asMap(params, "arguments")
		argKeys := make([]string, 0, len(args))
		for k := range args {
			argKeys = append(argKeys, k)
		}
		sort.Strings(argKeys)
		return map[string]any{
			"tool_name":     asString(params, "name"),
			"has_arguments": params["arguments"] != nil,
			"argument_keys": argKeys,
		}

	case "resources/read":
		return map[string]any{"uri": asString(params, "uri")}

	case "prompts/get":
		return map[string]any{
			"prompt_name":   asString(params, "name"),
			"has_arguments": params["arguments"] != nil,
		}

	case "initialize":
		clientInfo := asMap(params, "clientInfo")
		capabilities := asMap(params, "capabilities")
		capKeys := make([]string, 0, len(capabilities))
		for k := range capabilities {
			capKeys = append(capKeys, k)
		}
		sort.Strings(capKeys)
		return map[string]any{
			"protocol_version": asString(params, "protocolVersion"),
			"client_name":      asString(clientInfo, "name"),
			"client_version":   asString(clientInfo, "version"),
			"capabilities":     capKeys,
		}

	case "completion/complete":
		return map[string]any{
			"ref_type":      asString(asMap(params, "ref"), "type"),
			"argument_name": asString(asMap(params, "argument"), "name"),
		}
	}

	if len(params) == 0 {
		return map[string]any{}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]any{"keys": keys}
}

// mcpResultSummary reduces a response result to counts and names.
func mcpResultSummary(result any) map[string]any {
	switch v := result.(type) {
	case nil:
		return map[string]any{"type": "null"}

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		summary := map[string]any{"keys": keys}

		if tools, ok := v["tools"].([]any); ok {
			summary["tool_count"] = len(tools)
			var names []string
			for _, t := range tools {
				if tool, ok := t.(map[string]any); ok {
					names = append(names, asString(tool, "name"))
				}
			}
			summary["tool_names"] = names
		}
		if resources, ok := v["resources"].([]any); ok {
			summary["resource_count"] = len(resources)
		}
		if prompts, ok := v["prompts"].([]any); ok {
			summary["prompt_count"] = len(prompts)
		}
		if content, ok := v["content"].([]any); ok {
			summary["content_count"] = len(content)
		}
		if serverInfo, ok := v["serverInfo"].(map[string]any); ok {
			summary["server_name"] = asString(serverInfo, "name")
			summary["server_version"] = asString(serverInfo, "version")
		}
		return summary

	case []any:
		return map[string]any{"type": "list", "length": len(v)}
	}

	return map[string]any{"type": "scalar"}
}
