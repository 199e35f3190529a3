package parse

import (
	"sort"
	"strings"
)

// OpenAIRequest summarizes an OpenAI chat-completions request body.
func OpenAIRequest(body map[string]any) Summary {
	messages := asList(body, "messages")

	var toolNames []string
	for _, t := range asList(body, "tools") {
		if tool, ok := t.(map[string]any); ok {
			toolNames = append(toolNames, asString(asMap(tool, "function"), "name"))
		}
	}

	maxTokens := asInt(body, "max_tokens")
	if maxTokens == 0 {
		maxTokens = asInt(body, "max_completion_tokens")
	}

	return Summary{
		"model":                 asString(body, "model"),
		"max_tokens":            maxTokens,
		"temperature":           body["temperature"],
		"stream":                asBool(body, "stream"),
		"system_length":         openaiSystemLength(messages),
		"message_count":         len(messages),
		"messages_summary":      openaiMessagesSummary(messages),
		"tool_names":            toolNames,
		"tool_count":            len(toolNames),
		"has_tool_use":          len(toolNames) > 0,
		"tool_choice":           body["tool_choice"],
		"response_format":       body["response_format"],
		"stream_options":        body["stream_options"],
		"input_tokens_estimate": estimateTokens(openaiMessageChars(messages)),
	}
}

// OpenAIResponse summarizes a non-streaming chat-completions response.
func OpenAIResponse(body map[string]any) Summary {
	choices := asList(body, "choices")
	firstChoice := firstMap(choices)
	message := asMap(firstChoice, "message")

	text := asString(message, "content")

	var toolCalls []map[string]any
	for _, tc := range asList(message, "tool_calls") {
		call, ok := tc.(map[string]any)
		if !ok {
			continue
		}
		fn := asMap(call, "function")
		toolCalls = append(toolCalls, map[string]any{
			"id":        asString(call, "id"),
			"name":      asString(fn, "name"),
			"arguments": asString(fn, "arguments"),
		})
	}

	usage := asMap(body, "usage")

	return Summary{
		"id":                 asString(body, "id"),
		"model":              asString(body, "model"),
		"finish_reason":      asString(firstChoice, "finish_reason"),
		"text":               text,
		"text_length":        len(text),
		"tool_calls":         toolCalls,
		"tool_call_count":    len(toolCalls),
		"prompt_tokens":      asInt(usage, "prompt_tokens"),
		"completion_tokens":  asInt(usage, "completion_tokens"),
		"total_tokens":       asInt(usage, "total_tokens"),
		"cached_tokens":      asInt(asMap(usage, "prompt_tokens_details"), "cached_tokens"),
		"choice_count":       len(choices),
		"system_fingerprint": asString(body, "system_fingerprint"),
	}
}

// OpenAISSEEvent summarizes one decoded streaming payload: chat-completions
// chunks and Responses-API "response.*" events are both understood.
func OpenAISSEEvent(data map[string]any) Summary {
	if len(data) == 0 {
		return Summary{"event_type": "empty"}
	}

	if asString(data, "object") == "chat.completion.chunk" {
		return openaiChatChunk(data)
	}

	if strings.HasPrefix(asString(data, "type"), "response.") {
		return openaiResponsesEvent(data)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Summary{
		"event_type": "unknown",
		"id":         asString(data, "id"),
		"raw_keys":   keys,
	}
}

func openaiChatChunk(data map[string]any) Summary {
	first := firstMap(asList(data, "choices"))
	delta := asMap(first, "delta")

	result := Summary{
		"event_type":    "chat.completion.chunk",
		"id":            asString(data, "id"),
		"model":         asString(data, "model"),
		"finish_reason": first["finish_reason"],
	}

	if content, ok := delta["content"].(string); ok {
		result["text"] = content
		result["text_length"] = len(content)
	}

	if tcDeltas, ok := delta["tool_calls"].([]any); ok {
		var deltas []map[string]any
		for _, tc := range tcDeltas {
			call, ok := tc.(map[string]any)
			if !ok {
				continue
			}
			fn := asMap(call, "function")
			deltas = append(deltas, map[string]any{
				"index":           asInt(call, "index"),
				"id":              asString(call, "id"),
				"name":            asString(fn, "name"),
				"arguments_chunk": asString(fn, "arguments"),
			})
		}
		result["tool_call_deltas"] = deltas
	}

	if role, ok := delta["role"].(string); ok {
		result["role"] = role
	}

	if usage := asMap(data, "usage"); usage != nil {
		result["prompt_tokens"] = asInt(usage, "prompt_tokens")
		result["completion_tokens"] = asInt(usage, "completion_tokens")
	}

	return result
}

func openaiResponsesEvent(data map[string]any) Summary {
	eventType := asString(data, "type")
	result := Summary{"event_type": eventType}

	switch eventType {
	case "response.created":
		resp := asMap(data, "response")
		result["id"] = asString(resp, "id")
		result["model"] = asString(resp, "model")
		result["status"] = asString(resp, "status")

	case "response.output_item.added":
		item := asMap(data, "item")
		result["item_type"] = asString(item, "type")
		result["item_id"] = asString(item, "id")

	case "response.content_part.delta":
		text := asString(asMap(data, "delta"), "text")
		result["text"] = text
		result["text_length"] = len(text)

	case "response.output_item.done":
		item := asMap(data, "item")
		result["item_type"] = asString(item, "type")
		if asString(item, "type") == "function_call" {
			result["tool_name"] = asString(item, "name")
			result["tool_call_id"] = asString(item, "call_id")
			result["arguments"] = asString(item, "arguments")
		}

	case "response.completed":
		resp := asMap(data, "response")
		usage := asMap(resp, "usage")
		result["id"] = asString(resp, "id")
		result["status"] = asString(resp, "status")
		result["input_tokens"] = asInt(usage, "input_tokens")
		result["output_tokens"] = asInt(usage, "output_tokens")
	}

	return result
}

// openaiSystemLength totals the text length of system/developer messages.
func openaiSystemLength(messages []any) int {
	total := 0
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role := asString(msg, "role")
		if role != "system" && role != "developer" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			total += len(content)
		case []any:
			for _, p := range content {
				if part, ok := p.(map[string]any); ok && asString(part, "type") == "text" {
					total += len(asString(part, "text"))
				}
			}
		}
	}
	return total
}

func openaiMessagesSummary(messages []any) []map[string]any {
	summary := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role := asString(msg, "role")
		switch content := msg["content"].(type) {
		case nil:
			kind := "empty"
			if len(asList(msg, "tool_calls")) > 0 {
				kind = "tool_call_only"
			}
			summary = append(summary, map[string]any{"role": role, "type": kind, "length": 0})
		case string:
			summary = append(summary, map[string]any{"role": role, "type": "text", "length": len(content)})
		case []any:
			var types []string
			total := 0
			for _, p := range content {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				partType := asString(part, "type")
				if partType == "" {
					partType = "text"
				}
				types = append(types, partType)
				if partType == "text" {
					total += len(asString(part, "text"))
				}
			}
			summary = append(summary, map[string]any{"role": role, "block_types": types, "length": total})
		}
	}
	return summary
}

func openaiMessageChars(messages []any) int {
	chars := 0
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			chars += len(content)
		case []any:
			for _, p := range content {
				if part, ok := p.(map[string]any); ok && asString(part, "type") == "text" {
					chars += len(asString(part, "text"))
				}
			}
		}
	}
	return chars
}
