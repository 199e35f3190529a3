package parse

import "strings"

// AnthropicRequest summarizes an Anthropic Messages API request body.
func AnthropicRequest(body map[string]any) Summary {
	messages := asList(body, "messages")
	systemText := anthropicSystemText(body["system"])

	var toolNames []string
	for _, t := range asList(body, "tools") {
		if tool, ok := t.(map[string]any); ok {
			toolNames = append(toolNames, asString(tool, "name"))
		}
	}

	return Summary{
		"model":                 asString(body, "model"),
		"max_tokens":            asInt(body, "max_tokens"),
		"temperature":           body["temperature"],
		"stream":                asBool(body, "stream"),
		"system_length":         len(systemText),
		"message_count":         len(messages),
		"messages_summary":      anthropicMessagesSummary(messages),
		"tool_names":            toolNames,
		"tool_count":            len(toolNames),
		"has_tool_use":          len(toolNames) > 0,
		"stop_sequences":        asList(body, "stop_sequences"),
		"metadata":              asMap(body, "metadata"),
		"input_tokens_estimate": estimateTokens(anthropicMessageChars(messages) + len(systemText)),
	}
}

// AnthropicResponse summarizes a non-streaming Anthropic Messages response.
func AnthropicResponse(body map[string]any) Summary {
	var textParts []string
	textLength := 0
	var toolCalls []map[string]any

	for _, b := range asList(body, "content") {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		switch asString(block, "type") {
		case "text":
			text := asString(block, "text")
			textParts = append(textParts, text)
			textLength += len(text)
		case "tool_use":
			toolCalls = append(toolCalls, map[string]any{
				"id":    asString(block, "id"),
				"name":  asString(block, "name"),
				"input": asMap(block, "input"),
			})
		}
	}

	usage := asMap(body, "usage")

	return Summary{
		"id":                    asString(body, "id"),
		"model":                 asString(body, "model"),
		"role":                  asString(body, "role"),
		"stop_reason":           asString(body, "stop_reason"),
		"text":                  strings.Join(textParts, "\n"),
		"text_length":           textLength,
		"tool_calls":            toolCalls,
		"tool_call_count":       len(toolCalls),
		"input_tokens":          asInt(usage, "input_tokens"),
		"output_tokens":         asInt(usage, "output_tokens"),
		"cache_read_tokens":     asInt(usage, "cache_read_input_tokens"),
		"cache_creation_tokens": asInt(usage, "cache_creation_input_tokens"),
	}
}

// AnthropicSSEEvent summarizes one decoded streaming event. The eventType is
// the SSE event field; data is the decoded JSON payload.
func AnthropicSSEEvent(eventType string, data map[string]any) Summary {
	result := Summary{"event_type": eventType}

	switch eventType {
	case "message_start":
		message := asMap(data, "message")
		result["id"] = asString(message, "id")
		result["model"] = asString(message, "model")
		result["role"] = asString(message, "role")
		result["input_tokens"] = asInt(asMap(message, "usage"), "input_tokens")

	case "content_block_start":
		block := asMap(data, "content_block")
		result["index"] = asInt(data, "index")
		result["block_type"] = asString(block, "type")
		if asString(block, "type") == "tool_use" {
			result["tool_name"] = asString(block, "name")
			result["tool_id"] = asString(block, "id")
		}

	case "content_block_delta":
		delta := asMap(data, "delta")
		deltaType := asString(delta, "type")
		result["index"] = asInt(data, "index")
		result["delta_type"] = deltaType
		switch deltaType {
		case "text_delta":
			text := asString(delta, "text")
			result["text"] = text
			result["text_length"] = len(text)
		case "input_json_delta":
			result["partial_json"] = asString(delta, "partial_json")
		}

	case "content_block_stop":
		result["index"] = asInt(data, "index")

	case "message_delta":
		result["stop_reason"] = asString(asMap(data, "delta"), "stop_reason")
		result["output_tokens"] = asInt(asMap(data, "usage"), "output_tokens")

	case "error":
		errObj := asMap(data, "error")
		result["error_type"] = asString(errObj, "type")
		result["error_message"] = asString(errObj, "message")

	case "message_stop", "ping":
		// Type alone is the summary.
	}

	return result
}

// anthropicSystemText flattens the system prompt, which is either a plain
// string or a list of text blocks.
func anthropicSystemText(system any) string {
	switch v := system.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, p := range v {
			if block, ok := p.(map[string]any); ok {
				parts = append(parts, asString(block, "text"))
			} else if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// anthropicMessagesSummary reduces each message to its role, content shape,
// and text length.
func anthropicMessagesSummary(messages []any) []map[string]any {
	summary := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role := asString(msg, "role")
		switch content := msg["content"].(type) {
		case string:
			summary = append(summary, map[string]any{"role": role, "type": "text", "length": len(content)})
		case []any:
			var blockTypes []string
			totalLen := 0
			for _, b := range content {
				block, ok := b.(map[string]any)
				if !ok {
					continue
				}
				blockType := asString(block, "type")
				if blockType == "" {
					blockType = "text"
				}
				blockTypes = append(blockTypes, blockType)
				switch blockType {
				case "text":
					totalLen += len(asString(block, "text"))
				case "tool_result":
					for _, sub := range asList(block, "content") {
						if subBlock, ok := sub.(map[string]any); ok && asString(subBlock, "type") == "text" {
							totalLen += len(asString(subBlock, "text"))
						}
					}
				}
			}
			summary = append(summary, map[string]any{"role": role, "block_types": blockTypes, "length": totalLen})
		}
	}
	return summary
}

// anthropicMessageChars counts content characters for the token estimate.
func anthropicMessageChars(messages []any) int {
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
			for _, b := range content {
				block, ok := b.(map[string]any)
				if !ok {
					continue
				}
				chars += len(asString(block, "text"))
				if asString(block, "type") == "tool_result" {
					for _, sub := range asList(block, "content") {
						if subBlock, ok := sub.(map[string]any); ok {
							chars += len(asString(subBlock, "text"))
						}
					}
				}
			}
		}
	}
	return chars
}
