package parse

import "strings"

// GoogleRequest summarizes a Gemini generateContent request body.
func GoogleRequest(body map[string]any) Summary {
	contents := asList(body, "contents")
	genConfig := asMap(body, "generationConfig")
	systemText := googlePartsText(asList(asMap(body, "systemInstruction"), "parts"))
	toolDecls := googleToolDeclarations(asList(body, "tools"))

	toolNames := make([]string, 0, len(toolDecls))
	for _, d := range toolDecls {
		toolNames = append(toolNames, asString(d, "name"))
	}

	return Summary{
		"model":                 asString(body, "model"),
		"contents_count":        len(contents),
		"contents_summary":      googleContentsSummary(contents),
		"system_length":         len(systemText),
		"max_output_tokens":     asInt(genConfig, "maxOutputTokens"),
		"temperature":           genConfig["temperature"],
		"top_p":                 genConfig["topP"],
		"top_k":                 genConfig["topK"],
		"stop_sequences":        asList(genConfig, "stopSequences"),
		"tool_names":            toolNames,
		"tool_count":            len(toolDecls),
		"has_tool_use":          len(toolDecls) > 0,
		"safety_settings":       asList(body, "safetySettings"),
		"input_tokens_estimate": estimateTokens(googleContentChars(contents) + len(systemText)),
	}
}

// GoogleResponse summarizes a non-streaming generateContent response.
func GoogleResponse(body map[string]any) Summary {
	candidates := asList(body, "candidates")
	first := firstMap(candidates)
	parts := asList(asMap(first, "content"), "parts")

	textParts, functionCalls := googleParts(parts)
	textLength := 0
	for _, t := range textParts {
		textLength += len(t)
	}

	usage := asMap(body, "usageMetadata")

	return Summary{
		"text":                   strings.Join(textParts, "\n"),
		"text_length":            textLength,
		"function_calls":         functionCalls,
		"function_call_count":    len(functionCalls),
		"finish_reason":          asString(first, "finishReason"),
		"safety_ratings":         asList(first, "safetyRatings"),
		"prompt_token_count":     asInt(usage, "promptTokenCount"),
		"candidates_token_count": asInt(usage, "candidatesTokenCount"),
		"total_token_count":      asInt(usage, "totalTokenCount"),
		"candidate_count":        len(candidates),
	}
}

// GoogleSSEEvent summarizes one streamGenerateContent chunk.
func GoogleSSEEvent(data map[string]any) Summary {
	if len(data) == 0 {
		return Summary{"event_type": "empty"}
	}

	first := firstMap(asList(data, "candidates"))
	parts := asList(asMap(first, "content"), "parts")

	result := Summary{"event_type": "generateContent.chunk"}

	textParts, functionCalls := googleParts(parts)
	if len(textParts) > 0 {
		joined := strings.Join(textParts, "")
		result["text"] = joined
		result["text_length"] = len(joined)
	}
	if len(functionCalls) > 0 {
		result["function_calls"] = functionCalls
	}

	if finishReason := asString(first, "finishReason"); finishReason != "" {
		result["finish_reason"] = finishReason
	}

	if usage := asMap(data, "usageMetadata"); usage != nil {
		result["prompt_token_count"] = asInt(usage, "promptTokenCount")
		result["candidates_token_count"] = asInt(usage, "candidatesTokenCount")
		result["total_token_count"] = asInt(usage, "totalTokenCount")
	}

	return result
}

// googleParts splits content parts into text fragments and function calls.
func googleParts(parts []any) ([]string, []map[string]any) {
	var textParts []string
	var functionCalls []map[string]any

	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			textParts = append(textParts, text)
		}
		if fc, ok := part["functionCall"].(map[string]any); ok {
			functionCalls = append(functionCalls, map[string]any{
				"name": asString(fc, "name"),
				"args": asMap(fc, "args"),
			})
		}
	}

	return textParts, functionCalls
}

func googlePartsText(parts []any) string {
	var texts []string
	for _, p := range parts {
		if part, ok := p.(map[string]any); ok {
			if text, ok := part["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	return strings.Join(texts, " ")
}

func googleToolDeclarations(tools []any) []map[string]any {
	var decls []map[string]any
	for _, t := range tools {
		group, ok := t.(map[string]any)
		if !ok {
			continue
		}
		for _, d := range asList(group, "functionDeclarations") {
			if decl, ok := d.(map[string]any); ok {
				decls = append(decls, map[string]any{
					"name":        asString(decl, "name"),
					"description": asString(decl, "description"),
				})
			}
		}
	}
	return decls
}

func googleContentsSummary(contents []any) []map[string]any {
	summary := make([]map[string]any, 0, len(contents))
	for _, c := range contents {
		content, ok := c.(map[string]any)
		if !ok {
			continue
		}
		var partTypes []string
		textLen := 0
		for _, p := range asList(content, "parts") {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			switch {
			case part["text"] != nil:
				partTypes = append(partTypes, "text")
				textLen += len(asString(part, "text"))
			case part["functionCall"] != nil:
				partTypes = append(partTypes, "functionCall")
			case part["functionResponse"] != nil:
				partTypes = append(partTypes, "functionResponse")
			case part["inlineData"] != nil:
				partTypes = append(partTypes, "inlineData")
			}
		}
		summary = append(summary, map[string]any{
			"role":        asString(content, "role"),
			"part_types":  partTypes,
			"text_length": textLen,
		})
	}
	return summary
}

func googleContentChars(contents []any) int {
	chars := 0
	for _, c := range contents {
		content, ok := c.(map[string]any)
		if !ok {
			continue
		}
		for _, p := range asList(content, "parts") {
			if part, ok := p.(map[string]any); ok {
				chars += len(asString(part, "text"))
			}
		}
	}
	return chars
}
