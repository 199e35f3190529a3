package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/capture"
	"github.com/agentprobe/agentprobe/pkg/classify"
	"github.com/agentprobe/agentprobe/pkg/parse"
	"github.com/agentprobe/agentprobe/pkg/storage"
)

// parsedView is the semantic summary of one captured exchange, produced by
// the per-protocol parsers. Unknown protocols yield only the protocol name.
type parsedView struct {
	Protocol string          `json:"protocol"`
	Request  parse.Summary   `json:"request,omitempty"`
	Response parse.Summary   `json:"response,omitempty"`
	Events   []parse.Summary `json:"events,omitempty"`
}

func (s *Server) handleGetParsed(c *fiber.Ctx) error {
	id := c.Params("id")
	record, err := s.store.GetRequest(c.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "request not found"})
	}
	if err != nil {
		s.logger.Error("get request", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get request"})
	}
	return c.JSON(parseRecord(record))
}

// parseRecord routes a captured record through the parser matching its
// protocol. Streaming responses are summarized event by event; buffered
// responses as a whole.
func parseRecord(r *capture.Request) parsedView {
	view := parsedView{Protocol: r.ProtocolType}
	requestBody := decodeJSONObject(r.RequestBody)
	responseBody := decodeJSONObject(r.ResponseBody)

	switch r.ProtocolType {
	case classify.ProtocolAnthropic:
		if requestBody != nil {
			view.Request = parse.AnthropicRequest(requestBody)
		}
		if r.IsStreaming {
			for _, ev := range r.SSEEvents {
				view.Events = append(view.Events, parse.AnthropicSSEEvent(ev.Event, decodeJSONObject(ev.Data)))
			}
		} else if responseBody != nil {
			view.Response = parse.AnthropicResponse(responseBody)
		}

	case classify.ProtocolOpenAI:
		if requestBody != nil {
			view.Request = parse.OpenAIRequest(requestBody)
		}
		if r.IsStreaming {
			for _, ev := range r.SSEEvents {
				if ev.Data == "[DONE]" {
					continue
				}
				view.Events = append(view.Events, parse.OpenAISSEEvent(decodeJSONObject(ev.Data)))
			}
		} else if responseBody != nil {
			view.Response = parse.OpenAIResponse(responseBody)
		}

	case classify.ProtocolGoogle:
		if requestBody != nil {
			view.Request = parse.GoogleRequest(requestBody)
		}
		if r.IsStreaming {
			for _, ev := range r.SSEEvents {
				view.Events = append(view.Events, parse.GoogleSSEEvent(decodeJSONObject(ev.Data)))
			}
		} else if responseBody != nil {
			view.Response = parse.GoogleResponse(responseBody)
		}

	case classify.ProtocolMCP:
		if requestBody != nil {
			view.Request = parse.MCPMessage(requestBody)
		}
		if responseBody != nil {
			view.Response = parse.MCPMessage(responseBody)
		}
	}

	return view
}

func decodeJSONObject(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
