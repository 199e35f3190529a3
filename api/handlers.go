package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/storage"
)

// ErrorResponse is the JSON body for non-2xx replies.
type ErrorResponse struct {
	Error string `json:"error"`
}

// listFilterParams are the query parameters forwarded as store filters.
// The store applies its own allowlist on top.
var listFilterParams = []string{
	"agent_type", "host", "method", "protocol_type",
	"status_code", "is_streaming", "session_id", "api_provider", "search",
}

func (s *Server) handleListRequests(c *fiber.Ctx) error {
	filters := make(map[string]any)
	for _, param := range listFilterParams {
		value := c.Query(param)
		if value == "" {
			continue
		}
		if param == "status_code" {
			if code, err := strconv.Atoi(value); err == nil {
				filters[param] = code
			}
			continue
		}
		filters[param] = value
	}

	summaries, err := s.store.ListRequests(c.Context(), storage.ListOptions{
		Filters: filters,
		OrderBy: c.Query("order_by"),
		Limit:   c.QueryInt("limit"),
		Offset:  c.QueryInt("offset"),
	})
	if err != nil {
		s.logger.Error("list requests", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list requests"})
	}
	return c.JSON(summaries)
}

func (s *Server) handleGetRequest(c *fiber.Ctx) error {
	record, err := s.store.GetRequest(c.Context(), c.Params("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "request not found"})
	}
	if err != nil {
		s.logger.Error("get request", zap.String("id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get request"})
	}
	return c.JSON(record)
}

func (s *Server) handleGetSSEEvents(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := s.store.GetRequest(c.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "request not found"})
		}
		s.logger.Error("get request", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get request"})
	}

	events, err := s.store.GetSSEEvents(c.Context(), id)
	if err != nil {
		s.logger.Error("get sse events", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get events"})
	}
	return c.JSON(events)
}

func (s *Server) handleClearRequests(c *fiber.Ctx) error {
	if err := s.store.ClearAll(c.Context()); err != nil {
		s.logger.Error("clear requests", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to clear requests"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.store.Stats(c.Context())
	if err != nil {
		s.logger.Error("stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to compute stats"})
	}
	return c.JSON(stats)
}
