package api

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/pkg/capture"
	"github.com/agentprobe/agentprobe/pkg/storage"
)

const harExportLimit = 10000

type harNameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type harPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type harRequest struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []harNameValue `json:"headers"`
	QueryString []harNameValue `json:"queryString"`
	BodySize    int            `json:"bodySize"`
	PostData    *harPostData   `json:"postData,omitempty"`
}

type harContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type harResponse struct {
	Status      int            `json:"status"`
	StatusText  string         `json:"statusText"`
	HTTPVersion string         `json:"httpVersion"`
	Headers     []harNameValue `json:"headers"`
	Content     harContent     `json:"content"`
	BodySize    int            `json:"bodySize"`
}

type harTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

type harEntry struct {
	StartedDateTime time.Time      `json:"startedDateTime"`
	Time            float64        `json:"time"`
	Request         harRequest     `json:"request"`
	Response        harResponse    `json:"response"`
	Cache           map[string]any `json:"cache"`
	Timings         harTimings     `json:"timings"`
}

type harLog struct {
	Version string     `json:"version"`
	Creator harCreator `json:"creator"`
	Entries []harEntry `json:"entries"`
}

type harCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handleExportHAR renders every captured request as an HAR 1.2 entry. The
// proxy does not separate send/receive phases, so the whole duration lands
// in the wait timing.
func (s *Server) handleExportHAR(c *fiber.Ctx) error {
	summaries, err := s.store.ListRequests(c.Context(), storage.ListOptions{Limit: harExportLimit})
	if err != nil {
		s.logger.Error("export har", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list requests"})
	}

	entries := make([]harEntry, 0, len(summaries))
	for _, summary := range summaries {
		record, err := s.store.GetRequest(c.Context(), summary.ID)
		if err != nil {
			continue
		}
		entries = append(entries, harEntryFromRecord(record))
	}

	return c.JSON(fiber.Map{
		"log": harLog{
			Version: "1.2",
			Creator: harCreator{Name: "AgentProbe", Version: "0.1.0"},
			Entries: entries,
		},
	})
}

func harEntryFromRecord(record *capture.Request) harEntry {
	duration := 0.0
	if record.DurationMS != nil {
		duration = *record.DurationMS
	}
	status := 0
	if record.StatusCode != nil {
		status = *record.StatusCode
	}

	entry := harEntry{
		StartedDateTime: record.Timestamp,
		Time:            duration,
		Request: harRequest{
			Method:      record.Method,
			URL:         record.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     harHeaders(record.RequestHeaders),
			QueryString: []harNameValue{},
			BodySize:    len(record.RequestBody),
		},
		Response: harResponse{
			Status:      status,
			HTTPVersion: "HTTP/1.1",
			Headers:     harHeaders(record.ResponseHeaders),
			Content: harContent{
				Size:     len(record.ResponseBody),
				MimeType: record.ResponseHeaders["content-type"],
				Text:     record.ResponseBody,
			},
			BodySize: len(record.ResponseBody),
		},
		Cache:   map[string]any{},
		Timings: harTimings{Wait: duration},
	}

	if record.RequestBody != "" {
		entry.Request.PostData = &harPostData{
			MimeType: record.RequestHeaders["content-type"],
			Text:     record.RequestBody,
		}
	}
	return entry
}

func harHeaders(headers map[string]string) []harNameValue {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]harNameValue, 0, len(names))
	for _, name := range names {
		out = append(out, harNameValue{Name: name, Value: headers[name]})
	}
	return out
}

// handleExportCurl renders one captured request as a shell-safe curl
// command.
func (s *Server) handleExportCurl(c *fiber.Ctx) error {
	record, err := s.store.GetRequest(c.Context(), c.Params("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "request not found"})
	}
	if err != nil {
		s.logger.Error("export curl", zap.String("id", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get request"})
	}

	parts := []string{"curl", "-X", record.Method, shellQuote(record.URL)}
	for _, name := range sortedKeys(record.RequestHeaders) {
		parts = append(parts, "-H", shellQuote(name+": "+record.RequestHeaders[name]))
	}
	if record.RequestBody != "" {
		parts = append(parts, "--data-raw", shellQuote(record.RequestBody))
	}

	return c.JSON(fiber.Map{"curl": strings.Join(parts, " ")})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// shellQuote wraps s in single quotes, escaping embedded single quotes the
// POSIX way.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
