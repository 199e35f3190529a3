// Package sqlite implements storage.Store on an embedded SQLite database
// using the github.com/mattn/go-sqlite3 driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentprobe/agentprobe/pkg/capture"
	"github.com/agentprobe/agentprobe/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	sequence INTEGER NOT NULL UNIQUE,
	timestamp TEXT NOT NULL,
	agent_type TEXT NOT NULL DEFAULT 'unknown',
	source_pid INTEGER,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	host TEXT NOT NULL,
	path TEXT NOT NULL,
	request_headers TEXT NOT NULL DEFAULT '{}',
	request_body TEXT NOT NULL DEFAULT '',
	request_size INTEGER NOT NULL DEFAULT 0,
	status_code INTEGER,
	response_headers TEXT,
	response_body TEXT NOT NULL DEFAULT '',
	response_size INTEGER NOT NULL DEFAULT 0,
	sse_events TEXT,
	duration_ms REAL,
	ttfb_ms REAL,
	protocol_type TEXT NOT NULL DEFAULT 'http',
	api_provider TEXT,
	session_id TEXT,
	conversation_id TEXT,
	is_streaming INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sse_events (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	event_index INTEGER NOT NULL,
	event_type TEXT NOT NULL DEFAULT 'message',
	data TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
CREATE INDEX IF NOT EXISTS idx_requests_host ON requests(host);
CREATE INDEX IF NOT EXISTS idx_requests_agent_type ON requests(agent_type);
CREATE INDEX IF NOT EXISTS idx_sse_events_request_id ON sse_events(request_id, event_index);
`

// filterColumns is the allowlist of equality filters accepted by
// ListRequests. Anything else in the filter map is ignored.
var filterColumns = map[string]bool{
	"agent_type":      true,
	"host":            true,
	"method":          true,
	"status_code":     true,
	"protocol_type":   true,
	"api_provider":    true,
	"session_id":      true,
	"conversation_id": true,
	"is_streaming":    true,
}

// orderColumns is the allowlist for the ORDER BY clause.
var orderColumns = map[string]bool{
	"sequence":      true,
	"timestamp":     true,
	"duration_ms":   true,
	"response_size": true,
	"status_code":   true,
	"host":          true,
	"agent_type":    true,
}

// updatableColumns restricts partial updates to the response half and the
// classification columns. The request half is immutable after insert.
var updatableColumns = map[string]bool{
	"status_code":      true,
	"response_headers": true,
	"response_body":    true,
	"response_size":    true,
	"sse_events":       true,
	"duration_ms":      true,
	"ttfb_ms":          true,
	"protocol_type":    true,
	"api_provider":     true,
	"session_id":       true,
	"conversation_id":  true,
	"is_streaming":     true,
	"agent_type":       true,
}

// Store implements storage.Store on SQLite. database/sql serializes access,
// and WAL keeps readers from blocking the single writer.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for an ephemeral database in tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRequest inserts the full record. Headers and inline events are stored
// as JSON text; times are stored as RFC 3339 strings in UTC.
func (s *Store) SaveRequest(ctx context.Context, req *capture.Request) error {
	requestHeaders, err := marshalHeaders(req.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	responseHeaders, err := marshalNullableHeaders(req.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}
	sseEvents, err := marshalEvents(req.SSEEvents)
	if err != nil {
		return fmt.Errorf("marshal sse events: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (
			id, sequence, timestamp, agent_type, source_pid,
			method, url, host, path,
			request_headers, request_body, request_size,
			status_code, response_headers, response_body, response_size,
			sse_events, duration_ms, ttfb_ms,
			protocol_type, api_provider, session_id, conversation_id, is_streaming
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Sequence, formatTime(req.Timestamp), req.AgentType, nullableInt(req.SourcePID),
		req.Method, req.URL, req.Host, req.Path,
		requestHeaders, req.RequestBody, req.RequestSize,
		nullableInt(req.StatusCode), responseHeaders, req.ResponseBody, req.ResponseSize,
		sseEvents, nullableFloat(req.DurationMS), nullableFloat(req.TTFBMS),
		req.ProtocolType, nullableString(req.APIProvider), nullableString(req.SessionID),
		nullableString(req.ConversationID), boolToInt(req.IsStreaming),
	)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", req.ID, err)
	}
	return nil
}

// UpdateRequest applies fields to the record's updatable columns. Keys
// outside the allowlist are dropped. Map and slice values are serialized to
// JSON; bools become integers.
func (s *Store) UpdateRequest(ctx context.Context, requestID string, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if updatableColumns[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	setClauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		value, err := toColumnValue(fields[k])
		if err != nil {
			return fmt.Errorf("serialize field %s: %w", k, err)
		}
		setClauses = append(setClauses, k+" = ?")
		args = append(args, value)
	}
	args = append(args, requestID)

	result, err := s.db.ExecContext(ctx,
		"UPDATE requests SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update request %s: %w", requestID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request %s: %w", requestID, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveSSEEvents inserts all events in one transaction.
func (s *Store) SaveSSEEvents(ctx context.Context, events []capture.SSEEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sse_events (id, request_id, event_index, event_type, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.RequestID, ev.EventIndex,
			ev.EventType, ev.Data, formatTime(ev.Timestamp)); err != nil {
			return fmt.Errorf("insert event %d for %s: %w", ev.EventIndex, ev.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

const requestColumns = `id, sequence, timestamp, agent_type, source_pid,
	method, url, host, path,
	request_headers, request_body, request_size,
	status_code, response_headers, response_body, response_size,
	sse_events, duration_ms, ttfb_ms,
	protocol_type, api_provider, session_id, conversation_id, is_streaming`

// GetRequest returns the full record for requestID, or storage.ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*capture.Request, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests WHERE id = ?", requestID)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	return req, nil
}

// ListRequests returns summaries matching opts, newest first by default.
func (s *Store) ListRequests(ctx context.Context, opts storage.ListOptions) ([]capture.Summary, error) {
	where, args := buildWhere(opts.Filters)

	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	args = append(args, limit, opts.Offset)

	query := `SELECT id, sequence, timestamp, method, host, path, status_code,
		agent_type, protocol_type, duration_ms, response_size, is_streaming
		FROM requests` + where + " ORDER BY " + buildOrderBy(opts.OrderBy) + " LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	summaries := []capture.Summary{}
	for rows.Next() {
		var (
			sum        capture.Summary
			ts         string
			statusCode sql.NullInt64
			durationMS sql.NullFloat64
			streaming  int
		)
		if err := rows.Scan(&sum.ID, &sum.Sequence, &ts, &sum.Method, &sum.Host, &sum.Path,
			&statusCode, &sum.AgentType, &sum.ProtocolType, &durationMS,
			&sum.ResponseSize, &streaming); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Timestamp = parseTime(ts)
		if statusCode.Valid {
			code := int(statusCode.Int64)
			sum.StatusCode = &code
		}
		if durationMS.Valid {
			d := durationMS.Float64
			sum.DurationMS = &d
		}
		sum.IsStreaming = streaming != 0
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// GetSSEEvents returns the record's events ordered by event_index.
func (s *Store) GetSSEEvents(ctx context.Context, requestID string) ([]capture.SSEEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, event_index, event_type, data, timestamp
		FROM sse_events WHERE request_id = ? ORDER BY event_index`, requestID)
	if err != nil {
		return nil, fmt.Errorf("get events for %s: %w", requestID, err)
	}
	defer rows.Close()

	events := []capture.SSEEvent{}
	for rows.Next() {
		var (
			ev capture.SSEEvent
			ts string
		)
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.EventIndex, &ev.EventType, &ev.Data, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = parseTime(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ClearAll deletes every event, then every request, in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sse_events"); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM requests"); err != nil {
		return fmt.Errorf("clear requests: %w", err)
	}
	return tx.Commit()
}

// Stats aggregates over the requests table.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(DISTINCT host),
			COUNT(DISTINCT agent_type),
			COALESCE(SUM(request_size), 0),
			COALESCE(SUM(response_size), 0),
			AVG(duration_ms),
			COALESCE(SUM(is_streaming), 0)
		FROM requests`)

	var (
		stats storage.Stats
		avg   sql.NullFloat64
	)
	if err := row.Scan(&stats.TotalRequests, &stats.UniqueHosts, &stats.UniqueAgents,
		&stats.TotalRequestBytes, &stats.TotalResponseBytes, &avg, &stats.StreamingCount); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = &avg.Float64
	}
	return &stats, nil
}

// buildWhere renders the allowlisted filters as a WHERE clause. The "search"
// key substring-matches url, host, and path; is_streaming accepts truthy
// strings and bools.
func buildWhere(filters map[string]any) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any
	for _, k := range keys {
		value := filters[k]
		switch {
		case k == "search":
			pattern := "%" + fmt.Sprintf("%v", value) + "%"
			clauses = append(clauses, "(url LIKE ? OR host LIKE ? OR path LIKE ?)")
			args = append(args, pattern, pattern, pattern)
		case k == "is_streaming":
			clauses = append(clauses, "is_streaming = ?")
			args = append(args, boolToInt(truthy(value)))
		case filterColumns[k]:
			clauses = append(clauses, k+" = ?")
			args = append(args, value)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// buildOrderBy validates "column [ASC|DESC]" against the allowlist, falling
// back to the insertion order, newest first.
func buildOrderBy(orderBy string) string {
	column, direction, _ := strings.Cut(strings.TrimSpace(orderBy), " ")
	if !orderColumns[column] {
		return "sequence DESC"
	}
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "ASC":
		return column + " ASC"
	default:
		return column + " DESC"
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*capture.Request, error) {
	var (
		req             capture.Request
		ts              string
		sourcePID       sql.NullInt64
		requestHeaders  string
		statusCode      sql.NullInt64
		responseHeaders sql.NullString
		sseEvents       sql.NullString
		durationMS      sql.NullFloat64
		ttfbMS          sql.NullFloat64
		apiProvider     sql.NullString
		sessionID       sql.NullString
		conversationID  sql.NullString
		streaming       int
	)

	err := row.Scan(&req.ID, &req.Sequence, &ts, &req.AgentType, &sourcePID,
		&req.Method, &req.URL, &req.Host, &req.Path,
		&requestHeaders, &req.RequestBody, &req.RequestSize,
		&statusCode, &responseHeaders, &req.ResponseBody, &req.ResponseSize,
		&sseEvents, &durationMS, &ttfbMS,
		&req.ProtocolType, &apiProvider, &sessionID, &conversationID, &streaming)
	if err != nil {
		return nil, err
	}

	req.Timestamp = parseTime(ts)
	if sourcePID.Valid {
		pid := int(sourcePID.Int64)
		req.SourcePID = &pid
	}
	if err := json.Unmarshal([]byte(requestHeaders), &req.RequestHeaders); err != nil {
		return nil, fmt.Errorf("decode request headers: %w", err)
	}
	if statusCode.Valid {
		code := int(statusCode.Int64)
		req.StatusCode = &code
	}
	if responseHeaders.Valid {
		if err := json.Unmarshal([]byte(responseHeaders.String), &req.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("decode response headers: %w", err)
		}
	}
	if sseEvents.Valid {
		if err := json.Unmarshal([]byte(sseEvents.String), &req.SSEEvents); err != nil {
			return nil, fmt.Errorf("decode sse events: %w", err)
		}
	}
	if durationMS.Valid {
		req.DurationMS = &durationMS.Float64
	}
	if ttfbMS.Valid {
		req.TTFBMS = &ttfbMS.Float64
	}
	if apiProvider.Valid {
		req.APIProvider = &apiProvider.String
	}
	if sessionID.Valid {
		req.SessionID = &sessionID.String
	}
	if conversationID.Valid {
		req.ConversationID = &conversationID.String
	}
	req.IsStreaming = streaming != 0
	return &req, nil
}

// toColumnValue converts an update value into a driver-storable one.
func toColumnValue(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return boolToInt(value), nil
	case time.Time:
		return formatTime(value), nil
	case map[string]string, map[string]any, []capture.RawEvent, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	case *int:
		return nullableInt(value), nil
	case *float64:
		return nullableFloat(value), nil
	case *string:
		return nullableString(value), nil
	default:
		return value, nil
	}
}

func marshalHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(headers)
	return string(encoded), err
}

func marshalNullableHeaders(headers map[string]string) (any, error) {
	if headers == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func marshalEvents(events []capture.RawEvent) (any, error) {
	if events == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// truthy interprets filter values arriving as query strings or JSON types.
func truthy(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		switch strings.ToLower(value) {
		case "1", "true", "yes":
			return true
		}
		return false
	case int:
		return value != 0
	case float64:
		return value != 0
	}
	return false
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
