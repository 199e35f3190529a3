package sse

import "strings"

// Parser is a stateful, single-stream SSE decoder. Chunks are fed in arrival
// order via Feed; each call returns the events completed by that chunk.
// Flush yields any residue after the stream ends.
//
// ┌──────────────────┐
// │  response chunk  │
// └──────────────────┘
// │
// ▼
// ┌──────────────────┐
// │   Parser.Feed    │──▶ []Event
// └──────────────────┘
//
// A Parser is not safe for concurrent use; the proxy attaches one Parser per
// flow, and all chunks for a flow arrive on that flow's callback goroutine.
type Parser struct {
	buffer string
}

// NewParser returns a Parser ready to accept the first chunk of a stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk to the internal buffer and returns all events
// completed by it. Chunks may split events, lines, or even UTF-8 sequences at
// arbitrary byte boundaries; invalid UTF-8 is replaced, never rejected.
// An empty chunk is a no-op.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}

	p.buffer += strings.ToValidUTF8(string(chunk), "�")

	var events []Event
	for {
		block, rest, ok := strings.Cut(p.buffer, "\n\n")
		if !ok {
			break
		}
		p.buffer = rest
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}

	return events
}

// Flush parses whatever remains in the buffer as a final event. Streams that
// end without a trailing blank line still yield their last event this way.
// The buffer is cleared either way.
func (p *Parser) Flush() []Event {
	block := p.buffer
	p.buffer = ""

	if strings.TrimSpace(block) == "" {
		return nil
	}
	if ev, ok := parseBlock(block); ok {
		return []Event{ev}
	}
	return nil
}

// Reset discards buffered bytes so the Parser can be reused for a new stream.
func (p *Parser) Reset() {
	p.buffer = ""
}

// parseBlock parses one blank-line-delimited block. The second return is
// false when the block contained no recognized field (e.g. only comments),
// in which case no event is emitted.
//
// Per the SSE spec, a line has the form "field:value" where the first space
// after the colon is optional and stripped if present. A line with no colon
// is a field name with an empty value.
func parseBlock(block string) (Event, bool) {
	var ev Event
	var dataLines []string
	seen := false

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		var field, value string
		if before, after, ok := strings.Cut(line, ":"); ok {
			field = before
			value = strings.TrimPrefix(after, " ")
		} else {
			field = line
		}

		switch strings.TrimSpace(field) {
		case "data":
			dataLines = append(dataLines, value)
			seen = true
		case "event":
			ev.Type = value
			seen = true
		case "id":
			ev.ID = value
			seen = true
		case "retry":
			ev.Retry = value
			seen = true
		default:
			// Unknown fields are ignored per the SSE spec.
		}
	}

	if !seen {
		return Event{}, false
	}

	ev.Data = strings.Join(dataLines, "\n")
	return ev, true
}
