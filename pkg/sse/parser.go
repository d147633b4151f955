// Package sse implements an incremental parser for the server-sent-events
// wire format used by the Gemini streaming endpoints.
//
// The parser is a pure value type: Feed appends bytes to an internal carry
// buffer, splits off every complete event it can find, and leaves any
// trailing partial event in the carry for the next call. It never blocks
// and never looks past the bytes it has been given.
package sse

import (
	"regexp"
	"strings"
)

// terminator matches the blank line separating two SSE events, tolerating
// LF and CRLF line endings independently on each side of the separator.
var terminator = regexp.MustCompile(`\r?\n\r?\n`)

// Event is one parsed SSE event. Data is the concatenation of every
// "data:" line in the event, joined with "\n". Fields holds every other
// named field ("event:", "id:", "retry:", ...) verbatim, in case a caller
// needs them; only Data is interpreted above this layer.
type Event struct {
	Data   string
	Fields map[string][]string
}

// Parser turns a byte stream into a sequence of Events. The zero value is
// ready to use.
type Parser struct {
	carry []byte
}

// Carry returns the parser's current unterminated trailing bytes. Exposed
// for tests asserting the carry invariant; callers driving a stream never
// need it.
func (p *Parser) Carry() []byte {
	return p.carry
}

// Feed appends chunk to the carry buffer and returns every complete event
// found. Feeding nil or an empty slice is a no-op that returns no events
// and leaves the carry untouched. The parser is restartable: a Parser{}
// fed the concatenation of every previously-fed chunk in order yields the
// same events as feeding each chunk individually, in order.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}

	p.carry = append(p.carry, chunk...)

	var events []Event
	for {
		loc := terminator.FindIndex(p.carry)
		if loc == nil {
			break
		}

		block := p.carry[:loc[0]]
		p.carry = p.carry[loc[1]:]

		if ev, ok := parseEvent(block); ok {
			events = append(events, ev)
		}
	}

	return events
}

// parseEvent parses one event block (everything before the blank-line
// terminator) into an Event. A block containing no data lines and no
// other fields (e.g. the empty block between two consecutive blank lines)
// is skipped.
func parseEvent(block []byte) (Event, bool) {
	if len(block) == 0 {
		return Event{}, false
	}

	lines := splitLines(block)

	var dataLines []string
	fields := make(map[string][]string)

	for _, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment line
		}

		field, value := splitField(line)
		if field == "data" {
			dataLines = append(dataLines, value)
			continue
		}
		fields[field] = append(fields[field], value)
	}

	if len(dataLines) == 0 && len(fields) == 0 {
		return Event{}, false
	}

	return Event{
		Data:   strings.Join(dataLines, "\n"),
		Fields: fields,
	}, true
}

// splitLines splits block on any CRLF or LF line ending.
func splitLines(block []byte) []string {
	normalized := strings.ReplaceAll(string(block), "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.Split(normalized, "\n")
}

// splitField splits a "field: value" line. A single leading space after
// the colon is stripped, per the SSE spec; a field with no colon at all
// is treated as a field name with an empty value.
func splitField(line string) (field, value string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	field = line[:i]
	value = line[i+1:]
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}
	return field, value
}
