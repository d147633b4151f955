package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_SingleChunk(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte("data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, `{"b":2}`, events[1].Data)
	assert.Empty(t, p.Carry())
}

func TestFeed_ByteAtATime(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"
	p := &Parser{}

	var events []Event
	for i := 0; i < len(input); i++ {
		events = append(events, p.Feed([]byte{input[i]})...)
	}

	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, `{"b":2}`, events[1].Data)
	assert.Empty(t, p.Carry())
}

func TestFeed_AllChunkSplittings(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: {\"c\":3}\n\n"

	baseline := (&Parser{}).Feed([]byte(input))
	require.Len(t, baseline, 3)

	// Every split point into two chunks must reassemble to the same events.
	for split := 0; split <= len(input); split++ {
		p := &Parser{}
		var events []Event
		events = append(events, p.Feed([]byte(input[:split]))...)
		events = append(events, p.Feed([]byte(input[split:]))...)

		require.Lenf(t, events, 3, "split at %d", split)
		for i, ev := range events {
			assert.Equalf(t, baseline[i].Data, ev.Data, "split at %d, event %d", split, i)
		}
		assert.Emptyf(t, p.Carry(), "split at %d", split)
	}
}

func TestFeed_EmptyBytesNoOp(t *testing.T) {
	p := &Parser{}
	p.Feed([]byte("data: partial"))
	events := p.Feed(nil)
	assert.Empty(t, events)
	assert.Equal(t, "data: partial", string(p.Carry()))

	events = p.Feed([]byte{})
	assert.Empty(t, events)
	assert.Equal(t, "data: partial", string(p.Carry()))
}

func TestFeed_MixedLineEndings(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte("data: lf\n\ndata: crlf\r\n\r\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "lf", events[0].Data)
	assert.Equal(t, "crlf", events[1].Data)
}

func TestFeed_ZeroLengthEventSkipped(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte("\n\n\n\ndata: x\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Data)
}

func TestFeed_MultipleDataLinesConcatenated(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte("data: line1\ndata: line2\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "line1\nline2", events[0].Data)
}

func TestFeed_CommentLinesIgnored(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte(": keep-alive\ndata: x\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Data)
}

func TestFeed_DonesentinelPassedThrough(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte("data: [DONE]\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "[DONE]", events[0].Data)
}

func TestFeed_EventAtChunkBoundary(t *testing.T) {
	p := &Parser{}
	var events []Event
	events = append(events, p.Feed([]byte("data: {\"a\":1}\n"))...)
	events = append(events, p.Feed([]byte("\n"))...)
	require.Len(t, events, 1)
	assert.Equal(t, `{"a":1}`, events[0].Data)
}

func TestFeed_ChunkWithTwoCompleteEvents(t *testing.T) {
	p := &Parser{}
	events := p.Feed([]byte("data: a\n\ndata: b\n\n"))
	require.Len(t, events, 2)
}

// TestFeed_CarryInvariant feeds an event stream in uneven chunks and checks
// that the bytes left in the carry are a suffix of everything fed and hold
// no complete event terminator.
func TestFeed_CarryInvariant(t *testing.T) {
	p := &Parser{}
	chunks := []string{"da", "ta: {\"x\"", ":1}\n", "\nda", "ta: {\"y\":2}", "\n\n", "data: partial"}

	var allFed strings.Builder
	for _, c := range chunks {
		allFed.WriteString(c)
		p.Feed([]byte(c))
	}

	// Whatever remains in carry must be a suffix of everything fed, and it
	// must never itself contain a complete terminator.
	assert.True(t, strings.HasSuffix(allFed.String(), string(p.Carry())))
	assert.False(t, terminator.Match(p.Carry()))
}
