package geminitelemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpan_EmitsStartAndStopOnSuccess(t *testing.T) {
	var events []string
	e := Func(func(name string, fields Fields) { events = append(events, name) })

	err := Span(e, "request.start", "request.stop", "request.exception", Fields{"url": "u"}, func() (Fields, error) {
		return Fields{"status": 200}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"request.start", "request.stop"}, events)
}

func TestSpan_EmitsStartAndExceptionOnFailure(t *testing.T) {
	var events []string
	e := Func(func(name string, fields Fields) { events = append(events, name) })

	boom := errors.New("boom")
	err := Span(e, "request.start", "request.stop", "request.exception", Fields{}, func() (Fields, error) {
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"request.start", "request.exception"}, events)
}

func TestSpan_NilEmitterIsSafe(t *testing.T) {
	err := Span(nil, "a", "b", "c", Fields{}, func() (Fields, error) { return Fields{}, nil })
	assert.NoError(t, err)
}

func TestNoop_DiscardsEvents(t *testing.T) {
	assert.NotPanics(t, func() { Noop{}.Emit("anything", Fields{"k": "v"}) })
}
