// Package geminitelemetry defines the event contract emitted by the
// request and streaming transports. It intentionally stops at the
// contract: sink implementations (metrics backends, tracing exporters,
// log shippers) are external collaborators. promsink contains one
// optional reference sink.
package geminitelemetry

import "time"

// Event names of the telemetry contract. The request.* and stream.* events
// are emitted by the transports when telemetry is enabled; ModelsOperation
// and TokensOperation are defined but not emitted by any package in this
// module.
const (
	RequestStart     = "request.start"
	RequestStop      = "request.stop"
	RequestException = "request.exception"

	StreamStart     = "stream.start"
	StreamChunk     = "stream.chunk"
	StreamStop      = "stream.stop"
	StreamException = "stream.exception"

	ModelsOperation = "models.operation"
	TokensOperation = "tokens.operation"
)

// Fields is the free-form metadata/measurement payload attached to an
// event. Which keys are present depends on the event name; see the
// constants above and their doc comments at the call sites.
type Fields map[string]any

// Emitter receives telemetry events. Implementations must be safe for
// concurrent use: events arrive from every in-flight request and stream
// worker. A nil Emitter is never passed to callers — use Noop{} instead.
type Emitter interface {
	Emit(name string, fields Fields)
}

// Noop discards every event. It is the default when telemetry is disabled.
type Noop struct{}

func (Noop) Emit(string, Fields) {}

// Func adapts a plain function to the Emitter interface.
type Func func(name string, fields Fields)

func (f Func) Emit(name string, fields Fields) { f(name, fields) }

// Span emits a start/stop (or start/exception) pair around fn and reports
// its wall-clock duration, the way M2/M3 are specified to instrument a
// single attempt: exactly one start and exactly one stop-or-exception.
func Span(e Emitter, startEvent, stopEvent, exceptionEvent string, startFields Fields, fn func() (Fields, error)) error {
	if e == nil {
		e = Noop{}
	}

	begin := time.Now()
	e.Emit(startEvent, startFields)

	resultFields, err := fn()
	durationMs := time.Since(begin).Milliseconds()

	if resultFields == nil {
		resultFields = Fields{}
	}
	resultFields["duration_ms"] = durationMs

	if err != nil {
		e.Emit(exceptionEvent, resultFields)
		return err
	}

	e.Emit(stopEvent, resultFields)
	return nil
}
