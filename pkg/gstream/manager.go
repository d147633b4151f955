// Package gstream owns long-lived SSE stream instances and fans their
// events out to subscribers. It is the streaming manager: a single-owner
// serial actor, in the shape of jobx's Client/workerLoop pair but
// redesigned around a command channel instead of a job queue, since every
// mutation here is a state transition on an in-memory stream table rather
// than a unit of work to dequeue.
package gstream

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rangen/geminigw/pkg/errx"
	"github.com/rangen/geminigw/pkg/gauth"
	"github.com/rangen/geminigw/pkg/gtransport"
	"github.com/rangen/geminigw/pkg/logx"
	"github.com/rangen/geminigw/pkg/sse"
)

// state is owned exclusively by the actor goroutine; nothing outside run()
// ever touches it directly.
type state struct {
	streams map[string]*streamRecord
}

// command is a unit of work submitted to the actor. fn mutates state and
// must not block — network I/O happens outside the actor, in worker
// goroutines that report back through further commands.
type command func(*state)

// Manager is the streaming manager (H1). It owns every stream instance;
// external callers hold only the opaque stream id.
type Manager struct {
	coordinator *gauth.Coordinator
	transport   *gtransport.SSETransport
	opts        Options

	cmds   chan command
	closed chan struct{}
}

// NewManager builds a Manager and starts its actor goroutine.
func NewManager(coordinator *gauth.Coordinator, transport *gtransport.SSETransport, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		coordinator: coordinator,
		transport:   transport,
		opts:        o,
		cmds:        make(chan command, o.CommandBuffer),
		closed:      make(chan struct{}),
	}
	go m.run()
	return m
}

// Close stops the actor. In-flight worker goroutines run to completion but
// their terminal reports are dropped once the actor has exited.
func (m *Manager) Close() {
	close(m.closed)
}

func (m *Manager) run() {
	s := &state{streams: make(map[string]*streamRecord)}
	for {
		select {
		case cmd := <-m.cmds:
			cmd(s)
		case <-m.closed:
			return
		}
	}
}

// do submits fn to the actor and blocks until it has run. Safe to call
// concurrently from any goroutine, including the manager's own stream
// workers.
func (m *Manager) do(fn func(*state)) {
	done := make(chan struct{})
	select {
	case m.cmds <- func(s *state) { fn(s); close(done) }:
	case <-m.closed:
		return
	}
	select {
	case <-done:
	case <-m.closed:
	}
}

// Open allocates a stream record, resolves an authorization via the
// credential coordinator, and spawns a worker running the SSE transport.
// It fails with a capacity error if open streams are already at cap, or
// with a propagated auth error from the coordinator.
func (m *Manager) Open(ctx context.Context, backend gauth.Backend, model string, body any) (string, *errx.Error) {
	auth, aerr := m.coordinator.Coordinate(ctx, backend, gauth.EndpointStreamGenerateContent, gauth.RequestOptions{Model: model}, true)
	if aerr != nil {
		return "", aerr
	}

	id := uuid.New().String()
	if err := m.reserve(id, backend.String(), model); err != nil {
		return "", err
	}

	cancel := m.cancelChan(id)
	go m.runWorker(id, auth, body, cancel)

	return id, nil
}

func (m *Manager) reserve(id, backend, model string) *errx.Error {
	var result *errx.Error
	m.do(func(s *state) {
		if len(s.streams) >= m.opts.MaxStreams {
			result = gstreamErrors.New(ErrCapacity).WithDetail("max_streams", m.opts.MaxStreams)
			return
		}
		s.streams[id] = &streamRecord{
			id:          id,
			backend:     backend,
			model:       model,
			status:      StateStarting,
			subscribers: make(map[string]*subscriberEntry),
			startedAt:   m.opts.now(),
			cancel:      make(chan struct{}),
		}
	})
	return result
}

func (m *Manager) cancelChan(id string) <-chan struct{} {
	var ch chan struct{}
	m.do(func(s *state) {
		if rec, ok := s.streams[id]; ok {
			ch = rec.cancel
		}
	})
	return ch
}

func (m *Manager) runWorker(id string, auth gauth.Authorization, body any, cancel <-chan struct{}) {
	req := gtransport.StreamRequest{
		URL:      auth.URL,
		Headers:  auth.Headers,
		Body:     body,
		StreamID: id,
	}

	// A fresh background context: the stream must outlive whatever caller
	// goroutine invoked Open. Cancellation runs through cancel instead.
	m.transport.Stream(context.Background(), req, cancel, gtransport.StreamCallbacks{
		OnEvent: func(ev sse.Event) { m.dispatchEvent(id, ev) },
		OnDone:  func() { m.dispatchTerminal(id, StateCompleted, nil) },
		OnError: func(e *errx.Error) {
			state := StateError
			if kind, ok := gtransport.KindOf(e); ok && kind == gtransport.KindCancelled {
				state = StateStopped
			}
			m.dispatchTerminal(id, state, e)
		},
	})
}

// dispatchEvent delivers one parsed event to every current subscriber, in
// parser order, and flips starting->active on the first one.
func (m *Manager) dispatchEvent(id string, ev sse.Event) {
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok {
			return
		}
		if rec.status == StateStarting {
			rec.status = StateActive
		}
		rec.eventsCount++
		rec.lastEventAt = m.opts.now()

		for _, sub := range rec.subscribers {
			sub.handlers.OnEvent(ev)
		}
	})
}

// dispatchTerminal fires the single terminal signal for every currently
// subscribed target, then schedules the record for sweep. A stream that is
// already terminal (e.g. Stop already delivered one) is left untouched, so
// the guarantee that every target gets exactly one terminal holds even when
// Stop races the transport's own completion.
func (m *Manager) dispatchTerminal(id string, newState StreamState, cause *errx.Error) {
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok || rec.status.terminal() {
			return
		}
		m.terminalizeLocked(rec, newState, cause)
	})
	m.scheduleSweep(id)
}

// terminalizeLocked must only run from inside the actor. It marks rec
// terminal, notifies and clears every current subscriber, and stops their
// liveness watchers.
func (m *Manager) terminalizeLocked(rec *streamRecord, newState StreamState, cause *errx.Error) {
	rec.status = newState
	term := Termination{State: newState, Err: cause}
	rec.terminal = &term

	if newState == StateError {
		entry := logx.WithFields(logx.Fields{
			"stream_id": rec.id, "backend": rec.backend, "model": rec.model,
			"events_count": rec.eventsCount,
		})
		if cause != nil {
			entry = entry.WithError(cause)
		}
		entry.Warn("gstream: stream terminated with error")
	}

	for target, sub := range rec.subscribers {
		sub.handlers.OnTerminal(term)
		if sub.livenessStop != nil {
			close(sub.livenessStop)
		}
		delete(rec.subscribers, target)
	}
}

func (m *Manager) scheduleSweep(id string) {
	time.AfterFunc(m.opts.CleanupDelay, func() {
		m.do(func(s *state) { delete(s.streams, id) })
	})
}

// Subscribe installs target's handlers on stream id. Re-subscribing the
// same target is a no-op. If the stream has already terminated but its
// record has not yet been swept, the pending terminal is delivered
// immediately — the chosen resolution of the late-subscribe race (§4.7
// option a).
func (m *Manager) Subscribe(id, target string, handlers SubscriberHandlers, liveness <-chan struct{}) *errx.Error {
	var result *errx.Error
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok {
			result = gstreamErrors.New(ErrNotFound).WithDetail("stream_id", id)
			return
		}
		if _, exists := rec.subscribers[target]; exists {
			return
		}

		sub := &subscriberEntry{handlers: handlers}

		if rec.terminal != nil {
			// Already terminal: deliver immediately, install nothing.
			term := *rec.terminal
			handlers.OnTerminal(term)
			return
		}

		if liveness != nil {
			stop := make(chan struct{})
			sub.livenessStop = stop
			go m.watchLiveness(id, target, liveness, stop)
		}
		rec.subscribers[target] = sub
	})
	return result
}

func (m *Manager) watchLiveness(id, target string, liveness <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-liveness:
		m.removeSubscriber(id, target, false)
	case <-stop:
	}
}

// Unsubscribe removes target's subscription and liveness handle. Removing
// an unknown target from a known stream is a no-op, matching Subscribe's
// idempotence; an unknown stream is not_found.
func (m *Manager) Unsubscribe(id, target string) *errx.Error {
	var result *errx.Error
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok {
			result = gstreamErrors.New(ErrNotFound).WithDetail("stream_id", id)
			return
		}
		m.removeSubscriberLocked(rec, target, true)
	})
	return result
}

// removeSubscriber is used by the liveness watcher, which only has the
// stream/target ids, not a state pointer.
func (m *Manager) removeSubscriber(id, target string, closeLiveness bool) {
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok {
			return
		}
		m.removeSubscriberLocked(rec, target, closeLiveness)
	})
}

func (m *Manager) removeSubscriberLocked(rec *streamRecord, target string, closeLiveness bool) {
	sub, ok := rec.subscribers[target]
	if !ok {
		return
	}
	delete(rec.subscribers, target)
	if closeLiveness && sub.livenessStop != nil {
		close(sub.livenessStop)
	}

	if len(rec.subscribers) == 0 && !rec.status.terminal() && !rec.cancelled {
		rec.cancelled = true
		close(rec.cancel)
	}
}

// Stop cancels the worker, notifies every current subscriber with a
// stopped terminal, and clears the subscriber set. The underlying
// transport's own cancellation callback may still fire afterward, but
// dispatchTerminal's terminal guard drops it.
func (m *Manager) Stop(id string) *errx.Error {
	var result *errx.Error
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok {
			result = gstreamErrors.New(ErrNotFound).WithDetail("stream_id", id)
			return
		}
		if rec.status.terminal() {
			return
		}
		if !rec.cancelled {
			rec.cancelled = true
			close(rec.cancel)
		}
		m.terminalizeLocked(rec, StateStopped, nil)
	})
	if result == nil {
		m.scheduleSweep(id)
	}
	return result
}

// Status returns a point-in-time snapshot of stream id.
func (m *Manager) Status(id string) (Status, *errx.Error) {
	var out Status
	var result *errx.Error
	m.do(func(s *state) {
		rec, ok := s.streams[id]
		if !ok {
			result = gstreamErrors.New(ErrNotFound).WithDetail("stream_id", id)
			return
		}
		out = Status{
			State:       rec.status,
			Backend:     rec.backend,
			Model:       rec.model,
			EventsCount: rec.eventsCount,
			StartedAt:   rec.startedAt,
			LastEventAt: rec.lastEventAt,
		}
	})
	return out, result
}

// List returns every tracked stream id, sorted for deterministic output.
func (m *Manager) List() []string {
	var ids []string
	m.do(func(s *state) {
		ids = make([]string, 0, len(s.streams))
		for id := range s.streams {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}
