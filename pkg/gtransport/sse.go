package gtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rangen/geminigw/pkg/errx"
	"github.com/rangen/geminigw/pkg/geminitelemetry"
	"github.com/rangen/geminigw/pkg/sse"
)

// DefaultInactivityTimeout is how long Stream waits between chunks before
// aborting the connection and surfacing error{timeout}, per §5's per-call
// inactivity timeout.
const DefaultInactivityTimeout = 60 * time.Second

// StreamRequest is one M3 streaming call.
type StreamRequest struct {
	URL     string
	Headers http.Header
	Body    any

	StreamID string // telemetry metadata only
	Backend  string
}

// StreamCallbacks are invoked synchronously, in order, from the single
// goroutine driving one stream. on_event fires once per parsed SSE event;
// exactly one of on_done/on_error fires exactly once, last.
type StreamCallbacks struct {
	OnEvent func(sse.Event)
	OnDone  func()
	OnError func(*errx.Error)
}

// SSETransport opens a streaming POST and feeds response chunks to an
// sse.Parser, invoking the caller's callbacks synchronously as events are
// parsed. Each stream is single-threaded cooperative: the next chunk is
// only read after on_event returns, so a slow subscriber naturally
// back-pressures the read loop.
type SSETransport struct {
	httpClient        *http.Client
	telemetry         geminitelemetry.Emitter
	inactivityTimeout time.Duration
}

// SSEOption configures an SSETransport.
type SSEOption func(*SSETransport)

// WithSSEHTTPClient overrides the underlying *http.Client.
func WithSSEHTTPClient(c *http.Client) SSEOption {
	return func(t *SSETransport) { t.httpClient = c }
}

// WithSSETelemetry installs an Emitter. Defaults to geminitelemetry.Noop{}.
func WithSSETelemetry(e geminitelemetry.Emitter) SSEOption {
	return func(t *SSETransport) { t.telemetry = e }
}

// WithInactivityTimeout overrides how long Stream waits between chunks
// before aborting with error{timeout}. Defaults to DefaultInactivityTimeout;
// zero or negative disables the timeout entirely.
func WithInactivityTimeout(d time.Duration) SSEOption {
	return func(t *SSETransport) { t.inactivityTimeout = d }
}

// NewSSE builds an SSETransport.
func NewSSE(opts ...SSEOption) *SSETransport {
	t := &SSETransport{
		httpClient:        &http.Client{},
		telemetry:         geminitelemetry.Noop{},
		inactivityTimeout: DefaultInactivityTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stream opens the connection and runs the read loop until completion,
// error, or cancel is closed. It blocks the calling goroutine; callers run
// one goroutine per stream.
func (t *SSETransport) Stream(ctx context.Context, req StreamRequest, cancel <-chan struct{}, cb StreamCallbacks) {
	t.telemetry.Emit(geminitelemetry.StreamStart, geminitelemetry.Fields{"stream_id": req.StreamID, "backend": req.Backend})

	encoded, err := json.Marshal(req.Body)
	if err != nil {
		cb.OnError(Classified(ErrValidation, KindValidation, "", err, 0))
		return
	}

	streamCtx, cancelRequest := context.WithCancel(ctx)
	defer cancelRequest()

	// A separate watcher aborts the connection the instant cancel closes,
	// even while the read loop is blocked inside body.Read — cancellation
	// must not wait for the next chunk to arrive. The same watcher also
	// enforces the inter-chunk inactivity deadline: activity resets the
	// timer, and the timer firing aborts the connection exactly like an
	// external cancel.
	watcherDone := make(chan struct{})
	wasCancelled := make(chan struct{})
	timedOut := make(chan struct{})
	activity := make(chan struct{}, 1)
	go func() {
		defer close(watcherDone)

		var timerC <-chan time.Time
		if t.inactivityTimeout > 0 {
			timer := time.NewTimer(t.inactivityTimeout)
			defer timer.Stop()
			timerC = timer.C

			for {
				select {
				case <-cancel:
					close(wasCancelled)
					cancelRequest()
					return
				case <-streamCtx.Done():
					return
				case <-activity:
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(t.inactivityTimeout)
				case <-timerC:
					close(timedOut)
					cancelRequest()
					return
				}
			}
		}

		select {
		case <-cancel:
			close(wasCancelled)
			cancelRequest()
		case <-streamCtx.Done():
		}
	}()
	defer func() { cancelRequest(); <-watcherDone }()

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, req.URL, bytes.NewReader(encoded))
	if err != nil {
		cb.OnError(Classified(ErrValidation, KindValidation, "", err, 0))
		return
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		cb.OnError(Classified(ErrNetwork, KindNetwork, "", err, 0))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		cb.OnError(classifyResponse(resp, body))
		return
	}

	t.readLoop(resp.Body, wasCancelled, timedOut, activity, req, cb)
}

func (t *SSETransport) readLoop(body io.Reader, wasCancelled, timedOut <-chan struct{}, activity chan<- struct{}, req StreamRequest, cb StreamCallbacks) {
	parser := &sse.Parser{}
	buf := make([]byte, 4096)
	totalChunks := 0

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			totalChunks++
			select {
			case activity <- struct{}{}:
			default:
			}
			t.telemetry.Emit(geminitelemetry.StreamChunk, geminitelemetry.Fields{
				"stream_id": req.StreamID, "chunk_size": n, "total_chunks": totalChunks,
			})

			for _, ev := range parser.Feed(buf[:n]) {
				cb.OnEvent(ev)
			}
		}

		if readErr != nil {
			t.finish(req, cb, readErr, wasCancelled, timedOut)
			return
		}
	}
}

func (t *SSETransport) finish(req StreamRequest, cb StreamCallbacks, readErr error, wasCancelled, timedOut <-chan struct{}) {
	select {
	case <-wasCancelled:
		t.telemetry.Emit(geminitelemetry.StreamException, geminitelemetry.Fields{
			"stream_id": req.StreamID, "error_kind": string(KindCancelled),
		})
		cb.OnError(Classified(ErrCancelled, KindCancelled, "", readErr, 0))
		return
	default:
	}

	select {
	case <-timedOut:
		t.telemetry.Emit(geminitelemetry.StreamException, geminitelemetry.Fields{
			"stream_id": req.StreamID, "error_kind": string(KindTimeout),
		})
		cb.OnError(Classified(ErrTimeout, KindTimeout, "", readErr, 0))
		return
	default:
	}

	if readErr == io.EOF {
		t.telemetry.Emit(geminitelemetry.StreamStop, geminitelemetry.Fields{"stream_id": req.StreamID})
		cb.OnDone()
		return
	}

	classified := Classified(ErrNetwork, KindNetwork, "", readErr, 0)
	t.telemetry.Emit(geminitelemetry.StreamException, geminitelemetry.Fields{
		"stream_id": req.StreamID, "error_kind": string(KindNetwork),
	})
	cb.OnError(classified)
}
