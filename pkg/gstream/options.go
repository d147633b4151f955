package gstream

import "time"

// Options configures a Manager. The zero value is not usable; build one
// through NewManager's defaults plus Option overrides.
type Options struct {
	MaxStreams    int
	CleanupDelay  time.Duration
	CommandBuffer int
	now           func() time.Time
}

func defaultOptions() Options {
	return Options{
		MaxStreams:    100,
		CleanupDelay:  5 * time.Second,
		CommandBuffer: 64,
		now:           time.Now,
	}
}

// Option is a functional option for configuring a Manager.
type Option func(*Options)

// WithMaxStreams sets the cap on concurrently open streams. open() fails
// with a capacity error once this many streams are tracked, including
// streams pending sweep. Default 100.
func WithMaxStreams(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxStreams = n
		}
	}
}

// WithCleanupDelay sets how long a terminal stream's record is retained
// before the sweeper removes it. Default 5s.
func WithCleanupDelay(d time.Duration) Option {
	return func(o *Options) { o.CleanupDelay = d }
}

// WithCommandBuffer sets the buffer size of the actor's command channel.
// Default 64; callers with many concurrent streams may want more headroom.
func WithCommandBuffer(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.CommandBuffer = n
		}
	}
}

// withClock overrides the manager's clock. Test-only.
func withClock(now func() time.Time) Option {
	return func(o *Options) { o.now = now }
}
