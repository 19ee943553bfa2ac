// Package clock provides a pausable stopwatch that emits a tick once per second
// while running. Elapsed time is always derived from the underlying wall clock, so
// several clocks can run side by side without drifting apart.
package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type (
	// TickHandler receives the elapsed time at the moment of the tick.
	TickHandler func(elapsed time.Duration)
	Option      func(*Clock)

	Clock struct {
		clk          clockwork.Clock
		tickInterval time.Duration

		mu          sync.Mutex
		reference   *time.Time
		accumulated time.Duration
		stopTicks   chan struct{}

		// held while a handler is invoked, so replacing the handler waits for
		// an in-flight tick to finish
		dispatchMu sync.Mutex
		handler    TickHandler
	}
)

func WithClock(clk clockwork.Clock) Option {
	return func(c *Clock) {
		c.clk = clk
	}
}

// WithTickInterval sets the interval between ticks. Non-positive values keep the
// default of one second.
func WithTickInterval(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

func New(opts ...Option) *Clock {
	ret := &Clock{
		clk:          clockwork.NewRealClock(),
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Now returns the current instant of the underlying wall clock.
func (c *Clock) Now() time.Time {
	return c.clk.Now()
}

// Start starts the clock. Calling Start on a running clock has no effect.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reference != nil {
		return
	}
	now := c.clk.Now()
	c.reference = &now
	c.stopTicks = make(chan struct{})
	go c.tickLoop(c.clk.NewTicker(c.tickInterval), c.stopTicks)
}

// Stop folds the running time into the accumulated time and stops ticking.
// Calling Stop on a stopped clock has no effect.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reference == nil {
		return
	}
	c.accumulated += c.clk.Since(*c.reference)
	c.reference = nil
	close(c.stopTicks)
	c.stopTicks = nil
}

// Reset zeroes the elapsed time. A running clock keeps running from zero.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accumulated = 0
	if c.reference != nil {
		now := c.clk.Now()
		c.reference = &now
	}
}

// ElapsedTime is computed on every call, it is never cached.
func (c *Clock) ElapsedTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed()
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference != nil
}

// SetTickHandler registers the single tick handler, replacing any previous one.
// Passing nil removes the handler. Once SetTickHandler returns the previous handler
// is not called again. Must not be called from within a tick handler.
func (c *Clock) SetTickHandler(h TickHandler) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.handler = h
}

func (c *Clock) elapsed() time.Duration {
	if c.reference == nil {
		return c.accumulated
	}
	return c.accumulated + c.clk.Since(*c.reference)
}

func (c *Clock) tickLoop(ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.dispatch(stop)
		}
	}
}

func (c *Clock) dispatch(stop <-chan struct{}) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	// no ticks once the clock was stopped, even if the ticker already fired
	select {
	case <-stop:
		return
	default:
	}
	if c.handler == nil {
		return
	}
	c.handler(c.ElapsedTime())
}
