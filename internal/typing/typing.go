// Package typing provides a small keepalive helper for channel "typing…"
// indicators, used by internal/channels/discord while an agent run is in
// flight. Grounded on the teacher's inline typing
// handling in discord.go/handlers.go, factored into a standalone controller.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// StartFn is called immediately and then again every KeepaliveInterval
	// until Stop is called or MaxDuration elapses.
	StartFn func() error
	// KeepaliveInterval is how often StartFn is re-invoked to keep the
	// platform's typing indicator alive (most platforms expire it after a
	// few seconds).
	KeepaliveInterval time.Duration
	// MaxDuration is a safety net that stops the controller even if Stop is
	// never called, so a stuck run can't leave a typing indicator forever.
	MaxDuration time.Duration
}

// Controller drives a periodic typing indicator until stopped.
type Controller struct {
	opts Options
	done chan struct{}
	once sync.Once
}

// New creates a Controller. Call Start to begin, Stop to end it early.
func New(opts Options) *Controller {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 5 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 60 * time.Second
	}
	return &Controller{opts: opts, done: make(chan struct{})}
}

// Start fires StartFn immediately and then on a ticker until Stop is
// called or MaxDuration elapses.
func (c *Controller) Start() {
	if c.opts.StartFn != nil {
		_ = c.opts.StartFn()
	}
	go c.loop()
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()
	deadline := time.After(c.opts.MaxDuration)
	for {
		select {
		case <-c.done:
			return
		case <-deadline:
			return
		case <-ticker.C:
			if c.opts.StartFn != nil {
				_ = c.opts.StartFn()
			}
		}
	}
}

// Stop ends the keepalive loop. Safe to call multiple times.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.done) })
}
