// Package idle decides when page network activity has settled.
//
// A Detector signals once no request has been observed for a continuous
// window of its timeout, measured from Start. Every OnRequest call replaces
// the pending check, so only the most recent one can fire.
package idle

import (
	"context"
	"sync"
	"time"
)

// State is the detector lifecycle state.
type State int

const (
	Waiting State = iota
	Idle
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "waiting"
}

// Detector tracks request activity and fires once after a quiet period.
type Detector struct {
	timeout time.Duration
	now     func() time.Time

	mu           sync.Mutex
	started      bool
	state        State
	lastActivity time.Time
	timer        *time.Timer
	generation   uint64
	done         chan struct{}
}

// New returns a detector for the given quiet period. Non-positive timeouts are
// treated as an immediate signal once started.
func New(timeout time.Duration) *Detector {
	return &Detector{
		timeout: timeout,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start arms the initial check and returns a channel closed when idle.
// Subsequent calls return the same channel without rearming.
func (d *Detector) Start() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return d.done
	}
	d.started = true
	d.lastActivity = d.now()
	d.scheduleLocked(d.timeout)
	return d.done
}

// OnRequest records network activity and pushes the pending check back by a
// full timeout. Before Start only the timestamp is kept; after idle it is a no-op.
func (d *Detector) OnRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Idle {
		return
	}
	d.lastActivity = d.now()
	if d.started {
		d.scheduleLocked(d.timeout)
	}
}

// Wait blocks until the detector is idle or ctx is done.
func (d *Detector) Wait(ctx context.Context) error {
	select {
	case <-d.Start():
		return nil
	case <-ctx.Done():
		d.Stop()
		return ctx.Err()
	}
}

// Stop cancels any pending check. The detector stays in its current state.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// State reports the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// scheduleLocked replaces the pending check with one firing after delay.
func (d *Detector) scheduleLocked(delay time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	if delay < 0 {
		delay = 0
	}
	d.timer = time.AfterFunc(delay, func() { d.check(gen) })
}

func (d *Detector) check(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// superseded by a later OnRequest or Stop
	if gen != d.generation || d.state == Idle {
		return
	}

	elapsed := d.now().Sub(d.lastActivity)
	if elapsed < d.timeout {
		d.scheduleLocked(d.timeout - elapsed)
		return
	}

	d.state = Idle
	d.timer = nil
	close(d.done)
}
