package pubsub

import "sync"

// Flare is an edge-triggered wakeup signal: Fire wakes anything
// waiting on Watch exactly once per edge, and Extinguish resets it.
// The original `broker` library backs this with a self-pipe file
// descriptor so a flare can sit in a native select()/poll() loop; the
// idiomatic Go equivalent is a channel that gets closed (the edge) and
// replaced (the reset), which is exactly the notify/sendNotify pattern
// broker/listener/inflight/queue.go uses to wake blocked readers.
type Flare struct {
	mu    sync.Mutex
	ch    chan struct{}
	fired bool
}

// NewFlare returns an unfired flare.
func NewFlare() *Flare {
	return &Flare{ch: make(chan struct{})}
}

// Fire raises the flare if it is not already raised. Safe to call
// repeatedly; only the first call after a reset has any effect.
func (f *Flare) Fire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired {
		return
	}
	f.fired = true
	close(f.ch)
}

// Extinguish resets the flare to its unfired state.
func (f *Flare) Extinguish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fired {
		return
	}
	f.fired = false
	f.ch = make(chan struct{})
}

// Watch returns the channel to select on; it closes exactly once per
// Fire, until the next Extinguish.
func (f *Flare) Watch() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

// Fired reports whether the flare is currently raised.
func (f *Flare) Fired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}
