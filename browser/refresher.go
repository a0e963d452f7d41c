package browser

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nbeirne/coredns-mdnssd/logger"
)

// JitterFactor spreads periodic queries of many hosts apart.
var JitterFactor = 0.1

// Refresher sends the discovery query of a browser now and then again every
// interval, so services that never announce are still found.
type Refresher struct {
	Log logger.Logger

	browser  *Browser
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	running bool
	timer   *clock.Timer
	waiters []chan struct{}
}

// NewRefresher returns a refresher for b. It uses the clock of b.
func NewRefresher(b *Browser, interval time.Duration) *Refresher {
	r := &Refresher{
		Log:      b.Log,
		browser:  b,
		interval: interval,
		clock:    b.clock,
	}
	b.OnUpdate(r.notify)
	return r
}

// Start queries immediately and schedules the next query.
func (r *Refresher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.browser.Discover()
	r.schedule()
}

// Stop cancels the scheduled query and releases pending ForceRefresh calls.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
}

// ForceRefresh queries now and waits for the next change of the table or
// for ctx to end.
func (r *Refresher) ForceRefresh(ctx context.Context) error {
	wait := make(chan struct{})
	r.mu.Lock()
	r.waiters = append(r.waiters, wait)
	r.mu.Unlock()

	r.Log.Debugf("Forcing mDNS refresh for %s", r.browser.ServiceType())
	r.browser.Discover()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		for i, w := range r.waiters {
			if w == wait {
				r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return ctx.Err()
	}
}

// schedule is called with r.mu held.
func (r *Refresher) schedule() {
	if r.interval <= 0 {
		return
	}
	base := float64(r.interval)
	d := time.Duration(base + (rand.Float64()*2-1)*JitterFactor*base)
	r.timer = r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.running {
			return
		}
		r.Log.Debugf("Refreshing %s", r.browser.ServiceType())
		r.browser.Discover()
		r.schedule()
	})
}

func (r *Refresher) notify(Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.waiters {
		close(w)
	}
	r.waiters = nil
}
