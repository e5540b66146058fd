// Package watcher implements the Instance Watcher of spec.md §4.2: it
// observes the persisted instance map and delivers added/removed
// deltas to a listener, coalescing whatever churned between two
// observations into a single diff.
//
// Grounded on the teacher's worker/health_monitor.go syncHealthChecks
// loop, which diffs a live snapshot against its previous view on every
// tick to start/stop per-task health checks.
package watcher

import (
	"sync"
	"time"

	"github.com/cuemby/fsmirror/internal/mirror"
)

// Delta is one observation's added/removed instances, id -> addr.
type Delta struct {
	Added   map[string]string
	Removed map[string]string
}

func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Source is the narrow collaborator the watcher polls — satisfied by
// internal/storegateway.Gateway.
type Source interface {
	LoadInstances() (map[string]mirror.Instance, error)
}

// Watcher polls Source at a fixed interval and reports diffs in
// observation order. Stop guarantees no further callbacks.
type Watcher struct {
	source   Source
	interval time.Duration
	listener func(Delta)

	mu       sync.Mutex
	previous map[string]string
	stopped  bool
	stopCh   chan struct{}
	done     chan struct{}
}

// New returns a Watcher seeded with the initial instance set (as
// reported by Controller.Init), so the first poll only reports what
// has actually changed since bootstrap.
func New(source Source, interval time.Duration, initial map[string]mirror.Instance, listener func(Delta)) *Watcher {
	prev := make(map[string]string, len(initial))
	for id, inst := range initial {
		prev[id] = inst.Addr
	}
	return &Watcher{
		source:   source,
		interval: interval,
		listener: listener,
		previous: prev,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the polling loop in its own goroutine.
func (w *Watcher) Start() {
	go w.run()
}

// Stop cancels the polling loop and blocks until it has exited, so no
// further listener callbacks can fire after Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	close(w.stopCh)
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) poll() {
	current, err := w.source.LoadInstances()
	if err != nil {
		return // transient store error; next poll retries
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}

	delta := Delta{Added: map[string]string{}, Removed: map[string]string{}}
	for id, inst := range current {
		if _, ok := w.previous[id]; !ok {
			delta.Added[id] = inst.Addr
		}
	}
	for id, addr := range w.previous {
		if _, ok := current[id]; !ok {
			delta.Removed[id] = addr
		}
	}

	next := make(map[string]string, len(current))
	for id, inst := range current {
		next[id] = inst.Addr
	}
	w.previous = next
	w.mu.Unlock()

	if !delta.Empty() {
		w.listener(delta)
	}
}
