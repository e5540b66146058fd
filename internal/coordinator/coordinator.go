// Package coordinator is the Update Coordinator of spec.md §4.6: it
// throttles per-directory FSM-driven writes into periodic batches so
// the engine issues at most one outstanding directory-update write and
// one outstanding instance-update write at a time (I6), and it is the
// single place that re-drives the FSM once a durable write or a notify
// completes.
package coordinator

import (
	"sync"
	"time"

	"github.com/cuemby/fsmirror/internal/dirmap"
	"github.com/cuemby/fsmirror/internal/fsm"
	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/rs/zerolog"
)

// Gateway is the narrow slice of the Store Gateway the coordinator
// drives: batched durable writes and worker notification, each
// reporting its result asynchronously.
type Gateway interface {
	ApplyDirectoryUpdate(updates map[string]mirror.DirEntry, removals []string, onComplete func(error))
	ApplyInstanceUpdate(added map[string]mirror.Instance, removed []string, onComplete func(error))
	Notify(path string, mode mirror.NotifyMode, instanceID string, onAck func(rc int))
}

// Coordinator batches pending directory actions on a fixed tick and
// funnels every asynchronous completion back through the FSM driver.
// Access to the directory map and FSM driver is routed onto the owning
// engine's single goroutine (see post); Coordinator's own mutex guards
// only the pending set and the in-flight write flags.
type Coordinator struct {
	dirs     *dirmap.Map
	driver   *fsm.Driver
	gateway  Gateway
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]bool

	dirWriteInFlight  bool
	instWriteInFlight bool

	// outstanding is the async-op tracker of spec.md §4.6: it counts
	// every in-flight durable write and notification so Drain can block
	// until the filesystem is fully quiesced.
	outstanding sync.WaitGroup

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}

	// onSettled is called once per path whose FSM-driven action chain has
	// reached a quiescent point (no immediate follow-up action).
	onSettled func(path string)

	// onWriteComplete fires once for every path touched by a directory-map
	// write the moment that specific write completes, success or failure —
	// this is the "first durable write has completed" signal add_dir and
	// remove_dir block on (spec.md §4.7), distinct from full convergence.
	onWriteComplete func(path string, err error)

	// post, when set via SetPost, runs fn on the engine's single owning
	// goroutine and blocks until it returns. Every access this package
	// makes to the directory map or the FSM driver is routed through it,
	// so the tick loop and the gateway's own completion goroutines never
	// touch that state concurrently with the engine's request handling —
	// one serialization point, per spec.md §5, instead of a second lock.
	// Left nil in this package's own tests, where the coordinator runs
	// standalone and fn is simply called in place.
	post func(fn func())
}

// New builds a Coordinator over an already-populated directory map.
func New(dirs *dirmap.Map, driver *fsm.Driver, gateway Gateway, interval time.Duration, logger zerolog.Logger, onSettled func(path string), onWriteComplete func(path string, err error)) *Coordinator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Coordinator{
		dirs:            dirs,
		driver:          driver,
		gateway:         gateway,
		interval:        interval,
		logger:          logger,
		pending:         make(map[string]bool),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		onSettled:       onSettled,
		onWriteComplete: onWriteComplete,
	}
}

// SetPost wires the engine's single owning goroutine into the
// coordinator. Call it before Start. See the post field's doc comment.
func (c *Coordinator) SetPost(post func(fn func())) {
	c.post = post
}

// runOnOwner executes fn on the engine's owning goroutine when one has
// been wired in via SetPost; otherwise it calls fn directly.
func (c *Coordinator) runOnOwner(fn func()) {
	if c.post != nil {
		c.post(fn)
		return
	}
	fn()
}

// Start launches the tick loop.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop ends the tick loop and waits for it to exit. Callers must ensure
// no further directory paths will be enqueued afterward.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Drain stops the tick loop, per spec.md §4.6's "cancels the timer",
// then blocks until every outstanding durable write and notification
// has completed — the engine's shutdown sequence calls this instead of
// Stop so it returns only once the async-op tracker reaches zero.
func (c *Coordinator) Drain() {
	c.Stop()
	c.outstanding.Wait()
}

// Enqueue marks path as needing its next FSM action evaluated on the
// following tick. Safe to call repeatedly; redundant enqueues collapse.
func (c *Coordinator) Enqueue(path string) {
	c.mu.Lock()
	c.pending[path] = true
	c.mu.Unlock()
}

func (c *Coordinator) run() {
	c.ticker = time.NewTicker(c.interval)
	defer c.ticker.Stop()
	defer close(c.doneCh)

	for {
		select {
		case <-c.ticker.C:
			c.runOnOwner(c.tick)
		case <-c.stopCh:
			return
		}
	}
}

// tick evaluates every pending path's next action and dispatches a
// single batched write if anything needs one. I6 is enforced by
// dirWriteInFlight/instWriteInFlight: a tick that finds a write already
// outstanding leaves those paths pending for the next cycle.
func (c *Coordinator) tick() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(c.pending))
	for p := range c.pending {
		paths = append(paths, p)
	}
	c.mu.Unlock()

	mapUpdates := make(map[string]mirror.DirEntry)
	var mapRemovals []string
	var acquirePaths, releasePaths []string

	for _, p := range paths {
		action := c.driver.StartAction(p)
		entry, ok := c.dirs.Lookup(p)
		switch action {
		case mirror.ActionNone:
			c.clearPending(p)
		case mirror.ActionMapUpdate:
			if ok {
				mapUpdates[p] = entry.ToUpdate()
			}
			c.clearPending(p)
		case mirror.ActionMapRemove:
			mapRemovals = append(mapRemovals, p)
			c.clearPending(p)
		case mirror.ActionAcquire:
			acquirePaths = append(acquirePaths, p)
			c.clearPending(p)
		case mirror.ActionRelease:
			releasePaths = append(releasePaths, p)
			c.clearPending(p)
		}
	}

	if (len(mapUpdates) > 0 || len(mapRemovals) > 0) && !c.dirWriteInFlight {
		c.dispatchDirectoryWrite(mapUpdates, mapRemovals)
	} else if len(mapUpdates) > 0 || len(mapRemovals) > 0 {
		for p := range mapUpdates {
			c.Enqueue(p)
		}
		for _, p := range mapRemovals {
			c.Enqueue(p)
		}
	}

	for _, p := range acquirePaths {
		c.dispatchNotify(p, mirror.ModeAcquire)
	}
	for _, p := range releasePaths {
		c.dispatchNotify(p, mirror.ModeRelease)
	}
}

func (c *Coordinator) clearPending(path string) {
	c.mu.Lock()
	delete(c.pending, path)
	c.mu.Unlock()
}

func (c *Coordinator) dispatchDirectoryWrite(updates map[string]mirror.DirEntry, removals []string) {
	c.mu.Lock()
	c.dirWriteInFlight = true
	c.mu.Unlock()
	c.outstanding.Add(1)

	touched := make([]string, 0, len(updates)+len(removals))
	for p := range updates {
		touched = append(touched, p)
	}
	touched = append(touched, removals...)

	c.gateway.ApplyDirectoryUpdate(updates, removals, func(err error) {
		defer c.outstanding.Done()
		c.mu.Lock()
		c.dirWriteInFlight = false
		c.mu.Unlock()

		success := err == nil
		if !success {
			c.logger.Error().Err(err).Msg("directory map write failed")
		}
		c.runOnOwner(func() {
			for _, p := range touched {
				advance := c.driver.FinishAction(p, success)
				if c.onWriteComplete != nil {
					c.onWriteComplete(p, err)
				}
				if advance {
					c.Enqueue(p)
				} else if c.onSettled != nil {
					c.onSettled(p)
				}
			}
		})
	})
}

func (c *Coordinator) dispatchNotify(path string, mode mirror.NotifyMode) {
	entry, ok := c.dirs.Lookup(path)
	if !ok {
		return
	}
	c.outstanding.Add(1)
	c.gateway.Notify(path, mode, entry.InstanceID, func(rc int) {
		defer c.outstanding.Done()
		success := rc == 0
		c.runOnOwner(func() {
			advance := c.driver.FinishAction(path, success)
			if advance {
				c.Enqueue(path)
			} else if c.onSettled != nil {
				c.onSettled(path)
			}
		})
	})
}

// ApplyInstanceDelta durably records added/removed instances, enforcing
// I6 for the instance map the same way tick enforces it for the
// directory map. The onDone callback fires once the write settles.
func (c *Coordinator) ApplyInstanceDelta(added map[string]mirror.Instance, removed []string, onDone func(error)) {
	c.mu.Lock()
	if c.instWriteInFlight {
		c.mu.Unlock()
		onDone(mirror.NewError(mirror.EAGAIN, "instance map write already in flight"))
		return
	}
	c.instWriteInFlight = true
	c.mu.Unlock()
	c.outstanding.Add(1)

	c.gateway.ApplyInstanceUpdate(added, removed, func(err error) {
		defer c.outstanding.Done()
		c.mu.Lock()
		c.instWriteInFlight = false
		c.mu.Unlock()
		onDone(err)
	})
}
