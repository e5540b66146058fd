// Package engine is the FS Policy Controller of spec.md §4.7: the
// per-filesystem facade composing the Store Gateway, Instance Watcher,
// Directory Map, Policy, State Machine Driver and Update Coordinator
// into one thread-safe entry point for the outer management surface.
//
// Per spec.md §9's redesign note, the source's condition-variable-plus-
// timer-plus-mutex model becomes a single owning goroutine that selects
// over management requests, instance-watcher deltas, and coordinator
// completions — each public method posts a closure onto that goroutine
// instead of taking a lock directly, so there is no mutex held across
// any blocking call.
package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/fsmirror/internal/coordinator"
	"github.com/cuemby/fsmirror/internal/dirmap"
	"github.com/cuemby/fsmirror/internal/fsm"
	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/cuemby/fsmirror/internal/policy"
	"github.com/cuemby/fsmirror/internal/remote"
	"github.com/cuemby/fsmirror/internal/storegateway"
	"github.com/cuemby/fsmirror/internal/watcher"
	"github.com/cuemby/fsmirror/pkg/log"
	"github.com/cuemby/fsmirror/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gateway is the slice of storegateway.Gateway the controller depends
// on directly, beyond what it hands to the coordinator.
type Gateway interface {
	coordinator.Gateway
	LoadDirectoryMap() (map[string]mirror.DirEntry, error)
	LoadInstances() (map[string]mirror.Instance, error)
	Blocklist(addr string) error
	Stop()
}

// Controller is the FS Policy Controller for one filesystem.
type Controller struct {
	fsName  string
	localID string // local cluster_id, for peer self-rejection

	dirs    *dirmap.Map
	driver  *fsm.Driver
	gateway Gateway
	watch   *watcher.Watcher
	coord   *coordinator.Coordinator
	stamper remote.Stamper
	logger  zerolog.Logger

	peers map[string]mirror.Peer

	reqCh  chan func()
	stopCh chan struct{}
	doneCh chan struct{}

	stopping bool
	mirrored bool

	waiters map[string][]chan error
}

// Config bundles what New needs beyond the filesystem name.
type Config struct {
	FSName           string
	LocalClusterID   string
	Gateway          Gateway
	Watcher          *watcher.Watcher
	Stamper          remote.Stamper
	ThrottleInterval time.Duration
}

// New builds a stopped Controller; call Init to seed state and start
// its goroutines.
func New(cfg Config) *Controller {
	dirs := dirmap.New()
	driver := fsm.New(dirs)
	logger := log.WithFilesystem(cfg.FSName)

	c := &Controller{
		fsName:  cfg.FSName,
		localID: cfg.LocalClusterID,
		dirs:    dirs,
		driver:  driver,
		gateway: cfg.Gateway,
		watch:   cfg.Watcher,
		stamper: cfg.Stamper,
		logger:  logger,
		peers:   make(map[string]mirror.Peer),
		reqCh:   make(chan func()),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		waiters: make(map[string][]chan error),
	}
	c.coord = coordinator.New(dirs, driver, cfg.Gateway, cfg.ThrottleInterval, logger, c.onSettled, c.onWriteComplete)
	c.coord.SetPost(c.post)
	return c
}

// post runs fn on the controller's owning goroutine and waits for it to
// finish. It is the only way any exported method touches controller
// state, matching the single select-loop model of spec.md §9.
func (c *Controller) post(fn func()) {
	done := make(chan struct{})
	select {
	case c.reqCh <- func() { fn(); close(done) }:
		<-done
	case <-c.doneCh:
	}
}

func (c *Controller) run() {
	defer close(c.doneCh)
	for {
		select {
		case fn := <-c.reqCh:
			fn()
		case <-c.stopCh:
			return
		}
	}
}

// Init seeds the controller from persisted state and starts its
// goroutines, registering every loaded path as pending so the FSM
// drives the whole set to steady state (SPEC_FULL §11 — not just newly
// added paths).
func (c *Controller) Init() error {
	entries, err := c.gateway.LoadDirectoryMap()
	if err != nil {
		return fmt.Errorf("load directory map: %w", err)
	}
	instances, err := c.gateway.LoadInstances()
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}

	c.dirs.LoadDirectoryMap(entries)
	c.dirs.LoadInstances(instances)

	go c.run()
	c.coord.Start()
	if c.watch != nil {
		c.watch.Start()
	}
	c.mirrored = true

	for path := range entries {
		c.coord.Enqueue(path)
	}
	c.logger.Info().Int("directories", len(entries)).Int("instances", len(instances)).Msg("controller initialized")
	return nil
}

// HandleInstanceDelta applies an Instance Watcher diff: new instances
// are recorded and their previously-orphaned paths considered for
// assignment; departed instances are blocklisted before any of their
// directories are reassigned (I4), then durably removed.
func (c *Controller) HandleInstanceDelta(delta watcher.Delta) {
	c.post(func() {
		if c.stopping {
			return
		}
		for id, addr := range delta.Added {
			c.dirs.AddInstance(id, addr)
			metrics.InstanceDeltaTotal.WithLabelValues(c.fsName, "added").Inc()
		}

		var removedIDs []string
		for id := range delta.Removed {
			removedIDs = append(removedIDs, id)
		}
		sort.Strings(removedIDs)

		for _, id := range removedIDs {
			addr := c.dirs.RemoveInstance(id)
			if addr == "" {
				continue
			}
			metrics.InstanceDeltaTotal.WithLabelValues(c.fsName, "removed").Inc()
			if err := c.gateway.Blocklist(addr); err != nil {
				c.logger.Error().Err(err).Str("instance_id", id).Msg("blocklist failed; leaving instance reassignment pending")
				continue
			}
			for _, path := range c.dirs.Paths() {
				entry, ok := c.dirs.Lookup(path)
				if !ok || entry.InstanceID != id {
					continue
				}
				if c.driver.MarkInstanceLost(path) {
					c.coord.Enqueue(path)
				}
			}
		}

		if len(delta.Added) > 0 {
			for path := range policy.Rebalance(c.dirs.Snapshot(), c.dirs.Instances()) {
				if c.driver.Rebalance(path) {
					c.coord.Enqueue(path)
				}
			}
			for _, path := range c.dirs.Paths() {
				if entry, ok := c.dirs.Lookup(path); ok && entry.State == mirror.StateIdle {
					c.coord.Enqueue(path)
				}
			}
		}

		added := make(map[string]mirror.Instance, len(delta.Added))
		for id, addr := range delta.Added {
			added[id] = mirror.Instance{ID: id, Addr: addr, Version: 1}
		}
		if len(added) > 0 || len(removedIDs) > 0 {
			c.coord.ApplyInstanceDelta(added, removedIDs, func(err error) {
				if err != nil {
					c.logger.Error().Err(err).Msg("instance map write failed")
				}
			})
		}
	})
}

// AddDir registers path for mirroring. It blocks until the path's first
// durable directory-map write has completed (spec.md §4.7), returning
// any synchronous rejection immediately.
func (c *Controller) AddDir(path string) error {
	if !filepath.IsAbs(path) {
		return mirror.InvalidArgument("path %q must be absolute", path)
	}
	reply := make(chan error, 1)
	c.post(func() {
		if c.stopping {
			reply <- mirror.NewError(mirror.EAGAIN, "filesystem %s is shutting down", c.fsName)
			return
		}
		if err := c.dirs.Add(path); err != nil {
			reply <- err
			return
		}
		c.waiters[path] = append(c.waiters[path], reply)
		c.coord.Enqueue(path)
	})
	return <-reply
}

// RemoveDir begins purging path. It blocks until the first durable
// write of the purge sequence has completed.
func (c *Controller) RemoveDir(path string) error {
	reply := make(chan error, 1)
	c.post(func() {
		if c.stopping {
			reply <- mirror.NewError(mirror.EAGAIN, "filesystem %s is shutting down", c.fsName)
			return
		}
		if err := c.dirs.StartRemove(path); err != nil {
			reply <- err
			return
		}
		c.waiters[path] = append(c.waiters[path], reply)
		c.coord.Enqueue(path)
	})
	return <-reply
}

// onWriteComplete wakes any AddDir/RemoveDir caller blocked on path's
// first durable write. The coordinator invokes it already running on
// the controller's owning goroutine (it routes every dirmap-touching
// callback through post itself), so this must not call post again.
func (c *Controller) onWriteComplete(path string, err error) {
	waiting := c.waiters[path]
	if len(waiting) == 0 {
		return
	}
	delete(c.waiters, path)
	for _, ch := range waiting {
		ch <- err
	}
}

// onSettled is a hook for future convergence-driven behavior; the
// blocking contract itself is satisfied by onWriteComplete.
func (c *Controller) onSettled(path string) {}

// Counts returns the number of tracked directories per FSM state and
// the number of live instances, for the metrics Collector.
func (c *Controller) Counts() (byState map[string]int, instances int) {
	c.post(func() {
		byState = make(map[string]int)
		for _, e := range c.dirs.Snapshot() {
			byState[e.State.String()]++
		}
		instances = len(c.dirs.Instances())
	})
	return
}

// dirStatus is the JSON view returned by Status.
type dirStatus struct {
	Path       string `json:"path"`
	InstanceID string `json:"instance_id"`
	State      string `json:"state"`
	Purging    bool   `json:"purging"`
	Version    int    `json:"version"`
}

// Status returns a JSON status blob for one tracked directory.
func (c *Controller) Status(path string) ([]byte, error) {
	var entry mirror.DirEntry
	var found bool
	c.post(func() { entry, found = c.dirs.Lookup(path) })
	if !found {
		return nil, mirror.NotFound("directory %s is not tracked", path)
	}
	return json.Marshal(dirStatus{
		Path:       entry.Path,
		InstanceID: entry.InstanceID,
		State:      entry.State.String(),
		Purging:    entry.Purging,
		Version:    entry.Version,
	})
}

// summaryView is the JSON shape returned by Summary.
type summaryView struct {
	FSName      string         `json:"fs_name"`
	Directories int            `json:"directories"`
	Instances   int            `json:"instances"`
	ByInstance  map[string]int `json:"by_instance"`
}

// Summary returns aggregate counts, matching the multiset of
// assignments in the directory map (spec.md §8).
func (c *Controller) Summary() ([]byte, error) {
	var view summaryView
	c.post(func() {
		snapshot := c.dirs.Snapshot()
		view = summaryView{
			FSName:      c.fsName,
			Directories: len(snapshot),
			Instances:   len(c.dirs.Instances()),
			ByInstance:  policy.LoadCounts(snapshot),
		}
	})
	return json.Marshal(view)
}

// ShowDistribution returns the full per-directory assignment table.
func (c *Controller) ShowDistribution() ([]byte, error) {
	var entries map[string]mirror.DirEntry
	c.post(func() { entries = c.dirs.Snapshot() })

	views := make([]dirStatus, 0, len(entries))
	for _, e := range entries {
		views = append(views, dirStatus{
			Path:       e.Path,
			InstanceID: e.InstanceID,
			State:      e.State.String(),
			Purging:    e.Purging,
			Version:    e.Version,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Path < views[j].Path })
	return json.Marshal(views)
}

// PeerAdd validates and records a mirror peer, stamping the remote
// filesystem root before tracking it (spec.md §6, §11). Rejects
// malformed specs and self-peering with -EINVAL, and a remote already
// stamped with a different identity with -EEXIST.
func (c *Controller) PeerAdd(remoteSpec, remoteFSName, remoteClusterID string) (mirror.Peer, error) {
	if err := remote.ValidateSpec(remoteSpec); err != nil {
		return mirror.Peer{}, mirror.InvalidArgument("%s", err.Error())
	}
	if remoteClusterID == c.localID && remoteFSName == c.fsName {
		return mirror.Peer{}, mirror.InvalidArgument("cannot peer filesystem %s with itself", c.fsName)
	}

	var peer mirror.Peer
	var err error
	c.post(func() {
		for _, p := range c.peers {
			if p.RemoteFSName == remoteFSName && p.RemoteSpec != remoteSpec {
				err = mirror.AlreadyExists("remote %s is already stamped with a different mirror identity", remoteFSName)
				return
			}
		}
		if stampErr := c.stamper.Stamp(remoteSpec, remoteFSName); stampErr != nil {
			err = fmt.Errorf("stamp remote filesystem: %w", stampErr)
			return
		}
		peer = mirror.Peer{
			UUID:         uuid.NewString(),
			ClusterID:    remoteClusterID,
			RemoteFSName: remoteFSName,
			RemoteSpec:   remoteSpec,
		}
		c.peers[peer.UUID] = peer
	})
	if err != nil {
		return mirror.Peer{}, err
	}
	return peer, nil
}

// PeerRemove unstamps and forgets a peer.
func (c *Controller) PeerRemove(peerUUID string) error {
	var err error
	c.post(func() {
		peer, ok := c.peers[peerUUID]
		if !ok {
			err = mirror.NotFound("peer %s is not configured", peerUUID)
			return
		}
		if unstampErr := c.stamper.Unstamp(peer.RemoteSpec, peer.RemoteFSName); unstampErr != nil {
			err = fmt.Errorf("unstamp remote filesystem: %w", unstampErr)
			return
		}
		delete(c.peers, peerUUID)
	})
	return err
}

// Shutdown performs the ordered teardown of spec.md §4.6: stop
// accepting new intents, stop the Instance Watcher, stop the
// coordinator's tick loop and wait for every outstanding async
// operation to drain, then stop the gateway and the owning goroutine.
func (c *Controller) Shutdown() {
	c.post(func() { c.stopping = true })
	if c.watch != nil {
		c.watch.Stop()
	}
	c.coord.Drain()
	c.gateway.Stop()
	close(c.stopCh)
	<-c.doneCh
	c.logger.Info().Msg("controller shut down")
}
