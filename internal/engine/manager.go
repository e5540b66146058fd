package engine

import (
	"sync"
	"time"

	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/cuemby/fsmirror/internal/remote"
	"github.com/cuemby/fsmirror/internal/store"
	"github.com/cuemby/fsmirror/internal/storegateway"
	"github.com/cuemby/fsmirror/internal/watcher"
	"github.com/cuemby/fsmirror/pkg/events"
	"github.com/cuemby/fsmirror/pkg/log"
	"github.com/cuemby/fsmirror/pkg/metrics"
)

// Options configures every Controller a Manager creates.
type Options struct {
	DataDir          string
	LocalClusterID   string
	ThrottleInterval time.Duration
	WatchInterval    time.Duration
	BlocklistCommand []string
}

// Manager is the top-level facade the management surface talks to: it
// owns one Controller per enabled filesystem, matching the
// fs-qualified shape of every command in spec.md §6
// (enable_mirror(fs), add_dir(fs, path), ...).
type Manager struct {
	opts   Options
	broker *events.Broker

	mu          sync.Mutex
	controllers map[string]*Controller
	dbs         map[string]*store.DB
}

// NewManager builds a Manager with no filesystems enabled yet.
func NewManager(opts Options) *Manager {
	if opts.ThrottleInterval <= 0 {
		opts.ThrottleInterval = time.Second
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = 5 * time.Second
	}
	broker := events.NewBroker()
	broker.Start()
	return &Manager{
		opts:        opts,
		broker:      broker,
		controllers: make(map[string]*Controller),
		dbs:         make(map[string]*store.DB),
	}
}

// EnableMirror creates the well-known object for fs, if absent, and
// starts its Controller.
func (m *Manager) EnableMirror(fs string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.controllers[fs]; exists {
		return mirror.AlreadyExists("mirroring is already enabled on filesystem %s", fs)
	}

	db, err := store.Open(m.opts.DataDir, fs)
	if err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		return mirror.NewError(mirror.EAGAIN, "open object store for %s: %v", fs, err)
	}
	metrics.UpdateComponent("store", true, "")

	notifier := storegateway.BrokerNotifier{Broker: m.broker}
	blocklister := storegateway.ExecBlocklister{Command: m.opts.BlocklistCommand}
	gw := storegateway.New(fs, db, notifier, blocklister, m.broker)

	initial, err := gw.LoadInstances()
	if err != nil {
		gw.Stop()
		db.Close()
		return mirror.NewError(mirror.EAGAIN, "load instance map for %s: %v", fs, err)
	}

	ctrl := New(Config{
		FSName:           fs,
		LocalClusterID:   m.opts.LocalClusterID,
		Gateway:          gw,
		Stamper:          remote.NewMemStamper(),
		ThrottleInterval: m.opts.ThrottleInterval,
	})
	ctrl.watch = watcher.New(gw, m.opts.WatchInterval, initial, ctrl.HandleInstanceDelta)

	if err := ctrl.Init(); err != nil {
		gw.Stop()
		db.Close()
		metrics.UpdateComponent("coordinator", false, err.Error())
		return mirror.NewError(mirror.EAGAIN, "initialize controller for %s: %v", fs, err)
	}
	metrics.UpdateComponent("coordinator", true, "")

	m.controllers[fs] = ctrl
	m.dbs[fs] = db
	log.WithFilesystem(fs).Info().Msg("enabled mirroring")
	return nil
}

// DisableMirror shuts the filesystem's Controller down and destroys
// its persisted object.
func (m *Manager) DisableMirror(fs string) error {
	m.mu.Lock()
	ctrl, ok := m.controllers[fs]
	db := m.dbs[fs]
	if ok {
		delete(m.controllers, fs)
		delete(m.dbs, fs)
	}
	remaining := len(m.controllers)
	m.mu.Unlock()
	if !ok {
		return mirror.InvalidArgument("filesystem %s is not mirrored", fs)
	}

	ctrl.Shutdown()
	err := db.Destroy()
	if remaining == 0 {
		metrics.UpdateComponent("store", false, "no filesystems mirrored")
		metrics.UpdateComponent("coordinator", false, "no filesystems mirrored")
	}
	return err
}

// Filesystems returns the names of every currently enabled filesystem,
// for the metrics Collector to iterate over.
func (m *Manager) Filesystems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.controllers))
	for fs := range m.controllers {
		out = append(out, fs)
	}
	return out
}

// Counts delegates to fs's Controller for metrics collection.
func (m *Manager) Counts(fs string) (byState map[string]int, instances int, err error) {
	ctrl, err := m.controller(fs)
	if err != nil {
		return nil, 0, err
	}
	byState, instances = ctrl.Counts()
	return byState, instances, nil
}

func (m *Manager) controller(fs string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.controllers[fs]
	if !ok {
		return nil, mirror.InvalidArgument("filesystem %s is not mirrored", fs)
	}
	return ctrl, nil
}

// AddDir delegates to fs's Controller.
func (m *Manager) AddDir(fs, path string) error {
	ctrl, err := m.controller(fs)
	if err != nil {
		return err
	}
	return ctrl.AddDir(path)
}

// RemoveDir delegates to fs's Controller.
func (m *Manager) RemoveDir(fs, path string) error {
	ctrl, err := m.controller(fs)
	if err != nil {
		return err
	}
	return ctrl.RemoveDir(path)
}

// Status delegates to fs's Controller.
func (m *Manager) Status(fs, path string) ([]byte, error) {
	ctrl, err := m.controller(fs)
	if err != nil {
		return nil, err
	}
	return ctrl.Status(path)
}

// Summary delegates to fs's Controller.
func (m *Manager) Summary(fs string) ([]byte, error) {
	ctrl, err := m.controller(fs)
	if err != nil {
		return nil, err
	}
	return ctrl.Summary()
}

// ShowDistribution delegates to fs's Controller.
func (m *Manager) ShowDistribution(fs string) ([]byte, error) {
	ctrl, err := m.controller(fs)
	if err != nil {
		return nil, err
	}
	return ctrl.ShowDistribution()
}

// PeerAdd delegates to fs's Controller.
func (m *Manager) PeerAdd(fs, remoteSpec, remoteFSName, remoteClusterID string) (mirror.Peer, error) {
	ctrl, err := m.controller(fs)
	if err != nil {
		return mirror.Peer{}, err
	}
	return ctrl.PeerAdd(remoteSpec, remoteFSName, remoteClusterID)
}

// PeerRemove delegates to fs's Controller.
func (m *Manager) PeerRemove(fs, peerUUID string) error {
	ctrl, err := m.controller(fs)
	if err != nil {
		return err
	}
	return ctrl.PeerRemove(peerUUID)
}

// Shutdown stops every enabled filesystem's Controller and closes its
// object (without destroying it; the data survives a process restart,
// unlike DisableMirror).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, ctrl := range m.controllers {
		controllers = append(controllers, ctrl)
	}
	dbs := make([]*store.DB, 0, len(m.dbs))
	for _, db := range m.dbs {
		dbs = append(dbs, db)
	}
	m.controllers = make(map[string]*Controller)
	m.dbs = make(map[string]*store.DB)
	m.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Shutdown()
	}
	for _, db := range dbs {
		db.Close()
	}
	m.broker.Stop()
	metrics.UpdateComponent("store", false, "engine shut down")
	metrics.UpdateComponent("coordinator", false, "engine shut down")
}
