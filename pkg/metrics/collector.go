package metrics

import "time"

// ManagerSource is the slice of engine.Manager the Collector polls.
// Declared here rather than imported so this leaf package never
// depends on the engine — callers pass their *engine.Manager, which
// satisfies this structurally.
type ManagerSource interface {
	Filesystems() []string
	Counts(fs string) (byState map[string]int, instances int, err error)
}

// Collector polls a ManagerSource on a fixed interval to refresh the
// gauges that reflect point-in-time state rather than discrete events
// (directory counts by FSM state, live instance counts).
type Collector struct {
	manager ManagerSource
	stopCh  chan struct{}
}

// NewCollector builds a Collector over mgr.
func NewCollector(mgr ManagerSource) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, fs := range c.manager.Filesystems() {
		byState, instances, err := c.manager.Counts(fs)
		if err != nil {
			continue
		}
		for _, state := range allStates {
			DirectoriesTotal.WithLabelValues(fs, state).Set(float64(byState[state]))
		}
		InstancesTotal.WithLabelValues(fs).Set(float64(instances))
	}
}

// allStates lists every mirror.State string value a tracked entry can
// hold ("gone" entries are evicted at once, so it is omitted) so a state that has
// dropped to zero directories still reports 0 instead of going stale
// at its last nonzero reading.
var allStates = []string{
	"idle",
	"pending_map",
	"pending_acquire",
	"acquired",
	"pending_release",
	"pending_purge_map",
	"pending_remove",
}
