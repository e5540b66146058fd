// Package dirmap is the in-memory authoritative mapping of tracked
// directories and live instances (spec.md §4.3). Every operation is
// synchronous and expected to be called on the owning engine's single
// goroutine — dirmap itself does no locking.
package dirmap

import (
	"time"

	"github.com/cuemby/fsmirror/internal/mirror"
)

// Map is the Directory Map component.
type Map struct {
	dirs      map[string]*mirror.DirEntry
	instances map[string]*mirror.Instance
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		dirs:      make(map[string]*mirror.DirEntry),
		instances: make(map[string]*mirror.Instance),
	}
}

// Lookup returns a copy of the entry for path, or a zero DirEntry and
// false if path is not tracked.
func (m *Map) Lookup(path string) (mirror.DirEntry, bool) {
	e, ok := m.dirs[path]
	if !ok {
		return mirror.DirEntry{}, false
	}
	return *e, true
}

// Add creates a new tracked entry in Idle state. Fails with AlreadyExists
// if present, RemovalInProgress if present and purging.
func (m *Map) Add(path string) error {
	if e, ok := m.dirs[path]; ok {
		if e.Purging {
			return mirror.RemovalInProgress("remove in-progress for %s", path)
		}
		return mirror.AlreadyExists("directory %s is already tracked", path)
	}
	m.dirs[path] = &mirror.DirEntry{
		Path:       path,
		InstanceID: "",
		MappedTime: time.Time{},
		Purging:    false,
		Version:    0,
		State:      mirror.StateIdle,
	}
	return nil
}

// StartRemove marks path as purging. Fails with NotFound if untracked,
// InvalidArgument if already purging.
func (m *Map) StartRemove(path string) error {
	e, ok := m.dirs[path]
	if !ok {
		return mirror.NotFound("directory %s is not tracked", path)
	}
	if e.Purging {
		return mirror.InvalidArgument("directory %s is under removal", path)
	}
	e.Purging = true
	return nil
}

// Evict removes path entirely (terminal for a remove_dir).
func (m *Map) Evict(path string) {
	delete(m.dirs, path)
}

// Assign sets the instance owning path and bumps the mapped_time.
func (m *Map) Assign(path, instanceID string) {
	e, ok := m.dirs[path]
	if !ok {
		return
	}
	e.InstanceID = instanceID
	e.MappedTime = time.Now()
}

// Unassign clears the owning instance, keeping the entry (used when a
// directory is about to be reassigned after its instance departed).
func (m *Map) Unassign(path string) {
	e, ok := m.dirs[path]
	if !ok {
		return
	}
	e.InstanceID = ""
}

// SetState updates the FSM state of an entry.
func (m *Map) SetState(path string, s mirror.State) {
	if e, ok := m.dirs[path]; ok {
		e.State = s
	}
}

// BumpVersion increments the version stamp, returning the new value.
func (m *Map) BumpVersion(path string) int {
	e, ok := m.dirs[path]
	if !ok {
		return 0
	}
	e.Version++
	return e.Version
}

// Paths returns every tracked path, in no particular order.
func (m *Map) Paths() []string {
	paths := make([]string, 0, len(m.dirs))
	for p := range m.dirs {
		paths = append(paths, p)
	}
	return paths
}

// Snapshot returns a copy of every tracked entry, keyed by path.
func (m *Map) Snapshot() map[string]mirror.DirEntry {
	out := make(map[string]mirror.DirEntry, len(m.dirs))
	for p, e := range m.dirs {
		out[p] = *e
	}
	return out
}

// LoadDirectoryMap replaces the in-memory map wholesale, used by
// Controller.Init to seed from persisted state.
func (m *Map) LoadDirectoryMap(entries map[string]mirror.DirEntry) {
	m.dirs = make(map[string]*mirror.DirEntry, len(entries))
	for p, e := range entries {
		cp := e
		m.dirs[p] = &cp
	}
}

// AddInstance records a newly observed live instance.
func (m *Map) AddInstance(id, addr string) {
	m.instances[id] = &mirror.Instance{ID: id, Addr: addr, Version: 1}
}

// RemoveInstance forgets an instance, returning its address (or "" if
// it was already absent).
func (m *Map) RemoveInstance(id string) string {
	inst, ok := m.instances[id]
	if !ok {
		return ""
	}
	delete(m.instances, id)
	return inst.Addr
}

// HasInstance reports whether id is currently live.
func (m *Map) HasInstance(id string) bool {
	_, ok := m.instances[id]
	return ok
}

// Instances returns a copy of the live instance set.
func (m *Map) Instances() map[string]mirror.Instance {
	out := make(map[string]mirror.Instance, len(m.instances))
	for id, inst := range m.instances {
		out[id] = *inst
	}
	return out
}

// LoadInstances replaces the in-memory instance set wholesale.
func (m *Map) LoadInstances(instances map[string]mirror.Instance) {
	m.instances = make(map[string]*mirror.Instance, len(instances))
	for id, inst := range instances {
		cp := inst
		m.instances[id] = &cp
	}
}
