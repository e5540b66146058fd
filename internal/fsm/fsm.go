// Package fsm is the per-directory State Machine Driver of spec.md
// §4.5. It couples the in-memory Directory Map with the pure Policy
// functions to decide, for each tracked path, the next durable-write or
// notify action, and to advance the path's FSM state when that action's
// result comes back.
package fsm

import (
	"github.com/cuemby/fsmirror/internal/dirmap"
	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/cuemby/fsmirror/internal/policy"
)

// Driver advances one filesystem's directory FSMs. It holds no lock of
// its own — every call is expected to happen on the owning engine's
// single goroutine.
type Driver struct {
	dirs *dirmap.Map
}

// New returns a Driver over dirs.
func New(dirs *dirmap.Map) *Driver {
	return &Driver{dirs: dirs}
}

// StartAction decides the next action for path and, where the decision
// itself is a state transition (Idle's instance selection, entering a
// purge), applies it to the Directory Map before returning.
func (d *Driver) StartAction(path string) mirror.ActionType {
	entry, ok := d.dirs.Lookup(path)
	if !ok {
		return mirror.ActionNone
	}

	if entry.Purging {
		switch entry.State {
		case mirror.StateIdle, mirror.StatePendingMap, mirror.StatePendingAcquire, mirror.StateAcquired:
			d.dirs.SetState(path, mirror.StatePendingPurgeMap)
			return mirror.ActionMapUpdate
		case mirror.StatePendingPurgeMap:
			return mirror.ActionMapUpdate
		case mirror.StatePendingRelease:
			return mirror.ActionRelease
		case mirror.StatePendingRemove:
			return mirror.ActionMapRemove
		default: // Gone
			return mirror.ActionNone
		}
	}

	switch entry.State {
	case mirror.StateIdle:
		instID := policy.SelectInstance(d.dirs.Instances(), policy.LoadCounts(d.dirs.Snapshot()))
		if instID == "" {
			return mirror.ActionNone
		}
		d.dirs.Assign(path, instID)
		d.dirs.SetState(path, mirror.StatePendingMap)
		return mirror.ActionMapUpdate
	case mirror.StatePendingMap:
		return mirror.ActionMapUpdate
	case mirror.StatePendingAcquire:
		return mirror.ActionAcquire
	case mirror.StateAcquired:
		return mirror.ActionNone
	case mirror.StatePendingRelease:
		return mirror.ActionRelease
	case mirror.StatePendingRemove:
		return mirror.ActionMapRemove
	default: // Gone
		return mirror.ActionNone
	}
}

// FinishAction acknowledges the completion of the action most recently
// returned by StartAction for path, advances the FSM, and reports
// whether path should be re-enqueued immediately (progress is possible
// without external input) per spec.md §4.5.
func (d *Driver) FinishAction(path string, success bool) bool {
	entry, ok := d.dirs.Lookup(path)
	if !ok {
		return false
	}

	if entry.Purging {
		switch entry.State {
		case mirror.StatePendingPurgeMap:
			if success {
				d.dirs.SetState(path, mirror.StatePendingRelease)
			}
			return true // retry the write, or proceed to release
		case mirror.StatePendingRelease:
			if success {
				d.dirs.SetState(path, mirror.StatePendingRemove)
			}
			return true // retry the release, or proceed to the map removal
		case mirror.StatePendingRemove:
			if success {
				d.dirs.SetState(path, mirror.StateGone)
				d.dirs.Evict(path)
				return false
			}
			return true // retry the removal write
		}
		return false
	}

	switch entry.State {
	case mirror.StatePendingMap:
		if success {
			d.dirs.SetState(path, mirror.StatePendingAcquire)
			return true
		}
		// durable write failure: revert the tentative assignment and
		// requeue; the throttle interval already rate-limits the retry.
		d.dirs.Unassign(path)
		d.dirs.SetState(path, mirror.StateIdle)
		return true
	case mirror.StatePendingAcquire:
		if success {
			d.dirs.SetState(path, mirror.StateAcquired)
			return false
		}
		return true // re-notify on the next tick
	case mirror.StatePendingRelease:
		// instance_lost release: proceed on ack or on timeout alike,
		// there is nothing to gain waiting on a departed instance.
		d.dirs.Unassign(path)
		d.dirs.SetState(path, mirror.StateIdle)
		return true
	}
	return false
}

// MarkInstanceLost transitions path off an instance that the Instance
// Watcher has reported departed, without waiting for StartAction to be
// called again. It returns whether path needs to be (re-)enqueued.
func (d *Driver) MarkInstanceLost(path string) bool {
	entry, ok := d.dirs.Lookup(path)
	if !ok {
		return false
	}
	switch entry.State {
	case mirror.StateAcquired:
		d.dirs.SetState(path, mirror.StatePendingRelease)
		return true
	case mirror.StatePendingMap, mirror.StatePendingAcquire:
		// never finished acquiring on the departed instance; nothing to
		// release, just restart the assignment (or head straight for
		// removal if a purge was already requested).
		if entry.Purging {
			d.dirs.SetState(path, mirror.StatePendingRemove)
		} else {
			d.dirs.Unassign(path)
			d.dirs.SetState(path, mirror.StateIdle)
		}
		return true
	default:
		return false // already draining or terminal; nothing new to do
	}
}

// Rebalance voluntarily moves an Acquired, non-purging path off its
// current instance so the next Idle selection can land it on a more
// lightly loaded one. Unlike MarkInstanceLost the old instance is still
// live, so this only applies to paths actually at rest in Acquired.
func (d *Driver) Rebalance(path string) bool {
	entry, ok := d.dirs.Lookup(path)
	if !ok || entry.Purging || entry.State != mirror.StateAcquired {
		return false
	}
	d.dirs.SetState(path, mirror.StatePendingRelease)
	return true
}
