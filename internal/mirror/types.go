// Package mirror holds the data model shared by every component of the
// snapshot-mirror policy engine: directory entries, instance records,
// per-directory FSM states, policy actions, and the errno-carrying
// error type used at the management surface.
package mirror

import "time"

// InstancePrefix is the fixed prefix every instance_id begins with.
const InstancePrefix = "mirror-"

// State is a per-directory FSM state (spec.md §4.5).
type State int

const (
	StateIdle State = iota
	StatePendingMap
	StatePendingAcquire
	StateAcquired
	StatePendingRelease
	StatePendingPurgeMap
	StatePendingRemove
	StateGone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingMap:
		return "pending_map"
	case StatePendingAcquire:
		return "pending_acquire"
	case StateAcquired:
		return "acquired"
	case StatePendingRelease:
		return "pending_release"
	case StatePendingPurgeMap:
		return "pending_purge_map"
	case StatePendingRemove:
		return "pending_remove"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// ActionType is the outcome of Policy.StartAction for one directory
// (spec.md §4.4).
type ActionType int

const (
	ActionNone ActionType = iota
	ActionMapUpdate
	ActionMapRemove
	ActionAcquire
	ActionRelease
)

func (a ActionType) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionMapUpdate:
		return "map_update"
	case ActionMapRemove:
		return "map_remove"
	case ActionAcquire:
		return "acquire"
	case ActionRelease:
		return "release"
	default:
		return "unknown"
	}
}

// DirEntry is the directory-map record of spec.md §3.
type DirEntry struct {
	Path       string
	InstanceID string
	MappedTime time.Time
	Purging    bool
	Version    int
	State      State
}

// ToUpdate returns a copy suitable for a durable write, always carrying
// the Purging bit forward so a reassignment write can never accidentally
// clear a directory's drain status (SPEC_FULL §11).
func (e DirEntry) ToUpdate() DirEntry {
	return DirEntry{
		Path:       e.Path,
		InstanceID: e.InstanceID,
		MappedTime: e.MappedTime,
		Purging:    e.Purging,
		Version:    e.Version + 1,
		State:      e.State,
	}
}

// Instance is the instance-map record of spec.md §3.
type Instance struct {
	ID      string
	Addr    string
	Version int
}

// NotifyMode is the acquire/release mode carried in a notify payload.
type NotifyMode string

const (
	ModeAcquire NotifyMode = "acquire"
	ModeRelease NotifyMode = "release"
)

// Notification is the UTF-8 JSON payload of spec.md §6.
type Notification struct {
	DirPath string     `json:"dir_path"`
	Mode    NotifyMode `json:"mode"`
}

// Peer is a mirror peer filesystem, the target of peer_add/peer_remove.
type Peer struct {
	UUID         string
	ClusterID    string
	RemoteFSName string
	RemoteSpec   string // client.<name>@<cluster>
}
