package fsm

import (
	"testing"

	"github.com/cuemby/fsmirror/internal/dirmap"
	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*dirmap.Map, *Driver) {
	t.Helper()
	dirs := dirmap.New()
	dirs.AddInstance("mirror-A", "10.0.0.1:6800")
	require.NoError(t, dirs.Add("/a"))
	return dirs, New(dirs)
}

func TestStartAction_IdleAssignsInstanceAndMoveToPendingMap(t *testing.T) {
	dirs, d := setup(t)

	action := d.StartAction("/a")
	assert.Equal(t, mirror.ActionMapUpdate, action)

	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, "mirror-A", entry.InstanceID)
	assert.Equal(t, mirror.StatePendingMap, entry.State)
}

func TestStartAction_IdleWithNoLiveInstance(t *testing.T) {
	dirs := dirmap.New()
	require.NoError(t, dirs.Add("/a"))
	d := New(dirs)

	assert.Equal(t, mirror.ActionNone, d.StartAction("/a"))
	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StateIdle, entry.State)
}

func TestFullAcquireLifecycle(t *testing.T) {
	dirs, d := setup(t)

	require.Equal(t, mirror.ActionMapUpdate, d.StartAction("/a"))
	require.True(t, d.FinishAction("/a", true))

	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StatePendingAcquire, entry.State)

	assert.Equal(t, mirror.ActionAcquire, d.StartAction("/a"))
	assert.False(t, d.FinishAction("/a", true))

	entry, _ = dirs.Lookup("/a")
	assert.Equal(t, mirror.StateAcquired, entry.State)
	assert.Equal(t, mirror.ActionNone, d.StartAction("/a"))
}

func TestMapWriteFailure_RevertsAndRequeues(t *testing.T) {
	dirs, d := setup(t)
	require.Equal(t, mirror.ActionMapUpdate, d.StartAction("/a"))

	assert.True(t, d.FinishAction("/a", false))
	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StateIdle, entry.State)
	assert.Equal(t, "", entry.InstanceID)
}

func TestAcquireNack_Retries(t *testing.T) {
	dirs, d := setup(t)
	d.StartAction("/a")
	d.FinishAction("/a", true) // -> PendingAcquire

	assert.True(t, d.FinishAction("/a", false))
	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StatePendingAcquire, entry.State)
	assert.Equal(t, mirror.ActionAcquire, d.StartAction("/a"))
}

func TestInstanceLost_ReassignsFromAcquired(t *testing.T) {
	dirs, d := setup(t)
	d.StartAction("/a")
	d.FinishAction("/a", true) // PendingAcquire
	d.StartAction("/a")
	d.FinishAction("/a", true) // Acquired

	dirs.RemoveInstance("mirror-A") // the watcher reported mirror-A departed
	require.True(t, d.MarkInstanceLost("/a"))
	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StatePendingRelease, entry.State)
	assert.Equal(t, "mirror-A", entry.InstanceID) // release target still addressable

	assert.Equal(t, mirror.ActionRelease, d.StartAction("/a"))
	assert.True(t, d.FinishAction("/a", false)) // timeout still advances
	entry, _ = dirs.Lookup("/a")
	assert.Equal(t, mirror.StateIdle, entry.State)
	assert.Equal(t, "", entry.InstanceID)

	dirs.AddInstance("mirror-B", "10.0.0.2:6800")
	assert.Equal(t, mirror.ActionMapUpdate, d.StartAction("/a"))
	entry, _ = dirs.Lookup("/a")
	assert.Equal(t, "mirror-B", entry.InstanceID)
}

func TestPurgeFromAcquired_NeverReassigns(t *testing.T) {
	dirs, d := setup(t)
	d.StartAction("/a")
	d.FinishAction("/a", true)
	d.StartAction("/a")
	d.FinishAction("/a", true) // Acquired

	require.NoError(t, dirs.StartRemove("/a"))

	assert.Equal(t, mirror.ActionMapUpdate, d.StartAction("/a")) // -> PendingPurgeMap
	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StatePendingPurgeMap, entry.State)
	assert.Equal(t, "mirror-A", entry.InstanceID, "purging entries must not be unassigned/reassigned (I2)")

	require.True(t, d.FinishAction("/a", true)) // -> PendingRelease
	assert.Equal(t, mirror.ActionRelease, d.StartAction("/a"))
	require.True(t, d.FinishAction("/a", true)) // -> PendingRemove
	assert.Equal(t, mirror.ActionMapRemove, d.StartAction("/a"))

	assert.False(t, d.FinishAction("/a", true)) // -> Gone, evicted
	_, ok := dirs.Lookup("/a")
	assert.False(t, ok)
}

func TestPurgeRelease_RetriesUntilAck(t *testing.T) {
	dirs, d := setup(t)
	d.StartAction("/a")
	d.FinishAction("/a", true)
	d.StartAction("/a")
	d.FinishAction("/a", true) // Acquired
	require.NoError(t, dirs.StartRemove("/a"))
	d.StartAction("/a")
	d.FinishAction("/a", true) // PendingRelease

	assert.True(t, d.FinishAction("/a", false)) // nack: retry, not proceed
	entry, _ := dirs.Lookup("/a")
	assert.Equal(t, mirror.StatePendingRelease, entry.State)
}
