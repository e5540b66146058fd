package policy

import (
	"testing"

	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/stretchr/testify/assert"
)

func instances(ids ...string) map[string]mirror.Instance {
	out := make(map[string]mirror.Instance, len(ids))
	for _, id := range ids {
		out[id] = mirror.Instance{ID: id, Addr: id + ":6800", Version: 1}
	}
	return out
}

func TestSelectInstance_Empty(t *testing.T) {
	assert.Equal(t, "", SelectInstance(nil, nil))
}

func TestSelectInstance_PicksLeastLoaded(t *testing.T) {
	inst := instances("mirror-A", "mirror-B")
	load := map[string]int{"mirror-A": 3, "mirror-B": 1}
	assert.Equal(t, "mirror-B", SelectInstance(inst, load))
}

func TestSelectInstance_TieBreaksDeterministically(t *testing.T) {
	inst := instances("mirror-B", "mirror-A")
	assert.Equal(t, "mirror-A", SelectInstance(inst, nil))
}

func TestOrphaned_ReturnsPathsOnDepartedInstances(t *testing.T) {
	entries := map[string]mirror.DirEntry{
		"/a": {Path: "/a", InstanceID: "mirror-A"},
		"/b": {Path: "/b", InstanceID: "mirror-B"},
		"/c": {Path: "/c", InstanceID: ""},
	}
	live := instances("mirror-B")
	assert.Equal(t, []string{"/a"}, Orphaned(entries, live))
}

func TestRebalance_NoopBelowTwoInstances(t *testing.T) {
	entries := map[string]mirror.DirEntry{"/a": {Path: "/a", InstanceID: "mirror-A"}}
	assert.Nil(t, Rebalance(entries, instances("mirror-A")))
}

func TestRebalance_SkipsPurgingEntries(t *testing.T) {
	entries := map[string]mirror.DirEntry{
		"/a": {Path: "/a", InstanceID: "mirror-A", Purging: true},
		"/b": {Path: "/b", InstanceID: "mirror-A", Purging: true},
	}
	moves := Rebalance(entries, instances("mirror-A", "mirror-B"))
	assert.Nil(t, moves)
}

func TestRebalance_MovesOneFromMostLoaded(t *testing.T) {
	entries := map[string]mirror.DirEntry{
		"/a": {Path: "/a", InstanceID: "mirror-A"},
		"/b": {Path: "/b", InstanceID: "mirror-A"},
		"/c": {Path: "/c", InstanceID: "mirror-A"},
	}
	moves := Rebalance(entries, instances("mirror-A", "mirror-B"))
	assert.Len(t, moves, 1)
	for path, target := range moves {
		assert.Contains(t, entries, path)
		assert.Equal(t, "mirror-B", target)
	}
}
