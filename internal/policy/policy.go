// Package policy implements the pure assignment logic of spec.md §4.4:
// given tracked directories and the live instance set, decide which
// instance should own each unassigned or orphaned directory, and which
// paths a newly added instance should take over from a rebalance.
//
// Every function here is a pure function of its arguments — no I/O, no
// locking, no mutation of shared state — so it is trivially testable
// and safe to call from the coordinator's tick on the engine's owning
// goroutine without risking a blocking call.
package policy

import (
	"sort"

	"github.com/cuemby/fsmirror/internal/mirror"
)

// SelectInstance picks the least-loaded live instance for path,
// breaking ties on instance ID for determinism. Returns "" if no
// instance is live. Grounded on the teacher's scheduler.selectNode.
func SelectInstance(instances map[string]mirror.Instance, load map[string]int) string {
	if len(instances) == 0 {
		return ""
	}
	ids := make([]string, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestLoad := -1
	for _, id := range ids {
		count := load[id]
		if bestLoad == -1 || count < bestLoad {
			bestLoad = count
			best = id
		}
	}
	return best
}

// LoadCounts returns, per instance, the number of non-purging entries
// currently assigned to it.
func LoadCounts(entries map[string]mirror.DirEntry) map[string]int {
	load := make(map[string]int)
	for _, e := range entries {
		if e.InstanceID != "" && !e.Purging {
			load[e.InstanceID]++
		}
	}
	return load
}

// Rebalance computes a minimal set of path -> new-instance moves to
// shift load onto a newly added instance (DESIGN.md, Open Question
// (a)): it moves paths, one at a time, from the single most-loaded live
// instance to the least-loaded one, stopping once the two are within
// one of each other or the candidate is empty. Purging entries are
// never selected (I2). Returns nil if no move is warranted.
func Rebalance(entries map[string]mirror.DirEntry, instances map[string]mirror.Instance) map[string]string {
	if len(instances) < 2 {
		return nil
	}
	load := LoadCounts(entries)

	mostLoaded, mostCount := "", -1
	ids := make([]string, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if load[id] > mostCount {
			mostCount = load[id]
			mostLoaded = id
		}
	}

	leastLoaded := SelectInstance(instances, load)
	if mostLoaded == "" || leastLoaded == "" || mostLoaded == leastLoaded {
		return nil
	}
	if mostCount-load[leastLoaded] <= 1 {
		return nil
	}

	paths := make([]string, 0)
	for p, e := range entries {
		if e.InstanceID == mostLoaded && !e.Purging {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil
	}

	moves := make(map[string]string)
	leastCount := load[leastLoaded]
	for _, p := range paths {
		if mostCount-leastCount <= 1 {
			break
		}
		moves[p] = leastLoaded
		mostCount--
		leastCount++
	}
	return moves
}

// Orphaned returns the tracked, non-purging paths currently assigned to
// an instance that is no longer live — spec.md §4.4's removal draining.
func Orphaned(entries map[string]mirror.DirEntry, instances map[string]mirror.Instance) []string {
	var out []string
	for p, e := range entries {
		if e.InstanceID == "" || e.Purging {
			continue
		}
		if _, live := instances[e.InstanceID]; !live {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
