package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	instances map[string]mirror.Instance
}

func (f *fakeSource) LoadInstances() (map[string]mirror.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]mirror.Instance, len(f.instances))
	for k, v := range f.instances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) set(instances map[string]mirror.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances = instances
}

func TestWatcher_ReportsAddedAndRemoved(t *testing.T) {
	src := &fakeSource{instances: map[string]mirror.Instance{
		"mirror-A": {ID: "mirror-A", Addr: "10.0.0.1:6800"},
	}}

	var mu sync.Mutex
	var deltas []Delta
	w := New(src, 10*time.Millisecond, src.instances, func(d Delta) {
		mu.Lock()
		deltas = append(deltas, d)
		mu.Unlock()
	})
	w.Start()
	defer w.Stop()

	src.set(map[string]mirror.Instance{
		"mirror-B": {ID: "mirror-B", Addr: "10.0.0.2:6800"},
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deltas) >= 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "10.0.0.2:6800", deltas[0].Added["mirror-B"])
	assert.Equal(t, "10.0.0.1:6800", deltas[0].Removed["mirror-A"])
}

func TestWatcher_NoCallbacksAfterStop(t *testing.T) {
	src := &fakeSource{instances: map[string]mirror.Instance{}}
	var calls int
	var mu sync.Mutex
	w := New(src, 5*time.Millisecond, nil, func(d Delta) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	w.Start()
	src.set(map[string]mirror.Instance{"mirror-A": {ID: "mirror-A", Addr: "x"}})
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	mu.Lock()
	seen := calls
	mu.Unlock()

	src.set(map[string]mirror.Instance{})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, calls, "no callback should fire after Stop returns")
}
