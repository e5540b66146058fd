package storegateway

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/cuemby/fsmirror/internal/store"
	"github.com/cuemby/fsmirror/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []mirror.NotifyMode
	rc    int
}

func (f *fakeNotifier) Notify(path string, mode mirror.NotifyMode, instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mode)
	return f.rc
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBlocklister struct {
	mu      sync.Mutex
	fenced  []string
	failErr error
}

func (f *fakeBlocklister) Blocklist(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.fenced = append(f.fenced, addr)
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeNotifier, *fakeBlocklister, *events.Broker) {
	t.Helper()
	db, err := store.Open(t.TempDir(), "cephfs")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	notifier := &fakeNotifier{}
	blocklister := &fakeBlocklister{}
	gw := New("cephfs", db, notifier, blocklister, broker)
	t.Cleanup(gw.Stop)
	return gw, notifier, blocklister, broker
}

func TestGateway_ApplyDirectoryUpdate_CompletesThroughFinisher(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)

	done := make(chan error, 1)
	gw.ApplyDirectoryUpdate(map[string]mirror.DirEntry{
		"/a": {Path: "/a", InstanceID: "mirror-A", Version: 1},
	}, nil, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("onComplete never called")
	}

	loaded, err := gw.LoadDirectoryMap()
	require.NoError(t, err)
	assert.Contains(t, loaded, "/a")
}

func TestGateway_ApplyInstanceUpdate_CompletesThroughFinisher(t *testing.T) {
	gw, _, _, _ := newTestGateway(t)

	done := make(chan error, 1)
	gw.ApplyInstanceUpdate(map[string]mirror.Instance{
		"mirror-A": {ID: "mirror-A", Addr: "10.0.0.1:6800"},
	}, nil, func(err error) { done <- err })

	require.NoError(t, <-done)

	loaded, err := gw.LoadInstances()
	require.NoError(t, err)
	assert.Contains(t, loaded, "mirror-A")
}

func TestGateway_Notify_PublishesAndAcks(t *testing.T) {
	gw, notifier, _, broker := newTestGateway(t)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	rcCh := make(chan int, 1)
	gw.Notify("/a", mirror.ModeAcquire, "mirror-A", func(rc int) { rcCh <- rc })

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventDirAcquireRequested, ev.Type)
		assert.Equal(t, "/a", ev.Metadata["dir_path"])
	case <-time.After(2 * time.Second):
		t.Fatal("notify event never published")
	}

	select {
	case rc := <-rcCh:
		assert.Equal(t, 0, rc)
	case <-time.After(2 * time.Second):
		t.Fatal("onAck never called")
	}
	assert.Equal(t, 1, notifier.count())
}

func TestGateway_Blocklist_PublishesOnSuccess(t *testing.T) {
	gw, _, blocklister, broker := newTestGateway(t)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	require.NoError(t, gw.Blocklist("10.0.0.1:6800"))
	assert.Equal(t, []string{"10.0.0.1:6800"}, blocklister.fenced)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventInstanceBlocklisted, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("blocklist event never published")
	}
}

func TestGateway_Blocklist_PropagatesFailure(t *testing.T) {
	gw, _, blocklister, _ := newTestGateway(t)
	blocklister.failErr = errors.New("fence refused")

	err := gw.Blocklist("10.0.0.1:6800")
	assert.ErrorIs(t, err, blocklister.failErr)
}

func TestExecBlocklister_NoCommandIsNoop(t *testing.T) {
	b := ExecBlocklister{}
	assert.NoError(t, b.Blocklist("10.0.0.1:6800"))
}

func TestExecBlocklister_RunsConfiguredCommand(t *testing.T) {
	b := ExecBlocklister{Command: []string{"true"}}
	assert.NoError(t, b.Blocklist("10.0.0.1:6800"))
}

func TestExecBlocklister_FailingCommandReturnsError(t *testing.T) {
	b := ExecBlocklister{Command: []string{"false"}}
	assert.Error(t, b.Blocklist("10.0.0.1:6800"))
}
