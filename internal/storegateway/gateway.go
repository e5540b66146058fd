// Package storegateway is the Store Gateway of spec.md §4.1: it reads
// and writes the persisted directory/instance maps on the well-known
// object, issues blocklist commands, and carries acquire/release
// notifications to workers. Every asynchronous completion — a durable
// write finishing, a notify ack or timeout arriving — is routed through
// a single Finisher so callbacks never race each other or the Update
// Coordinator's batching pass.
package storegateway

import (
	"encoding/json"

	"github.com/cuemby/fsmirror/internal/mirror"
	"github.com/cuemby/fsmirror/internal/store"
	"github.com/cuemby/fsmirror/pkg/events"
	"github.com/cuemby/fsmirror/pkg/metrics"
)

// Notifier delivers one acquire/release notification to the instance
// currently assigned to a path and reports the worker's result code (0
// = success) once it acks or times out. The concrete RADOS-style
// notify/watch binding is an external collaborator (spec.md §1); this
// is the narrow interface the engine depends on instead.
type Notifier interface {
	Notify(path string, mode mirror.NotifyMode, instanceID string) int
}

// Blocklister fences a departed instance's network address. Synchronous
// by contract (spec.md §4.1): the engine must not proceed with
// reassignment until it returns.
type Blocklister interface {
	Blocklist(addr string) error
}

// Gateway is the Store Gateway component.
type Gateway struct {
	fsName      string
	db          *store.DB
	notifier    Notifier
	blocklister Blocklister
	broker      *events.Broker
	finisher    *Finisher
}

// New wires a Gateway over an already-open object and the engine's
// pluggable notify/blocklist collaborators.
func New(fsName string, db *store.DB, notifier Notifier, blocklister Blocklister, broker *events.Broker) *Gateway {
	return &Gateway{
		fsName:      fsName,
		db:          db,
		notifier:    notifier,
		blocklister: blocklister,
		broker:      broker,
		finisher:    NewFinisher(),
	}
}

// LoadDirectoryMap reads every tracked directory entry from the object.
func (g *Gateway) LoadDirectoryMap() (map[string]mirror.DirEntry, error) {
	return g.db.LoadDirectoryMap()
}

// LoadInstances reads the instance map from the object.
func (g *Gateway) LoadInstances() (map[string]mirror.Instance, error) {
	return g.db.LoadInstances()
}

// ApplyDirectoryUpdate durably applies a batch of directory updates and
// removals, invoking onComplete asynchronously through the Finisher.
func (g *Gateway) ApplyDirectoryUpdate(updates map[string]mirror.DirEntry, removals []string, onComplete func(error)) {
	timer := metrics.NewTimer()
	go func() {
		err := g.db.ApplyDirectoryUpdate(updates, removals)
		timer.ObserveDurationVec(metrics.DirectoryWriteDuration, g.fsName)
		if err != nil {
			metrics.DirectoryWriteFailuresTotal.WithLabelValues(g.fsName).Inc()
		}
		g.finisher.Queue(func() { onComplete(err) })
	}()
}

// ApplyInstanceUpdate durably applies added/removed instances.
func (g *Gateway) ApplyInstanceUpdate(added map[string]mirror.Instance, removed []string, onComplete func(error)) {
	timer := metrics.NewTimer()
	go func() {
		err := g.db.ApplyInstanceUpdate(added, removed)
		timer.ObserveDurationVec(metrics.InstanceWriteDuration, g.fsName)
		g.finisher.Queue(func() { onComplete(err) })
	}()
}

// Notify publishes the JSON payload {dir_path, mode} on the notify
// channel (as the event's Message) and invokes
// onAck with the worker's result code once it acks or times out.
func (g *Gateway) Notify(path string, mode mirror.NotifyMode, instanceID string, onAck func(rc int)) {
	timer := metrics.NewTimer()
	payload, _ := json.Marshal(mirror.Notification{DirPath: path, Mode: mode})
	go func() {
		g.broker.Publish(&events.Event{
			Type:    notifyEventType(mode),
			Message: string(payload),
			Metadata: map[string]string{
				"dir_path":    path,
				"mode":        string(mode),
				"instance_id": instanceID,
			},
		})
		rc := g.notifier.Notify(path, mode, instanceID)
		timer.ObserveDurationVec(metrics.NotifyDuration, g.fsName, string(mode))
		if rc != 0 {
			metrics.NotifyFailuresTotal.WithLabelValues(g.fsName, string(mode)).Inc()
		}
		g.finisher.Queue(func() { onAck(rc) })
	}()
}

// Blocklist fences addr. Synchronous: the caller must not proceed with
// reassignment until this returns (I4).
func (g *Gateway) Blocklist(addr string) error {
	if err := g.blocklister.Blocklist(addr); err != nil {
		metrics.InstanceBlocklistTotal.WithLabelValues(g.fsName, "failure").Inc()
		return err
	}
	metrics.InstanceBlocklistTotal.WithLabelValues(g.fsName, "success").Inc()
	g.broker.Publish(&events.Event{Type: events.EventInstanceBlocklisted, Message: addr})
	return nil
}

// Stop drains the Finisher. Callers must only invoke this once no
// further async completions can arrive (async-op tracker at zero).
func (g *Gateway) Stop() {
	g.finisher.Stop()
}

func notifyEventType(mode mirror.NotifyMode) events.EventType {
	if mode == mirror.ModeAcquire {
		return events.EventDirAcquireRequested
	}
	return events.EventDirReleaseRequested
}
