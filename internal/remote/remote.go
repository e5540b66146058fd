// Package remote stamps and unstamps the mirroring marker on a peer
// filesystem's root (spec.md §4.7, §11): peer_add writes the marker
// before the peer is tracked, peer_remove clears it before the peer is
// forgotten. The real marker is a filesystem extended attribute on the
// peer cluster's mount; this package defines the narrow interface the
// engine depends on plus a process-local stub used until a real CephFS
// client binding is wired in.
package remote

import (
	"fmt"
	"strings"
	"sync"
)

// Stamper marks a remote filesystem as an active mirror target, or
// clears that mark once the peer is removed.
type Stamper interface {
	Stamp(spec, remoteFSName string) error
	Unstamp(spec, remoteFSName string) error
}

// MemStamper is a process-local Stamper standing in for the real xattr
// binding. It tracks stamped (spec, fs) pairs in memory; a repeat stamp
// of the same pair succeeds, and an unstamp of a pair never stamped is a
// no-op (remove-if-present).
type MemStamper struct {
	mu      sync.Mutex
	stamped map[string]bool
}

// NewMemStamper returns an empty MemStamper.
func NewMemStamper() *MemStamper {
	return &MemStamper{stamped: make(map[string]bool)}
}

func key(spec, remoteFSName string) string {
	return spec + "/" + remoteFSName
}

// Stamp marks (spec, remoteFSName) as mirrored. It is idempotent: a
// repeat Stamp of the same pair succeeds.
func (m *MemStamper) Stamp(spec, remoteFSName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamped[key(spec, remoteFSName)] = true
	return nil
}

// Unstamp clears the mirroring marker. Unstamping a pair that was never
// stamped is a no-op, matching "remove xattr if present".
func (m *MemStamper) Unstamp(spec, remoteFSName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stamped, key(spec, remoteFSName))
	return nil
}

// IsStamped reports whether (spec, remoteFSName) currently carries the
// marker. Exposed for tests and status reporting.
func (m *MemStamper) IsStamped(spec, remoteFSName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stamped[key(spec, remoteFSName)]
}

// ValidateSpec checks the client.<name>@<cluster> shape of a remote
// spec string (spec.md §11) without attempting to reach it.
func ValidateSpec(spec string) error {
	if spec == "" {
		return fmt.Errorf("remote spec must not be empty")
	}
	name, cluster, ok := strings.Cut(spec, "@")
	if !ok || !strings.HasPrefix(name, "client.") || len(name) == len("client.") || cluster == "" {
		return fmt.Errorf("remote spec %q must have the form client.<name>@<cluster>", spec)
	}
	return nil
}
