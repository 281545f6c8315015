// Package registry implements the process-local metadata registry: a
// key/value store attached to each transport instance, used for
// introspection (protocol stack, peer address) by third parties. Reads
// return snapshot copies; writes are only ever issued by the owning
// transport instance. Locking is a registry-wide RWMutex around the entry
// map plus one mutex per entry, both held for short critical sections with
// no callback ever invoked while held.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// ID identifies one transport instance in the registry.
type ID = uuid.UUID

// NewID mints a fresh, process-unique instance identifier.
func NewID() ID {
	return uuid.New()
}

// StackEntry records one handler occupying the transport at some point in
// its life, and the Kind it was installed under.
type StackEntry struct {
	ModuleID string
	Kind     string
}

// AddrInfo is the local/peer multiaddr pair recorded once on connect or
// socket adoption.
type AddrInfo struct {
	Local string
	Peer  string
}

type entry struct {
	mu    sync.Mutex
	stack []StackEntry
	addr  AddrInfo
}

// Registry is a process-wide, concurrency-safe metadata table keyed by
// instance ID.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]*entry
}

// New returns an empty registry. Most callers should use Default instead.
func New() *Registry {
	return &Registry{entries: make(map[ID]*entry)}
}

var defaultRegistry = New()

// Default returns the process-wide registry used by transport.Start when
// no Registry is supplied explicitly.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) getOrCreate(id ID) *entry {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[id]; ok {
		return e
	}
	e = &entry{}
	r.entries[id] = e
	return e
}

// AppendStack records a handler swap (or the initial handler installation)
// onto id's protocol stack.
func (r *Registry) AppendStack(id ID, moduleID string, kind string) {
	e := r.getOrCreate(id)
	e.mu.Lock()
	e.stack = append(e.stack, StackEntry{ModuleID: moduleID, Kind: kind})
	e.mu.Unlock()
}

// RelabelKind rewrites the Kind of every stack entry recorded so far for
// id, reflecting a SwapKind action.
func (r *Registry) RelabelKind(id ID, kind string) {
	e := r.getOrCreate(id)
	e.mu.Lock()
	for i := range e.stack {
		e.stack[i].Kind = kind
	}
	e.mu.Unlock()
}

// SetAddrInfo records id's local/peer multiaddr pair. Set once, on connect
// or socket adoption.
func (r *Registry) SetAddrInfo(id ID, info AddrInfo) {
	e := r.getOrCreate(id)
	e.mu.Lock()
	e.addr = info
	e.mu.Unlock()
}

// Stack returns a snapshot of id's protocol stack.
func (r *Registry) Stack(id ID) []StackEntry {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StackEntry, len(e.stack))
	copy(out, e.stack)
	return out
}

// AddrInfo returns id's recorded local/peer multiaddr pair.
func (r *Registry) AddrInfo(id ID) AddrInfo {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return AddrInfo{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Forget drops id's metadata entirely. Called when a transport instance
// terminates.
func (r *Registry) Forget(id ID) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}
