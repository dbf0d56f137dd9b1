package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aresa/glimpse/internal/protocol"
)

// ConnectedPlugin is one live plugin bridge. The supervisor creates an entry
// when the process comes up and removes it when the bridge tears down; the
// router fills in metadata when the authenticate handshake arrives.
type ConnectedPlugin struct {
	// SlotID names the bridge independent of authentication, derived from
	// the executable. It keys the registry so a restarted process replaces
	// its predecessor's entry.
	SlotID string

	// Fingerprint is the blake3 digest of the plugin executable, computed
	// at discovery time.
	Fingerprint string

	// Out is the plugin's dedicated bounded outbound channel. The stdin
	// bridge is its only consumer.
	Out chan *protocol.Message

	meta atomic.Pointer[protocol.Metadata]
}

// NewConnectedPlugin creates an entry with an outbound channel of the given
// capacity.
func NewConnectedPlugin(slotID, fingerprint string, buffer int) *ConnectedPlugin {
	return &ConnectedPlugin{
		SlotID:      slotID,
		Fingerprint: fingerprint,
		Out:         make(chan *protocol.Message, buffer),
	}
}

// SetMetadata records the authenticate handshake.
func (p *ConnectedPlugin) SetMetadata(m protocol.Metadata) {
	p.meta.Store(&m)
}

// Metadata returns the declared identity, or nil before authentication.
func (p *ConnectedPlugin) Metadata() *protocol.Metadata {
	return p.meta.Load()
}

// Authenticated reports whether the handshake has arrived.
func (p *ConnectedPlugin) Authenticated() bool {
	return p.meta.Load() != nil
}

// ID returns the stable routing id: the declared metadata id once
// authenticated, the slot id before that.
func (p *ConnectedPlugin) ID() string {
	if m := p.meta.Load(); m != nil {
		return m.ID
	}
	return p.SlotID
}

// Send enqueues msg without blocking. A full channel means the stdin bridge
// is stuck or gone; the caller logs and moves on, isolated from other
// plugins.
func (p *ConnectedPlugin) Send(msg *protocol.Message) error {
	select {
	case p.Out <- msg:
		return nil
	default:
		return fmt.Errorf("outbound channel for %s is full", p.SlotID)
	}
}

// Registry tracks connected plugins behind its own lock, held only for
// map reads and writes.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*ConnectedPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*ConnectedPlugin)}
}

// Add registers a plugin bridge by slot id, replacing any previous entry
// for the same slot (a restarted process).
func (r *Registry) Add(p *ConnectedPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.SlotID] = p
}

// Remove drops the entry for slotID if it is still the given plugin.
// A restart may already have replaced it; the stale teardown must not
// remove the successor.
func (r *Registry) Remove(p *ConnectedPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.plugins[p.SlotID]; ok && cur == p {
		delete(r.plugins, p.SlotID)
	}
}

// Get returns the plugin for a slot id.
func (r *Registry) Get(slotID string) (*ConnectedPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[slotID]
	return p, ok
}

// Find resolves a routing id: an authenticated metadata id first, a slot id
// as a fallback.
func (r *Registry) Find(id string) (*ConnectedPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if m := p.Metadata(); m != nil && m.ID == id {
			return p, true
		}
	}
	p, ok := r.plugins[id]
	return p, ok
}

// All returns a snapshot of the connected plugins.
func (r *Registry) All() []*ConnectedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConnectedPlugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	return out
}
