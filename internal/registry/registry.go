// Package registry tracks the live connections of the gateway so one
// connection can reach another by id, e.g. to hand over audio.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"capgate/internal/session"
	"capgate/internal/staging"
)

// Notifier queues a text message for a connected client.  Notify is
// called from other connections' goroutines and must not block on the
// client's writer.
type Notifier interface {
	Notify(msg string) error
}

// Entry is what other connections may see of a connection.
type Entry struct {
	Session *session.Session
	Area    *staging.Area
	Conn    Notifier
}

// ID returns the connection id.
func (e *Entry) ID() int { return e.Session.ID }

// Mode returns the connection's current mode.
func (e *Entry) Mode() session.Mode { return e.Session.Mode() }

// Config returns the options of the connection's current mode.
func (e *Entry) Config() session.Options { return e.Session.Config() }

// Registry maps connection ids to entries.  Ids come from a counter
// that starts at 0 and only grows, so an id is never handed out twice
// in the life of the process.
type Registry struct {
	next atomic.Int64

	mu      sync.RWMutex
	entries map[int]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[int]*Entry)}
}

// NextID reserves the next connection id.
func (r *Registry) NextID() int {
	return int(r.next.Add(1) - 1)
}

// Register publishes e under its session id, replacing nothing: ids are
// unique, so a second Register for the same id is a caller bug and
// returns false.
func (r *Registry) Register(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[e.ID()]; dup {
		return false
	}
	r.entries[e.ID()] = e
	return true
}

// Lookup returns the entry for id, if connected.
func (r *Registry) Lookup(id int) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove forgets id.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IDs returns the connected ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Ints(ids)
	return ids
}
