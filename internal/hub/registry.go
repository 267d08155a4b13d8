// Package hub implements the subscriber registry and the periodic
// metrics broadcast loop.
package hub

import "sync"

// Subscriber is the hub's view of one connected client. Implementations
// must make SendText and Close safe for concurrent use, and Close must
// be idempotent: both the broadcast loop (on delivery failure) and the
// connection handler (on read error) may close the same subscriber.
type Subscriber interface {
	// SendText delivers one UTF-8 text frame to the peer.
	SendText(msg []byte) error

	// Close tears down the transport. Safe to call more than once.
	Close() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// Registry is a concurrency-safe set of live subscribers. Goroutines
// run in parallel here, so mutation is guarded by an explicit mutex:
// connection handlers add and remove members while the broadcast loop
// snapshots concurrently.
type Registry struct {
	mu      sync.Mutex
	members map[Subscriber]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[Subscriber]struct{})}
}

// Add inserts a subscriber. Idempotent if already present.
func (r *Registry) Add(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[sub] = struct{}{}
}

// Remove deletes a subscriber if present. A no-op otherwise, so the
// handler exit path and the broadcast prune path may both remove the
// same member without coordination.
func (r *Registry) Remove(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, sub)
}

// Snapshot returns a point-in-time copy of the membership, safe to
// iterate while adds and removes proceed concurrently. The broadcast
// loop always fans out over a snapshot, never the live set.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make([]Subscriber, 0, len(r.members))
	for sub := range r.members {
		subs = append(subs, sub)
	}
	return subs
}

// Len returns the current member count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
