// Package registry keeps the set of trucks heard from recently.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// A Vendor is the last known state of a truck.
type Vendor struct {
	ID      string
	Lat     float64
	Lon     float64
	TCPPort int
	// LastSeen is when the most recent heartbeat from this truck was accepted.
	LastSeen time.Time
	// Addr is the host the most recent heartbeat arrived from. Heartbeats carry no address of their own, so this is
	// where the truck is contacted.
	Addr string
}

// Age is how long ago the vendor was last heard from.
func (v Vendor) Age(now time.Time) time.Duration {
	return now.Sub(v.LastSeen)
}

var (
	ErrInvalidVendor = errors.New("invalid vendor")
	// ErrRegistryFull is returned when inserting a new vendor into a registry at capacity.
	ErrRegistryFull = errors.New("registry full")
)

// Registry is safe for concurrent use. Every method holds the lock for its own duration only and returns copies,
// so callers may sort or print results without blocking ingestion.
type Registry struct {
	mu      sync.Mutex
	vendors map[string]Vendor

	capacity int
}

type Option func(*Registry)

// WithCapacity bounds the number of distinct vendors. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		r.capacity = n
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{vendors: make(map[string]Vendor)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert inserts v, or replaces every field of the vendor with the same ID.
//
// A vendor without an ID or with a non-positive TCP port is rejected. When the registry is at capacity a new ID is
// rejected with ErrRegistryFull; updates to known IDs always succeed. A rejected update leaves the registry unchanged.
func (r *Registry) Upsert(v Vendor) error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidVendor)
	}
	if v.TCPPort <= 0 {
		return fmt.Errorf("%w: tcp port %d for %s", ErrInvalidVendor, v.TCPPort, v.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vendors[v.ID]; !ok && r.capacity > 0 && len(r.vendors) >= r.capacity {
		return fmt.Errorf("%w: %d vendors, dropping %s", ErrRegistryFull, len(r.vendors), v.ID)
	}
	r.vendors[v.ID] = v
	return nil
}

// PruneStale removes every vendor last seen more than maxAge before now and returns how many were removed.
//
// Staleness is only evaluated when asked. Call PruneStale right before Snapshot so that freshness is relative to
// the moment the snapshot is used.
func (r *Registry) PruneStale(now time.Time, maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, v := range r.vendors {
		if v.Age(now) > maxAge {
			delete(r.vendors, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of every vendor in no particular order.
func (r *Registry) Snapshot() []Vendor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Vendor, 0, len(r.vendors))
	for _, v := range r.vendors {
		out = append(out, v)
	}
	return out
}

// Lookup returns a copy of the vendor with the given ID.
func (r *Registry) Lookup(id string) (Vendor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vendors[id]
	return v, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.vendors)
}
