package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Directory answers "what connection, if any, currently represents user U".
// It is the single source of truth for reachability and is mutated only by
// the gateway's connect/disconnect handling. Content is never persisted;
// after a restart every client must reconnect.
type Directory interface {
	// Register sets the mapping unconditionally; the last writer wins, so a
	// user with two open sessions is reachable only on the most recent one.
	Register(ctx context.Context, userID uuid.UUID, connID string) error

	// Lookup returns the connection ID for a user; ok is false when offline.
	Lookup(ctx context.Context, userID uuid.UUID) (connID string, ok bool, err error)

	// Unregister removes the mapping only if it still points at connID. The
	// guard keeps a late disconnect from a stale session from evicting a
	// newer session of the same user.
	Unregister(ctx context.Context, userID uuid.UUID, connID string) error
}

// MemoryDirectory is the single-instance Directory backed by a mutex-guarded
// map. Deployments running more than one gateway instance need the Redis
// implementation instead.
type MemoryDirectory struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{conns: make(map[uuid.UUID]string)}
}

func (d *MemoryDirectory) Register(_ context.Context, userID uuid.UUID, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[userID] = connID
	return nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, userID uuid.UUID) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	connID, ok := d.conns[userID]
	return connID, ok, nil
}

func (d *MemoryDirectory) Unregister(_ context.Context, userID uuid.UUID, connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.conns[userID]; ok && current == connID {
		delete(d.conns, userID)
	}
	return nil
}

// Online returns the number of registered users. Used by tests and the
// health endpoint.
func (d *MemoryDirectory) Online() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}
