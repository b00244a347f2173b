// internal/identity/registry.go
package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wh0mever/Moonward-Odyssey/internal/models"
)

// Identity binds a username to a connection. A released identity (conn ==
// uuid.Nil) keeps its name reserved until the sweep evicts it, so a quick
// reconnect can reclaim the same username.
type Identity struct {
	Username       string
	Conn           uuid.UUID
	LastActivityAt time.Time
}

// Registry maps usernames to live connections. Empty at process start;
// nothing persists.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Identity
	byConn map[uuid.UUID]string

	ttl    time.Duration
	sweep  time.Duration
	logger *logrus.Logger
}

// NewRegistry builds a Registry with the given inactivity window and
// sweep interval.
func NewRegistry(ttl, sweep time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{
		byName: make(map[string]*Identity),
		byConn: make(map[uuid.UUID]string),
		ttl:    ttl,
		sweep:  sweep,
		logger: logger,
	}
}

// Register claims a username for a connection. The check-and-set is
// atomic: two connections racing for one name cannot both win. A name
// held by another connection is only reclaimable once that identity has
// been released or gone idle past the inactivity window.
func (r *Registry) Register(username string, connID uuid.UUID) (string, error) {
	name := strings.TrimSpace(username)
	if len([]rune(name)) < models.MinUsernameLen {
		return "", models.ErrUsernameTooShort
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.byName[name]; ok {
		active := now.Sub(existing.LastActivityAt) < r.ttl
		if active && existing.Conn != uuid.Nil && existing.Conn != connID {
			return "", models.ErrUsernameTaken
		}
		// Expired or released: the old owner loses the reservation.
		if existing.Conn != uuid.Nil && existing.Conn != connID {
			delete(r.byConn, existing.Conn)
		}
	}

	// Re-registering under a new name frees the connection's old one.
	if old, ok := r.byConn[connID]; ok && old != name {
		delete(r.byName, old)
	}

	r.byName[name] = &Identity{Username: name, Conn: connID, LastActivityAt: now}
	r.byConn[connID] = name
	return name, nil
}

// Lookup returns the username bound to a connection, if any.
func (r *Registry) Lookup(connID uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.byConn[connID]
	return name, ok
}

// Touch refreshes the activity timestamp for a connection's identity.
// Called on every gameplay action so active players keep their names.
func (r *Registry) Touch(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.byConn[connID]; ok {
		if id, ok := r.byName[name]; ok {
			id.LastActivityAt = time.Now()
		}
	}
}

// Release unbinds a connection from its identity without evicting the
// name. The expiry sweep frees the reservation later, leaving room for a
// quick reconnect under the same username.
func (r *Registry) Release(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if id, ok := r.byName[name]; ok && id.Conn == connID {
		id.Conn = uuid.Nil
	}
}

// Len returns the number of reserved usernames.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// SweepOnce evicts identities idle past the inactivity window. Returns
// the eviction count.
func (r *Registry) SweepOnce(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for name, id := range r.byName {
		if now.Sub(id.LastActivityAt) >= r.ttl {
			delete(r.byName, name)
			if id.Conn != uuid.Nil {
				delete(r.byConn, id.Conn)
			}
			evicted++
			r.logger.WithField("username", name).Debug("identity expired")
		}
	}
	return evicted
}

// StartSweeper runs the expiry sweep on a fixed interval until ctx is
// cancelled.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.SweepOnce(now); n > 0 {
					r.logger.WithField("count", n).Debug("swept expired identities")
				}
			}
		}
	}()
}
