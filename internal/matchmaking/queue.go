// internal/matchmaking/queue.go
package matchmaking

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Wh0mever/Moonward-Odyssey/internal/session"
)

// Queue is the FIFO waiting list that auto-pairs two unaffiliated
// connections into a 2-capacity session. Pop-and-pair happens under the
// queue lock as one step so two requesters can never claim the same
// partner.
type Queue struct {
	mu      sync.Mutex
	waiting []*session.Client

	store  *session.Store
	logger *logrus.Logger
}

// NewQueue builds a Queue pairing into the given store.
func NewQueue(store *session.Store, logger *logrus.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// Request tries to pair the caller with the oldest waiting connection.
// Returns the created session when matched, or nil when the caller was
// queued. A caller already waiting is first removed from its old slot, so
// repeated requests never duplicate an entry. Partners whose connection
// has since closed are discarded and the search continues.
func (q *Queue) Request(c *session.Client) (*session.Session, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(c)

	for len(q.waiting) > 0 {
		partner := q.waiting[0]
		q.waiting = q.waiting[1:]
		// Stale entries self-heal here: a partner whose transport closed,
		// or who found a session some other way, is discarded.
		if partner.Closed() || partner.SessionID() != "" || partner.ID == c.ID {
			continue
		}
		s, err := q.store.CreateMatched(partner, c)
		if err != nil {
			// Could not open a session (server at cap); the partner keeps
			// its place at the head of the line.
			q.waiting = append([]*session.Client{partner}, q.waiting...)
			return nil, err
		}
		return s, nil
	}

	q.waiting = append(q.waiting, c)
	q.logger.WithField("conn", c.ID).Debug("queued for quick match")
	return nil, nil
}

// Cancel removes a connection from the queue. No-op if absent.
func (q *Queue) Cancel(c *session.Client) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(c)
}

func (q *Queue) removeLocked(c *session.Client) {
	for i, w := range q.waiting {
		if w.ID == c.ID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

// Len returns the number of waiting connections.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
