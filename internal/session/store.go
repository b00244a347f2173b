// internal/session/store.go
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wh0mever/Moonward-Odyssey/internal/config"
	"github.com/Wh0mever/Moonward-Odyssey/internal/models"
)

// Store owns every live Session. Connections keep only session ids as
// back-references; all session objects live and die here.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg    config.Config
	logger *logrus.Logger

	// onListChanged fires whenever the set of open sessions changes, so
	// the gateway can push lobby_list_updated to browsing clients.
	onListChanged func()
}

// NewStore initializes an empty Store.
func NewStore(cfg config.Config, logger *logrus.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
	}
}

// SetListChangedHook registers the open-list fanout callback.
func (st *Store) SetListChangedHook(fn func()) {
	st.onListChanged = fn
}

func (st *Store) notifyListChanged() {
	if st.onListChanged != nil {
		st.onListChanged()
	}
}

// Get fetches a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

// ForClient fetches the session a connection belongs to, if any.
func (st *Store) ForClient(c *Client) (*Session, bool) {
	id := c.SessionID()
	if id == "" {
		return nil, false
	}
	return st.Get(id)
}

// Count returns the number of tracked sessions.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// newIDUnsafe generates a code not colliding with any live session.
// Assumes st.mu is held.
func (st *Store) newIDUnsafe() string {
	for {
		id := newSessionID()
		if _, exists := st.sessions[id]; !exists {
			return id
		}
	}
}

// Create opens a new Waiting session with the caller as host at seat 1.
func (st *Store) Create(host *Client) (*Session, error) {
	if host.SessionID() != "" {
		return nil, models.ErrAlreadyInSession
	}
	username := host.Username()
	if username == "" {
		return nil, models.ErrNotRegistered
	}

	st.mu.Lock()
	if len(st.sessions) >= st.cfg.MaxSessions {
		st.mu.Unlock()
		return nil, models.ErrCapacityReached
	}
	id := st.newIDUnsafe()
	s := newSession(id, fmt.Sprintf("%s's game", username), st.cfg.SessionCapacity, st.cfg.ChatLogCap)
	s.Mu.Lock()
	s.addParticipantUnsafe(host, username, true)
	s.Mu.Unlock()
	st.sessions[id] = s
	st.mu.Unlock()

	host.SetSessionID(id)
	st.logger.WithFields(logrus.Fields{
		"session": id,
		"host":    username,
	}).Info("session created")
	st.notifyListChanged()
	return s, nil
}

// Join seats a connection in an existing Waiting session at the lowest
// free seat. The player_joined broadcast goes to the existing roster; the
// joiner gets the snapshot in its direct response instead.
func (st *Store) Join(id string, c *Client) (*Session, error) {
	if c.SessionID() != "" {
		return nil, models.ErrAlreadyInSession
	}
	username := c.Username()
	if username == "" {
		return nil, models.ErrNotRegistered
	}

	s, ok := st.Get(id)
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	s.Mu.Lock()
	if s.closed {
		s.Mu.Unlock()
		return nil, models.ErrSessionNotFound
	}
	if s.state != StateWaiting {
		s.Mu.Unlock()
		return nil, models.ErrAlreadyStarted
	}
	if len(s.participants) >= s.Capacity {
		s.Mu.Unlock()
		return nil, models.ErrSessionFull
	}
	p := s.addParticipantUnsafe(c, username, false)
	s.BroadcastExceptUnsafe(c.ID, map[string]interface{}{
		"type":        "player_joined",
		"participant": participantPayload(p),
	})
	s.Mu.Unlock()

	c.SetSessionID(id)
	st.logger.WithFields(logrus.Fields{
		"session":  id,
		"username": username,
		"seat":     p.Seat,
	}).Info("player joined session")
	st.notifyListChanged()
	return s, nil
}

// CreateMatched builds a 2-capacity session for an auto-matched pair.
// The session starts in Loading and transitions to Playing on the same
// schedule as a host-initiated start; no explicit host action is needed.
func (st *Store) CreateMatched(host, guest *Client) (*Session, error) {
	st.mu.Lock()
	if len(st.sessions) >= st.cfg.MaxSessions {
		st.mu.Unlock()
		return nil, models.ErrCapacityReached
	}
	id := st.newIDUnsafe()
	s := newSession(id, "Quick match", 2, st.cfg.ChatLogCap)
	s.state = StateLoading
	s.Mu.Lock()
	s.addParticipantUnsafe(host, host.Username(), true)
	s.addParticipantUnsafe(guest, guest.Username(), false)
	s.Mu.Unlock()
	st.sessions[id] = s
	st.mu.Unlock()

	host.SetSessionID(id)
	guest.SetSessionID(id)

	s.Mu.Lock()
	s.BroadcastUnsafe(map[string]interface{}{
		"type":         "match_found",
		"session":      s.summaryUnsafe(),
		"participants": s.rosterPayloadUnsafe(),
	})
	s.BroadcastUnsafe(map[string]interface{}{"type": "game_loading"})
	s.Mu.Unlock()

	st.logger.WithFields(logrus.Fields{
		"session": id,
		"host":    host.Username(),
		"guest":   guest.Username(),
	}).Info("quick match paired")
	st.scheduleStart(id)
	return s, nil
}

// StartGame moves a Waiting session into Loading on the host's command
// and schedules the Playing transition.
func (st *Store) StartGame(c *Client) error {
	s, ok := st.ForClient(c)
	if !ok {
		return models.ErrSessionNotFound
	}

	s.Mu.Lock()
	if s.hostID != c.ID {
		s.Mu.Unlock()
		return models.ErrNotHost
	}
	if s.state != StateWaiting {
		s.Mu.Unlock()
		return models.ErrAlreadyStarted
	}
	if len(s.participants) < 2 {
		s.Mu.Unlock()
		return models.ErrInsufficientPlayers
	}
	s.state = StateLoading
	s.BroadcastUnsafe(map[string]interface{}{"type": "game_loading"})
	s.Mu.Unlock()

	st.logger.WithField("session", s.ID).Info("game loading")
	st.scheduleStart(s.ID)
	st.notifyListChanged()
	return nil
}

// scheduleStart arms the Loading->Playing timer. The callback re-fetches
// the session by id: if it was torn down (or already advanced) in the
// meantime the timer is a no-op. The delay is not cancellable.
func (st *Store) scheduleStart(id string) {
	timer := time.AfterFunc(st.cfg.LoadingDelay, func() {
		s, ok := st.Get(id)
		if !ok {
			return
		}
		s.Mu.Lock()
		if s.closed || s.state != StateLoading {
			s.Mu.Unlock()
			return
		}
		s.state = StatePlaying
		s.BroadcastUnsafe(map[string]interface{}{"type": "game_started"})
		s.Mu.Unlock()
		st.logger.WithField("session", id).Info("game started")
	})

	s, ok := st.Get(id)
	if !ok {
		timer.Stop()
		return
	}
	s.Mu.Lock()
	s.loadTimer = timer
	s.Mu.Unlock()
}

// ToggleReady flips a non-host participant's ready flag and broadcasts
// the change. No-op for hosts and non-members.
func (st *Store) ToggleReady(c *Client) {
	s, ok := st.ForClient(c)
	if !ok {
		return
	}
	s.Mu.Lock()
	p, ok := s.participants[c.ID]
	if !ok || p.IsHost {
		s.Mu.Unlock()
		return
	}
	p.IsReady = !p.IsReady
	p.LastActivityAt = time.Now()
	s.BroadcastUnsafe(map[string]interface{}{
		"type":    "player_ready",
		"id":      c.ID.String(),
		"isReady": p.IsReady,
	})
	s.Mu.Unlock()
}

// Chat appends to the session log and broadcasts to everyone, sender
// included.
func (st *Store) Chat(c *Client, text string) {
	if text == "" {
		return
	}
	s, ok := st.ForClient(c)
	if !ok {
		return
	}
	s.Mu.Lock()
	p, ok := s.participants[c.ID]
	if !ok {
		s.Mu.Unlock()
		return
	}
	p.LastActivityAt = time.Now()
	msg := s.appendChatUnsafe(p.Username, text)
	s.BroadcastUnsafe(map[string]interface{}{
		"type":    "chat",
		"message": msg,
	})
	s.Mu.Unlock()
}

// RelayPlayerUpdate stores a movement frame on the sender's participant
// record and relays it to everyone else in the session.
func (st *Store) RelayPlayerUpdate(c *Client, pos models.Vec3, rotation, health float64) {
	s, ok := st.ForClient(c)
	if !ok {
		return
	}
	s.Mu.Lock()
	p, ok := s.participants[c.ID]
	if !ok {
		s.Mu.Unlock()
		return
	}
	p.Position = pos
	p.Rotation = rotation
	p.Health = health
	p.LastActivityAt = time.Now()
	s.BroadcastExceptUnsafe(c.ID, map[string]interface{}{
		"type":     "player_moved",
		"id":       c.ID.String(),
		"position": pos,
		"rotation": rotation,
		"health":   health,
	})
	s.Mu.Unlock()
}

// RelayFromHost forwards an entity-sync frame to everyone but the host.
// Frames from non-hosts are dropped without a reply; the host is the
// simulation authority and the server does not arbitrate entity state.
func (st *Store) RelayFromHost(c *Client, eventType string, entities interface{}) {
	s, ok := st.ForClient(c)
	if !ok {
		return
	}
	s.Mu.Lock()
	if s.hostID != c.ID {
		s.Mu.Unlock()
		return
	}
	if p, ok := s.participants[c.ID]; ok {
		p.LastActivityAt = time.Now()
	}
	s.BroadcastExceptUnsafe(c.ID, map[string]interface{}{
		"type":     eventType,
		"entities": entities,
	})
	s.Mu.Unlock()
}

// RelayEvent forwards a single-entity gameplay event (item pickup, enemy
// kill) from any participant to the rest of the session.
func (st *Store) RelayEvent(c *Client, eventType, entityID string) {
	s, ok := st.ForClient(c)
	if !ok {
		return
	}
	s.Mu.Lock()
	p, ok := s.participants[c.ID]
	if !ok {
		s.Mu.Unlock()
		return
	}
	p.LastActivityAt = time.Now()
	s.BroadcastExceptUnsafe(c.ID, map[string]interface{}{
		"type": eventType,
		"id":   entityID,
	})
	s.Mu.Unlock()
}

// EndGame handles a terminal game-over signal from any participant: the
// session goes Finished, everyone hears who died, and the session is
// torn down immediately. There is no post-game state.
func (st *Store) EndGame(c *Client) {
	s, ok := st.ForClient(c)
	if !ok {
		return
	}
	s.Mu.Lock()
	if s.closed || s.state == StateFinished {
		s.Mu.Unlock()
		return
	}
	p, ok := s.participants[c.ID]
	if !ok {
		s.Mu.Unlock()
		return
	}
	s.state = StateFinished
	s.closed = true
	s.BroadcastUnsafe(map[string]interface{}{
		"type":         "game_over",
		"reason":       "player_died",
		"killedPlayer": p.Username,
	})
	members := make([]*Client, 0, len(s.participants))
	for _, part := range s.participants {
		members = append(members, part.Client)
	}
	s.participants = make(map[uuid.UUID]*Participant)
	s.Mu.Unlock()

	for _, m := range members {
		m.ClearSessionID()
	}
	st.remove(s.ID)
	st.logger.WithFields(logrus.Fields{
		"session": s.ID,
		"killed":  p.Username,
	}).Info("game over, session torn down")
	st.notifyListChanged()
}

// Leave removes a connection from its session, migrating the host role
// or deleting the session as needed. Safe to call twice: explicit
// leave_lobby and the transport-close cleanup both funnel here.
func (st *Store) Leave(c *Client) {
	id := c.SessionID()
	if id == "" {
		return
	}
	c.ClearSessionID()

	s, ok := st.Get(id)
	if !ok {
		return
	}

	s.Mu.Lock()
	removed, promoted, empty := s.removeParticipantUnsafe(c.ID)
	if removed == nil {
		s.Mu.Unlock()
		return
	}
	if empty {
		s.closed = true
		if s.loadTimer != nil {
			s.loadTimer.Stop()
			s.loadTimer = nil
		}
	} else {
		s.BroadcastUnsafe(map[string]interface{}{
			"type":     "player_left",
			"id":       c.ID.String(),
			"username": removed.Username,
		})
		if promoted != nil {
			s.BroadcastUnsafe(map[string]interface{}{
				"type":     "new_host",
				"id":       promoted.Client.ID.String(),
				"username": promoted.Username,
			})
		}
	}
	s.Mu.Unlock()

	if empty {
		st.remove(id)
	}
	st.logger.WithFields(logrus.Fields{
		"session":  id,
		"username": removed.Username,
		"empty":    empty,
	}).Info("player left session")
	st.notifyListChanged()
}

func (st *Store) remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// ListOpen summarizes joinable sessions: Waiting state with a free seat.
// Internal rosters are never exposed here.
func (st *Store) ListOpen() []models.SessionSummary {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.Unlock()

	out := []models.SessionSummary{}
	for _, s := range all {
		s.Mu.Lock()
		if s.state == StateWaiting && len(s.participants) < s.Capacity && !s.closed {
			out = append(out, s.summaryUnsafe())
		}
		s.Mu.Unlock()
	}
	return out
}
