// internal/session/session.go
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Wh0mever/Moonward-Odyssey/internal/models"
)

// State is a session's lifecycle phase. Transitions only ever advance:
// Waiting -> Loading -> Playing -> Finished.
type State string

const (
	StateWaiting  State = "waiting"
	StateLoading  State = "loading"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

// Participant is one connection's membership in a session. Position,
// rotation and health mirror whatever the client last relayed; the server
// never simulates or validates them.
type Participant struct {
	Client   *Client
	Username string
	Seat     int
	IsHost   bool
	IsReady  bool

	Position models.Vec3
	Rotation float64
	Health   float64

	JoinedAt       time.Time
	LastActivityAt time.Time
	joinOrder      int
}

// Session is a bounded group of connections sharing one game instance.
// All mutation happens under Mu; the *Unsafe methods assume the caller
// holds it.
type Session struct {
	ID        string
	Name      string
	Capacity  int
	CreatedAt time.Time

	Mu sync.Mutex

	state        State
	hostID       uuid.UUID
	participants map[uuid.UUID]*Participant
	joinSeq      int
	chat         []models.ChatMessage
	chatCap      int
	loadTimer    *time.Timer
	closed       bool
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newSessionID returns a 6-char uppercase code. Uniqueness among live
// sessions is the store's job.
func newSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read failing means the process is in serious trouble;
		// fall back to a uuid-derived code rather than panic.
		u := uuid.New().String()
		for i := range buf {
			buf[i] = u[i]
		}
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

func newSession(id, name string, capacity, chatCap int) *Session {
	return &Session{
		ID:           id,
		Name:         name,
		Capacity:     capacity,
		CreatedAt:    time.Now(),
		state:        StateWaiting,
		participants: make(map[uuid.UUID]*Participant),
		chatCap:      chatCap,
	}
}

// StateUnsafe returns the lifecycle state. Assumes Mu is held.
func (s *Session) StateUnsafe() State { return s.state }

// State returns the lifecycle state.
func (s *Session) State() State {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.state
}

// HostIDUnsafe returns the current host's connection id. Assumes Mu is held.
func (s *Session) HostIDUnsafe() uuid.UUID { return s.hostID }

// PlayerCountUnsafe returns the participant count. Assumes Mu is held.
func (s *Session) PlayerCountUnsafe() int { return len(s.participants) }

// ParticipantUnsafe looks up a participant by connection id. Assumes Mu is held.
func (s *Session) ParticipantUnsafe(connID uuid.UUID) (*Participant, bool) {
	p, ok := s.participants[connID]
	return p, ok
}

// lowestFreeSeatUnsafe finds the smallest unclaimed seat in 1..Capacity.
func (s *Session) lowestFreeSeatUnsafe() int {
	taken := make(map[int]bool, len(s.participants))
	for _, p := range s.participants {
		taken[p.Seat] = true
	}
	for seat := 1; seat <= s.Capacity; seat++ {
		if !taken[seat] {
			return seat
		}
	}
	return 0
}

// addParticipantUnsafe seats a connection. Hosts always take seat 1.
// Assumes Mu is held and capacity/state checks already passed.
func (s *Session) addParticipantUnsafe(c *Client, username string, isHost bool) *Participant {
	seat := s.lowestFreeSeatUnsafe()
	if isHost {
		seat = 1
		s.hostID = c.ID
	}
	s.joinSeq++
	now := time.Now()
	p := &Participant{
		Client:         c,
		Username:       username,
		Seat:           seat,
		IsHost:         isHost,
		Health:         100,
		JoinedAt:       now,
		LastActivityAt: now,
		joinOrder:      s.joinSeq,
	}
	s.participants[c.ID] = p
	return p
}

// removeParticipantUnsafe drops a connection from the roster and migrates
// the host role to the earliest-joined survivor when the host left.
// Returns the removed participant (nil if not a member), the promoted
// host (nil if none), and whether the session is now empty.
func (s *Session) removeParticipantUnsafe(connID uuid.UUID) (removed, promoted *Participant, empty bool) {
	p, ok := s.participants[connID]
	if !ok {
		return nil, nil, len(s.participants) == 0
	}
	delete(s.participants, connID)

	if len(s.participants) == 0 {
		return p, nil, true
	}

	if p.IsHost {
		for _, cand := range s.participants {
			if promoted == nil || cand.joinOrder < promoted.joinOrder {
				promoted = cand
			}
		}
		promoted.IsHost = true
		promoted.Seat = 1
		s.hostID = promoted.Client.ID
	}
	return p, promoted, false
}

// appendChatUnsafe appends a message, truncating long text and evicting
// the oldest entry past the log cap. Assumes Mu is held.
func (s *Session) appendChatUnsafe(username, text string) models.ChatMessage {
	runes := []rune(text)
	if len(runes) > models.MaxChatLen {
		text = string(runes[:models.MaxChatLen])
	}
	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		Username:  username,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.chat = append(s.chat, msg)
	if len(s.chat) > s.chatCap {
		s.chat = s.chat[len(s.chat)-s.chatCap:]
	}
	return msg
}

// ChatLog returns a copy of the chat log.
func (s *Session) ChatLog() []models.ChatMessage {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	out := make([]models.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// BroadcastUnsafe sends msg to every participant. Writes are
// non-blocking, so holding Mu across the loop is fine.
func (s *Session) BroadcastUnsafe(msg map[string]interface{}) {
	for _, p := range s.participants {
		p.Client.Write(msg)
	}
}

// BroadcastExceptUnsafe sends msg to every participant but one. Used for
// relays, which never echo back to the sender.
func (s *Session) BroadcastExceptUnsafe(exclude uuid.UUID, msg map[string]interface{}) {
	for id, p := range s.participants {
		if id == exclude {
			continue
		}
		p.Client.Write(msg)
	}
}

// Broadcast sends msg to every participant.
func (s *Session) Broadcast(msg map[string]interface{}) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.BroadcastUnsafe(msg)
}

// summaryUnsafe builds the lobby-browser view. Assumes Mu is held.
func (s *Session) summaryUnsafe() models.SessionSummary {
	hostName := ""
	if host, ok := s.participants[s.hostID]; ok {
		hostName = host.Username
	}
	return models.SessionSummary{
		ID:           s.ID,
		Name:         s.Name,
		Players:      len(s.participants),
		Capacity:     s.Capacity,
		HostUsername: hostName,
	}
}

// Summary builds the lobby-browser view.
func (s *Session) Summary() models.SessionSummary {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.summaryUnsafe()
}

// participantPayload is the wire shape of one roster entry.
func participantPayload(p *Participant) map[string]interface{} {
	return map[string]interface{}{
		"id":       p.Client.ID.String(),
		"username": p.Username,
		"seat":     p.Seat,
		"isHost":   p.IsHost,
		"isReady":  p.IsReady,
		"position": p.Position,
		"rotation": p.Rotation,
		"health":   p.Health,
	}
}

// rosterPayloadUnsafe lists every participant, ordered by seat. Assumes
// Mu is held.
func (s *Session) rosterPayloadUnsafe() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(s.participants))
	for seat := 1; seat <= s.Capacity; seat++ {
		for _, p := range s.participants {
			if p.Seat == seat {
				out = append(out, participantPayload(p))
			}
		}
	}
	return out
}

// snapshotUnsafe builds the full session view sent to a joining client.
// Assumes Mu is held.
func (s *Session) snapshotUnsafe() map[string]interface{} {
	return map[string]interface{}{
		"id":           s.ID,
		"name":         s.Name,
		"state":        string(s.state),
		"capacity":     s.Capacity,
		"hostId":       s.hostID.String(),
		"participants": s.rosterPayloadUnsafe(),
	}
}

// Snapshot builds the full session view.
func (s *Session) Snapshot() map[string]interface{} {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.snapshotUnsafe()
}
