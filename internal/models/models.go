// internal/models/models.go
package models

import "time"

// Vec3 is a position in world space, relayed verbatim between clients.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ChatMessage is one entry in a session's bounded chat log. Immutable
// once appended.
type ChatMessage struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionSummary is the public view of an open session, safe to show to
// non-members in the lobby browser.
type SessionSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Players      int    `json:"players"`
	Capacity     int    `json:"capacity"`
	HostUsername string `json:"hostUsername"`
}

const (
	// MaxChatLen is the rune limit for a single chat message; longer
	// input is truncated, not rejected.
	MaxChatLen = 200

	// MinUsernameLen is the minimum trimmed username length.
	MinUsernameLen = 2
)
