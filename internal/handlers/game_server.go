// internal/handlers/game_server.go
package handlers

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wh0mever/Moonward-Odyssey/internal/config"
	"github.com/Wh0mever/Moonward-Odyssey/internal/identity"
	"github.com/Wh0mever/Moonward-Odyssey/internal/matchmaking"
	"github.com/Wh0mever/Moonward-Odyssey/internal/session"
)

// GameServer is the top-level holder wiring the identity registry, the
// session store and the matchmaking queue into the connection gateway.
// All shared state is owned here and injected, never package-global.
type GameServer struct {
	Registry *identity.Registry
	Store    *session.Store
	Queue    *matchmaking.Queue
	Config   config.Config
	Logger   *logrus.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*session.Client
}

// NewGameServer builds a fully wired GameServer.
func NewGameServer(cfg config.Config, logger *logrus.Logger) *GameServer {
	store := session.NewStore(cfg, logger)
	gs := &GameServer{
		Registry: identity.NewRegistry(cfg.IdentityTTL, cfg.IdentitySweepEvery, logger),
		Store:    store,
		Queue:    matchmaking.NewQueue(store, logger),
		Config:   cfg,
		Logger:   logger,
		clients:  make(map[uuid.UUID]*session.Client),
	}
	store.SetListChangedHook(gs.broadcastLobbyListUpdated)
	return gs
}

// AddClient tracks a freshly accepted connection.
func (gs *GameServer) AddClient(c *session.Client) {
	gs.mu.Lock()
	gs.clients[c.ID] = c
	gs.mu.Unlock()
}

// ClientCount returns the number of live connections.
func (gs *GameServer) ClientCount() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.clients)
}

// broadcastLobbyListUpdated nudges every connected client that the open
// session list changed. Clients outside the menu just ignore it.
func (gs *GameServer) broadcastLobbyListUpdated() {
	gs.mu.Lock()
	targets := make([]*session.Client, 0, len(gs.clients))
	for _, c := range gs.clients {
		targets = append(targets, c)
	}
	gs.mu.Unlock()

	msg := map[string]interface{}{"type": "lobby_list_updated"}
	for _, c := range targets {
		c.Write(msg)
	}
}

// Disconnect runs the full transport-close cleanup, in order: matchmaking
// queue removal, session leave, identity release. Identity eviction is
// the sweep's job, so a quick reconnect can reclaim the username.
// Idempotent: an explicit leave followed by a transport close is safe.
func (gs *GameServer) Disconnect(c *session.Client) {
	c.MarkClosed()
	gs.Queue.Cancel(c)
	gs.Store.Leave(c)
	gs.Registry.Release(c.ID)

	gs.mu.Lock()
	delete(gs.clients, c.ID)
	gs.mu.Unlock()
}
