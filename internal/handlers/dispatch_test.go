package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wh0mever/Moonward-Odyssey/internal/config"
	"github.com/Wh0mever/Moonward-Odyssey/internal/models"
	"github.com/Wh0mever/Moonward-Odyssey/internal/session"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer() *GameServer {
	cfg := config.Config{
		MaxSessions:        20,
		SessionCapacity:    4,
		ChatLogCap:         100,
		LoadingDelay:       50 * time.Millisecond,
		IdentityTTL:        5 * time.Minute,
		IdentitySweepEvery: time.Minute,
		ProbeEvery:         2 * time.Second,
	}
	return NewGameServer(cfg, testLogger())
}

// connect attaches a fake client with no real transport behind it.
func connect(gs *GameServer) *session.Client {
	c := session.NewClient(nil, testLogger())
	gs.AddClient(c)
	return c
}

func send(gs *GameServer, c *session.Client, packet map[string]interface{}) {
	gs.handleMessage(c, packet)
}

func drainEvents(c *session.Client) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case m := <-c.Out:
			out = append(out, m)
		default:
			return out
		}
	}
}

func eventsOfType(events []map[string]interface{}, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, ev := range events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func lastOfType(t *testing.T, c *session.Client, typ string) map[string]interface{} {
	t.Helper()
	evs := eventsOfType(drainEvents(c), typ)
	require.NotEmpty(t, evs, "expected a %q event", typ)
	return evs[len(evs)-1]
}

func register(t *testing.T, gs *GameServer, c *session.Client, name string) {
	t.Helper()
	send(gs, c, map[string]interface{}{"type": "register", "username": name})
	res := lastOfType(t, c, "register_result")
	require.Equal(t, true, res["success"])
	require.Equal(t, name, res["username"])
}

func TestRegisterFlow(t *testing.T) {
	gs := newTestServer()
	c1 := connect(gs)
	c2 := connect(gs)

	register(t, gs, c1, "Nova")
	assert.Equal(t, "Nova", c1.Username())

	send(gs, c2, map[string]interface{}{"type": "register", "username": "Nova"})
	res := lastOfType(t, c2, "register_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, models.ErrUsernameTaken.Error(), res["error"])

	send(gs, c2, map[string]interface{}{"type": "register", "username": "x"})
	res = lastOfType(t, c2, "register_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, models.ErrUsernameTooShort.Error(), res["error"])
}

func TestCreateLobbyRequiresRegistration(t *testing.T) {
	gs := newTestServer()
	c := connect(gs)

	send(gs, c, map[string]interface{}{"type": "create_lobby"})
	res := lastOfType(t, c, "lobby_created")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, models.ErrNotRegistered.Error(), res["error"])
}

func TestLobbyLifecycleEndToEnd(t *testing.T) {
	gs := newTestServer()
	c1 := connect(gs)
	c2 := connect(gs)

	register(t, gs, c1, "Nova")
	register(t, gs, c2, "Orbit")

	send(gs, c1, map[string]interface{}{"type": "create_lobby"})
	created := lastOfType(t, c1, "lobby_created")
	require.Equal(t, true, created["success"])
	id, _ := created["id"].(string)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), id)

	// The browser sees the new session; every client hears the list change.
	send(gs, c2, map[string]interface{}{"type": "get_lobbies"})
	list := lastOfType(t, c2, "lobby_list")
	lobbies, ok := list["lobbies"].([]models.SessionSummary)
	require.True(t, ok)
	require.Len(t, lobbies, 1)
	assert.Equal(t, id, lobbies[0].ID)
	assert.Equal(t, "Nova", lobbies[0].HostUsername)

	send(gs, c2, map[string]interface{}{"type": "join_lobby", "id": id})
	joined := lastOfType(t, c2, "lobby_joined")
	require.Equal(t, true, joined["success"])
	snapshot, ok := joined["session"].(map[string]interface{})
	require.True(t, ok)
	roster, ok := snapshot["participants"].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, roster, 2)

	joinEvt := lastOfType(t, c1, "player_joined")
	participant, ok := joinEvt["participant"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Orbit", participant["username"])

	// Only the host can start.
	send(gs, c2, map[string]interface{}{"type": "start_game"})
	res := lastOfType(t, c2, "start_game_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, models.ErrNotHost.Error(), res["error"])
	drainEvents(c1)
	drainEvents(c2)

	send(gs, c1, map[string]interface{}{"type": "start_game"})
	res = lastOfType(t, c1, "start_game_result")
	require.Equal(t, true, res["success"])

	assert.NotEmpty(t, eventsOfType(drainEvents(c2), "game_loading"))
	time.Sleep(100 * time.Millisecond)
	for _, c := range []*session.Client{c1, c2} {
		assert.NotEmpty(t, eventsOfType(drainEvents(c), "game_started"))
	}
}

func TestQuickMatchEndToEnd(t *testing.T) {
	gs := newTestServer()
	c1 := connect(gs)
	c2 := connect(gs)

	register(t, gs, c1, "Nova")
	register(t, gs, c2, "Orbit")

	send(gs, c1, map[string]interface{}{"type": "quick_match"})
	res := lastOfType(t, c1, "match_status")
	require.Equal(t, true, res["success"])
	assert.Equal(t, "searching", res["status"])

	send(gs, c2, map[string]interface{}{"type": "quick_match"})
	res = lastOfType(t, c2, "match_status")
	require.Equal(t, true, res["success"])
	assert.Equal(t, "matched", res["status"])

	found1 := lastOfType(t, c1, "match_found")
	found2 := lastOfType(t, c2, "match_found")
	sum1, ok := found1["session"].(models.SessionSummary)
	require.True(t, ok)
	sum2, ok := found2["session"].(models.SessionSummary)
	require.True(t, ok)
	assert.Equal(t, sum1.ID, sum2.ID, "both parties reference the same session")
	assert.Equal(t, 2, sum1.Capacity)
	assert.Equal(t, sum1.ID, c1.SessionID())
	assert.Equal(t, sum1.ID, c2.SessionID())
}

func TestQuickMatchPreconditions(t *testing.T) {
	gs := newTestServer()
	c := connect(gs)

	send(gs, c, map[string]interface{}{"type": "quick_match"})
	res := lastOfType(t, c, "match_status")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, models.ErrNotRegistered.Error(), res["error"])

	register(t, gs, c, "Nova")
	send(gs, c, map[string]interface{}{"type": "create_lobby"})
	send(gs, c, map[string]interface{}{"type": "quick_match"})
	res = lastOfType(t, c, "match_status")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, models.ErrAlreadyInSession.Error(), res["error"])
}

func TestRelayThroughDispatch(t *testing.T) {
	gs := newTestServer()
	host := connect(gs)
	guest := connect(gs)

	register(t, gs, host, "Nova")
	register(t, gs, guest, "Orbit")
	send(gs, host, map[string]interface{}{"type": "create_lobby"})
	created := lastOfType(t, host, "lobby_created")
	send(gs, guest, map[string]interface{}{"type": "join_lobby", "id": created["id"]})
	drainEvents(host)
	drainEvents(guest)

	// The client ships positions as [x, y, z].
	send(gs, host, map[string]interface{}{
		"type":     "player_update",
		"position": []interface{}{1.0, 2.0, 3.0},
		"rotation": 0.5,
		"health":   80.0,
	})
	moved := lastOfType(t, guest, "player_moved")
	assert.Equal(t, host.ID.String(), moved["id"])
	assert.Equal(t, models.Vec3{X: 1, Y: 2, Z: 3}, moved["position"])
	assert.Equal(t, 0.5, moved["rotation"])
	assert.Equal(t, 80.0, moved["health"])
	assert.Empty(t, eventsOfType(drainEvents(host), "player_moved"))

	// Host-only sync from the guest is dropped without a reply.
	send(gs, guest, map[string]interface{}{
		"type":     "enemy_sync",
		"entities": []interface{}{map[string]interface{}{"id": "e1"}},
	})
	assert.Empty(t, eventsOfType(drainEvents(host), "enemy_update"))
	assert.Empty(t, eventsOfType(drainEvents(guest), "enemy_update"))

	send(gs, host, map[string]interface{}{
		"type":     "collectible_sync",
		"entities": []interface{}{map[string]interface{}{"id": "c1"}},
	})
	assert.NotEmpty(t, eventsOfType(drainEvents(guest), "collectible_update"))

	send(gs, guest, map[string]interface{}{"type": "item_collected", "id": "crystal-7"})
	removed := lastOfType(t, host, "item_removed")
	assert.Equal(t, "crystal-7", removed["id"])

	send(gs, guest, map[string]interface{}{"type": "enemy_killed", "id": "e9"})
	died := lastOfType(t, host, "enemy_died")
	assert.Equal(t, "e9", died["id"])
}

func TestPlayerDiedEndsGame(t *testing.T) {
	gs := newTestServer()
	host := connect(gs)
	guest := connect(gs)
	register(t, gs, host, "Nova")
	register(t, gs, guest, "Orbit")
	send(gs, host, map[string]interface{}{"type": "create_lobby"})
	created := lastOfType(t, host, "lobby_created")
	send(gs, guest, map[string]interface{}{"type": "join_lobby", "id": created["id"]})
	send(gs, host, map[string]interface{}{"type": "start_game"})
	drainEvents(host)
	drainEvents(guest)

	send(gs, guest, map[string]interface{}{"type": "player_died"})

	over := lastOfType(t, host, "game_over")
	assert.Equal(t, "Orbit", over["killedPlayer"])
	assert.Equal(t, "", host.SessionID())
	assert.Equal(t, "", guest.SessionID())
	assert.Equal(t, 0, gs.Store.Count())
}

func TestSessionScopedActionsWithoutSessionAreNoops(t *testing.T) {
	gs := newTestServer()
	c := connect(gs)
	register(t, gs, c, "Nova")
	drainEvents(c)

	send(gs, c, map[string]interface{}{"type": "leave_lobby"})
	send(gs, c, map[string]interface{}{"type": "toggle_ready"})
	send(gs, c, map[string]interface{}{"type": "chat", "text": "hello"})
	send(gs, c, map[string]interface{}{
		"type":     "player_update",
		"position": []interface{}{0.0, 0.0, 0.0},
		"rotation": 0.0,
		"health":   100.0,
	})
	send(gs, c, map[string]interface{}{"type": "player_died"})
	send(gs, c, map[string]interface{}{"type": "start_game"})

	assert.Empty(t, drainEvents(c), "no replies and no broadcasts without session context")
}

func TestPingAndLatencyReport(t *testing.T) {
	gs := newTestServer()
	c := connect(gs)

	send(gs, c, map[string]interface{}{"type": "ping"})
	pong := lastOfType(t, c, "pong")
	ts, ok := pong["ts"].(int64)
	require.True(t, ok)
	assert.InDelta(t, time.Now().UnixMilli(), ts, 1000)

	send(gs, c, map[string]interface{}{"type": "report_ping", "ms": 42.0})
	assert.Equal(t, int64(42), c.Latency())
}

func TestDisconnectCleanup(t *testing.T) {
	gs := newTestServer()
	c1 := connect(gs)
	c2 := connect(gs)
	register(t, gs, c1, "Nova")
	register(t, gs, c2, "Orbit")

	send(gs, c1, map[string]interface{}{"type": "create_lobby"})
	created := lastOfType(t, c1, "lobby_created")
	send(gs, c2, map[string]interface{}{"type": "join_lobby", "id": created["id"]})
	drainEvents(c1)
	drainEvents(c2)

	gs.Disconnect(c1)

	assert.Equal(t, 1, gs.ClientCount())
	assert.Equal(t, 0, gs.Queue.Len())
	_, bound := gs.Registry.Lookup(c1.ID)
	assert.False(t, bound, "identity released, not evicted")

	// Survivor hears the departure and the host migration.
	evs := drainEvents(c2)
	assert.Len(t, eventsOfType(evs, "player_left"), 1)
	assert.Len(t, eventsOfType(evs, "new_host"), 1)

	// A reconnect can reclaim the released name immediately.
	c3 := connect(gs)
	register(t, gs, c3, "Nova")

	// Double cleanup is safe.
	gs.Disconnect(c1)
}

func TestLobbyListUpdatedFanout(t *testing.T) {
	gs := newTestServer()
	c1 := connect(gs)
	c2 := connect(gs)
	register(t, gs, c1, "Nova")
	drainEvents(c2)

	send(gs, c1, map[string]interface{}{"type": "create_lobby"})
	assert.NotEmpty(t, eventsOfType(drainEvents(c2), "lobby_list_updated"),
		"all connected clients hear about list changes")
}

func TestStatusEndpoint(t *testing.T) {
	gs := newTestServer()
	c := connect(gs)
	register(t, gs, c, "Nova")
	send(gs, c, map[string]interface{}{"type": "create_lobby"})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	StatusHandler(gs)(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["openSessions"])
	assert.Equal(t, float64(1), body["connections"])
	assert.Equal(t, float64(0), body["queueLength"])
}

func TestUnknownActionGetsError(t *testing.T) {
	gs := newTestServer()
	c := connect(gs)

	send(gs, c, map[string]interface{}{"type": "warp_drive"})
	errEvt := lastOfType(t, c, "error")
	assert.Contains(t, errEvt["message"], "warp_drive")
}
