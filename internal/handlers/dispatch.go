// internal/handlers/dispatch.go
package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/Wh0mever/Moonward-Odyssey/internal/models"
	"github.com/Wh0mever/Moonward-Odyssey/internal/session"
)

// handleMessage routes one inbound packet. Request/response actions reply
// with a structured success/error payload and never drop the connection;
// session-scoped actions from a connection with no session are silent
// no-ops; host-only relays from non-hosts are dropped without a reply.
func (gs *GameServer) handleMessage(c *session.Client, packet map[string]interface{}) {
	action, _ := packet["type"].(string)

	// Any traffic from a registered connection keeps its name reserved.
	gs.Registry.Touch(c.ID)

	switch action {
	case "register":
		username, _ := packet["username"].(string)
		name, err := gs.Registry.Register(username, c.ID)
		if err != nil {
			c.Write(failure("register_result", err))
			return
		}
		c.SetUsername(name)
		c.Write(map[string]interface{}{
			"type":     "register_result",
			"success":  true,
			"username": name,
			"id":       c.ID.String(),
		})

	case "get_lobbies":
		c.Write(map[string]interface{}{
			"type":    "lobby_list",
			"lobbies": gs.Store.ListOpen(),
		})

	case "create_lobby":
		s, err := gs.Store.Create(c)
		if err != nil {
			c.Write(failure("lobby_created", err))
			return
		}
		c.Write(map[string]interface{}{
			"type":    "lobby_created",
			"success": true,
			"id":      s.ID,
			"name":    s.Name,
		})

	case "join_lobby":
		id, _ := packet["id"].(string)
		s, err := gs.Store.Join(strings.ToUpper(strings.TrimSpace(id)), c)
		if err != nil {
			c.Write(failure("lobby_joined", err))
			return
		}
		c.Write(map[string]interface{}{
			"type":    "lobby_joined",
			"success": true,
			"session": s.Snapshot(),
		})

	case "quick_match":
		if c.Username() == "" {
			c.Write(failure("match_status", models.ErrNotRegistered))
			return
		}
		if c.SessionID() != "" {
			c.Write(failure("match_status", models.ErrAlreadyInSession))
			return
		}
		s, err := gs.Queue.Request(c)
		if err != nil {
			c.Write(failure("match_status", err))
			return
		}
		status := "searching"
		if s != nil {
			status = "matched"
		}
		c.Write(map[string]interface{}{
			"type":    "match_status",
			"success": true,
			"status":  status,
		})

	case "cancel_match":
		gs.Queue.Cancel(c)

	case "start_game":
		err := gs.Store.StartGame(c)
		if errors.Is(err, models.ErrSessionNotFound) {
			return // no session context, nothing to answer
		}
		if err != nil {
			c.Write(failure("start_game_result", err))
			return
		}
		c.Write(map[string]interface{}{
			"type":    "start_game_result",
			"success": true,
		})

	case "toggle_ready":
		gs.Store.ToggleReady(c)

	case "chat":
		text, _ := packet["text"].(string)
		gs.Store.Chat(c, text)

	case "leave_lobby":
		gs.Store.Leave(c)

	case "player_update":
		pos, ok := parseVec3(packet["position"])
		if !ok {
			return
		}
		rotation, _ := packet["rotation"].(float64)
		health, _ := packet["health"].(float64)
		gs.Store.RelayPlayerUpdate(c, pos, rotation, health)

	case "enemy_sync":
		gs.Store.RelayFromHost(c, "enemy_update", packet["entities"])

	case "collectible_sync":
		gs.Store.RelayFromHost(c, "collectible_update", packet["entities"])

	case "item_collected":
		if id, ok := packet["id"].(string); ok && id != "" {
			gs.Store.RelayEvent(c, "item_removed", id)
		}

	case "enemy_killed":
		if id, ok := packet["id"].(string); ok && id != "" {
			gs.Store.RelayEvent(c, "enemy_died", id)
		}

	case "player_died":
		gs.Store.EndGame(c)

	case "ping":
		c.Write(map[string]interface{}{
			"type": "pong",
			"ts":   time.Now().UnixMilli(),
		})

	case "report_ping":
		if ms, ok := packet["ms"].(float64); ok && ms >= 0 {
			c.SetLatency(int64(ms))
		}

	default:
		gs.Logger.WithField("conn", c.ID).Warnf("unknown action %q", action)
		c.WriteError("unknown action type: " + action)
	}
}

// failure wraps a component error into the structured reply for a
// request/response action.
func failure(typ string, err error) map[string]interface{} {
	return map[string]interface{}{
		"type":    typ,
		"success": false,
		"error":   err.Error(),
	}
}

// parseVec3 accepts both {"x":..,"y":..,"z":..} and [x, y, z] forms; the
// game client has shipped both over time.
func parseVec3(v interface{}) (models.Vec3, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		x, xok := val["x"].(float64)
		y, yok := val["y"].(float64)
		z, zok := val["z"].(float64)
		if !xok || !yok || !zok {
			return models.Vec3{}, false
		}
		return models.Vec3{X: x, Y: y, Z: z}, true
	case []interface{}:
		if len(val) != 3 {
			return models.Vec3{}, false
		}
		x, xok := val[0].(float64)
		y, yok := val[1].(float64)
		z, zok := val[2].(float64)
		if !xok || !yok || !zok {
			return models.Vec3{}, false
		}
		return models.Vec3{X: x, Y: y, Z: z}, true
	default:
		return models.Vec3{}, false
	}
}
