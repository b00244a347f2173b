// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Wh0mever/Moonward-Odyssey/internal/middleware"
	"github.com/Wh0mever/Moonward-Odyssey/internal/session"
)

// GameWSHandler upgrades the connection and runs the per-connection
// message loop until the transport closes, then triggers cleanup.
func GameWSHandler(logger *logrus.Logger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"moonward"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer wsConn.Close(websocket.StatusInternalError, "handler finished")

		if wsConn.Subprotocol() != "moonward" {
			wsConn.Close(BadSubprotocolError, "client must speak the moonward subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		c := session.NewClient(cancel, logger)
		gs.AddClient(c)
		middleware.LogWebSocketConnect(logger, remoteAddr, c.ID.String())

		go writePump(ctx, wsConn, c, gs)
		readErr := readPump(ctx, wsConn, c, gs, logger)

		gs.Disconnect(c)
		middleware.LogWebSocketDisconnect(logger, remoteAddr, c.ID.String(), readErr)
		wsConn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// readPump consumes inbound frames and hands them to the dispatcher.
// Returns the terminal read error (nil for a normal closure).
func readPump(ctx context.Context, wsConn *websocket.Conn, c *session.Client, gs *GameServer, logger *logrus.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		typ, data, err := wsConn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				return nil
			}
			if strings.Contains(err.Error(), "context canceled") {
				return nil
			}
			return err
		}

		if typ != websocket.MessageText {
			logger.WithField("conn", c.ID).Warnf("ignoring non-text message type %d", typ)
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(data, &packet); err != nil {
			logger.WithField("conn", c.ID).Warnf("invalid json: %v", err)
			c.WriteError("invalid JSON")
			continue
		}

		gs.handleMessage(c, packet)
	}
}

// writePump drains the client's outbound channel onto the socket. It also
// owns the transport keepalive ping and the periodic latency probe.
func writePump(ctx context.Context, wsConn *websocket.Conn, c *session.Client, gs *GameServer) {
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	probe := time.NewTicker(gs.Config.ProbeEvery)
	defer probe.Stop()

	write := func(msg map[string]interface{}) bool {
		data, err := json.Marshal(msg)
		if err != nil {
			gs.Logger.WithField("conn", c.ID).Warnf("failed to marshal outgoing msg: %v", err)
			return true
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsConn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			gs.Logger.WithField("conn", c.ID).Warnf("websocket write failed: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.Out:
			if !write(msg) {
				return
			}
		case <-probe.C:
			if !write(map[string]interface{}{
				"type": "latency_probe",
				"ts":   time.Now().UnixMilli(),
			}) {
				return
			}
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := wsConn.Ping(pingCtx)
			cancel()
			if err != nil {
				gs.Logger.WithField("conn", c.ID).Warnf("keepalive ping failed: %v", err)
				return
			}
		}
	}
}
