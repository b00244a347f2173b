// internal/handlers/http.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Wh0mever/Moonward-Odyssey/internal/middleware"
)

// StatusHandler exposes the out-of-band monitoring surface: open-session
// count, connected-connection count and matchmaking queue length.
func StatusHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"openSessions": gs.Store.Count(),
			"connections":  gs.ClientCount(),
			"queueLength":  gs.Queue.Len(),
		})
	}
}

// HealthzHandler is a bare liveness probe.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// NewRouter assembles the full HTTP surface: the game websocket plus the
// monitoring routes, all behind request logging.
func NewRouter(logger *logrus.Logger, gs *GameServer) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LogMiddleware(logger))
	r.HandleFunc("/ws", GameWSHandler(logger, gs))
	r.HandleFunc("/status", StatusHandler(gs)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", HealthzHandler).Methods(http.MethodGet)
	return r
}
