package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edungeon/quizrace/game/protocol"
	"github.com/edungeon/quizrace/game/room"
)

// Server is the HTTP surface of the quiz-race server: the WebSocket
// endpoint plus a small read-only REST probe for lobbies and operators.
type Server struct {
	registry *room.Registry
	ws       http.Handler
	router   *mux.Router
}

// NewServer creates the HTTP server. ws is the upgrade handler from
// transport/websocket.
func NewServer(registry *room.Registry, ws http.Handler) *Server {
	s := &Server{
		registry: registry,
		ws:       ws,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms/{id}", s.handleCheckRoom).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// WebSocket transport
	s.router.Handle("/ws", s.ws)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCheckRoom mirrors the CHECK_ROOM wire operation for clients that
// want to probe a room code before opening a game connection.
func (s *Server) handleCheckRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	target, err := s.registry.Get(id)
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"status": protocol.RoomNotFound})
		return
	}

	status := protocol.RoomFound
	if target.IsFull() {
		status = protocol.RoomFull
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"players":    target.PlayerCount(),
		"maxPlayers": target.MaxPlayers(),
		"state":      target.State(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Stats())
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
