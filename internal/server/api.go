// Package server exposes the REST API and mounts the WebSocket gateway.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ludoforge/ludo-server-go/internal/matchmaking"
	"github.com/ludoforge/ludo-server-go/internal/room"
)

// Server routes HTTP requests to the room registry and matchmaking queue.
type Server struct {
	registry  *room.Registry
	queue     *matchmaking.Queue
	gameTypes map[string]room.GameConfig
	logger    *zap.Logger
	router    *mux.Router
}

// NewServer builds the router. ws may be nil when the WebSocket gateway is
// mounted elsewhere.
func NewServer(
	registry *room.Registry,
	queue *matchmaking.Queue,
	gameTypes map[string]room.GameConfig,
	ws http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		registry:  registry,
		queue:     queue,
		gameTypes: gameTypes,
		logger:    logger,
		router:    mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms", s.handleCreateRoom).Methods("POST")
	api.HandleFunc("/rooms/active", s.handleActiveRooms).Methods("GET")
	api.HandleFunc("/rooms/{code}", s.handleGetRoom).Methods("GET")
	api.HandleFunc("/rooms/{code}/join", s.handleJoinRoom).Methods("POST")
	api.HandleFunc("/matchmaking", s.handleEnqueue).Methods("POST")
	api.HandleFunc("/matchmaking/position", s.handlePosition).Methods("GET")
	api.HandleFunc("/matchmaking/leave", s.handleDequeue).Methods("POST")
	api.HandleFunc("/game-types", s.handleGameTypes).Methods("GET")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if ws != nil {
		s.router.Handle("/ws", ws)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondRejection maps a room rejection onto an HTTP status, keeping the
// typed code in the body.
func respondRejection(w http.ResponseWriter, err error) {
	rej, ok := room.AsRejection(err)
	if !ok {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusConflict
	switch rej.Code {
	case room.RejectWrongPassword:
		status = http.StatusForbidden
	case room.RejectNotInRoom:
		status = http.StatusNotFound
	case room.RejectRoomClosed:
		status = http.StatusGone
	}
	respondJSON(w, status, rej)
}

// identity reads the pre-authenticated player identity from headers set by
// the fronting auth proxy.
func identity(r *http.Request) (room.PlayerIdentity, bool) {
	id := r.Header.Get("X-Player-ID")
	if id == "" {
		return room.PlayerIdentity{}, false
	}
	name := r.Header.Get("X-Player-Name")
	if name == "" {
		name = id
	}
	return room.PlayerIdentity{ID: id, Name: name}, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGameTypes(w http.ResponseWriter, _ *http.Request) {
	type gameType struct {
		ID         string       `json:"id"`
		Variant    room.Variant `json:"variant"`
		MinPlayers int          `json:"min_players"`
		MaxPlayers int          `json:"max_players"`
		EntryFee   int64        `json:"entry_fee,omitempty"`
	}
	out := make([]gameType, 0, len(s.gameTypes))
	for _, cfg := range s.gameTypes {
		out = append(out, gameType{
			ID:         cfg.GameTypeID,
			Variant:    cfg.Variant,
			MinPlayers: cfg.MinPlayers,
			MaxPlayers: cfg.MaxPlayers,
			EntryFee:   cfg.EntryFee,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameTypeID string `json:"game_type_id"`
		Password   string `json:"password,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	cfg, ok := s.gameTypes[req.GameTypeID]
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown game type")
		return
	}
	cfg.Password = req.Password

	created, err := s.registry.Create(cfg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("room created via api",
		zap.String("room_code", created.Code()),
		zap.String("game_type", req.GameTypeID),
	)
	respondJSON(w, http.StatusCreated, map[string]any{
		"room_code":    created.Code(),
		"game_type_id": req.GameTypeID,
		"min_players":  cfg.MinPlayers,
		"max_players":  cfg.MaxPlayers,
		"private":      req.Password != "",
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	rm, ok := s.registry.Get(code)
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}
	snap, err := rm.Snapshot(r.Context())
	if err != nil {
		respondRejection(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleActiveRooms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Active(r.Context()))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	player, ok := identity(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "player identity required")
		return
	}

	var req struct {
		Password string `json:"password,omitempty"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	code := mux.Vars(r)["code"]
	rm, ok := s.registry.Get(code)
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}

	res, err := rm.Join(r.Context(), player, req.Password)
	if err != nil {
		respondRejection(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"seat":     res.Seat,
		"snapshot": res.Snapshot,
	})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	player, ok := identity(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "player identity required")
		return
	}

	var req struct {
		GameTypeID string `json:"game_type_id"`
		Region     string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ticket, pairing, err := s.queue.Enqueue(r.Context(), player, req.GameTypeID, req.Region)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if pairing != nil {
		respondJSON(w, http.StatusCreated, map[string]any{
			"room_code": pairing.RoomCode,
			"seat":      pairing.Seat,
		})
		return
	}

	position, _ := s.queue.Position(player.ID)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"ticket_id": ticket.ID,
		"position":  position,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	player, ok := identity(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "player identity required")
		return
	}
	position, ok := s.queue.Position(player.ID)
	if !ok {
		respondError(w, http.StatusNotFound, "no queued ticket")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"position": position})
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	player, ok := identity(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "player identity required")
		return
	}
	if !s.queue.Dequeue(player.ID) {
		respondError(w, http.StatusNotFound, "no queued ticket")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
