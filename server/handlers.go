package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Saintenr/dis4ster-shr3k/marker"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // local UI only
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"initiator":  s.coordinator.Initiator().Session().Snapshot(),
		"responder":  s.coordinator.Responder().Session().Snapshot(),
		"ui_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.coordinator.ChatLog()})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.coordinator.Send(req.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.coordinator.Initiator().Peers()})
}

func (s *Server) handleListMarkers(w http.ResponseWriter, r *http.Request) {
	markers := s.store.ListAll()
	if markers == nil {
		markers = []marker.Marker{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markers": markers})
}

type markerRequest struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Category string  `json:"cat"`
	Note     string  `json:"note"`
}

func (s *Server) handleAddMarker(w http.ResponseWriter, r *http.Request) {
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid marker body")
		return
	}
	if !marker.KnownCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	m := marker.New(req.Lat, req.Lon, req.Category, req.Note)
	if err := s.store.Add(m); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMarker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid marker body")
		return
	}
	if !marker.KnownCategory(req.Category) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	// Preserve the original creation time when the marker exists.
	var createdAt float64
	for _, existing := range s.store.ListAll() {
		if existing.ID == id {
			createdAt = existing.CreatedAt
			break
		}
	}
	m := marker.Marker{ID: id, Lat: req.Lat, Lon: req.Lon, Category: req.Category, Note: req.Note, CreatedAt: createdAt}
	if err := s.store.Update(m); err != nil {
		if errors.Is(err, marker.ErrUnknownID) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": marker.Categories})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.AddClient(conn)

	// Reader loop only detects close; the UI talks back over HTTP.
	go func() {
		defer s.hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
