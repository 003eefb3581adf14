package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/dmarren/roomsync/internal/model"
)

// Handler returns the HTTP surface the client expects.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/new_messages", s.handleNewMessages)
	r.Post("/api/room_ping", s.handleRoomPing)
	r.Get("/api/active_counts", s.handleActiveCounts)
	r.Post("/api/send_message", s.handleSendMessage)
	r.Get("/stream", s.handleStream)
	r.Get("/ws", s.handleWS)
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[error] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": msg}) //nolint:errcheck
}

// roomFromWire maps the fetch endpoint's chat_type naming back to a room
// reference; direct chats arrive as "private" there.
func roomFromWire(chatType, id string) (model.RoomRef, error) {
	if chatType == "private" {
		chatType = string(model.RoomTypeChat)
	}
	return model.ParseRoomRef(chatType + ":" + id)
}

func (s *Server) handleNewMessages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID        string `json:"chat_id"`
		ChatType      string `json:"chat_type"`
		LastTimestamp int64  `json:"last_timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.ChatID == "" || req.ChatType == "" {
		writeError(w, http.StatusBadRequest, "Missing chat_id or chat_type")
		return
	}
	room, err := roomFromWire(req.ChatType, req.ChatID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chat_type")
		return
	}

	msgs := s.MessagesSince(room, req.LastTimestamp)
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, map[string]any{"status": "success", "messages": msgs})
}

func (s *Server) handleRoomPing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Type == "" || req.ID == "" {
		writeError(w, http.StatusBadRequest, "type and id required")
		return
	}
	room, err := model.ParseRoomRef(req.Type + ":" + req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.RecordPresence(room, clientIdentity(r))
	writeJSON(w, map[string]string{"status": "success"})
}

// clientIdentity keys presence buckets. There is no authentication here;
// the X-Client header (set by the client with its instance id) or the
// remote address stands in for a user id.
func clientIdentity(r *http.Request) string {
	if id := r.Header.Get("X-Client"); id != "" {
		return id
	}
	host, _, ok := strings.Cut(r.RemoteAddr, ":")
	if ok {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) handleActiveCounts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	disabled := s.countsDisabled
	s.mu.Unlock()
	if disabled {
		writeJSON(w, map[string]string{
			"status":  "disabled",
			"message": "Active user counts are disabled by admin.",
		})
		return
	}

	resp := map[string]any{"status": "success"}

	s.mu.Lock()
	resp["global_active"] = s.globalActiveLocked()
	for param, roomType := range map[string]model.RoomType{
		"topic_ids":        model.RoomTypeTopic,
		"relationship_ids": model.RoomTypeRelationship,
		"chat_ids":         model.RoomTypeChat,
	} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		counts := map[string]int{}
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			counts[id] = s.activeCountLocked(string(roomType) + ":" + id)
		}
		resp[string(roomType)+"_active"] = counts
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		SenderName string `json:"sender_name"`
		Content    string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Content required")
		return
	}
	room, err := model.ParseRoomRef(req.Type + ":" + req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sender := req.SenderName
	if sender == "" {
		sender = "anonymous"
	}

	msg := s.Post(room, sender, req.Content)
	writeJSON(w, map[string]any{
		"status":         "success",
		"id":             msg.ID,
		"timestamp":      msg.Timestamp,
		"formatted_time": msg.FormattedTime,
	})
}

// handleStream serves the SSE push channel for one room. Each message
// event goes out as "event: message" with a JSON payload; a comment line
// every 10s keeps intermediaries from timing the connection out.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	room, err := model.ParseRoomRef(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, "Missing or invalid room parameter", http.StatusBadRequest)
		return
	}

	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		log.Printf("%v", err)
		return
	}

	ctx := r.Context()
	key := room.Key()
	sub := s.subscribe(key)
	defer s.unsubscribe(key, sub)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-sub:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[error] failed to encode push event: %v", err)
				continue
			}

			fmt.Fprint(w, "event: message\n")    //nolint:errcheck
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck

			if err := rc.Flush(); err != nil {
				log.Printf("could not flush buffer to writer: %+v", err)
				return
			}

		case <-ticker.C:
			fmt.Fprint(w, ": \n\n") //nolint:errcheck
			if err := rc.Flush(); err != nil {
				log.Printf("could not flush buffer to writer: %+v", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// handleWS serves the same event stream over a WebSocket for clients
// preferring that transport.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	room, err := model.ParseRoomRef(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, "Missing or invalid room parameter", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[error] failed to upgrade connection to WebSocket: %v", err)
		return
	}

	ctx := r.Context()
	key := room.Key()
	sub := s.subscribe(key)
	defer s.unsubscribe(key, sub)

	// Reads are discarded; the push protocol is one-way. The read loop
	// exists to notice the peer going away.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[error] failed to encode push event: %v", err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "write failed")
				return
			}

		case <-readDone:
			conn.Close(websocket.StatusNormalClosure, "peer closed")
			return

		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "context cancelled")
			return
		}
	}
}
