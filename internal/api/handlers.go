package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coderoom/internal/models"
	"coderoom/internal/session"
	"coderoom/internal/utils"
)

type roomCounter interface {
	Count() int
}

type gateway interface {
	Connect(c *session.Client) bool
	Submit(sessionID string, frame models.InboundFrame)
	Disconnect(sessionID string)
}

type Handlers struct {
	log        *utils.Logger
	rooms      roomCounter
	gateway    gateway
	sendBuffer int
	upgrader   websocket.Upgrader
}

// NewHandlers wires HTTP handlers to the room registry and the gateway loop.
// allowedOrigins limits websocket upgrades; "*" or an empty list allows any origin.
func NewHandlers(log *utils.Logger, rooms roomCounter, gw gateway, sendBuffer int, allowedOrigins []string) *Handlers {
	return &Handlers{
		log:        log,
		rooms:      rooms,
		gateway:    gw,
		sendBuffer: sendBuffer,
		upgrader:   websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// Status reports process health and the number of active rooms.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, models.Health{
		Status:      "OK",
		Message:     "Server is running",
		ActiveRooms: h.rooms.Count(),
	})
}

/*** Collab WebSocket: one connection is one session ***/
func (h *Handlers) CollabWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := session.NewClient(uuid.NewString(), conn, h.sendBuffer)
	if !h.gateway.Connect(client) {
		_ = conn.Close()
		return
	}
	go client.WritePump()

	err = client.ReadPump(func(frame models.InboundFrame) {
		h.gateway.Submit(client.ID, frame)
	})
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		h.log.Warn("websocket closed unexpectedly", "session", client.ID, "error", err.Error())
	}
	h.gateway.Disconnect(client.ID)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
