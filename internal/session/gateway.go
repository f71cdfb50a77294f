package session

import (
	"context"
	"encoding/json"
	"fmt"

	"coderoom/internal/metrics"
	"coderoom/internal/models"
	"coderoom/internal/room_management"
	"coderoom/internal/utils"
)

// Outbound is one frame addressed to one session.
type Outbound struct {
	To    string
	Frame models.WSFrame
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdFrame
	cmdDisconnect
)

type command struct {
	kind      commandKind
	sessionID string
	client    *Client
	frame     models.InboundFrame
}

// Gateway owns the live connections and applies every command from a single
// loop, so a registry mutation and the frames it produces are queued before
// the next command is looked at.
type Gateway struct {
	hub     *Hub
	log     *utils.Logger
	events  room_management.Publisher
	clients map[string]*Client // loop-owned
	inbox   chan command
	done    chan struct{}
}

func NewGateway(hub *Hub, log *utils.Logger, events room_management.Publisher) *Gateway {
	if events == nil {
		events = room_management.NopPublisher{}
	}
	return &Gateway{
		hub:     hub,
		log:     log,
		events:  events,
		clients: make(map[string]*Client),
		inbox:   make(chan command, 1024),
		done:    make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled, then closes every client.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			for id, c := range g.clients {
				c.Close()
				delete(g.clients, id)
			}
			metrics.ActiveSessions.Set(0)
			g.log.Info("gateway stopped")
			return
		case cmd := <-g.inbox:
			g.process(cmd)
		}
	}
}

// Wait blocks until Run has returned.
func (g *Gateway) Wait() { <-g.done }

func (g *Gateway) post(cmd command) bool {
	select {
	case <-g.done:
		return false
	default:
	}
	select {
	case <-g.done:
		return false
	case g.inbox <- cmd:
		return true
	}
}

// Connect registers a client. It returns false once the gateway has stopped.
func (g *Gateway) Connect(c *Client) bool {
	return g.post(command{kind: cmdConnect, sessionID: c.ID, client: c})
}

func (g *Gateway) Submit(sessionID string, frame models.InboundFrame) {
	g.post(command{kind: cmdFrame, sessionID: sessionID, frame: frame})
}

func (g *Gateway) Disconnect(sessionID string) {
	g.post(command{kind: cmdDisconnect, sessionID: sessionID})
}

func (g *Gateway) process(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("gateway command panicked", "session", cmd.sessionID, "panic", fmt.Sprint(r))
		}
	}()

	switch cmd.kind {
	case cmdConnect:
		g.clients[cmd.sessionID] = cmd.client
		metrics.ActiveSessions.Set(float64(len(g.clients)))
		g.log.Info("user connected", "session", cmd.sessionID)
		g.deliver([]Outbound{{To: cmd.sessionID, Frame: models.WSFrame{
			Type: models.EventConnected,
			Data: models.Connected{SocketID: cmd.sessionID},
		}}})

	case cmdFrame:
		// Frames can still trail in from a session the loop already dropped.
		if _, ok := g.clients[cmd.sessionID]; !ok {
			return
		}
		g.deliver(g.HandleFrame(cmd.sessionID, cmd.frame))

	case cmdDisconnect:
		g.disconnect(cmd.sessionID)
	}
}

func (g *Gateway) disconnect(sessionID string) {
	if c, ok := g.clients[sessionID]; ok {
		c.Close()
		delete(g.clients, sessionID)
		metrics.ActiveSessions.Set(float64(len(g.clients)))
		g.log.Info("user disconnected", "session", sessionID)
	}
	g.deliver(g.HandleDisconnect(sessionID))
}

// deliver queues frames on their targets. A client whose queue is full is
// closed and run through the disconnect path before deliver returns.
func (g *Gateway) deliver(out []Outbound) {
	var slow []string
	for _, o := range out {
		c, ok := g.clients[o.To]
		if !ok {
			continue
		}
		if !c.Send(o.Frame) {
			slow = append(slow, o.To)
			continue
		}
		metrics.OutboundFrames.WithLabelValues(o.Frame.Type).Inc()
	}
	for _, id := range slow {
		if _, ok := g.clients[id]; !ok {
			continue
		}
		metrics.SlowClients.Inc()
		g.log.Warn("send queue full, dropping session", "session", id)
		g.disconnect(id)
	}
}

// HandleFrame decodes an inbound frame and routes it to its handler.
// Unknown or undecodable frames produce nothing.
func (g *Gateway) HandleFrame(sessionID string, frame models.InboundFrame) []Outbound {
	var out []Outbound
	var err error
	switch frame.Type {
	case models.EventJoinRoom:
		var p models.JoinRoom
		if err = decode(frame.Data, &p); err == nil {
			out = g.HandleJoin(sessionID, p)
		}
	case models.EventCodeChange:
		var p models.CodeChange
		if err = decode(frame.Data, &p); err == nil {
			out = g.HandleCodeChange(sessionID, p)
		}
	case models.EventLanguageChange:
		var p models.LanguageChange
		if err = decode(frame.Data, &p); err == nil {
			out = g.HandleLanguageChange(sessionID, p)
		}
	case models.EventLeaveRoom:
		var p models.LeaveRoom
		if err = decode(frame.Data, &p); err == nil {
			out = g.HandleLeave(sessionID, p)
		}
	default:
		err = fmt.Errorf("unknown event %q", frame.Type)
	}
	if err != nil {
		metrics.InboundFrames.WithLabelValues(eventLabel(frame.Type), metrics.Dropped).Inc()
		g.log.Debug("frame dropped", "session", sessionID, "event", frame.Type, "error", err.Error())
	}
	return out
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func eventLabel(event string) string {
	switch event {
	case models.EventJoinRoom, models.EventCodeChange, models.EventLanguageChange, models.EventLeaveRoom:
		return event
	}
	return "unknown"
}

func (g *Gateway) drop(sessionID, event, reason string) []Outbound {
	metrics.InboundFrames.WithLabelValues(event, metrics.Dropped).Inc()
	g.log.Debug("command dropped", "session", sessionID, "event", event, "reason", reason)
	return nil
}

func applied(event string) { metrics.InboundFrames.WithLabelValues(event, metrics.Applied).Inc() }

// HandleJoin adds the session to the room, sends it the full state and tells
// the other members who arrived.
func (g *Gateway) HandleJoin(sessionID string, p models.JoinRoom) []Outbound {
	if p.RoomID == nil || p.Username == nil {
		return g.drop(sessionID, models.EventJoinRoom, "missing field")
	}
	roomID := models.NormalizeRoomID(*p.RoomID)
	username := models.NormalizeUsername(*p.Username)
	if roomID == "" || username == "" {
		return g.drop(sessionID, models.EventJoinRoom, "empty room or username")
	}

	me := models.Member{Username: username, SocketID: sessionID}
	snap, created := g.hub.Join(roomID, me)
	applied(models.EventJoinRoom)
	if created {
		g.log.Info("room created", "room", roomID)
		g.events.Publish(room_management.RoomEvent{Type: room_management.RoomCreated, RoomID: roomID, CreatedAt: snap.CreatedAt})
		metrics.ActiveRooms.Set(float64(g.hub.Count()))
	}
	g.log.Info("user joined room", "session", sessionID, "username", username, "room", roomID, "members", len(snap.Members))

	out := []Outbound{{To: sessionID, Frame: models.WSFrame{Type: models.EventRoomState, Data: snap.State()}}}
	joined := models.WSFrame{Type: models.EventUserJoined, Data: models.UserJoined{
		Username: username,
		SocketID: sessionID,
		Users:    snap.Members,
	}}
	return append(out, fanout(snap.Members, sessionID, joined)...)
}

// HandleCodeChange stores the new document and forwards it to every member
// except the sender, who already has it.
func (g *Gateway) HandleCodeChange(sessionID string, p models.CodeChange) []Outbound {
	if p.RoomID == nil || p.Code == nil {
		return g.drop(sessionID, models.EventCodeChange, "missing field")
	}
	roomID := models.NormalizeRoomID(*p.RoomID)
	if !g.hub.IsMember(roomID, sessionID) {
		return g.drop(sessionID, models.EventCodeChange, "not a member")
	}
	if !g.hub.SetDocument(roomID, *p.Code) {
		return nil
	}
	snap, ok := g.hub.Snapshot(roomID)
	if !ok {
		return nil
	}
	applied(models.EventCodeChange)
	return fanout(snap.Members, sessionID, models.WSFrame{Type: models.EventCodeUpdate, Data: models.CodeUpdate{Code: *p.Code}})
}

// HandleLanguageChange stores the tag and sends it to every member, sender included.
func (g *Gateway) HandleLanguageChange(sessionID string, p models.LanguageChange) []Outbound {
	if p.RoomID == nil || p.Language == nil || *p.Language == "" {
		return g.drop(sessionID, models.EventLanguageChange, "missing field")
	}
	roomID := models.NormalizeRoomID(*p.RoomID)
	if !g.hub.IsMember(roomID, sessionID) {
		return g.drop(sessionID, models.EventLanguageChange, "not a member")
	}
	if !g.hub.SetLanguage(roomID, *p.Language) {
		return nil
	}
	snap, ok := g.hub.Snapshot(roomID)
	if !ok {
		return nil
	}
	applied(models.EventLanguageChange)
	return fanout(snap.Members, "", models.WSFrame{Type: models.EventLanguageUpdate, Data: models.LanguageUpdate{Language: *p.Language}})
}

// HandleLeave removes the session from one room; the connection stays open.
func (g *Gateway) HandleLeave(sessionID string, p models.LeaveRoom) []Outbound {
	if p.RoomID == nil {
		return g.drop(sessionID, models.EventLeaveRoom, "missing field")
	}
	roomID := models.NormalizeRoomID(*p.RoomID)
	out, ok := g.leave(roomID, sessionID)
	if !ok {
		return g.drop(sessionID, models.EventLeaveRoom, "not a member")
	}
	applied(models.EventLeaveRoom)
	return out
}

// HandleDisconnect removes the session from every room it belongs to.
func (g *Gateway) HandleDisconnect(sessionID string) []Outbound {
	var out []Outbound
	for _, roomID := range g.hub.FindRoomsContaining(sessionID) {
		o, _ := g.leave(roomID, sessionID)
		out = append(out, o...)
	}
	return out
}

func (g *Gateway) leave(roomID, sessionID string) ([]Outbound, bool) {
	res := g.hub.RemoveMember(roomID, sessionID)
	if !res.Removed {
		return nil, false
	}
	g.log.Info("user left room", "session", sessionID, "username", res.Member.Username, "room", roomID, "members", len(res.Remaining))
	if res.Deleted {
		g.log.Info("room deleted", "room", roomID)
		g.events.Publish(room_management.RoomEvent{Type: room_management.RoomClosed, RoomID: roomID, CreatedAt: res.CreatedAt})
		metrics.ActiveRooms.Set(float64(g.hub.Count()))
		return nil, true
	}
	left := models.WSFrame{Type: models.EventUserLeft, Data: models.UserLeft{
		SocketID: sessionID,
		Username: res.Member.Username,
		Users:    res.Remaining,
	}}
	return fanout(res.Remaining, sessionID, left), true
}

// fanout addresses frame to every member except skip.
func fanout(members []models.Member, skip string, frame models.WSFrame) []Outbound {
	out := make([]Outbound, 0, len(members))
	for _, m := range members {
		if m.SocketID == skip {
			continue
		}
		out = append(out, Outbound{To: m.SocketID, Frame: frame})
	}
	return out
}
