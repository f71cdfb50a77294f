package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coderoom/internal/models"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(frame models.WSFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *frameCapture) list() []models.WSFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WSFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func member(id, name string) models.Member { return models.Member{SocketID: id, Username: name} }

func TestClientSendWithHook(t *testing.T) {
	client := NewClient("c1", nil, 1)
	capture := newFrameCapture()
	client.SetSendHook(capture.hook)

	if !client.Send(models.WSFrame{Type: "ping"}) {
		t.Fatalf("expected send to succeed")
	}
	got := capture.list()
	if len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("expected frame captured, got %#v", got)
	}
}

func TestClientSendReportsFullQueue(t *testing.T) {
	client := NewClient("c1", nil, 1)
	if !client.Send(models.WSFrame{Type: "a"}) {
		t.Fatalf("first send should fit in the queue")
	}
	if client.Send(models.WSFrame{Type: "b"}) {
		t.Fatalf("second send should report a full queue")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := NewClient("c1", nil, 1)
	client.Close()
	client.Close()
	if !client.Send(models.WSFrame{Type: "late"}) {
		t.Fatalf("send after close should be ignored, not reported as slow")
	}
}

func TestClientPumpsOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan models.InboundFrame, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient("srv", conn, 4)
		go client.WritePump()
		client.Send(models.WSFrame{Type: "hello", Data: "world"})
		_ = client.ReadPump(func(f models.InboundFrame) { received <- f })
		client.Close()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	var hello models.WSFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read: %v", err)
	}
	if hello.Type != "hello" || hello.Data != "world" {
		t.Fatalf("unexpected frame: %#v", hello)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "join-room", "data": map[string]string{"roomId": "r"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	first := waitFrame(t, received)
	if first.Type != "" {
		t.Fatalf("malformed message should surface as an empty frame, got %#v", first)
	}
	second := waitFrame(t, received)
	if second.Type != "join-room" {
		t.Fatalf("unexpected frame: %#v", second)
	}
	var p models.JoinRoom
	if err := json.Unmarshal(second.Data, &p); err != nil || p.RoomID == nil || *p.RoomID != "r" {
		t.Fatalf("unexpected payload %s: %v", second.Data, err)
	}
}

func waitFrame(t *testing.T, ch <-chan models.InboundFrame) models.InboundFrame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return models.InboundFrame{}
}

func TestHubGetOrCreateDefaults(t *testing.T) {
	hub := NewHub()
	snap, created := hub.GetOrCreate("A")
	if !created {
		t.Fatalf("expected room to be created")
	}
	if snap.Document != models.WelcomeTemplate || snap.Language != models.DefaultLanguage {
		t.Fatalf("unexpected defaults: %#v", snap)
	}
	if snap.CreatedAt.IsZero() {
		t.Fatalf("expected creation timestamp")
	}
	if _, created := hub.GetOrCreate("A"); created {
		t.Fatalf("second GetOrCreate must return the existing room")
	}
	if hub.Count() != 1 {
		t.Fatalf("expected 1 room, got %d", hub.Count())
	}
}

func TestHubConcurrentJoinCreatesOnce(t *testing.T) {
	hub := NewHub()
	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	creations := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, created := hub.Join("NEW", member(fmt.Sprintf("s%d", i), "u")); created {
				mu.Lock()
				creations++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if creations != 1 {
		t.Fatalf("expected exactly one creation, got %d", creations)
	}
	snap, ok := hub.Snapshot("NEW")
	if !ok || len(snap.Members) != n {
		t.Fatalf("expected %d members, got %d (ok=%v)", n, len(snap.Members), ok)
	}
}

func TestHubMembersKeepJoinOrder(t *testing.T) {
	hub := NewHub()
	hub.Join("R", member("s1", "alice"))
	hub.Join("R", member("s2", "bob"))
	hub.Join("R", member("s3", "carol"))

	if !hub.AddMember("R", member("s1", "alice2")) {
		t.Fatalf("expected AddMember on existing room to succeed")
	}
	snap, _ := hub.Snapshot("R")
	want := []models.Member{member("s1", "alice2"), member("s2", "bob"), member("s3", "carol")}
	if fmt.Sprint(snap.Members) != fmt.Sprint(want) {
		t.Fatalf("unexpected members: %v", snap.Members)
	}

	res := hub.RemoveMember("R", "s2")
	if !res.Removed || res.Deleted || res.Member.Username != "bob" {
		t.Fatalf("unexpected removal: %#v", res)
	}
	if fmt.Sprint(res.Remaining) != fmt.Sprint([]models.Member{member("s1", "alice2"), member("s3", "carol")}) {
		t.Fatalf("unexpected remaining: %v", res.Remaining)
	}
}

func TestHubRemoveLastMemberDeletesRoom(t *testing.T) {
	hub := NewHub()
	hub.Join("R", member("s1", "alice"))

	res := hub.RemoveMember("R", "s1")
	if !res.Removed || !res.Deleted || len(res.Remaining) != 0 {
		t.Fatalf("expected room deletion, got %#v", res)
	}
	if _, ok := hub.Snapshot("R"); ok {
		t.Fatalf("room should be gone")
	}
	if hub.Count() != 0 {
		t.Fatalf("expected no rooms, got %d", hub.Count())
	}
}

func TestHubMissingRoomIsNoop(t *testing.T) {
	hub := NewHub()
	if hub.AddMember("X", member("s1", "a")) {
		t.Fatalf("AddMember on missing room should fail")
	}
	if hub.SetDocument("X", "code") || hub.SetLanguage("X", "go") {
		t.Fatalf("setters on missing room should fail")
	}
	if res := hub.RemoveMember("X", "s1"); res.Removed || res.Deleted {
		t.Fatalf("unexpected removal: %#v", res)
	}
	if hub.IsMember("X", "s1") {
		t.Fatalf("no membership expected")
	}
	if hub.Count() != 0 {
		t.Fatalf("no-op calls must not create rooms")
	}
}

func TestHubRemoveNonMemberKeepsRoom(t *testing.T) {
	hub := NewHub()
	hub.Join("R", member("s1", "a"))
	if res := hub.RemoveMember("R", "ghost"); res.Removed || res.Deleted {
		t.Fatalf("unexpected removal: %#v", res)
	}
	if hub.Count() != 1 {
		t.Fatalf("room should survive")
	}
}

func TestHubSetDocumentAndLanguage(t *testing.T) {
	hub := NewHub()
	hub.Join("R", member("s1", "a"))
	hub.SetDocument("R", "first")
	hub.SetDocument("R", "second")
	hub.SetLanguage("R", "go")

	snap, _ := hub.Snapshot("R")
	if snap.Document != "second" || snap.Language != "go" {
		t.Fatalf("last write should win: %#v", snap)
	}
	state := snap.State()
	if state.Code != "second" || state.ChatHistory == nil || len(state.ChatHistory) != 0 {
		t.Fatalf("unexpected state: %#v", state)
	}
}

func TestHubFindRoomsContaining(t *testing.T) {
	hub := NewHub()
	hub.Join("B", member("s1", "a"))
	hub.Join("A", member("s1", "a"))
	hub.Join("C", member("s2", "b"))

	got := hub.FindRoomsContaining("s1")
	if fmt.Sprint(got) != "[A B]" {
		t.Fatalf("unexpected rooms: %v", got)
	}
	if got := hub.FindRoomsContaining("nobody"); len(got) != 0 {
		t.Fatalf("expected no rooms, got %v", got)
	}
	if hub.MemberCount() != 3 {
		t.Fatalf("expected 3 memberships, got %d", hub.MemberCount())
	}
}

func TestHubSnapshotIsACopy(t *testing.T) {
	hub := NewHub()
	hub.Join("R", member("s1", "a"))
	snap, _ := hub.Snapshot("R")
	snap.Members[0].Username = "mutated"

	again, _ := hub.Snapshot("R")
	if again.Members[0].Username != "a" {
		t.Fatalf("snapshot must not alias registry state")
	}
}

func TestHubNeverHoldsEmptyRooms(t *testing.T) {
	hub := NewHub()
	stop := make(chan struct{})
	violations := make(chan string, 1)

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, id := range []string{"R0", "R1", "R2"} {
				if snap, ok := hub.Snapshot(id); ok && len(snap.Members) == 0 {
					select {
					case violations <- id:
					default:
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roomID := fmt.Sprintf("R%d", i%3)
			sid := fmt.Sprintf("s%d", i)
			for j := 0; j < 50; j++ {
				hub.Join(roomID, member(sid, "u"))
				hub.RemoveMember(roomID, sid)
			}
		}(i)
	}
	wg.Wait()
	close(stop)

	select {
	case id := <-violations:
		t.Fatalf("room %s observed with zero members", id)
	default:
	}
	if hub.Count() != 0 {
		t.Fatalf("all rooms should be reclaimed, %d left", hub.Count())
	}
}
