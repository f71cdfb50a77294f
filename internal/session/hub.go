package session

import (
	"sort"
	"sync"
	"time"

	"coderoom/internal/models"
)

// Hub is the room registry. A room is present only while it has members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*room), now: time.Now} }

func (h *Hub) getOrCreateLocked(id string) (*room, bool) {
	if r, ok := h.rooms[id]; ok {
		return r, false
	}
	r := newRoom(id, h.now())
	h.rooms[id] = r
	return r, true
}

// GetOrCreate returns the room for id, creating it with the default document
// and language when absent. Callers that go on to add a member should use Join.
func (h *Hub) GetOrCreate(id string) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, created := h.getOrCreateLocked(id)
	return r.snapshot(), created
}

// AddMember inserts or overwrites a member. Re-adding keeps the original position.
func (h *Hub) AddMember(roomID string, m models.Member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	r.add(m)
	return true
}

// Join creates the room if needed and adds the member in one step, so an
// empty room is never visible to other callers.
func (h *Hub) Join(roomID string, m models.Member) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, created := h.getOrCreateLocked(roomID)
	r.add(m)
	return r.snapshot(), created
}

// RemoveMember drops a member and deletes the room when it becomes empty.
func (h *Hub) RemoveMember(roomID, sessionID string) Removal {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return Removal{}
	}
	m, removed := r.remove(sessionID)
	if !removed {
		return Removal{Remaining: r.memberList()}
	}
	res := Removal{Removed: true, Member: m, Remaining: r.memberList(), CreatedAt: r.createdAt}
	if len(r.order) == 0 {
		delete(h.rooms, roomID)
		res.Deleted = true
	}
	return res
}

func (h *Hub) SetDocument(roomID, text string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	r.document = text
	return true
}

func (h *Hub) SetLanguage(roomID, language string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	r.language = language
	return true
}

func (h *Hub) Snapshot(roomID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

func (h *Hub) IsMember(roomID, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.members[sessionID]
	return ok
}

// FindRoomsContaining returns the sorted ids of every room the session is in.
func (h *Hub) FindRoomsContaining(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for id, r := range h.rooms {
		if _, ok := r.members[sessionID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count is the number of active rooms.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// MemberCount is the number of memberships across all rooms.
func (h *Hub) MemberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, r := range h.rooms {
		n += len(r.order)
	}
	return n
}
