package session

import (
	"time"

	"coderoom/internal/models"
)

// room is the registry record. It is only touched with the hub lock held.
type room struct {
	id        string
	document  string
	language  string
	order     []string // session ids in first-join order
	members   map[string]models.Member
	createdAt time.Time
}

func newRoom(id string, now time.Time) *room {
	return &room{
		id:        id,
		document:  models.WelcomeTemplate,
		language:  models.DefaultLanguage,
		members:   make(map[string]models.Member),
		createdAt: now,
	}
}

func (r *room) add(m models.Member) {
	if _, ok := r.members[m.SocketID]; !ok {
		r.order = append(r.order, m.SocketID)
	}
	r.members[m.SocketID] = m
}

func (r *room) remove(sessionID string) (models.Member, bool) {
	m, ok := r.members[sessionID]
	if !ok {
		return models.Member{}, false
	}
	delete(r.members, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return m, true
}

func (r *room) memberList() []models.Member {
	out := make([]models.Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

func (r *room) snapshot() Snapshot {
	return Snapshot{
		ID:        r.id,
		Document:  r.document,
		Language:  r.language,
		Members:   r.memberList(),
		CreatedAt: r.createdAt,
	}
}

// Snapshot is a read-only copy of a room's state.
type Snapshot struct {
	ID        string
	Document  string
	Language  string
	Members   []models.Member
	CreatedAt time.Time
}

func (s Snapshot) State() models.RoomState {
	return models.RoomState{
		Code:        s.Document,
		Language:    s.Language,
		Users:       s.Members,
		ChatHistory: []models.ChatMessage{},
	}
}

// Removal reports the outcome of RemoveMember.
type Removal struct {
	Removed   bool
	Member    models.Member
	Remaining []models.Member
	Deleted   bool
	CreatedAt time.Time
}
