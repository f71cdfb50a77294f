package models

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	DefaultLanguage = "javascript"
	WelcomeTemplate = "// Welcome to the collaborative editor!\n// Start coding together...\n\n"

	MaxUsernameLength = 20
)

// Inbound event names.
const (
	EventJoinRoom       = "join-room"
	EventCodeChange     = "code-change"
	EventLanguageChange = "language-change"
	EventLeaveRoom      = "leave-room"
)

// Outbound event names.
const (
	EventConnected      = "connected"
	EventRoomState      = "room-state"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventCodeUpdate     = "code-update"
	EventLanguageUpdate = "language-update"
)

// WSFrame is the envelope for every message written to a client.
type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame is the envelope read from a client; Data is decoded per Type.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

/*** Inbound payloads ***/

// Pointer fields distinguish a missing field from an explicit empty string.
type JoinRoom struct {
	RoomID   *string `json:"roomId"`
	Username *string `json:"username"`
}

type CodeChange struct {
	RoomID *string `json:"roomId"`
	Code   *string `json:"code"`
}

type LanguageChange struct {
	RoomID   *string `json:"roomId"`
	Language *string `json:"language"`
}

type LeaveRoom struct {
	RoomID *string `json:"roomId"`
}

/*** Outbound payloads ***/

type Member struct {
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type Connected struct {
	SocketID string `json:"socketId"`
}

type RoomState struct {
	Code        string        `json:"code"`
	Language    string        `json:"language"`
	Users       []Member      `json:"users"`
	ChatHistory []ChatMessage `json:"chatHistory"`
}

type UserJoined struct {
	Username string   `json:"username"`
	SocketID string   `json:"socketId"`
	Users    []Member `json:"users"`
}

type UserLeft struct {
	SocketID string   `json:"socketId"`
	Username string   `json:"username"`
	Users    []Member `json:"users"`
}

type CodeUpdate struct {
	Code string `json:"code"`
}

type LanguageUpdate struct {
	Language string `json:"language"`
}

// Health is the body of the status endpoint.
type Health struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ActiveRooms int    `json:"activeRooms"`
}

// NormalizeRoomID applies the same normalization clients use for room codes:
// surrounding whitespace removed, upper-cased.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// NormalizeUsername trims the name and caps it at MaxUsernameLength runes.
// An empty result means the name is unusable.
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxUsernameLength {
		return name
	}
	return strings.TrimSpace(string([]rune(name)[:MaxUsernameLength]))
}
