package domain

import "time"

// Frame types from client.
const (
	FrameJoin    = "JOIN"
	FrameMessage = "MESSAGE"
	FrameTyping  = "TYPING"
	FrameLeave   = "LEAVE"
)

// Frame types to client.
const (
	FrameJoined           = "JOINED"
	FrameUserJoined       = "USER_JOINED"
	FrameUserLeft         = "USER_LEFT"
	FrameUserDisconnected = "USER_DISCONNECTED"
)

// TimestampLayout renders server timestamps as ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp stamps t for an outbound frame.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// InboundFrame is the union of every client -> server frame. Fields not used
// by a given type are left zero.
type InboundFrame struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
	IsTyping bool   `json:"isTyping,omitempty"`
}

// Server -> Client frames

// RoomUser is one entry of a member snapshot.
type RoomUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type JoinedFrame struct {
	Type      string     `json:"type"`
	Username  string     `json:"username"`
	Room      string     `json:"room"`
	UserID    string     `json:"userId"`
	RoomUsers []RoomUser `json:"roomUsers"`
	Timestamp string     `json:"timestamp"`
}

type UserJoinedFrame struct {
	Type      string     `json:"type"`
	Username  string     `json:"username"`
	UserID    string     `json:"userId"`
	Room      string     `json:"room"`
	RoomUsers []RoomUser `json:"roomUsers"`
	Timestamp string     `json:"timestamp"`
}

// PresenceFrame is used for USER_LEFT and USER_DISCONNECTED.
type PresenceFrame struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	UserID    string `json:"userId"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

type MessageFrame struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

type TypingFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Stats is the point-in-time status snapshot.
type Stats struct {
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Timestamp   string `json:"timestamp"`
}
