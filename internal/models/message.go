package models

import "time"

// Message is a single message inside a conversation. Immutable once stored
// except for the read flag.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`
	IsRead         bool      `db:"is_read" json:"is_read"`
}

// ChatEvent is the envelope pushed to websocket clients.
type ChatEvent struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	ConversationID int      `json:"conversation_id,omitempty"`
	UserID         int      `json:"user_id,omitempty"`
	UserIDs        []int    `json:"user_ids,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Websocket event types.
const (
	EventMessage     = "message"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventOnlineUsers = "online_users"
	EventRead        = "read"
	EventError       = "error"
)
