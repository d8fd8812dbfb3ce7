package models

import "time"

// Conversation represents a direct conversation between exactly two users.
// User ids are stored sorted ascending so the pair is unique at the database level.
type Conversation struct {
	ID            int        `db:"id" json:"id"`
	User1ID       int        `db:"user1_id" json:"user1_id"`
	User2ID       int        `db:"user2_id" json:"user2_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
}

// Participant is one side of a conversation with its read marker.
type Participant struct {
	ConversationID int        `db:"conversation_id" json:"conversation_id"`
	UserID         int        `db:"user_id" json:"user_id"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// ConversationSummary is the per-user list view of a conversation.
type ConversationSummary struct {
	ConversationID int        `db:"id" json:"conversation_id"`
	OtherUserID    int        `db:"other_user_id" json:"other_user_id"`
	OtherUsername  string     `db:"other_username" json:"other_username"`
	LastMessage    *Message   `json:"last_message,omitempty"`
	UnreadCount    int        `db:"unread_count" json:"unread_count"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	OtherIsOnline  bool       `json:"other_is_online"`
}

// OtherParticipant returns the participant that is not userID.
func (c Conversation) OtherParticipant(userID int) int {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID int) bool {
	return c.User1ID == userID || c.User2ID == userID
}
