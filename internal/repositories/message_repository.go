package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var (
	ErrNotParticipant = errors.New("sender is not a participant of the conversation")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
)

// MaxContentLength bounds message content after trimming.
const MaxContentLength = 2000

// Message page sizing for scroll-back.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, beforeMessageID int, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage validates and stores a message, bumping the conversation's
// last_message_at in the same transaction. The returned message carries the
// server-assigned id and timestamp.
func (r *MessageRepo) AppendMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	if len([]rune(content)) > MaxContentLength {
		return models.Message{}, ErrContentTooLong
	}

	var member bool
	if err := r.db.GetContext(ctx, &member,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, senderID); err != nil {
		return models.Message{}, err
	}
	if !member {
		return models.Message{}, ErrNotParticipant
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
            RETURNING id, conversation_id, sender_id, content, sent_at, is_read`,
		conversationID, senderID, content).StructScan(&msg); err != nil {
		return models.Message{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at=$1 WHERE id=$2`, msg.SentAt, conversationID); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages returns a page of messages in display order (sent_at ascending,
// ids breaking ties). A beforeMessageID of zero fetches the latest page.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int, beforeMessageID int, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var msgs []models.Message
	var err error
	if beforeMessageID > 0 {
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT id, conversation_id, sender_id, content, sent_at, is_read FROM messages
                WHERE conversation_id=$1 AND id < $2
                ORDER BY sent_at DESC, id DESC LIMIT $3`,
			conversationID, beforeMessageID, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs,
			`SELECT id, conversation_id, sender_id, content, sent_at, is_read FROM messages
                WHERE conversation_id=$1
                ORDER BY sent_at DESC, id DESC LIMIT $2`,
			conversationID, limit)
	}
	if err != nil {
		return nil, err
	}

	// Query runs newest-first for the LIMIT; flip back to display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
