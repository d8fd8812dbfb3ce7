package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrSelfConversation     = errors.New("cannot start a conversation with yourself")
	ErrConflict             = errors.New("conversation already exists")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGetConversation(ctx context.Context, userID int, otherID int) (models.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	ListParticipants(ctx context.Context, conversationID int) ([]models.Participant, error)
	ParticipantIDs(ctx context.Context, conversationID int) ([]int, error)
	ListConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	MarkRead(ctx context.Context, conversationID int, userID int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const pqUniqueViolation = "23505"

// CreateOrGetConversation returns the conversation between two users, creating
// it together with both participant rows when it does not exist yet. The
// sorted-pair unique constraint arbitrates concurrent creations: a loser of
// the race re-reads the winner's row instead of failing.
func (r *ConversationRepo) CreateOrGetConversation(ctx context.Context, userID int, otherID int) (models.Conversation, bool, error) {
	if userID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	pair := []int{userID, otherID}
	sort.Ints(pair)
	user1, user2 := pair[0], pair[1]

	conv, err := r.getByPair(ctx, user1, user2)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	conv, err = r.insertConversation(ctx, user1, user2)
	if err == nil {
		return conv, true, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		conv, err = r.getByPair(ctx, user1, user2)
		if err != nil {
			return models.Conversation{}, false, ErrConflict
		}
		return conv, false, nil
	}
	return models.Conversation{}, false, err
}

func (r *ConversationRepo) getByPair(ctx context.Context, user1, user2 int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, user1_id, user2_id, created_at, last_message_at FROM conversations WHERE user1_id=$1 AND user2_id=$2`,
		user1, user2)
	return conv, err
}

func (r *ConversationRepo) insertConversation(ctx context.Context, user1, user2 int) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (user1_id, user2_id) VALUES ($1, $2) RETURNING id, user1_id, user2_id, created_at, last_message_at`,
		user1, user2).StructScan(&conv); err != nil {
		return models.Conversation{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)`,
		conv.ID, user1, user2); err != nil {
		return models.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, user1_id, user2_id, created_at, last_message_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// ListParticipants returns both participant rows of a conversation.
func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationID int) ([]models.Participant, error) {
	var parts []models.Participant
	err := r.db.SelectContext(ctx, &parts,
		`SELECT conversation_id, user_id, joined_at, last_read_at FROM participants WHERE conversation_id=$1 ORDER BY user_id`,
		conversationID)
	return parts, err
}

// ParticipantIDs returns the user ids of a conversation's participants.
func (r *ConversationRepo) ParticipantIDs(ctx context.Context, conversationID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM participants WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

// ListConversationsForUser returns the user's conversations annotated with the
// other participant, the latest message and the unread count, most recent
// activity first.
func (r *ConversationRepo) ListConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.created_at, c.last_message_at,
            o.user_id AS other_user_id,
            COALESCE(u.username, '') AS other_username,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id
                AND m.sender_id <> $1
                AND m.sent_at > COALESCE(p.last_read_at, '-infinity'::timestamptz)) AS unread_count
        FROM conversations c
        JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
        JOIN participants o ON o.conversation_id = c.id AND o.user_id <> $1
        LEFT JOIN users u ON u.id = o.user_id
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	var summaries []models.ConversationSummary
	if err := r.db.SelectContext(ctx, &summaries, query, userID); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]int, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ConversationID)
	}
	var latest []models.Message
	err := r.db.SelectContext(ctx, &latest,
		`SELECT DISTINCT ON (conversation_id) id, conversation_id, sender_id, content, sent_at, is_read
            FROM messages WHERE conversation_id = ANY($1)
            ORDER BY conversation_id, sent_at DESC, id DESC`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byConversation := make(map[int]models.Message, len(latest))
	for _, m := range latest {
		byConversation[m.ConversationID] = m
	}
	for i := range summaries {
		if m, ok := byConversation[summaries[i].ConversationID]; ok {
			msg := m
			summaries[i].LastMessage = &msg
		}
	}
	return summaries, nil
}

// MarkRead advances the participant's read marker to now. The marker only
// moves forward, so a stale call cannot rewind it. Messages from the other
// side are flagged read in the same transaction.
func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID int, userID int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE participants SET last_read_at = GREATEST(COALESCE(last_read_at, 'epoch'::timestamptz), NOW())
            WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrParticipantNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE conversation_id=$1 AND sender_id<>$2 AND is_read = FALSE`,
		conversationID, userID); err != nil {
		return err
	}
	return tx.Commit()
}
