package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// SearchResultLimit caps user search responses.
const SearchResultLimit = 10

// UserDirectory is the read-only lookup surface over the shared users table.
// User management itself belongs to the main application.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	SearchUsers(ctx context.Context, query string, excludeUserID int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserDirectory.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, email, quit_date, is_admin, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// FindByEmail resolves a user by exact email, case-insensitively.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, username, email, quit_date, is_admin, created_at FROM users WHERE LOWER(email)=LOWER($1)`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SearchUsers finds users by name or email substring, excluding the caller.
func (r *UserRepo) SearchUsers(ctx context.Context, query string, excludeUserID int) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT id, username, email, quit_date, is_admin, created_at FROM users
            WHERE id <> $1 AND (username ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
            ORDER BY username LIMIT $3`,
		excludeUserID, query, SearchResultLimit)
	return users, err
}
