package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

// MarathonRepository handles the marathon lifecycle transitions run by the
// completion sweep.
type MarathonRepository interface {
	SweepExpired(ctx context.Context, now time.Time) (models.SweepResult, error)
}

// MarathonRepo is a sqlx implementation of MarathonRepository.
type MarathonRepo struct {
	db *sqlx.DB
}

// NewMarathonRepo constructs a MarathonRepo.
func NewMarathonRepo(db *sqlx.DB) *MarathonRepo {
	return &MarathonRepo{db: db}
}

// SweepExpired deactivates every active marathon whose end time has passed and
// completes its still-active participants, all in one transaction. Marathons
// already swept are excluded by the is_active filter, so repeated runs are
// no-ops.
func (r *MarathonRepo) SweepExpired(ctx context.Context, now time.Time) (models.SweepResult, error) {
	result := models.SweepResult{RanAt: now}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	var closedIDs []int
	if err := tx.SelectContext(ctx, &closedIDs,
		`UPDATE marathons SET is_active = FALSE WHERE is_active = TRUE AND ends_at <= $1 RETURNING id`,
		now); err != nil {
		return result, err
	}
	result.MarathonsClosed = len(closedIDs)
	if len(closedIDs) == 0 {
		return result, tx.Commit()
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE marathon_participants SET status=$1 WHERE marathon_id = ANY($2) AND status=$3`,
		models.MarathonStatusCompleted, pq.Array(closedIDs), models.MarathonStatusActive)
	if err != nil {
		return result, err
	}
	completed, err := res.RowsAffected()
	if err != nil {
		return result, err
	}
	result.ParticipantsCompleted = int(completed)
	return result, tx.Commit()
}
