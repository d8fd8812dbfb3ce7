// Package sweeper runs the scheduled consistency pass that closes marathons
// whose end time has passed and completes their remaining participants.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// DefaultInterval between sweep ticks.
const DefaultInterval = time.Hour

// Sweeper periodically reconciles marathon state against the clock.
type Sweeper struct {
	repo     repositories.MarathonRepository
	interval time.Duration
	emitter  *telemetry.AuditEmitter
}

// New constructs a Sweeper. A non-positive interval falls back to the
// default.
func New(repo repositories.MarathonRepository, interval time.Duration, emitter *telemetry.AuditEmitter) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{repo: repo, interval: interval, emitter: emitter}
}

// Run ticks until the context is cancelled. A failed or panicking tick is
// logged and the next tick retries against current state; the loop itself
// never exits early.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("marathon sweeper started interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("marathon sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.IncSweepRun("panic")
			log.Printf("marathon sweep panicked: %v", r)
		}
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		log.Printf("marathon sweep failed: %v", err)
	}
}

// RunOnce executes one sweep synchronously and reports the outcome. The
// transition itself is idempotent: already-closed marathons are excluded by
// the store query.
func (s *Sweeper) RunOnce(ctx context.Context) (models.SweepResult, error) {
	result, err := s.repo.SweepExpired(ctx, time.Now())
	if err != nil {
		observability.IncSweepRun("error")
		return result, err
	}

	observability.IncSweepRun("ok")
	observability.AddSweepTransitions(result.MarathonsClosed)
	log.Printf("marathon sweep: marathons_closed=%d participants_completed=%d", result.MarathonsClosed, result.ParticipantsCompleted)

	if result.MarathonsClosed > 0 {
		s.emitter.Emit(ctx, "INFO",
			fmt.Sprintf("marathon sweep closed %d marathons, completed %d participants", result.MarathonsClosed, result.ParticipantsCompleted),
			"", nil)
	}
	return result, nil
}
