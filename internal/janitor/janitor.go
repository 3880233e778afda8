// Package janitor periodically deletes expired authorization codes and
// refresh tokens.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/pilab-dev/shadow-auth/log"
)

const jobName = "expired-grant-cleanup"

// Janitor owns a gocron scheduler with a single cleanup job.
type Janitor struct {
	codes     domain.AuthCodeRepository
	refresh   domain.RefreshTokenRepository
	logger    log.Logger
	metrics   *metrics.Collector
	now       func() time.Time
	scheduler gocron.Scheduler
}

// New creates a Janitor. Nothing runs until Start.
func New(
	codes domain.AuthCodeRepository,
	refresh domain.RefreshTokenRepository,
	logger log.Logger,
	collector *metrics.Collector,
	now func() time.Time,
) (*Janitor, error) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.NewNop()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Janitor{
		codes:     codes,
		refresh:   refresh,
		logger:    logger,
		metrics:   collector,
		now:       now,
		scheduler: scheduler,
	}, nil
}

// Start schedules the cleanup every interval. Overlapping runs are
// rescheduled rather than stacked.
func (j *Janitor) Start(interval time.Duration) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.run),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", jobName, err)
	}

	j.scheduler.Start()
	j.logger.Info(context.Background(), "janitor started", log.Fields{"interval": interval.String()})

	return nil
}

// Shutdown stops the scheduler and waits for a running cleanup to finish.
func (j *Janitor) Shutdown() error {
	return j.scheduler.Shutdown()
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error(ctx, "expired grant cleanup failed", err)
	}
}

// RunOnce deletes everything that expired before now and reports how many
// codes and refresh tokens were removed.
func (j *Janitor) RunOnce(ctx context.Context) (codes, tokens int64, err error) {
	now := j.now()

	codes, err = j.codes.DeleteExpiredAuthCodes(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired codes: %w", err)
	}
	j.metrics.ExpiredRecordsDeleted("authorization_code", codes)

	tokens, err = j.refresh.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		return codes, 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	j.metrics.ExpiredRecordsDeleted("refresh_token", tokens)

	if codes > 0 || tokens > 0 {
		j.logger.Debug(ctx, "expired grants deleted", log.Fields{
			"codes":          codes,
			"refresh_tokens": tokens,
		})
	}

	return codes, tokens, nil
}
