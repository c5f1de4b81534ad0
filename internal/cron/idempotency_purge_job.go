package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/logger"
)

const (
	defaultPurgeGrace = 24 * time.Hour
	defaultPurgeBatch = 1000
	// maxPurgeBatches caps one run so a large backlog drains over several cycles.
	maxPurgeBatches = 50
)

type IdempotencyPurgeJobParams struct {
	Logger     *logger.Logger
	Repository expiredKeyStore
	Grace      time.Duration
	BatchSize  int
}

type expiredKeyStore interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewIdempotencyPurgeJob deletes idempotency records that expired more than
// Grace ago. Expired records are already ignored by the resolver, so this only
// reclaims space.
func NewIdempotencyPurgeJob(params IdempotencyPurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("idempotency repository required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultPurgeGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPurgeBatch
	}
	return &idempotencyPurgeJob{
		logg:  params.Logger,
		repo:  params.Repository,
		grace: grace,
		batch: batch,
		now:   time.Now,
	}, nil
}

type idempotencyPurgeJob struct {
	logg  *logger.Logger
	repo  expiredKeyStore
	grace time.Duration
	batch int
	now   func() time.Time
}

func (j *idempotencyPurgeJob) Name() string { return "idempotency-purge" }

func (j *idempotencyPurgeJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	var total int64
	for i := 0; i < maxPurgeBatches; i++ {
		deleted, err := j.repo.DeleteExpiredBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("idempotency purge: %w", err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"deleted": total,
		"cutoff":  cutoff,
	}), "idempotency purge finished")
	return nil
}
