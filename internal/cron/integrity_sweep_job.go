package cron

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/venue-ledger/internal/ledger"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
)

const defaultSweepConcurrency = 4

// ChainVerifier is the part of the ledger service the sweep drives.
type ChainVerifier interface {
	VenueIDs(ctx context.Context) ([]int64, error)
	VerifyIntegrity(ctx context.Context, venueID int64) (*ledger.IntegrityReport, error)
}

type IntegritySweepJobParams struct {
	Logger      *logger.Logger
	Verifier    ChainVerifier
	Concurrency int
}

// NewIntegritySweepJob re-verifies every venue chain. It reports compromised
// chains as INTEGRITY_VIOLATION errors and never repairs them.
func NewIntegritySweepJob(params IntegritySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("chain verifier required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	return &integritySweepJob{
		logg:        params.Logger,
		verifier:    params.Verifier,
		concurrency: concurrency,
	}, nil
}

type integritySweepJob struct {
	logg        *logger.Logger
	verifier    ChainVerifier
	concurrency int
}

func (j *integritySweepJob) Name() string { return "integrity-sweep" }

func (j *integritySweepJob) Run(ctx context.Context) error {
	venues, err := j.verifier.VenueIDs(ctx)
	if err != nil {
		return fmt.Errorf("list venues: %w", err)
	}

	var (
		mu          sync.Mutex
		errs        error
		checked     int
		compromised int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, venueID := range venues {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := j.verifier.VerifyIntegrity(gctx, venueID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("venue %d: %w", venueID, err))
				return nil
			}
			checked += report.Checked
			if violation := report.Err(); violation != nil {
				compromised++
				errs = multierr.Append(errs, violation)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"venues":      len(venues),
		"entries":     checked,
		"compromised": compromised,
	}), "integrity sweep finished")
	return errs
}
