package ledger

import (
	"context"

	"github.com/angelmondragon/venue-ledger/internal/audit"
	"github.com/angelmondragon/venue-ledger/internal/idempotency"
	"github.com/angelmondragon/venue-ledger/internal/variance"
	"github.com/angelmondragon/venue-ledger/pkg/db"
	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
	"github.com/angelmondragon/venue-ledger/pkg/metrics"
	"gorm.io/gorm"
)

// appendPlan is everything one mutating call commits as a single unit.
type appendPlan struct {
	venueID     int64
	action      enums.AuditAction
	orderRef    *string
	staffRef    *string
	request     any
	oldData     any
	idemKey     string
	fingerprint string

	// draft is nil when no chain entry is written (variance with the ledger gate off).
	draft *Draft
	// check runs inside the transaction before the tail read.
	check func(ctx context.Context, tx *gorm.DB) error

	classification *variance.Classification
	alertContext   variance.AlertContext
}

type appendResult struct {
	entry    *models.LedgerEntry
	alert    *models.VarianceAlert
	replayed bool
}

func (p *appendPlan) entryType() string {
	if p.draft != nil {
		return p.draft.EntryType.String()
	}
	return enums.LedgerEntryTypeCashVariance.String()
}

// execute holds the venue lock for the whole append and retries chain
// collisions with a fresh tail read. Once the lock is held the work is
// detached from ctx cancellation so a timed out caller cannot abort a commit
// half way; it retries with the same idempotency key instead.
func (s *Service) execute(ctx context.Context, plan *appendPlan) (*appendResult, error) {
	logCtx := s.logg.WithVenueID(ctx, plan.venueID)
	if plan.staffRef != nil {
		logCtx = s.logg.WithStaffRef(logCtx, *plan.staffRef)
	}
	if plan.idemKey != "" {
		logCtx = s.logg.WithField(logCtx, "idempotency_key", plan.idemKey)
	}

	unlock, err := s.locker.Lock(ctx, plan.venueID)
	if err != nil {
		s.metrics.ObserveAppend(plan.entryType(), metrics.OutcomeConflict)
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "venue lock not acquired")
		return nil, err
	}
	defer unlock()

	workCtx := context.WithoutCancel(logCtx)
	var result *appendResult
	for attempt := 1; ; attempt++ {
		result, err = s.appendOnce(workCtx, plan)
		if err == nil {
			break
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) || attempt >= s.maxRetries {
			return nil, s.fail(workCtx, plan, err)
		}
		s.logg.Warn(s.logg.WithFields(workCtx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "chain append collided; retrying")
	}

	switch {
	case result.replayed:
		s.metrics.ObserveAppend(plan.entryType(), metrics.OutcomeReplayed)
		s.logg.Info(s.logg.WithField(workCtx, "entry_id", result.entry.ID), "idempotent replay")
	default:
		s.metrics.ObserveAppend(plan.entryType(), metrics.OutcomeCommitted)
		fields := map[string]any{"action": plan.action}
		if result.entry != nil {
			fields["entry_id"] = result.entry.ID
			fields["entry_number"] = result.entry.EntryNumber
			fields["amount_cents"] = result.entry.AmountCents
		}
		if result.alert != nil {
			fields["severity"] = result.alert.Severity
			s.metrics.ObserveVarianceAlert(result.alert.Severity.String())
		}
		s.logg.Info(s.logg.WithFields(workCtx, fields), "ledger mutation committed")
	}
	return result, nil
}

func (s *Service) appendOnce(ctx context.Context, plan *appendPlan) (*appendResult, error) {
	result := &appendResult{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		resolver := s.idem.WithTx(tx)
		if plan.idemKey != "" {
			reservation, err := resolver.Reserve(ctx, idempotency.Request{
				Key:         plan.idemKey,
				VenueID:     plan.venueID,
				Fingerprint: plan.fingerprint,
			})
			if err != nil {
				return err
			}
			if reservation.Replay != nil {
				result.entry = reservation.Replay
				result.replayed = true
				return nil
			}
		}

		if plan.check != nil {
			if err := plan.check(ctx, tx); err != nil {
				return err
			}
		}

		if plan.draft != nil {
			entry, err := s.link(ctx, s.repo.WithTx(tx), *plan.draft)
			if err != nil {
				return err
			}
			result.entry = entry
		}

		if plan.classification != nil {
			actx := plan.alertContext
			if result.entry != nil {
				id := result.entry.ID
				actx.EntryID = &id
			}
			alert := variance.NewAlert(plan.classification, actx)
			if err := s.alerts.WithTx(tx).Create(ctx, alert); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert variance alert")
			}
			result.alert = alert
		}

		if plan.idemKey != "" && result.entry != nil {
			if err := resolver.Complete(ctx, plan.idemKey, result.entry); err != nil {
				return err
			}
		}

		_, err := s.audit.Record(ctx, tx, audit.Input{
			VenueID:  plan.venueID,
			Action:   plan.action,
			OrderRef: plan.orderRef,
			EntryID:  entryID(result.entry),
			StaffRef: plan.staffRef,
			OldData:  plan.oldData,
			NewData:  snapshot(result),
		})
		return err
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger transaction failed")
		}
		return nil, err
	}
	return result, nil
}

// link reads the tail, numbers the entry within its business date and inserts
// it. A unique violation means another writer moved the tail.
func (s *Service) link(ctx context.Context, repo Repository, draft Draft) (*models.LedgerEntry, error) {
	tail, err := repo.Tail(ctx, draft.VenueID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chain tail")
	}
	count, err := repo.CountForBusinessDate(ctx, draft.VenueID, draft.BusinessDate)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count business date entries")
	}
	entry := BuildEntry(draft, tail, count+1)
	if err := repo.Create(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "chain tail moved during append")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
	}
	return entry, nil
}

// fail writes the forensic failure row for errors raised after validation.
// Validation and lookup failures write nothing.
func (s *Service) fail(ctx context.Context, plan *appendPlan, err error) error {
	code := pkgerrors.CodeOf(err)
	s.metrics.ObserveAppend(plan.entryType(), outcomeFor(code))
	if code == pkgerrors.CodeValidation || code == pkgerrors.CodeNotFound {
		return err
	}
	s.logg.Error(s.logg.WithField(ctx, "action", plan.action), "ledger mutation failed", err)
	s.audit.RecordFailure(ctx, audit.Input{
		VenueID:  plan.venueID,
		Action:   plan.action,
		OrderRef: plan.orderRef,
		StaffRef: plan.staffRef,
		OldData:  plan.oldData,
		NewData:  plan.request,
	}, err)
	return err
}

func outcomeFor(code pkgerrors.Code) string {
	switch code {
	case pkgerrors.CodeConflict, pkgerrors.CodeIdempotency:
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeFailed
	}
}

func entryID(entry *models.LedgerEntry) *int64 {
	if entry == nil {
		return nil
	}
	id := entry.ID
	return &id
}

func snapshot(result *appendResult) any {
	switch {
	case result.entry != nil && result.alert != nil:
		return map[string]any{"entry": result.entry, "alert": result.alert}
	case result.alert != nil:
		return map[string]any{"alert": result.alert}
	default:
		return result.entry
	}
}
