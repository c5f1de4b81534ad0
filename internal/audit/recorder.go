package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
	"github.com/angelmondragon/venue-ledger/pkg/types"
	"gorm.io/gorm"
)

// Input describes one mutating ledger action.
type Input struct {
	VenueID  int64
	Action   enums.AuditAction
	OrderRef *string
	EntryID  *int64
	StaffRef *string
	OldData  any
	NewData  any
}

// Recorder writes audit rows. Record joins the caller's transaction so the row
// commits or rolls back with the mutation; RecordFailure runs on its own.
type Recorder struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewRecorder wires an audit recorder.
func NewRecorder(repo Repository, logg *logger.Logger) (*Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Recorder{repo: repo, logg: logg, now: time.Now}, nil
}

// Record appends a success row inside tx.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, input Input) (*models.AuditLog, error) {
	row, err := r.build(input, true, nil)
	if err != nil {
		return nil, err
	}
	if err := r.repo.WithTx(tx).Create(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write audit row")
	}
	return row, nil
}

// RecordFailure appends a success=false row outside any transaction. It is
// best effort: a write failure is logged and swallowed so the caller still
// sees the original cause.
func (r *Recorder) RecordFailure(ctx context.Context, input Input, cause error) {
	row, err := r.build(input, false, cause)
	if err == nil {
		err = r.repo.Create(ctx, row)
	}
	if err != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"venue_id": input.VenueID,
			"action":   input.Action,
		})
		r.logg.Error(logCtx, "failed to write failure audit row", err)
	}
}

func (r *Recorder) build(input Input, success bool, cause error) (*models.AuditLog, error) {
	if input.VenueID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit venue id is required")
	}
	if !input.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown audit action %q", input.Action))
	}
	oldData, err := types.NewJSONDocument(input.OldData)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit old data")
	}
	newData, err := types.NewJSONDocument(input.NewData)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit new data")
	}
	row := &models.AuditLog{
		VenueID:   input.VenueID,
		Action:    input.Action,
		OrderRef:  input.OrderRef,
		EntryID:   input.EntryID,
		StaffRef:  input.StaffRef,
		OldData:   oldData,
		NewData:   newData,
		Success:   success,
		CreatedAt: r.now().UTC(),
	}
	if cause != nil {
		msg := cause.Error()
		row.ErrorMessage = &msg
	}
	return row, nil
}
