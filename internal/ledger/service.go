package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/venue-ledger/internal/audit"
	"github.com/angelmondragon/venue-ledger/internal/idempotency"
	"github.com/angelmondragon/venue-ledger/internal/variance"
	"github.com/angelmondragon/venue-ledger/pkg/db"
	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
	"github.com/angelmondragon/venue-ledger/pkg/metrics"
	"github.com/angelmondragon/venue-ledger/pkg/types"
	"github.com/angelmondragon/venue-ledger/pkg/validators"
	"gorm.io/gorm"
)

const (
	defaultCurrency    = "USD"
	defaultMaxRetries  = 3
	defaultBatchSize   = 500
	defaultListLimit   = 100
	maxListLimit       = 1000
	maxReportedInvalid = 10
)

// VenueDirectory confirms that a venue id refers to a real venue.
type VenueDirectory interface {
	Exists(ctx context.Context, venueID int64) (bool, error)
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	DB               db.TxRunner
	Repository       Repository
	Idempotency      *idempotency.Resolver
	Classifier       *variance.Classifier
	Alerts           variance.Repository
	Audit            *audit.Recorder
	Locker           VenueLocker
	Venues           VenueDirectory
	Features         Features
	Metrics          *metrics.LedgerMetrics
	Logger           *logger.Logger
	DefaultCurrency  string
	MaxAppendRetries int
	BatchSize        int
	Now              func() time.Time
}

// Service is the payment ledger engine: it appends hash-linked entries per
// venue, deduplicates retries and grades cash variances.
type Service struct {
	db         db.TxRunner
	repo       Repository
	idem       *idempotency.Resolver
	classifier *variance.Classifier
	alerts     variance.Repository
	audit      *audit.Recorder
	locker     VenueLocker
	venues     VenueDirectory
	features   Features
	metrics    *metrics.LedgerMetrics
	logg       *logger.Logger
	currency   string
	maxRetries int
	batchSize  int
	now        func() time.Time
}

// NewService validates params and returns a ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency resolver required")
	}
	if params.Classifier == nil {
		return nil, fmt.Errorf("variance classifier required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("variance alert repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	locker := params.Locker
	if locker == nil {
		locker = NewLocalVenueLocker()
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = defaultCurrency
	}
	retries := params.MaxAppendRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:         params.DB,
		repo:       params.Repository,
		idem:       params.Idempotency,
		classifier: params.Classifier,
		alerts:     params.Alerts,
		audit:      params.Audit,
		locker:     locker,
		venues:     params.Venues,
		features:   params.Features,
		metrics:    params.Metrics,
		logg:       logg,
		currency:   currency,
		maxRetries: retries,
		batchSize:  batch,
		now:        now,
	}, nil
}

// Features reports the gates the service was built with.
func (s *Service) Features() Features { return s.features }

// AppendPayment records a positive payment. It returns nil, nil when the
// ledger gate is off.
func (s *Service) AppendPayment(ctx context.Context, input PaymentInput) (*models.LedgerEntry, error) {
	if !s.features.LedgerEnabled {
		s.metrics.ObserveAppend(enums.LedgerEntryTypePaymentReceived.String(), metrics.OutcomeSkipped)
		return nil, nil
	}
	if err := validators.Struct(input); err != nil {
		return nil, err
	}
	if err := s.checkVenue(ctx, input.VenueID); err != nil {
		return nil, err
	}

	plan := &appendPlan{
		venueID:  input.VenueID,
		action:   enums.AuditActionPaymentRecorded,
		orderRef: input.OrderRef,
		staffRef: input.StaffRef,
		request:  input,
		draft: &Draft{
			VenueID:       input.VenueID,
			EntryType:     enums.LedgerEntryTypePaymentReceived,
			AmountCents:   input.AmountCents,
			Currency:      s.currencyOr(input.Currency),
			PaymentMethod: input.Method,
			OrderRef:      input.OrderRef,
			StaffRef:      input.StaffRef,
			Description:   input.Description,
			Metadata:      types.JSONObject(input.Metadata),
			BusinessDate:  s.businessDate(input.BusinessDate),
		},
	}
	if err := s.attachIdempotency(plan, input.IdempotencyKey, input); err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, plan)
	if err != nil {
		return nil, err
	}
	return result.entry, nil
}

// AppendRefund records a refund of AmountCents, persisted as its negation.
// When OriginalPaymentID is set the refund must reference a payment of the
// same venue and may not push the cumulative refunded amount past it.
func (s *Service) AppendRefund(ctx context.Context, input RefundInput) (*models.LedgerEntry, error) {
	if !s.features.LedgerEnabled {
		s.metrics.ObserveAppend(enums.LedgerEntryTypePaymentRefunded.String(), metrics.OutcomeSkipped)
		return nil, nil
	}
	if err := validators.Struct(input); err != nil {
		return nil, err
	}
	if err := s.checkVenue(ctx, input.VenueID); err != nil {
		return nil, err
	}

	draft := &Draft{
		VenueID:          input.VenueID,
		EntryType:        enums.LedgerEntryTypePaymentRefunded,
		AmountCents:      -input.AmountCents,
		Currency:         s.currencyOr(input.Currency),
		PaymentMethod:    input.Method,
		OrderRef:         input.OrderRef,
		StaffRef:         input.StaffRef,
		ReferenceEntryID: input.OriginalPaymentID,
		Description:      input.Reason,
		BusinessDate:     s.businessDate(input.BusinessDate),
	}
	plan := &appendPlan{
		venueID:  input.VenueID,
		action:   enums.AuditActionRefundRecorded,
		orderRef: input.OrderRef,
		staffRef: input.StaffRef,
		request:  input,
		draft:    draft,
	}
	if input.OriginalPaymentID != nil {
		plan.check = func(ctx context.Context, tx *gorm.DB) error {
			original, err := s.guardRefund(ctx, s.repo.WithTx(tx), input, draft)
			if err != nil {
				return err
			}
			plan.oldData = original
			return nil
		}
	}
	if err := s.attachIdempotency(plan, input.IdempotencyKey, input); err != nil {
		return nil, err
	}

	result, err := s.execute(ctx, plan)
	if err != nil {
		return nil, err
	}
	return result.entry, nil
}

func (s *Service) guardRefund(ctx context.Context, repo Repository, input RefundInput, draft *Draft) (*models.LedgerEntry, error) {
	original, err := repo.FindByID(ctx, input.VenueID, *input.OriginalPaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load original payment")
	}
	if original == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "original payment not found").
			WithDetails(map[string]any{"original_payment_id": *input.OriginalPaymentID})
	}
	if original.EntryType != enums.LedgerEntryTypePaymentReceived {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refunds must reference a payment entry").
			WithDetails(map[string]any{"original_payment_id": original.ID, "entry_type": original.EntryType})
	}
	if input.Currency == "" {
		draft.Currency = original.Currency
	} else if !strings.EqualFold(input.Currency, original.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund currency must match the original payment")
	}
	refunded, err := repo.RefundedTotal(ctx, input.VenueID, original.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum prior refunds")
	}
	if refunded+input.AmountCents > original.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the original payment").
			WithDetails(map[string]any{
				"original_amount_cents": original.AmountCents,
				"refunded_cents":        refunded,
				"requested_cents":       input.AmountCents,
			})
	}
	return original, nil
}

// AppendVariance grades a cash count. Below the low threshold nothing is
// written and all results are nil. Otherwise the alert is persisted when the
// alerts gate is on and a mirrored cash_variance entry when the ledger gate is.
func (s *Service) AppendVariance(ctx context.Context, input VarianceInput) (*models.LedgerEntry, *models.VarianceAlert, error) {
	if !s.features.LedgerEnabled && !s.features.CashVarianceAlertsEnabled {
		s.metrics.ObserveAppend(enums.LedgerEntryTypeCashVariance.String(), metrics.OutcomeSkipped)
		return nil, nil, nil
	}
	if err := validators.Struct(input); err != nil {
		return nil, nil, err
	}
	if err := s.checkVenue(ctx, input.VenueID); err != nil {
		return nil, nil, err
	}

	classification := s.classifier.Classify(input.ExpectedCents, input.ActualCents)
	if classification == nil {
		return nil, nil, nil
	}

	businessDate := s.businessDate(input.BusinessDate)
	plan := &appendPlan{
		venueID:  input.VenueID,
		action:   enums.AuditActionVarianceRecorded,
		staffRef: input.StaffRef,
		request:  input,
	}
	if s.features.LedgerEnabled {
		plan.draft = &Draft{
			VenueID:       input.VenueID,
			EntryType:     enums.LedgerEntryTypeCashVariance,
			AmountCents:   classification.VarianceCents,
			Currency:      s.currencyOr(input.Currency),
			PaymentMethod: enums.PaymentMethodCash,
			StaffRef:      input.StaffRef,
			Description:   fmt.Sprintf("cash variance (%s)", classification.Severity),
			Metadata:      varianceMetadata(classification, input),
			BusinessDate:  businessDate,
		}
	}
	if s.features.CashVarianceAlertsEnabled {
		plan.classification = classification
		plan.alertContext = variance.AlertContext{
			VenueID:      input.VenueID,
			BusinessDate: BusinessDay(businessDate),
			ShiftRef:     input.ShiftRef,
			DrawerRef:    input.DrawerRef,
			StaffRef:     input.StaffRef,
		}
	}

	result, err := s.execute(ctx, plan)
	if err != nil {
		return nil, nil, err
	}
	return result.entry, result.alert, nil
}

func varianceMetadata(c *variance.Classification, input VarianceInput) types.JSONObject {
	meta := types.JSONObject{
		"expected_cents": c.ExpectedCents,
		"actual_cents":   c.ActualCents,
		"severity":       c.Severity.String(),
	}
	if c.Percent.Valid {
		meta["variance_percent"] = c.Percent.Decimal.StringFixed(2)
	}
	if input.ShiftRef != nil {
		meta["shift_ref"] = *input.ShiftRef
	}
	if input.DrawerRef != nil {
		meta["drawer_ref"] = *input.DrawerRef
	}
	return meta
}

// GetTail returns the venue's latest entry, or nil for an empty chain.
func (s *Service) GetTail(ctx context.Context, venueID int64) (*models.LedgerEntry, error) {
	if venueID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	tail, err := s.repo.Tail(ctx, venueID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load chain tail")
	}
	return tail, nil
}

// GetEntry returns one entry of the venue's chain.
func (s *Service) GetEntry(ctx context.Context, venueID, entryID int64) (*models.LedgerEntry, error) {
	if venueID <= 0 || entryID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue id and entry id are required")
	}
	entry, err := s.repo.FindByID(ctx, venueID, entryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
	}
	return entry, nil
}

// ListEntries pages through a venue's chain in id order.
func (s *Service) ListEntries(ctx context.Context, venueID int64, rng EntryRange) ([]models.LedgerEntry, error) {
	if venueID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	if rng.From != nil && rng.To != nil && rng.To.Before(*rng.From) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "range end precedes range start")
	}
	switch {
	case rng.Limit <= 0:
		rng.Limit = defaultListLimit
	case rng.Limit > maxListLimit:
		rng.Limit = maxListLimit
	}
	entries, err := s.repo.List(ctx, venueID, rng)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

// ComputeBalance sums signed amounts, optionally filtered by method and an
// inclusive business date range.
func (s *Service) ComputeBalance(ctx context.Context, query BalanceQuery) (int64, error) {
	if query.VenueID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	if query.Method != nil && !query.Method.IsValid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment method %q", *query.Method))
	}
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "range end precedes range start")
	}
	total, err := s.repo.Balance(ctx, query)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute balance")
	}
	return total, nil
}

// ListVarianceAlerts returns a venue's alerts, newest business date first.
func (s *Service) ListVarianceAlerts(ctx context.Context, query variance.AlertQuery) ([]models.VarianceAlert, error) {
	if query.VenueID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue id is required")
	}
	if query.MinSeverity != "" && !query.MinSeverity.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown severity %q", query.MinSeverity))
	}
	alerts, err := s.alerts.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list variance alerts")
	}
	return alerts, nil
}

// VenueIDs lists every venue that has at least one entry.
func (s *Service) VenueIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.repo.VenueIDs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list venues")
	}
	return ids, nil
}

func (s *Service) checkVenue(ctx context.Context, venueID int64) error {
	if s.venues == nil {
		return nil
	}
	ok, err := s.venues.Exists(ctx, venueID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up venue")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown venue").
			WithDetails(map[string]any{"venue_id": venueID})
	}
	return nil
}

func (s *Service) attachIdempotency(plan *appendPlan, key string, request any) error {
	if !s.features.IdempotencyEnabled || key == "" {
		return nil
	}
	fingerprint, err := idempotency.Fingerprint(request)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request cannot be fingerprinted")
	}
	plan.idemKey = key
	plan.fingerprint = fingerprint
	return nil
}

func (s *Service) currencyOr(currency string) string {
	if currency == "" {
		return s.currency
	}
	return strings.ToUpper(currency)
}

func (s *Service) businessDate(requested *time.Time) time.Time {
	if requested != nil && !requested.IsZero() {
		return BusinessDay(*requested)
	}
	return BusinessDay(s.now().UTC())
}
