package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/venue-ledger/internal/audit"
	"github.com/angelmondragon/venue-ledger/internal/variance"
	"github.com/angelmondragon/venue-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
	"github.com/angelmondragon/venue-ledger/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAppendPaymentLinksHashChain(t *testing.T) {
	h := newHarness(t, AllFeatures())

	first := h.pay(1, 5000, enums.PaymentMethodCash)
	second := h.pay(1, 3000, enums.PaymentMethodCard)
	third := h.pay(1, 1250, enums.PaymentMethodGiftCard)

	assert.Nil(t, first.PreviousEntryID)
	assert.Equal(t, ContentHash(first, GenesisHash), first.ContentHash)
	require.NotNil(t, second.PreviousEntryID)
	assert.Equal(t, first.ID, *second.PreviousEntryID)
	require.NotNil(t, third.PreviousEntryID)
	assert.Equal(t, second.ID, *third.PreviousEntryID)

	entries, err := h.svc.ListEntries(context.Background(), 1, EntryRange{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	prevHash := GenesisHash
	for i := range entries {
		assert.Equal(t, ContentHash(&entries[i], prevHash), entries[i].ContentHash, "entry %d", entries[i].ID)
		prevHash = entries[i].ContentHash
	}

	tail, err := h.svc.GetTail(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, third.ID, tail.ID)
	assert.Equal(t, "USD", tail.Currency)
	assert.Equal(t, int64(3), h.count(&models.AuditLog{}))
}

func TestGetTailOfEmptyChain(t *testing.T) {
	h := newHarness(t, AllFeatures())
	tail, err := h.svc.GetTail(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, tail)

	_, err = h.svc.GetTail(context.Background(), 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEntryNumberCountsSameDayEntries(t *testing.T) {
	h := newHarness(t, AllFeatures())
	for i := 0; i < 5; i++ {
		h.pay(1, 100, enums.PaymentMethodCash)
	}
	sixth := h.pay(1, 100, enums.PaymentMethodCash)
	assert.Equal(t, "PAY-20250301-00006", sixth.EntryNumber)

	next := march1.AddDate(0, 0, 1)
	entry, err := h.svc.AppendPayment(context.Background(), PaymentInput{
		VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash, BusinessDate: &next,
	})
	require.NoError(t, err)
	assert.Equal(t, "PAY-20250302-00001", entry.EntryNumber)

	other := h.pay(2, 100, enums.PaymentMethodCash)
	assert.Equal(t, "PAY-20250301-00001", other.EntryNumber)
	assert.Nil(t, other.PreviousEntryID)
}

func TestEntryNumberDefaultsToToday(t *testing.T) {
	h := newHarness(t, AllFeatures())
	entry, err := h.svc.AppendPayment(context.Background(), PaymentInput{
		VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, "PAY-20250301-00001", entry.EntryNumber)
	assert.True(t, entry.BusinessDate.Equal(march1))
}

func TestSameIdempotencyKeySequentialYieldsOneEntry(t *testing.T) {
	h := newHarness(t, AllFeatures())
	input := PaymentInput{
		VenueID:        1,
		AmountCents:    4200,
		Method:         enums.PaymentMethodCard,
		OrderRef:       strPtr("ord-77"),
		IdempotencyKey: "3b0b2f0e-retry",
		BusinessDate:   &march1,
	}

	first, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)
	second, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), h.count(&models.LedgerEntry{}))
	assert.Equal(t, int64(1), h.count(&models.AuditLog{}))
	assert.Equal(t, float64(1), h.counter("ledger_appends_total", map[string]string{
		"entry_type": enums.LedgerEntryTypePaymentReceived.String(),
		"outcome":    metrics.OutcomeReplayed,
	}))
}

func TestSameIdempotencyKeyRacingYieldsOneEntry(t *testing.T) {
	h := newHarness(t, AllFeatures())
	input := PaymentInput{
		VenueID:        1,
		AmountCents:    900,
		Method:         enums.PaymentMethodCash,
		IdempotencyKey: "race-key",
		BusinessDate:   &march1,
	}

	const callers = 8
	ids := make([]int64, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := h.svc.AppendPayment(context.Background(), input)
			errs[i] = err
			if entry != nil {
				ids[i] = entry.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, int64(1), h.count(&models.LedgerEntry{}))
	assert.Equal(t, int64(1), h.count(&models.IdempotencyRecord{}))
}

func TestIdempotencyKeyReusedWithDifferentPayload(t *testing.T) {
	h := newHarness(t, AllFeatures())
	input := PaymentInput{VenueID: 1, AmountCents: 900, Method: enums.PaymentMethodCash, IdempotencyKey: "k1", BusinessDate: &march1}
	_, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)

	input.AmountCents = 901
	entry, err := h.svc.AppendPayment(context.Background(), input)
	assert.Nil(t, entry)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency), "got %v", err)
	assert.Equal(t, int64(1), h.count(&models.LedgerEntry{}))

	var failures []models.AuditLog
	require.NoError(t, h.conn.Where("success = ?", false).Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, enums.AuditActionPaymentRecorded, failures[0].Action)
	require.NotNil(t, failures[0].ErrorMessage)
	assert.Contains(t, *failures[0].ErrorMessage, "IDEMPOTENCY_KEY_REUSED")
}

func TestExpiredIdempotencyKeyCreatesNewEntry(t *testing.T) {
	h := newHarness(t, AllFeatures())
	input := PaymentInput{VenueID: 1, AmountCents: 700, Method: enums.PaymentMethodCard, IdempotencyKey: "daily-key", BusinessDate: &march1}

	first, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)

	h.clock.now = h.clock.now.Add(25 * time.Hour)
	second, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(2), h.count(&models.LedgerEntry{}))
	assert.Equal(t, int64(1), h.count(&models.IdempotencyRecord{}))
}

func TestIdempotencyGateOffIgnoresKeys(t *testing.T) {
	h := newHarness(t, Features{LedgerEnabled: true, CashVarianceAlertsEnabled: true})
	input := PaymentInput{VenueID: 1, AmountCents: 700, Method: enums.PaymentMethodCard, IdempotencyKey: "ignored", BusinessDate: &march1}

	first, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)
	second, err := h.svc.AppendPayment(context.Background(), input)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Zero(t, h.count(&models.IdempotencyRecord{}))
}

func TestRefundPersistsNegatedAmount(t *testing.T) {
	h := newHarness(t, AllFeatures())
	payment := h.pay(1, 5000, enums.PaymentMethodCash)

	refund, err := h.svc.AppendRefund(context.Background(), RefundInput{
		VenueID:           1,
		AmountCents:       1000,
		Method:            enums.PaymentMethodCash,
		OriginalPaymentID: int64Ptr(payment.ID),
		Reason:            "wrong order",
		BusinessDate:      &march1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), refund.AmountCents)
	assert.Equal(t, enums.LedgerEntryTypePaymentRefunded, refund.EntryType)
	require.NotNil(t, refund.ReferenceEntryID)
	assert.Equal(t, payment.ID, *refund.ReferenceEntryID)
	assert.Equal(t, "wrong order", refund.Description)

	var row models.AuditLog
	require.NoError(t, h.conn.Where("action = ?", enums.AuditActionRefundRecorded).Take(&row).Error)
	assert.NotNil(t, row.OldData)
	assert.NotNil(t, row.NewData)

	unlinked, err := h.svc.AppendRefund(context.Background(), RefundInput{
		VenueID: 1, AmountCents: 250, Method: enums.PaymentMethodCard, BusinessDate: &march1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-250), unlinked.AmountCents)
	assert.Nil(t, unlinked.ReferenceEntryID)
}

func TestRefundGuards(t *testing.T) {
	h := newHarness(t, AllFeatures())
	payment := h.pay(1, 2000, enums.PaymentMethodCard)
	ctx := context.Background()

	_, err := h.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 1500, Method: enums.PaymentMethodCard, OriginalPaymentID: int64Ptr(payment.ID)})
	require.NoError(t, err)

	_, err = h.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 501, Method: enums.PaymentMethodCard, OriginalPaymentID: int64Ptr(payment.ID)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "over-refund: %v", err)

	_, err = h.svc.AppendRefund(ctx, RefundInput{VenueID: 2, AmountCents: 100, Method: enums.PaymentMethodCard, OriginalPaymentID: int64Ptr(payment.ID)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "cross venue: %v", err)

	_, err = h.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCard, Currency: "EUR", OriginalPaymentID: int64Ptr(payment.ID)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "currency mismatch: %v", err)

	refunds, err := h.svc.ListEntries(ctx, 1, EntryRange{AfterID: payment.ID})
	require.NoError(t, err)
	require.Len(t, refunds, 1)

	_, err = h.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCard, OriginalPaymentID: int64Ptr(refunds[0].ID)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "refund of refund: %v", err)

	assert.Equal(t, int64(2), h.count(&models.LedgerEntry{}))
	var failures int64
	require.NoError(t, h.conn.Model(&models.AuditLog{}).Where("success = ?", false).Count(&failures).Error)
	assert.Zero(t, failures)
}

func TestVarianceBelowThresholdWritesNothing(t *testing.T) {
	h := newHarness(t, AllFeatures())
	entry, alert, err := h.svc.AppendVariance(context.Background(), VarianceInput{
		VenueID: 1, ExpectedCents: 10000, ActualCents: 10300, BusinessDate: &march1,
	})
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Nil(t, alert)
	assert.Zero(t, h.count(&models.LedgerEntry{}))
	assert.Zero(t, h.count(&models.VarianceAlert{}))
	assert.Zero(t, h.count(&models.AuditLog{}))
}

func TestVarianceCriticalMirrorsEntry(t *testing.T) {
	h := newHarness(t, AllFeatures())
	entry, alert, err := h.svc.AppendVariance(context.Background(), VarianceInput{
		VenueID:       1,
		ExpectedCents: 10000,
		ActualCents:   20100,
		StaffRef:      strPtr("mgr-3"),
		ShiftRef:      strPtr("close"),
		DrawerRef:     strPtr("drawer-2"),
		BusinessDate:  &march1,
	})
	require.NoError(t, err)
	require.NotNil(t, alert)
	require.NotNil(t, entry)

	assert.Equal(t, enums.VarianceSeverityCritical, alert.Severity)
	assert.Equal(t, int64(10100), alert.VarianceCents)
	assert.Equal(t, "101.00", alert.VariancePercent.Decimal.StringFixed(2))
	require.NotNil(t, alert.EntryID)
	assert.Equal(t, entry.ID, *alert.EntryID)

	assert.Equal(t, enums.LedgerEntryTypeCashVariance, entry.EntryType)
	assert.Equal(t, int64(10100), entry.AmountCents)
	assert.Equal(t, enums.PaymentMethodCash, entry.PaymentMethod)
	assert.Equal(t, int64(1), h.count(&models.LedgerEntry{}))
	assert.Equal(t, float64(1), h.counter("ledger_variance_alerts_total", map[string]string{"severity": "critical"}))

	alerts, err := h.svc.ListVarianceAlerts(context.Background(), variance.AlertQuery{VenueID: 1, MinSeverity: enums.VarianceSeverityHigh})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "drawer-2", *alerts[0].DrawerRef)
}

func TestVarianceGatesAreIndependent(t *testing.T) {
	t.Run("ledger off keeps the alert", func(t *testing.T) {
		h := newHarness(t, Features{CashVarianceAlertsEnabled: true})
		entry, alert, err := h.svc.AppendVariance(context.Background(), VarianceInput{VenueID: 1, ExpectedCents: 10000, ActualCents: 7000})
		require.NoError(t, err)
		assert.Nil(t, entry)
		require.NotNil(t, alert)
		assert.Equal(t, enums.VarianceSeverityMedium, alert.Severity)
		assert.Nil(t, alert.EntryID)
		assert.Zero(t, h.count(&models.LedgerEntry{}))
		assert.Equal(t, int64(1), h.count(&models.AuditLog{}))
	})

	t.Run("alerts off keeps the entry", func(t *testing.T) {
		h := newHarness(t, Features{LedgerEnabled: true})
		entry, alert, err := h.svc.AppendVariance(context.Background(), VarianceInput{VenueID: 1, ExpectedCents: 10000, ActualCents: 4000})
		require.NoError(t, err)
		assert.Nil(t, alert)
		require.NotNil(t, entry)
		assert.Equal(t, int64(-6000), entry.AmountCents)
		assert.Zero(t, h.count(&models.VarianceAlert{}))
	})

	t.Run("both off is a no-op", func(t *testing.T) {
		h := newHarness(t, Features{})
		entry, alert, err := h.svc.AppendVariance(context.Background(), VarianceInput{VenueID: 1, ExpectedCents: 10000, ActualCents: 40000})
		require.NoError(t, err)
		assert.Nil(t, entry)
		assert.Nil(t, alert)
		assert.Zero(t, h.count(&models.AuditLog{}))
	})
}

func TestComputeBalanceFiltersByMethod(t *testing.T) {
	h := newHarness(t, AllFeatures())
	ctx := context.Background()
	h.pay(1, 5000, enums.PaymentMethodCash)
	h.pay(1, 3000, enums.PaymentMethodCard)
	_, err := h.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 1000, Method: enums.PaymentMethodCash, BusinessDate: &march1})
	require.NoError(t, err)
	h.pay(2, 99999, enums.PaymentMethodCash)

	cash, err := h.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1, Method: methodPtr(enums.PaymentMethodCash)})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), cash)

	total, err := h.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), total)

	later := march1.AddDate(0, 0, 1)
	empty, err := h.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1, From: &later})
	require.NoError(t, err)
	assert.Zero(t, empty)

	inRange, err := h.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1, From: &march1, To: &march1})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), inRange)

	_, err = h.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1, From: &later, To: &march1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = h.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1, Method: methodPtr("barter")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLedgerGateOffIsNoOpButReadsWork(t *testing.T) {
	enabled := newHarness(t, AllFeatures())
	enabled.pay(1, 5000, enums.PaymentMethodCash)
	enabled.pay(1, 2500, enums.PaymentMethodCard)

	disabled := newHarnessOn(t, enabled.conn, Features{IdempotencyEnabled: true})
	ctx := context.Background()

	entry, err := disabled.svc.AppendPayment(ctx, PaymentInput{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash})
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = disabled.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash})
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, alert, err := disabled.svc.AppendVariance(ctx, VarianceInput{VenueID: 1, ExpectedCents: 0, ActualCents: 90000})
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Nil(t, alert)

	// Gate-off calls skip validation too.
	entry, err = disabled.svc.AppendPayment(ctx, PaymentInput{})
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.Equal(t, int64(2), disabled.count(&models.LedgerEntry{}))

	report, err := disabled.svc.VerifyIntegrity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, enums.IntegrityStatusValid, report.Status)
	assert.Equal(t, 2, report.Checked)

	balance, err := disabled.svc.ComputeBalance(ctx, BalanceQuery{VenueID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), balance)
}

func TestAppendValidation(t *testing.T) {
	h := newHarness(t, AllFeatures())
	ctx := context.Background()

	cases := []PaymentInput{
		{VenueID: 1, AmountCents: 0, Method: enums.PaymentMethodCash},
		{VenueID: 1, AmountCents: -5, Method: enums.PaymentMethodCash},
		{VenueID: 0, AmountCents: 100, Method: enums.PaymentMethodCash},
		{VenueID: 1, AmountCents: 100, Method: "barter"},
		{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash, Currency: "US"},
		{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash, IdempotencyKey: "has space"},
	}
	for _, input := range cases {
		_, err := h.svc.AppendPayment(ctx, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v: %v", input, err)
	}
	_, err := h.svc.AppendRefund(ctx, RefundInput{VenueID: 1, AmountCents: 0, Method: enums.PaymentMethodCash})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Zero(t, h.count(&models.LedgerEntry{}))
	assert.Zero(t, h.count(&models.AuditLog{}))
}

type staticVenues map[int64]bool

func (v staticVenues) Exists(_ context.Context, venueID int64) (bool, error) {
	return v[venueID], nil
}

func TestUnknownVenueIsRejected(t *testing.T) {
	h := newHarness(t, AllFeatures(), func(p *ServiceParams) {
		p.Venues = staticVenues{1: true}
	})
	ctx := context.Background()

	_, err := h.svc.AppendPayment(ctx, PaymentInput{VenueID: 2, AmountCents: 100, Method: enums.PaymentMethodCash})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	entry, err := h.svc.AppendPayment(ctx, PaymentInput{VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash})
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestConcurrentAppendsSerialisePerVenue(t *testing.T) {
	h := newHarness(t, AllFeatures())
	const writers = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		for _, venue := range []int64{1, 2} {
			wg.Add(1)
			go func(venue int64) {
				defer wg.Done()
				_, err := h.svc.AppendPayment(context.Background(), PaymentInput{
					VenueID: venue, AmountCents: 100, Method: enums.PaymentMethodCash, BusinessDate: &march1,
				})
				errs <- err
			}(venue)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, venue := range []int64{1, 2} {
		report, err := h.svc.VerifyIntegrity(context.Background(), venue)
		require.NoError(t, err)
		assert.Equal(t, enums.IntegrityStatusValid, report.Status)
		assert.Equal(t, writers, report.Checked)

		entries, err := h.svc.ListEntries(context.Background(), venue, EntryRange{})
		require.NoError(t, err)
		seen := map[string]bool{}
		for _, e := range entries {
			assert.False(t, seen[e.EntryNumber], "duplicate entry number %s", e.EntryNumber)
			seen[e.EntryNumber] = true
		}
		assert.True(t, seen["PAY-20250301-00010"])
	}
}

// collidingRepository fails the first n inserts the way a concurrent writer
// that won the tail would.
type collidingRepository struct {
	Repository
	mu        sync.Mutex
	remaining int
}

func (c *collidingRepository) WithTx(tx *gorm.DB) Repository {
	return &collidingTx{Repository: c.Repository.WithTx(tx), parent: c}
}

type collidingTx struct {
	Repository
	parent *collidingRepository
}

func (c *collidingTx) Create(ctx context.Context, entry *models.LedgerEntry) error {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	if c.parent.remaining > 0 {
		c.parent.remaining--
		return errors.New("UNIQUE constraint failed: index 'uq_ledger_entries_venue_prev'")
	}
	return c.Repository.Create(ctx, entry)
}

func TestAppendRetriesChainCollisions(t *testing.T) {
	repo := &collidingRepository{remaining: 2}
	h := newHarness(t, AllFeatures(), func(p *ServiceParams) {
		repo.Repository = p.Repository
		p.Repository = repo
	})

	entry := h.pay(1, 100, enums.PaymentMethodCash)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, int64(1), h.count(&models.LedgerEntry{}))
}

func TestAppendGivesUpAfterMaxRetries(t *testing.T) {
	repo := &collidingRepository{remaining: 10}
	h := newHarness(t, AllFeatures(), func(p *ServiceParams) {
		repo.Repository = p.Repository
		p.Repository = repo
		p.MaxAppendRetries = 2
	})

	entry, err := h.svc.AppendPayment(context.Background(), PaymentInput{
		VenueID: 1, AmountCents: 100, Method: enums.PaymentMethodCash, IdempotencyKey: "retry-me",
	})
	assert.Nil(t, entry)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, 8, repo.remaining)

	assert.Zero(t, h.count(&models.LedgerEntry{}))
	assert.Zero(t, h.count(&models.IdempotencyRecord{}))
	var rows []models.AuditLog
	require.NoError(t, h.conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
}

func TestGetEntry(t *testing.T) {
	h := newHarness(t, AllFeatures())
	payment := h.pay(1, 100, enums.PaymentMethodCash)

	got, err := h.svc.GetEntry(context.Background(), 1, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ContentHash, got.ContentHash)

	_, err = h.svc.GetEntry(context.Background(), 2, payment.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestVarianceAlertFailureRollsBackMirroredEntry(t *testing.T) {
	h := newHarness(t, AllFeatures())
	h.pay(1, 2500, enums.PaymentMethodCash)
	require.NoError(t, h.conn.Exec("DROP TABLE variance_alerts").Error)

	entry, alert, err := h.svc.AppendVariance(context.Background(), VarianceInput{
		VenueID:       1,
		ExpectedCents: 10000,
		ActualCents:   20100,
		BusinessDate:  &march1,
	})
	require.Error(t, err)
	assert.Nil(t, entry)
	assert.Nil(t, alert)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)

	assert.Equal(t, int64(1), h.count(&models.LedgerEntry{}))
	var rows []models.AuditLog
	require.NoError(t, h.conn.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Success)
	assert.False(t, rows[1].Success)

	report, err := h.svc.VerifyIntegrity(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, enums.IntegrityStatusValid, report.Status)
}

// failingAuditRepository refuses every audit row, inside a transaction or not.
type failingAuditRepository struct {
	audit.Repository
}

func (f failingAuditRepository) WithTx(*gorm.DB) audit.Repository { return f }

func (failingAuditRepository) Create(context.Context, *models.AuditLog) error {
	return errors.New("disk full")
}

func TestAuditFailureRollsBackEntryAndKey(t *testing.T) {
	conn := dbtest.NewLedgerDB(t)
	h := newHarnessOn(t, conn, AllFeatures(), func(p *ServiceParams) {
		recorder, err := audit.NewRecorder(failingAuditRepository{audit.NewRepository(conn)}, logger.Nop())
		require.NoError(t, err)
		p.Audit = recorder
	})

	entry, err := h.svc.AppendPayment(context.Background(), PaymentInput{
		VenueID:        1,
		AmountCents:    4200,
		Method:         enums.PaymentMethodCard,
		IdempotencyKey: "audit-down-1",
		BusinessDate:   &march1,
	})
	require.Error(t, err)
	assert.Nil(t, entry)

	assert.Zero(t, h.count(&models.LedgerEntry{}))
	assert.Zero(t, h.count(&models.IdempotencyRecord{}))
	assert.Zero(t, h.count(&models.AuditLog{}))

	tail, err := h.svc.GetTail(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, tail)
}
