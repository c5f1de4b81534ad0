package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/venue-ledger/internal/audit"
	"github.com/angelmondragon/venue-ledger/internal/idempotency"
	"github.com/angelmondragon/venue-ledger/internal/variance"
	"github.com/angelmondragon/venue-ledger/pkg/db"
	"github.com/angelmondragon/venue-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
	"github.com/angelmondragon/venue-ledger/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var march1 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type harness struct {
	t     *testing.T
	conn  *gorm.DB
	clock *testClock
	reg   *prometheus.Registry
	svc   *Service
}

func newHarness(t *testing.T, features Features, tweaks ...func(*ServiceParams)) *harness {
	t.Helper()
	return newHarnessOn(t, dbtest.NewLedgerDB(t), features, tweaks...)
}

func newHarnessOn(t *testing.T, conn *gorm.DB, features Features, tweaks ...func(*ServiceParams)) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)}

	resolver, err := idempotency.NewResolver(idempotency.Params{
		Repository: idempotency.NewRepository(conn),
		Now:        clock.Now,
	})
	require.NoError(t, err)
	classifier, err := variance.NewClassifier(variance.DefaultThresholds())
	require.NoError(t, err)
	recorder, err := audit.NewRecorder(audit.NewRepository(conn), logger.Nop())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	params := ServiceParams{
		DB:          db.Wrap(conn),
		Repository:  NewRepository(conn),
		Idempotency: resolver,
		Classifier:  classifier,
		Alerts:      variance.NewRepository(conn),
		Audit:       recorder,
		Locker:      NewLocalVenueLocker(),
		Features:    features,
		Metrics:     metrics.NewLedgerMetrics(reg),
		Logger:      logger.Nop(),
		Now:         clock.Now,
	}
	for _, tweak := range tweaks {
		tweak(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &harness{t: t, conn: conn, clock: clock, reg: reg, svc: svc}
}

func (h *harness) pay(venueID, amount int64, method enums.PaymentMethod) *models.LedgerEntry {
	h.t.Helper()
	entry, err := h.svc.AppendPayment(context.Background(), PaymentInput{
		VenueID:      venueID,
		AmountCents:  amount,
		Method:       method,
		BusinessDate: &march1,
	})
	require.NoError(h.t, err)
	require.NotNil(h.t, entry)
	return entry
}

func (h *harness) count(model any) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.conn.Model(model).Count(&n).Error)
	return n
}

// counter reads one labelled counter from the harness registry.
func (h *harness) counter(name string, labels map[string]string) float64 {
	h.t.Helper()
	families, err := h.reg.Gather()
	require.NoError(h.t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func strPtr(v string) *string { return &v }

func int64Ptr(v int64) *int64 { return &v }

func methodPtr(m enums.PaymentMethod) *enums.PaymentMethod { return &m }
