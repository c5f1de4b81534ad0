package variance

import (
	"context"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"gorm.io/gorm"
)

// AlertQuery filters a venue's alerts. Zero values mean unbounded.
type AlertQuery struct {
	VenueID     int64
	From        *time.Time
	To          *time.Time
	MinSeverity enums.VarianceSeverity
	Limit       int
}

// Repository persists variance alerts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, alert *models.VarianceAlert) error
	List(ctx context.Context, query AlertQuery) ([]models.VarianceAlert, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a variance alert repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, alert *models.VarianceAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *repository) List(ctx context.Context, query AlertQuery) ([]models.VarianceAlert, error) {
	q := r.db.WithContext(ctx).Where("venue_id = ?", query.VenueID)
	if query.From != nil {
		q = q.Where("business_date >= ?", *query.From)
	}
	if query.To != nil {
		q = q.Where("business_date <= ?", *query.To)
	}
	if query.MinSeverity != "" {
		q = q.Where("severity IN ?", severitiesAtLeast(query.MinSeverity))
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	var alerts []models.VarianceAlert
	if err := q.Order("business_date DESC, id DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

func severitiesAtLeast(min enums.VarianceSeverity) []enums.VarianceSeverity {
	all := []enums.VarianceSeverity{
		enums.VarianceSeverityLow,
		enums.VarianceSeverityMedium,
		enums.VarianceSeverityHigh,
		enums.VarianceSeverityCritical,
	}
	out := make([]enums.VarianceSeverity, 0, len(all))
	for _, s := range all {
		if s.AtLeast(min) {
			out = append(out, s)
		}
	}
	return out
}

// AlertContext carries the drawer references attached to an alert.
type AlertContext struct {
	VenueID      int64
	BusinessDate time.Time
	ShiftRef     *string
	DrawerRef    *string
	StaffRef     *string
	EntryID      *int64
}

// NewAlert materialises a classification as a persistable alert.
func NewAlert(c *Classification, actx AlertContext) *models.VarianceAlert {
	return &models.VarianceAlert{
		VenueID:         actx.VenueID,
		BusinessDate:    actx.BusinessDate,
		ShiftRef:        actx.ShiftRef,
		DrawerRef:       actx.DrawerRef,
		ExpectedCents:   c.ExpectedCents,
		ActualCents:     c.ActualCents,
		VarianceCents:   c.VarianceCents,
		VariancePercent: c.Percent,
		Severity:        c.Severity,
		EntryID:         actx.EntryID,
		StaffRef:        actx.StaffRef,
	}
}
