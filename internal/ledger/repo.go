package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"gorm.io/gorm"
)

// EntryRange pages through a venue's chain in id order.
type EntryRange struct {
	AfterID int64
	Limit   int
	From    *time.Time
	To      *time.Time
}

// BalanceQuery filters the entries summed by ComputeBalance.
type BalanceQuery struct {
	VenueID int64
	Method  *enums.PaymentMethod
	From    *time.Time
	To      *time.Time
}

// Repository is the append-only chain store. It exposes no update or delete.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	Tail(ctx context.Context, venueID int64) (*models.LedgerEntry, error)
	FindByID(ctx context.Context, venueID, id int64) (*models.LedgerEntry, error)
	CountForBusinessDate(ctx context.Context, venueID int64, businessDate time.Time) (int64, error)
	List(ctx context.Context, venueID int64, rng EntryRange) ([]models.LedgerEntry, error)
	Balance(ctx context.Context, query BalanceQuery) (int64, error)
	RefundedTotal(ctx context.Context, venueID, originalID int64) (int64, error)
	VenueIDs(ctx context.Context) ([]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a chain store bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) Tail(ctx context.Context, venueID int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("venue_id = ?", venueID).
		Order("id DESC").
		Limit(1).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByID(ctx context.Context, venueID, id int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("venue_id = ? AND id = ?", venueID, id).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) CountForBusinessDate(ctx context.Context, venueID int64, businessDate time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("venue_id = ? AND business_date = ?", venueID, BusinessDay(businessDate)).
		Count(&count).Error
	return count, err
}

func (r *repository) List(ctx context.Context, venueID int64, rng EntryRange) ([]models.LedgerEntry, error) {
	q := r.db.WithContext(ctx).Where("venue_id = ?", venueID)
	if rng.AfterID > 0 {
		q = q.Where("id > ?", rng.AfterID)
	}
	if rng.From != nil {
		q = q.Where("business_date >= ?", BusinessDay(*rng.From))
	}
	if rng.To != nil {
		q = q.Where("business_date <= ?", BusinessDay(*rng.To))
	}
	if rng.Limit > 0 {
		q = q.Limit(rng.Limit)
	}
	var entries []models.LedgerEntry
	if err := q.Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) Balance(ctx context.Context, query BalanceQuery) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("venue_id = ?", query.VenueID)
	if query.Method != nil {
		q = q.Where("payment_method = ?", *query.Method)
	}
	if query.From != nil {
		q = q.Where("business_date >= ?", BusinessDay(*query.From))
	}
	if query.To != nil {
		q = q.Where("business_date <= ?", BusinessDay(*query.To))
	}
	var total int64
	if err := q.Select("CAST(COALESCE(SUM(amount_cents), 0) AS BIGINT)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// RefundedTotal returns the refunded magnitude already booked against originalID.
func (r *repository) RefundedTotal(ctx context.Context, venueID, originalID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("venue_id = ? AND reference_entry_id = ? AND entry_type = ?", venueID, originalID, enums.LedgerEntryTypePaymentRefunded).
		Select("CAST(COALESCE(-SUM(amount_cents), 0) AS BIGINT)").
		Scan(&total).Error
	return total, err
}

func (r *repository) VenueIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Distinct().
		Order("venue_id ASC").
		Pluck("venue_id", &ids).Error
	return ids, err
}
