package audit

import (
	"context"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"gorm.io/gorm"
)

// Repository persists audit rows. Rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, row *models.AuditLog) error
	ListByVenue(ctx context.Context, venueID int64, limit int) ([]models.AuditLog, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, row *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) ListByVenue(ctx context.Context, venueID int64, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.AuditLog
	if err := r.db.WithContext(ctx).
		Where("venue_id = ?", venueID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
