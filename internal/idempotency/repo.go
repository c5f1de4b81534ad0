package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists idempotency records keyed by the caller supplied key.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByKey(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	InsertIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error)
	Recycle(ctx context.Context, record *models.IdempotencyRecord, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, key string, entryID int64, expiresAt time.Time) (bool, error)
	FindEntry(ctx context.Context, entryID int64) (*models.LedgerEntry, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an idempotency repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByKey(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertIfAbsent is a single conditional insert; false means another caller
// already owns the key.
func (r *repository) InsertIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Recycle takes over an expired record. The expiry guard makes concurrent
// recyclers race on the row so only one wins.
func (r *repository) Recycle(ctx context.Context, record *models.IdempotencyRecord, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("idempotency_key = ? AND expires_at <= ?", record.Key, now).
		Updates(map[string]any{
			"venue_id":    record.VenueID,
			"fingerprint": record.Fingerprint,
			"state":       enums.IdempotencyStateReserved,
			"entry_id":    nil,
			"created_at":  record.CreatedAt,
			"expires_at":  record.ExpiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCompleted(ctx context.Context, key string, entryID int64, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("idempotency_key = ? AND state = ?", key, enums.IdempotencyStateReserved).
		Updates(map[string]any{
			"state":      enums.IdempotencyStateCompleted,
			"entry_id":   entryID,
			"expires_at": expiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindEntry(ctx context.Context, entryID int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("id = ?", entryID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteExpiredBefore removes up to limit records whose expiry is at or before
// cutoff, oldest first.
func (r *repository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	oldest := r.db.Model(&models.IdempotencyRecord{}).
		Select("id").
		Where("expires_at <= ?", cutoff).
		Order("id ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).
		Where("id IN (?)", oldest).
		Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
