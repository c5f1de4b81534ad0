package models

import (
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/enums"
)

// IdempotencyRecord binds a caller supplied key to the entry it produced.
type IdempotencyRecord struct {
	ID          int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	Key         string                 `gorm:"column:idempotency_key;not null;uniqueIndex"`
	VenueID     int64                  `gorm:"column:venue_id;not null"`
	Fingerprint string                 `gorm:"column:fingerprint;not null"`
	State       enums.IdempotencyState `gorm:"column:state;not null"`
	EntryID     *int64                 `gorm:"column:entry_id"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt   time.Time              `gorm:"column:expires_at;not null"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// EffectiveState folds expiry into the stored state.
func (r IdempotencyRecord) EffectiveState(now time.Time) enums.IdempotencyState {
	if !now.Before(r.ExpiresAt) {
		return enums.IdempotencyStateExpired
	}
	return r.State
}
