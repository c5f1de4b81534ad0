package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/venue-ledger/pkg/db/models"
	"github.com/angelmondragon/venue-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/venue-ledger/pkg/errors"
	"gorm.io/gorm"
)

const DefaultTTL = 24 * time.Hour

// Params configures a Resolver.
type Params struct {
	Repository Repository
	TTL        time.Duration
	Now        func() time.Time
}

// Resolver deduplicates retried create calls by caller supplied key.
type Resolver struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// Request identifies one logical create call.
type Request struct {
	Key         string
	VenueID     int64
	Fingerprint string
}

// Reservation is the outcome of Reserve. Replay is set when the key is already
// bound to a committed entry; otherwise the caller owns Record and must
// Complete it in the same transaction.
type Reservation struct {
	Record *models.IdempotencyRecord
	Replay *models.LedgerEntry
}

// NewResolver wires a resolver.
func NewResolver(params Params) (*Resolver, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("idempotency repository required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{repo: params.Repository, ttl: ttl, now: now}, nil
}

// WithTx returns a resolver whose reads and writes join tx.
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	return &Resolver{repo: r.repo.WithTx(tx), ttl: r.ttl, now: r.now}
}

// Resolve returns the entry bound to key when a completed, unexpired record
// exists, and nil otherwise.
func (r *Resolver) Resolve(ctx context.Context, key string) (*models.LedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	record, err := r.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}
	if record == nil || record.EffectiveState(r.clock()) != enums.IdempotencyStateCompleted || record.EntryID == nil {
		return nil, nil
	}
	entry, err := r.repo.FindEntry(ctx, *record.EntryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotent entry")
	}
	return entry, nil
}

// Reserve claims key for a new write, or reports the entry it already produced.
func (r *Resolver) Reserve(ctx context.Context, req Request) (*Reservation, error) {
	if req.Key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	now := r.clock()
	record := &models.IdempotencyRecord{
		Key:         req.Key,
		VenueID:     req.VenueID,
		Fingerprint: req.Fingerprint,
		State:       enums.IdempotencyStateReserved,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.ttl),
	}

	inserted, err := r.repo.InsertIfAbsent(ctx, record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	if inserted {
		return &Reservation{Record: record}, nil
	}

	existing, err := r.repo.FindByKey(ctx, req.Key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key released concurrently")
	}

	switch existing.EffectiveState(now) {
	case enums.IdempotencyStateExpired:
		recycled, err := r.repo.Recycle(ctx, record, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recycle idempotency key")
		}
		if !recycled {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reclaimed concurrently")
		}
		record.ID = existing.ID
		return &Reservation{Record: record}, nil
	case enums.IdempotencyStateReserved:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key is bound to an in-flight write")
	}

	if existing.VenueID != req.VenueID || existing.Fingerprint != req.Fingerprint {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request").
			WithDetails(map[string]any{"idempotency_key": req.Key})
	}
	if existing.EntryID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency record has no bound entry")
	}
	entry, err := r.repo.FindEntry(ctx, *existing.EntryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotent entry")
	}
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "idempotent entry missing")
	}
	return &Reservation{Record: existing, Replay: entry}, nil
}

// Complete binds key to entry with expires_at = now + TTL. A key that was never
// reserved is recorded directly as completed.
func (r *Resolver) Complete(ctx context.Context, key string, entry *models.LedgerEntry) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if entry == nil || entry.ID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "persisted entry is required")
	}
	now := r.clock()
	expiresAt := now.Add(r.ttl)

	updated, err := r.repo.MarkCompleted(ctx, key, entry.ID, expiresAt)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete idempotency key")
	}
	if updated {
		return nil
	}

	entryID := entry.ID
	inserted, err := r.repo.InsertIfAbsent(ctx, &models.IdempotencyRecord{
		Key:       key,
		VenueID:   entry.VenueID,
		State:     enums.IdempotencyStateCompleted,
		EntryID:   &entryID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record idempotency key")
	}
	if inserted {
		return nil
	}

	existing, err := r.repo.FindByKey(ctx, key)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}
	if existing != nil && existing.EntryID != nil && *existing.EntryID == entry.ID {
		return nil
	}
	if existing != nil && existing.EffectiveState(now) == enums.IdempotencyStateExpired {
		recycled, err := r.repo.Recycle(ctx, &models.IdempotencyRecord{
			Key:       key,
			VenueID:   entry.VenueID,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recycle idempotency key")
		}
		if recycled {
			if _, err := r.repo.MarkCompleted(ctx, key, entry.ID, expiresAt); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete idempotency key")
			}
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already bound to another entry").
		WithDetails(map[string]any{"idempotency_key": key})
}

func (r *Resolver) clock() time.Time {
	return r.now().UTC()
}

// Fingerprint hashes the canonical JSON encoding of a request so a replay with
// different parameters can be told apart from a genuine retry.
func Fingerprint(request any) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
