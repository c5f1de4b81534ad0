package ledger

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/venue-ledger/internal/audit"
	"github.com/angelmondragon/venue-ledger/internal/idempotency"
	"github.com/angelmondragon/venue-ledger/internal/variance"
	"github.com/angelmondragon/venue-ledger/pkg/config"
	"github.com/angelmondragon/venue-ledger/pkg/db"
	"github.com/angelmondragon/venue-ledger/pkg/logger"
	"github.com/angelmondragon/venue-ledger/pkg/metrics"
	"github.com/angelmondragon/venue-ledger/pkg/redis"
)

// Dependencies are the live connections a service is assembled over. Redis
// and Registerer are optional.
type Dependencies struct {
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Logger     *logger.Logger
	Venues     VenueDirectory
}

// NewFromConfig assembles a Service and its collaborators from cfg. With Redis
// configured the in-process venue lock is chained with a redislock lease.
func NewFromConfig(cfg *config.Config, deps Dependencies) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	logg := deps.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	conn := deps.DB.DB()

	resolver, err := idempotency.NewResolver(idempotency.Params{
		Repository: idempotency.NewRepository(conn),
		TTL:        cfg.Ledger.IdempotencyTTL,
	})
	if err != nil {
		return nil, err
	}
	thresholds := variance.ThresholdsFromConfig(cfg.Ledger)
	classifier, err := variance.NewClassifier(thresholds)
	if err != nil {
		return nil, err
	}
	recorder, err := audit.NewRecorder(audit.NewRepository(conn), logg)
	if err != nil {
		return nil, err
	}

	var locker VenueLocker = NewLocalVenueLocker()
	if deps.Redis != nil {
		remote, err := NewRedisVenueLocker(RedisVenueLockerParams{
			Client:  deps.Redis.Raw(),
			KeyFunc: deps.Redis.VenueLockKey,
			TTL:     cfg.Ledger.LockTTL,
			Wait:    cfg.Ledger.LockWait,
			Logger:  logg,
		})
		if err != nil {
			return nil, err
		}
		locker = ChainLockers(locker, remote)
	}

	return NewService(ServiceParams{
		DB:               deps.DB,
		Repository:       NewRepository(conn),
		Idempotency:      resolver,
		Classifier:       classifier,
		Alerts:           variance.NewRepository(conn),
		Audit:            recorder,
		Locker:           locker,
		Venues:           deps.Venues,
		Features:         FeaturesFromConfig(cfg.FeatureFlags),
		Metrics:          metrics.NewLedgerMetrics(deps.Registerer),
		Logger:           logg,
		DefaultCurrency:  cfg.Ledger.DefaultCurrency,
		MaxAppendRetries: cfg.Ledger.MaxAppendRetries,
		BatchSize:        cfg.Sweep.BatchSize,
	})
}
