package config

// EnvPrefix is empty because every field spells out its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv           = "VENUELEDGER_APP_ENV"
	EnvDBDSN            = "VENUELEDGER_DB_DSN"
	EnvDBHost           = "VENUELEDGER_DB_HOST"
	EnvDBUser           = "VENUELEDGER_DB_USER"
	EnvDBName           = "VENUELEDGER_DB_NAME"
	EnvRedisURL         = "VENUELEDGER_REDIS_URL"
	EnvFeatureLedger    = "VENUELEDGER_FEATURE_LEDGER"
	EnvFeatureVariance  = "VENUELEDGER_FEATURE_CASH_VARIANCE_ALERTS"
	EnvFeatureIdem      = "VENUELEDGER_FEATURE_IDEMPOTENCY"
	EnvDefaultCurrency  = "VENUELEDGER_DEFAULT_CURRENCY"
	EnvIdempotencyTTL   = "VENUELEDGER_IDEMPOTENCY_TTL"
	EnvVarianceLowCents = "VENUELEDGER_VARIANCE_LOW_CENTS"
	EnvVarianceHighCent = "VENUELEDGER_VARIANCE_HIGH_CENTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
