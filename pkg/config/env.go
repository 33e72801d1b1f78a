package config

const (
	EnvPrefix = "JEWELCRAFT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "JEWELCRAFT_APP_ENV"
	EnvPort         = "JEWELCRAFT_APP_PORT"
	EnvDBDSN        = "JEWELCRAFT_DB_DSN"
	EnvDBHost       = "JEWELCRAFT_DB_HOST"
	EnvDBUser       = "JEWELCRAFT_DB_USER"
	EnvDBPassword   = "JEWELCRAFT_DB_PASSWORD"
	EnvDBName       = "JEWELCRAFT_DB_NAME"
	EnvRedisURL     = "JEWELCRAFT_REDIS_URL"
	EnvStripeSecret = "JEWELCRAFT_STRIPE_WEBHOOK_SECRET"
	EnvStripeEnv    = "JEWELCRAFT_STRIPE_ENV"
	EnvWebhookTTL   = "JEWELCRAFT_WEBHOOK_IDEMPOTENCY_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
