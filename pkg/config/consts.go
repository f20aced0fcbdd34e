package config

const (
	EnvPrefix = "GLASS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultSQLitePath = "glass.db"

	EnvDBDSN  = "GLASS_DB_DSN"
	EnvDBHost = "GLASS_DB_HOST"
	EnvDBUser = "GLASS_DB_USER"
	EnvDBName = "GLASS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Tier names are stored lowercase in every table.
const (
	TierFree    = "free"
	TierStarter = "starter"
	TierPro     = "pro"
)

// KnownTier reports whether the supplied value is one of the sellable tiers.
func KnownTier(tier string) bool {
	switch tier {
	case TierFree, TierStarter, TierPro:
		return true
	}
	return false
}

// DefaultMaxWindows returns the configured window cap for a tier. Unknown
// tiers fall back to the free cap so a bad row can never grant extra windows.
func (l LicenseConfig) DefaultMaxWindows(tier string) int {
	switch tier {
	case TierPro:
		return l.ProMaxWindows
	case TierStarter:
		return l.StarterMaxWindows
	default:
		return l.FreeMaxWindows
	}
}
