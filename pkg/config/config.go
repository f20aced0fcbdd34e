package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Admin     AdminConfig
	License   LicenseConfig
	Gumroad   GumroadConfig
	Mail      MailConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GLASS_APP_ENV" required:"true"`
	Port         string `envconfig:"GLASS_APP_PORT" default:"8000"`
	LogLevel     string `envconfig:"GLASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GLASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Driver string `envconfig:"GLASS_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"GLASS_DB_DSN"`

	LegacyHost     string `envconfig:"GLASS_DB_HOST"`
	LegacyPort     int    `envconfig:"GLASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GLASS_DB_USER"`
	LegacyPassword string `envconfig:"GLASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"GLASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"GLASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GLASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GLASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GLASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GLASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the embedded single-file engine is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"GLASS_REDIS_URL"`
	Address      string        `envconfig:"GLASS_REDIS_ADDR"`
	Password     string        `envconfig:"GLASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"GLASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GLASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GLASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GLASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GLASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GLASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured at all. The service
// runs without redis; activation rate limiting is skipped in that case.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type AdminConfig struct {
	// Secret guards key issuance, token revocation and introspection. An empty
	// value fails closed: admin routes answer with a server error, never allow.
	Secret string `envconfig:"GLASS_ADMIN_SECRET"`
}

type LicenseConfig struct {
	TokenTTLDays int `envconfig:"GLASS_TOKEN_TTL_DAYS" default:"90"`

	FreeMaxWindows    int `envconfig:"GLASS_FREE_MAX_WINDOWS" default:"1"`
	StarterMaxWindows int `envconfig:"GLASS_STARTER_MAX_WINDOWS" default:"2"`
	ProMaxWindows     int `envconfig:"GLASS_PRO_MAX_WINDOWS" default:"5"`

	DefaultMaxActivations int    `envconfig:"GLASS_DEFAULT_MAX_ACTIVATIONS" default:"1"`
	KeyPrefix             string `envconfig:"GLASS_KEY_PREFIX"`

	DownloadURLPro string `envconfig:"GLASS_DOWNLOAD_URL_PRO" default:"https://www.glassapp.me/static/Glass.exe"`

	StarterSalesEnabled bool   `envconfig:"GLASS_STARTER_SALES_ENABLED" default:"false"`
	StarterPrice        string `envconfig:"GLASS_STARTER_PRICE" default:"5"`
	StarterBuyURL       string `envconfig:"GLASS_STARTER_BUY_URL" default:"https://www.glassapp.me/buy?tier=starter"`
	ProSalesEnabled     bool   `envconfig:"GLASS_PRO_SALES_ENABLED" default:"true"`
	ProPrice            string `envconfig:"GLASS_PRO_PRICE" default:"9.99"`
	ProBuyURL           string `envconfig:"GLASS_PRO_BUY_URL" default:"https://www.glassapp.me/buy?tier=pro"`
}

// TokenTTL converts the configured day count to a duration. Zero means tokens
// never expire.
func (l LicenseConfig) TokenTTL() time.Duration {
	if l.TokenTTLDays <= 0 {
		return 0
	}
	return time.Duration(l.TokenTTLDays) * 24 * time.Hour
}

type GumroadConfig struct {
	VerifyURL string        `envconfig:"GLASS_GUMROAD_VERIFY_URL"`
	ProductID string        `envconfig:"GLASS_GUMROAD_PRODUCT_ID"`
	Timeout   time.Duration `envconfig:"GLASS_GUMROAD_TIMEOUT" default:"5s"`

	// SkipValidation disables the outbound check entirely. Independent of this
	// flag, transport failures are fail-open: a timeout or network error counts
	// as verification success so a third-party outage never locks out a buyer.
	SkipValidation bool `envconfig:"GLASS_SKIP_GUMROAD_VALIDATION" default:"false"`
}

type MailConfig struct {
	SMTPHost string `envconfig:"GLASS_SMTP_HOST"`
	SMTPPort int    `envconfig:"GLASS_SMTP_PORT" default:"587"`
	SMTPUser string `envconfig:"GLASS_SMTP_USER"`
	SMTPPass string `envconfig:"GLASS_SMTP_PASS"`
	From     string `envconfig:"GLASS_MAIL_FROM" default:"licenses@glassapp.me"`
}

// Enabled reports whether outbound mail is configured. Delivery is best-effort
// either way.
func (m MailConfig) Enabled() bool {
	return m.SMTPHost != ""
}

type RateLimitConfig struct {
	ActivateWindow   time.Duration `envconfig:"GLASS_RATE_LIMIT_ACTIVATE_WINDOW" default:"1m"`
	ActivateIPLimit  int           `envconfig:"GLASS_RATE_LIMIT_ACTIVATE_IP_LIMIT" default:"20"`
	ActivateKeyLimit int           `envconfig:"GLASS_RATE_LIMIT_ACTIVATE_KEY_LIMIT" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	switch strings.ToLower(strings.TrimSpace(db.Driver)) {
	case DriverSQLite:
		if db.DSN == "" {
			db.DSN = DefaultSQLitePath
		}
		return nil
	case DriverPostgres:
		// assembled below
	default:
		return fmt.Errorf("unsupported db driver %q (expected %s or %s)", db.Driver, DriverPostgres, DriverSQLite)
	}

	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
