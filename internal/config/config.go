package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application configuration.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	Licensing LicensingConfig
	Redeem    RedeemConfig
	Sweeper   SweeperConfig
}

// LicensingConfig carries the token and session tuning knobs.
type LicensingConfig struct {
	TokenIssuer                  string
	PrivateKeyPath               string
	SessionTokenTTLMinutes       int
	StaleThresholdMinutes        int
	OfflineRenewalThresholdRatio float64
	OfflineRenewalThresholdDays  int
	DefaultMaxActivations        int
	DefaultMaxConcurrentSessions int
	DefaultSessionTTLMinutes     int
	DefaultGracePeriodDays       int
	DefaultAllowOfflineDays      int
	DefaultEntitlements          []string
}

// RedeemConfig controls the redeem-code claim pipeline.
type RedeemConfig struct {
	CodePepper        string
	RateLimitAttempts int
	RateWindowSeconds int
}

// SweeperConfig controls background activation housekeeping.
type SweeperConfig struct {
	Enabled         bool
	IntervalHours   int
	ExpireAfterDays int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "license-server"),
		AppVersion:  getenv("APP_VERSION", "0.3.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "licensing"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 900),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Licensing: LicensingConfig{
			TokenIssuer:                  getenv("TOKEN_ISSUER", "bulc-license-server"),
			PrivateKeyPath:               strings.TrimSpace(getenv("LICENSE_PRIVATE_KEY_PATH", "")),
			SessionTokenTTLMinutes:       getenvInt("SESSION_TOKEN_TTL_MINUTES", 15),
			StaleThresholdMinutes:        getenvInt("STALE_THRESHOLD_MINUTES", 30),
			OfflineRenewalThresholdRatio: getenvFloat("OFFLINE_RENEWAL_THRESHOLD_RATIO", 0.5),
			OfflineRenewalThresholdDays:  getenvInt("OFFLINE_RENEWAL_THRESHOLD_DAYS", 3),
			DefaultMaxActivations:        getenvInt("DEFAULT_MAX_ACTIVATIONS", 3),
			DefaultMaxConcurrentSessions: getenvInt("DEFAULT_MAX_CONCURRENT_SESSIONS", 2),
			DefaultSessionTTLMinutes:     getenvInt("DEFAULT_SESSION_TTL_MINUTES", 60),
			DefaultGracePeriodDays:       getenvInt("DEFAULT_GRACE_PERIOD_DAYS", 7),
			DefaultAllowOfflineDays:      getenvInt("DEFAULT_ALLOW_OFFLINE_DAYS", 30),
			DefaultEntitlements:          getenvList("DEFAULT_ENTITLEMENTS", []string{"core-simulation"}),
		},
		Redeem: RedeemConfig{
			CodePepper:        getenv("REDEEM_CODE_PEPPER", "dev-redeem-pepper"),
			RateLimitAttempts: getenvInt("REDEEM_RATE_LIMIT", 5),
			RateWindowSeconds: getenvInt("REDEEM_RATE_WINDOW_SECONDS", 60),
		},
		Sweeper: SweeperConfig{
			Enabled:         getenvBool("SWEEPER_ENABLED", true),
			IntervalHours:   getenvInt("SWEEPER_INTERVAL_HOURS", 24),
			ExpireAfterDays: getenvInt("ACTIVATION_EXPIRE_DAYS", 90),
		},
	}
}

// IsProduction reports whether the server runs with production guarantees.
func (c Config) IsProduction() bool {
	return strings.Contains(strings.ToLower(c.Environment), "prod")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
