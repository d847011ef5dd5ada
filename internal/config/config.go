package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode        Mode
	HTTPAddr    string
	PublicURL   string
	Environment string // development|staging|production
	LogLevel    string

	DBDriver string
	DBDSN    string

	AuthSecret      string
	TokenTTL        time.Duration
	EnableLocalAuth bool
	AdminUser       string
	AdminPassHash   string // bcrypt
	// Dev only: trust the JWT role claim when no subscription row exists.
	AllowClaimRoleFallback bool

	CORSOrigins []string

	UpgradeURL           string
	BillingWebhookSecret string

	ContentFile     string // YAML test catalog seeded at startup
	FlagsFile       string // YAML kill-switch flags
	FlagsReloadSpec string // cron spec, empty disables reload
	ExpirySweepSpec string // cron spec, empty disables the sweep
	AttemptGrace    time.Duration
}

// FromEnv reads configuration from the environment. A .env file in the
// working directory is loaded first; it never overrides variables that are
// already set, and a missing file is not an error.
func FromEnv() Config {
	_ = godotenv.Load()

	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	pub := os.Getenv("PUBLIC_URL")
	return Config{
		Mode:        mode,
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		PublicURL:   pub,
		Environment: strings.ToLower(envOr("ENVIRONMENT", "development")),
		LogLevel:    strings.ToLower(envOr("LOG_LEVEL", "info")),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		AuthSecret:             envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		TokenTTL:               time.Duration(envInt("TOKEN_TTL_MINUTES", 24*60)) * time.Minute,
		EnableLocalAuth:        envBool("ENABLE_LOCAL_AUTH", mode == ModeOffline),
		AdminUser:              envOr("ADMIN_USER", "admin"),
		AdminPassHash:          os.Getenv("ADMIN_PASS_HASH"),
		AllowClaimRoleFallback: envBool("ALLOW_CLAIM_ROLE_FALLBACK", mode == ModeOffline),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),

		UpgradeURL:           envOr("UPGRADE_URL", strings.TrimSuffix(pub, "/")+"/pricing"),
		BillingWebhookSecret: os.Getenv("BILLING_WEBHOOK_SECRET"),

		ContentFile:     os.Getenv("CONTENT_FILE"),
		FlagsFile:       os.Getenv("FLAGS_FILE"),
		FlagsReloadSpec: envOr("FLAGS_RELOAD_SPEC", "@every 30s"),
		ExpirySweepSpec: envOr("EXPIRY_SWEEP_SPEC", "@every 1m"),
		AttemptGrace:    time.Duration(envInt("ATTEMPT_GRACE_SECONDS", 60)) * time.Second,
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
