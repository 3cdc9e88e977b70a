package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Port string

	DBDriver  string
	DBPath    string
	DBDSN     string
	DBTimeout time.Duration

	RedisURL     string
	CacheTimeout time.Duration
	CacheTTL     time.Duration

	JWTSecret       string
	BcryptCost      int
	CookieSecure    bool
	AllowRoleSignup bool

	CORSOrigins        []string
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustedProxies     []string

	AdminEmail    string
	AdminPassword string
}

// LoadDotEnv seeds the environment from a .env file. Variables that are
// already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func Load() (Config, error) {
	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:             getEnv("DB_PATH", "ledger.db"),
		DBDSN:              os.Getenv("DB_DSN"),
		DBTimeout:          readDurationMillis("DB_TIMEOUT_MS", 5000),
		RedisURL:           os.Getenv("REDIS_URL"),
		CacheTimeout:       readDurationMillis("CACHE_TIMEOUT_MS", 500),
		CacheTTL:           readDurationSeconds("CACHE_TTL_SECONDS", 0),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		BcryptCost:         readInt("BCRYPT_COST", 12),
		CookieSecure:       readBool("COOKIE_SECURE", false),
		AllowRoleSignup:    readBool("ALLOW_ROLE_SIGNUP", false),
		CORSOrigins:        readList("CORS_ORIGINS"),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		TrustedProxies:     readList("TRUSTED_PROXIES"),
		AdminEmail:         os.Getenv("ADMIN_EMAIL"),
		AdminPassword:      os.Getenv("ADMIN_PASSWORD"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is not set")
	}
	switch cfg.DBDriver {
	case "sqlite":
	case "postgres":
		if cfg.DBDSN == "" {
			return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return Config{}, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		return Config{}, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
