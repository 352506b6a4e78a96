package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string `toml:"addr"`
	Environment string `toml:"environment"`

	DatabaseDriver string `toml:"database_driver"`
	DatabaseURL    string `toml:"database_url"`
	MigrationsDir  string `toml:"migrations_dir"`

	JWTSecret  string        `toml:"jwt_secret"`
	AccessTTL  time.Duration `toml:"access_ttl"`
	RefreshTTL time.Duration `toml:"refresh_ttl"`
	// JWKSURL enables verification of tokens issued by an external identity
	// provider in addition to our own.
	JWKSURL string `toml:"jwks_url"`

	CORSOrigin string `toml:"cors_origin"`

	MeiliURL       string `toml:"meili_url"`
	MeiliMasterKey string `toml:"meili_master_key"`

	// Redis - refresh sessions fall back to the database when empty
	RedisURL string `toml:"redis_url"`

	// Object storage for uploads; uploads become data URLs when empty
	BlobEndpoint  string `toml:"blob_endpoint"`
	BlobAccessKey string `toml:"blob_access_key"`
	BlobSecretKey string `toml:"blob_secret_key"`
	BlobBucket    string `toml:"blob_bucket"`
	BlobUseSSL    bool   `toml:"blob_use_ssl"`
	BlobPublicURL string `toml:"blob_public_url"`

	HistoryDir   string `toml:"history_dir"`
	ProviderMode string `toml:"provider_mode"`
}

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	devJWTSecret = "gemcast-dev-secret"
)

func defaults() Config {
	return Config{
		Addr:           ":8787",
		Environment:    EnvDevelopment,
		DatabaseDriver: "sqlite3",
		DatabaseURL:    "./data/gemcast.db",
		MigrationsDir:  "./db/migrations",
		JWTSecret:      devJWTSecret,
		AccessTTL:      900 * time.Second,
		RefreshTTL:     2592000 * time.Second,
		CORSOrigin:     "*",
		BlobBucket:     "gemcast-uploads",
		HistoryDir:     "./data/history",
		ProviderMode:   "live",
	}
}

// Load builds the configuration from, in increasing precedence: built-in
// defaults, the TOML file named by GEMCAST_CONFIG_FILE, and the process
// environment (including .env.local and .env).
func Load() (Config, error) {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := defaults()
	if path := os.Getenv("GEMCAST_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("API_ADDR", c.Addr)
	c.Environment = getenv("GEMCAST_ENV", c.Environment)
	c.DatabaseDriver = getenv("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.MigrationsDir = getenv("GEMCAST_MIGRATIONS_DIR", c.MigrationsDir)
	c.JWTSecret = getenv("GEMCAST_JWT_SECRET", c.JWTSecret)
	c.AccessTTL = time.Duration(getenvInt("GEMCAST_ACCESS_TTL_SECONDS", int(c.AccessTTL/time.Second))) * time.Second
	c.RefreshTTL = time.Duration(getenvInt("GEMCAST_REFRESH_TTL_SECONDS", int(c.RefreshTTL/time.Second))) * time.Second
	c.JWKSURL = getenv("GEMCAST_JWKS_URL", c.JWKSURL)
	c.CORSOrigin = getenv("GEMCAST_CORS_ORIGIN", c.CORSOrigin)
	c.MeiliURL = getenv("MEILI_URL", c.MeiliURL)
	c.MeiliMasterKey = getenv("MEILI_MASTER_KEY", c.MeiliMasterKey)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.BlobEndpoint = getenv("BLOB_ENDPOINT", c.BlobEndpoint)
	c.BlobAccessKey = getenv("BLOB_ACCESS_KEY", c.BlobAccessKey)
	c.BlobSecretKey = getenv("BLOB_SECRET_KEY", c.BlobSecretKey)
	c.BlobBucket = getenv("BLOB_BUCKET", c.BlobBucket)
	c.BlobUseSSL = getenvBool("BLOB_USE_SSL", c.BlobUseSSL)
	c.BlobPublicURL = getenv("BLOB_PUBLIC_URL", c.BlobPublicURL)
	c.HistoryDir = getenv("GEMCAST_HISTORY_DIR", c.HistoryDir)
	c.ProviderMode = getenv("GEMCAST_PROVIDER", c.ProviderMode)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var problems []string
	switch c.DatabaseDriver {
	case "pgx", "postgres", "postgresql", "sqlite3", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("unsupported database driver %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "database url is required")
	}
	if c.JWTSecret == "" {
		problems = append(problems, "jwt secret is required")
	}
	if c.Environment == EnvProduction && c.JWTSecret == devJWTSecret {
		problems = append(problems, "jwt secret must be set in production")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		problems = append(problems, "token lifetimes must be positive")
	}
	switch c.ProviderMode {
	case "live", "mock":
	default:
		problems = append(problems, fmt.Sprintf("unknown provider mode %q", c.ProviderMode))
	}
	if c.BlobEndpoint != "" && (c.BlobAccessKey == "" || c.BlobSecretKey == "") {
		problems = append(problems, "blob endpoint requires access and secret keys")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
