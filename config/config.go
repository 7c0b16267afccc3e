package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Base units per whole unit: 1 HBAR = 10^8 tinybars.
const tinybarDecimals = 8

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Ledger   LedgerConfig
	Payment  PaymentConfig
	AWS      AWSConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings for the admission audit log.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AuthConfig holds the admin credentials and the messaging gateway key.
// Hashes are bcrypt.
type AuthConfig struct {
	AdminUsername     string
	AdminPasswordHash string
	GatewayKeyHash    string
}

// LedgerConfig holds mirror node settings.
type LedgerConfig struct {
	BaseURL        string
	PageSize       int
	RequestTimeout time.Duration
	MaxRetries     int
}

// PaymentConfig is the default payment requirement applied to new poll cycles.
type PaymentConfig struct {
	ReceivingAccount string
	// MinAmount is in base units (tinybars, or the token's smallest unit when TokenID is set).
	MinAmount int64
	TokenID   string
	// TokenDecimals converts PAYMENT_AMOUNT into base units when TokenID is set.
	TokenDecimals int32
}

// AWSConfig holds AWS credentials and the cycle archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
}

// WorkerConfig holds background job settings.
type WorkerConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	tokenID := getEnv("PAYMENT_TOKEN_ID", "")
	tokenDecimals := int32(getEnvInt("PAYMENT_TOKEN_DECIMALS", 0))
	decimals := int32(tinybarDecimals)
	if tokenID != "" {
		decimals = tokenDecimals
	}
	minAmount, err := ParseAmount(getEnv("PAYMENT_AMOUNT", "1"), decimals)
	if err != nil {
		return nil, fmt.Errorf("PAYMENT_AMOUNT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "slothvote"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Auth: AuthConfig{
			AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			GatewayKeyHash:    getEnv("GATEWAY_KEY_HASH", ""),
		},
		Ledger: LedgerConfig{
			BaseURL:        strings.TrimRight(getEnv("MIRROR_NODE_URL", "https://mainnet-public.mirrornode.hedera.com"), "/"),
			PageSize:       getEnvInt("LEDGER_PAGE_SIZE", 100),
			RequestTimeout: getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),
			MaxRetries:     getEnvInt("LEDGER_MAX_RETRIES", 3),
		},
		Payment: PaymentConfig{
			ReceivingAccount: getEnv("RECEIVING_ACCOUNT", ""),
			MinAmount:        minAmount,
			TokenID:          tokenID,
			TokenDecimals:    tokenDecimals,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
		},
		Worker: WorkerConfig{
			MaxRetries:   getEnvInt("WORKER_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("WORKER_RETRY_BACKOFF", 10*time.Second),
		},
	}
	return cfg, nil
}

// Validate checks settings the admission engine cannot run without.
func (c *Config) Validate() error {
	if c.Payment.ReceivingAccount == "" {
		return errors.New("RECEIVING_ACCOUNT is required")
	}
	if c.Payment.MinAmount <= 0 {
		return errors.New("PAYMENT_AMOUNT must be positive")
	}
	if c.Ledger.PageSize <= 0 {
		return errors.New("LEDGER_PAGE_SIZE must be positive")
	}
	return nil
}

// ParseAmount converts a whole-unit decimal string ("2.5") into base units
// with the given number of decimals. Fractions below one base unit are rejected.
func ParseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	base := d.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	return base.IntPart(), nil
}

// FormatAmount renders base units back into a whole-unit decimal string.
func FormatAmount(amount int64, decimals int32) string {
	return decimal.New(amount, -decimals).String()
}

// AmountDecimals returns the number of decimals of the payment currency.
func (p PaymentConfig) AmountDecimals() int32 {
	if p.TokenID != "" {
		return p.TokenDecimals
	}
	return tinybarDecimals
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
