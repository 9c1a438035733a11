package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	SMTP          SMTPConfig
	Payments      PaymentsConfig
	Certificates  CertificatesConfig
	Notifications NotificationsConfig
	Catalog       CatalogConfig
	Lifecycle     LifecycleConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SMTPConfig carries mail relay credentials for outbound notifications.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	SenderEmail string
	SenderName  string
}

// PaymentsConfig configures the gateway adapters.
type PaymentsConfig struct {
	PayPalAPIBase    string
	PayPalClientID   string
	PayPalSecret     string
	PayPalWebhookID  string
	StripeSecretKey  string
	ConfirmTimeout   time.Duration
	RahgiriMinLength int
}

// CertificatesConfig controls artifact rendering and signed downloads.
type CertificatesConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	IssuerName        string
	FounderName       string
	FounderTitle      string
	WorkerConcurrency int
	WorkerRetries     int
}

// NotificationsConfig tunes the outbox dispatcher.
type NotificationsConfig struct {
	Enabled           bool
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	WorkerConcurrency int
}

// CatalogConfig governs course catalog caching.
type CatalogConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// LifecycleConfig tunes the session completion sweep.
type LifecycleConfig struct {
	CompletionSweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.SMTP = SMTPConfig{
		Host:        v.GetString("SMTP_HOST"),
		Port:        v.GetInt("SMTP_PORT"),
		Username:    v.GetString("SMTP_USERNAME"),
		Password:    v.GetString("SMTP_PASSWORD"),
		SenderEmail: v.GetString("SMTP_SENDER_EMAIL"),
		SenderName:  v.GetString("SMTP_SENDER_NAME"),
	}

	cfg.Payments = PaymentsConfig{
		PayPalAPIBase:    v.GetString("PAYPAL_API_BASE"),
		PayPalClientID:   v.GetString("PAYPAL_CLIENT_ID"),
		PayPalSecret:     v.GetString("PAYPAL_SECRET"),
		PayPalWebhookID:  v.GetString("PAYPAL_WEBHOOK_ID"),
		StripeSecretKey:  v.GetString("STRIPE_SECRET_KEY"),
		ConfirmTimeout:   parseDuration(v.GetString("PAYMENT_CONFIRM_TIMEOUT"), 10*time.Second),
		RahgiriMinLength: v.GetInt("RAHGIRI_MIN_LENGTH"),
	}

	cfg.Certificates = CertificatesConfig{
		StorageDir:        v.GetString("CERTIFICATES_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("CERTIFICATES_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("CERTIFICATES_SIGNED_URL_TTL"), 7*24*time.Hour),
		IssuerName:        v.GetString("CERTIFICATES_ISSUER_NAME"),
		FounderName:       v.GetString("CERTIFICATES_FOUNDER_NAME"),
		FounderTitle:      v.GetString("CERTIFICATES_FOUNDER_TITLE"),
		WorkerConcurrency: v.GetInt("CERTIFICATES_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("CERTIFICATES_WORKER_RETRIES"),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:           v.GetBool("NOTIFICATIONS_ENABLED"),
		PollInterval:      parseDuration(v.GetString("NOTIFICATIONS_POLL_INTERVAL"), 15*time.Second),
		BatchSize:         v.GetInt("NOTIFICATIONS_BATCH_SIZE"),
		MaxAttempts:       v.GetInt("NOTIFICATIONS_MAX_ATTEMPTS"),
		WorkerConcurrency: v.GetInt("NOTIFICATIONS_WORKER_CONCURRENCY"),
	}

	cfg.Catalog = CatalogConfig{
		CacheEnabled: v.GetBool("CATALOG_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("CATALOG_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Lifecycle = LifecycleConfig{
		CompletionSweepInterval: parseDuration(v.GetString("COMPLETION_SWEEP_INTERVAL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ultima_training")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_SENDER_EMAIL", "noreply@ultimatraining.example")
	v.SetDefault("SMTP_SENDER_NAME", "Ultima Training")

	v.SetDefault("PAYPAL_API_BASE", "https://api-m.sandbox.paypal.com")
	v.SetDefault("PAYPAL_CLIENT_ID", "")
	v.SetDefault("PAYPAL_SECRET", "")
	v.SetDefault("PAYPAL_WEBHOOK_ID", "")
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("PAYMENT_CONFIRM_TIMEOUT", "10s")
	v.SetDefault("RAHGIRI_MIN_LENGTH", 10)

	v.SetDefault("CERTIFICATES_STORAGE_DIR", "./certificates")
	v.SetDefault("CERTIFICATES_SIGNED_URL_SECRET", "dev_certificates_secret")
	v.SetDefault("CERTIFICATES_SIGNED_URL_TTL", "168h")
	v.SetDefault("CERTIFICATES_ISSUER_NAME", "ULTIMA TRAINING")
	v.SetDefault("CERTIFICATES_FOUNDER_NAME", "Dr. Josef Balahan")
	v.SetDefault("CERTIFICATES_FOUNDER_TITLE", "Founder & Lead Trainer")
	v.SetDefault("CERTIFICATES_WORKER_CONCURRENCY", 1)
	v.SetDefault("CERTIFICATES_WORKER_RETRIES", 3)

	v.SetDefault("NOTIFICATIONS_ENABLED", true)
	v.SetDefault("NOTIFICATIONS_POLL_INTERVAL", "15s")
	v.SetDefault("NOTIFICATIONS_BATCH_SIZE", 20)
	v.SetDefault("NOTIFICATIONS_MAX_ATTEMPTS", 5)
	v.SetDefault("NOTIFICATIONS_WORKER_CONCURRENCY", 2)

	v.SetDefault("CATALOG_CACHE_ENABLED", false)
	v.SetDefault("CATALOG_CACHE_TTL", "5m")

	v.SetDefault("COMPLETION_SWEEP_INTERVAL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
