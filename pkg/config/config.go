package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Mail providers understood by the mail channel.
const (
	MailProviderSMTP     = "smtp"
	MailProviderSendGrid = "sendgrid"
	MailProviderLog      = "log"
)

type Config struct {
	Env  string
	Port int

	Database     DatabaseConfig
	Redis        RedisConfig
	RabbitMQ     RabbitMQConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Mail         MailConfig
	Storage      StorageConfig
	Workflow     WorkflowConfig
	Confirmation ConfirmationConfig
	Tracing      TracingConfig
	Admin        AdminConfig
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig is optional; an empty URL selects the in-process cache.
type RedisConfig struct {
	URL      string
	CacheTTL time.Duration
}

// RabbitMQConfig is optional; an empty URL disables workflow event publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MailConfig selects and configures the outbound mail provider.
type MailConfig struct {
	Provider       string
	From           string
	FromName       string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SendGridAPIKey string
	Timeout        time.Duration
}

// StorageConfig governs payment screenshot storage and upload validation.
type StorageConfig struct {
	Dir              string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// WorkflowConfig carries registration policy knobs.
type WorkflowConfig struct {
	DefaultAmount           int64
	AllowApproveAfterReject bool
}

// ConfirmationConfig drives rendering, signing and redelivery of confirmations.
type ConfirmationConfig struct {
	Currency      string
	SigningSecret string
	MaxAttempts   int
	RetrySchedule string
	RetryWorkers  int
	RetryDelay    time.Duration
}

// TracingConfig toggles OpenTelemetry spans.
type TracingConfig struct {
	Enabled     bool
	Exporter    string
	ServiceName string
}

// AdminConfig gates the self-service admin registration endpoint.
type AdminConfig struct {
	RegistrationEnabled bool
}

// Load reads configuration from .env and the environment and validates it.
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{
		URL:          v.GetString("DATABASE_URL"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		URL:      v.GetString("REDIS_URL"),
		CacheTTL: parseDuration(v.GetString("REGISTRATIONS_CACHE_TTL"), time.Minute),
	}

	cfg.RabbitMQ = RabbitMQConfig{
		URL:      v.GetString("RABBITMQ_URL"),
		Exchange: v.GetString("RABBITMQ_EXCHANGE"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(v.GetString("MAIL_PROVIDER")),
		From:           v.GetString("MAIL_FROM"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		SMTPHost:       v.GetString("SMTP_HOST"),
		SMTPPort:       v.GetInt("SMTP_PORT"),
		SMTPUser:       v.GetString("SMTP_USER"),
		SMTPPassword:   v.GetString("SMTP_PASSWORD"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		Timeout:        parseDuration(v.GetString("MAIL_TIMEOUT"), 15*time.Second),
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.SMTPUser
	}

	maxSize := v.GetInt64("PAYMENT_MAX_FILE_SIZE")
	if maxSize <= 0 {
		maxSize = 5 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Dir:              v.GetString("PAYMENT_STORAGE_DIR"),
		MaxFileSizeBytes: maxSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("PAYMENT_ALLOWED_MIME_TYPES")),
	}

	cfg.Workflow = WorkflowConfig{
		DefaultAmount:           v.GetInt64("REGISTRATION_DEFAULT_AMOUNT"),
		AllowApproveAfterReject: v.GetBool("WORKFLOW_ALLOW_APPROVE_AFTER_REJECT"),
	}

	cfg.Confirmation = ConfirmationConfig{
		Currency:      v.GetString("CONFIRMATION_CURRENCY"),
		SigningSecret: v.GetString("CONFIRMATION_SIGNING_SECRET"),
		MaxAttempts:   v.GetInt("CONFIRMATION_MAX_ATTEMPTS"),
		RetrySchedule: v.GetString("CONFIRMATION_RETRY_SCHEDULE"),
		RetryWorkers:  v.GetInt("CONFIRMATION_RETRY_WORKERS"),
		RetryDelay:    parseDuration(v.GetString("CONFIRMATION_RETRY_DELAY"), 30*time.Second),
	}
	if cfg.Confirmation.SigningSecret == "" {
		cfg.Confirmation.SigningSecret = cfg.JWT.Secret
	}

	cfg.Tracing = TracingConfig{
		Enabled:     v.GetBool("TRACING_ENABLED"),
		Exporter:    v.GetString("TRACING_EXPORTER"),
		ServiceName: v.GetString("TRACING_SERVICE_NAME"),
	}

	cfg.Admin = AdminConfig{RegistrationEnabled: v.GetBool("ADMIN_REGISTRATION_ENABLED")}

	return cfg
}

// Validate enforces the settings the process cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.JWT.Secret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	switch c.Mail.Provider {
	case MailProviderSMTP:
		if c.Mail.SMTPHost == "" || c.Mail.SMTPUser == "" || c.Mail.SMTPPassword == "" {
			problems = append(problems, "SMTP_HOST, SMTP_USER and SMTP_PASSWORD are required for the smtp mail provider")
		}
	case MailProviderSendGrid:
		if c.Mail.SendGridAPIKey == "" {
			problems = append(problems, "SENDGRID_API_KEY is required for the sendgrid mail provider")
		}
	case MailProviderLog:
		if c.Env == EnvProduction {
			problems = append(problems, "the log mail provider is not allowed in production")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported MAIL_PROVIDER %q", c.Mail.Provider))
	}
	if c.Mail.Provider != MailProviderLog && c.Mail.From == "" {
		problems = append(problems, "MAIL_FROM is required")
	}
	if c.Workflow.DefaultAmount < 0 {
		problems = append(problems, "REGISTRATION_DEFAULT_AMOUNT must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REGISTRATIONS_CACHE_TTL", "1m")
	v.SetDefault("RABBITMQ_EXCHANGE", "eventreg.workflow")

	v.SetDefault("JWT_EXPIRATION", "1h")
	v.SetDefault("JWT_ISSUER", "eventreg-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MAIL_PROVIDER", MailProviderSMTP)
	v.SetDefault("MAIL_FROM_NAME", "Event Registrations")
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_TIMEOUT", "15s")

	v.SetDefault("PAYMENT_STORAGE_DIR", "./uploads")
	v.SetDefault("PAYMENT_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("PAYMENT_ALLOWED_MIME_TYPES", "image/png,image/jpeg,image/webp,application/pdf")

	v.SetDefault("REGISTRATION_DEFAULT_AMOUNT", 500)
	v.SetDefault("WORKFLOW_ALLOW_APPROVE_AFTER_REJECT", true)

	v.SetDefault("CONFIRMATION_CURRENCY", "Rs.")
	v.SetDefault("CONFIRMATION_MAX_ATTEMPTS", 5)
	v.SetDefault("CONFIRMATION_RETRY_SCHEDULE", "@every 5m")
	v.SetDefault("CONFIRMATION_RETRY_WORKERS", 1)
	v.SetDefault("CONFIRMATION_RETRY_DELAY", "30s")

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("TRACING_SERVICE_NAME", "eventreg-api")

	v.SetDefault("ADMIN_REGISTRATION_ENABLED", false)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
