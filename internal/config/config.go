package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the runtime configuration of the settlement service. Values come from
// the environment (a .env file is loaded by main before Load is called).
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// AdminToken enables the /admin routes. Empty disables them.
	AdminToken string `envconfig:"ADMIN_TOKEN"`
	DBDSN      string `envconfig:"DB_DSN" required:"true"`

	// Bounded timeouts for the blocking points of a settlement.
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	DBOpTimeout     time.Duration `envconfig:"DB_OP_TIMEOUT" default:"5s"`

	Provider ProviderConfig
	Webhook  WebhookConfig
	Gate     GateConfig
	Stock    StockConfig
	Kafka    KafkaConfig
	SMTP     SMTPConfig
	Alert    AlertConfig
	Storage  StorageConfig
}

type ProviderConfig struct {
	Name        string `envconfig:"PROVIDER_NAME" default:"mercadopago"`
	BaseURL     string `envconfig:"PROVIDER_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken string `envconfig:"PROVIDER_ACCESS_TOKEN"`
}

type WebhookConfig struct {
	Secret string `envconfig:"WEBHOOK_SECRET"`
	// AllowUnsigned accepts notifications whose signature is missing or invalid.
	// The payment is always re-fetched from the provider, so the body is never trusted.
	AllowUnsigned bool `envconfig:"WEBHOOK_ALLOW_UNSIGNED" default:"true"`
	// MaxSkew bounds the age of the signed timestamp. Zero disables the check.
	MaxSkew time.Duration `envconfig:"WEBHOOK_MAX_SKEW" default:"10m"`
}

type GateConfig struct {
	TTL       time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"1m"`
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	RedisDB   int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string        `envconfig:"IDEMPOTENCY_KEY_PREFIX" default:"settlement:processing:"`
}

type StockConfig struct {
	ClaimLease   time.Duration `envconfig:"STOCK_CLAIM_LEASE" default:"2m"`
	CASAttempts  int           `envconfig:"STOCK_CAS_ATTEMPTS" default:"5"`
	SystemUserID string        `envconfig:"STOCK_SYSTEM_USER_ID" default:"system"`
}

type KafkaConfig struct {
	Brokers           []string `envconfig:"KAFKA_BROKERS"`
	NotificationTopic string   `envconfig:"KAFKA_NOTIFICATION_TOPIC" default:"payment-notifications"`
	EventTopic        string   `envconfig:"KAFKA_EVENT_TOPIC" default:"settlement-events"`
	GroupID           string   `envconfig:"KAFKA_GROUP_ID" default:"settlement-workers"`
	Workers           int      `envconfig:"WORKERS" default:"4"`
	MaxAttempts       int      `envconfig:"KAFKA_MAX_ATTEMPTS" default:"3"`
}

// Enabled reports whether a Kafka cluster is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type SMTPConfig struct {
	Host          string `envconfig:"SMTP_HOST"`
	Port          string `envconfig:"SMTP_PORT" default:"1025"`
	User          string `envconfig:"SMTP_USER"`
	Pass          string `envconfig:"SMTP_PASS"`
	TLSMode       string `envconfig:"SMTP_TLS_MODE" default:"none"` // none|tls|starttls
	SkipVerifyTLS bool   `envconfig:"SMTP_SKIP_VERIFY_TLS"`
}

type AlertConfig struct {
	From     string   `envconfig:"ALERT_EMAIL_FROM" default:"settlement@localhost"`
	FromName string   `envconfig:"ALERT_EMAIL_FROM_NAME" default:"Settlement"`
	To       []string `envconfig:"ALERT_EMAIL_TO"`
}

// Enabled reports whether stock alerts can be delivered.
func (a AlertConfig) Enabled(smtp SMTPConfig) bool { return smtp.Host != "" && len(a.To) > 0 }

type StorageConfig struct {
	Driver          string `envconfig:"STORAGE_DRIVER" default:"local"` // local|s3
	LocalDir        string `envconfig:"LOCAL_REPORT_DIR" default:"./storage/reports"`
	LocalURLPrefix  string `envconfig:"LOCAL_REPORT_URL_PREFIX" default:"file://storage/reports"`
	S3Region        string `envconfig:"S3_REGION"`
	S3Bucket        string `envconfig:"S3_BUCKET"`
	S3Prefix        string `envconfig:"S3_PREFIX" default:"reports"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be > 0")
	}
	if c.DBOpTimeout <= 0 {
		return fmt.Errorf("DB_OP_TIMEOUT must be > 0")
	}
	if c.Gate.TTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be > 0")
	}
	if c.Stock.ClaimLease <= 0 {
		return fmt.Errorf("STOCK_CLAIM_LEASE must be > 0")
	}
	if c.Stock.CASAttempts <= 0 {
		return fmt.Errorf("STOCK_CAS_ATTEMPTS must be > 0")
	}
	if !c.Webhook.AllowUnsigned && c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_ALLOW_UNSIGNED=false")
	}
	if c.Kafka.Enabled() {
		if c.Kafka.NotificationTopic == "" || c.Kafka.GroupID == "" {
			return fmt.Errorf("KAFKA_NOTIFICATION_TOPIC and KAFKA_GROUP_ID must not be empty")
		}
		if c.Kafka.Workers <= 0 {
			return fmt.Errorf("WORKERS must be > 0")
		}
		if c.Kafka.MaxAttempts <= 0 {
			return fmt.Errorf("KAFKA_MAX_ATTEMPTS must be > 0")
		}
	}
	switch c.Storage.Driver {
	case "local", "s3":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER: %s", c.Storage.Driver)
	}
	switch strings.ToLower(c.SMTP.TLSMode) {
	case "none", "tls", "starttls":
	default:
		return fmt.Errorf("invalid SMTP_TLS_MODE: %s", c.SMTP.TLSMode)
	}
	return nil
}
