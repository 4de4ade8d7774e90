package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"

	GatewayFCM     = "fcm"
	GatewaySNS     = "sns"
	GatewayWebhook = "webhook"
)

type Config struct {
	StoreBackend            string `env:"STORE_BACKEND,default=firestore"`
	FirebaseProjectID       string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredentialsFile string `env:"FIREBASE_CREDENTIALS_FILE"`
	FirestoreCollection     string `env:"FIRESTORE_COLLECTION,default=fcm_messages"`
	DatabaseDSN             string `env:"DATABASE_DSN"`
	RabbitMQURL             string `env:"RABBITMQ_URL"`
	RedisURL                string `env:"REDIS_URL"`
	PushGateway             string `env:"PUSH_GATEWAY,default=fcm"`
	WebhookGatewayURL       string `env:"WEBHOOK_GATEWAY_URL"`
	AWSRegion               string `env:"AWS_REGION,default=us-east-1"`
	AWSEndpointURL          string `env:"AWS_ENDPOINT_URL"`
	AWSAccessKeyID          string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey            string `env:"AWS_SECRET_ACCESS_KEY"`
	DefaultChannelID        string `env:"DEFAULT_ANDROID_CHANNEL_ID,default=high_importance_channel"`
	RateLimit               int    `env:"RATE_LIMIT,default=100"`
	RateLimitWindowSec      int    `env:"RATE_LIMIT_WINDOW_SEC,default=1"`
	WorkerConcurrency       int    `env:"WORKER_CONCURRENCY,default=4"`
	RetentionDays           int    `env:"RETENTION_DAYS,default=7"`
	SweepBatchSize          int    `env:"SWEEP_BATCH_SIZE,default=500"`
	SweepSchedule           string `env:"SWEEP_SCHEDULE,default=0 0 * * *"`
	PendingScanIntervalSec  int    `env:"PENDING_SCAN_INTERVAL_SEC,default=60"`
	PendingScanLimit        int    `env:"PENDING_SCAN_LIMIT,default=100"`
	PendingRescanAfterSec   int    `env:"PENDING_RESCAN_AFTER_SEC,default=300"`
	FeedLookbackSec         int    `env:"FEED_LOOKBACK_SEC,default=3600"`
	LockTTLSec              int    `env:"LOCK_TTL_SEC,default=30"`
	APIPort                 int    `env:"API_PORT,default=8080"`
	WorkerPort              int    `env:"WORKER_PORT,default=8081"`
	LogLevel                string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.PushGateway = strings.ToLower(strings.TrimSpace(cfg.PushGateway))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings that depend on the selected backends.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreFirestore:
		if strings.TrimSpace(c.FirebaseProjectID) == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firestore store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.PushGateway {
	case GatewayFCM:
		if strings.TrimSpace(c.FirebaseProjectID) == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the fcm gateway")
		}
	case GatewaySNS:
		if strings.TrimSpace(c.AWSRegion) == "" {
			return fmt.Errorf("AWS_REGION is required for the sns gateway")
		}
	case GatewayWebhook:
		if strings.TrimSpace(c.WebhookGatewayURL) == "" {
			return fmt.Errorf("WEBHOOK_GATEWAY_URL is required for the webhook gateway")
		}
	default:
		return fmt.Errorf("unsupported PUSH_GATEWAY %q", c.PushGateway)
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be >= 1")
	}
	if c.RateLimitWindowSec < 1 {
		return fmt.Errorf("RATE_LIMIT_WINDOW_SEC must be >= 1")
	}
	if c.SweepBatchSize < 1 || c.SweepBatchSize > 500 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be between 1 and 500")
	}
	return nil
}

func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) PendingScanInterval() time.Duration {
	return time.Duration(c.PendingScanIntervalSec) * time.Second
}

func (c *Config) PendingRescanAfter() time.Duration {
	return time.Duration(c.PendingRescanAfterSec) * time.Second
}

// FeedLookback is how far back the insertion feed replays records when the
// watcher (re)subscribes.
func (c *Config) FeedLookback() time.Duration {
	return time.Duration(c.FeedLookbackSec) * time.Second
}

// RateLimitWindow is the window over which RateLimit sends are allowed per
// gateway.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}
