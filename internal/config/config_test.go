package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FIREBASE_PROJECT_ID", "push-relay-test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.StoreBackend != StoreFirestore {
		t.Errorf("StoreBackend = %s, want firestore", cfg.StoreBackend)
	}
	if cfg.FirestoreCollection != "fcm_messages" {
		t.Errorf("FirestoreCollection = %s, want fcm_messages", cfg.FirestoreCollection)
	}
	if cfg.PushGateway != GatewayFCM {
		t.Errorf("PushGateway = %s, want fcm", cfg.PushGateway)
	}
	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.SweepBatchSize != 500 {
		t.Errorf("SweepBatchSize = %d, want 500", cfg.SweepBatchSize)
	}
	if cfg.SweepSchedule != "0 0 * * *" {
		t.Errorf("SweepSchedule = %q, want %q", cfg.SweepSchedule, "0 0 * * *")
	}
	if cfg.RetentionWindow() != 7*24*time.Hour {
		t.Errorf("RetentionWindow = %s, want 168h", cfg.RetentionWindow())
	}
	if cfg.FeedLookback() != time.Hour {
		t.Errorf("FeedLookback = %s, want 1h", cfg.FeedLookback())
	}
	if cfg.WorkerPort != 8081 {
		t.Errorf("WorkerPort = %d, want 8081", cfg.WorkerPort)
	}
	if cfg.RateLimit != 100 || cfg.RateLimitWindow() != time.Second {
		t.Errorf("rate limit = %d per %s, want 100 per 1s", cfg.RateLimit, cfg.RateLimitWindow())
	}
	if cfg.DefaultChannelID != "high_importance_channel" {
		t.Errorf("DefaultChannelID = %s, want high_importance_channel", cfg.DefaultChannelID)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT", "250")
	t.Setenv("RATE_LIMIT_WINDOW_SEC", "60")
	t.Setenv("PUSH_GATEWAY", "Webhook")
	t.Setenv("WEBHOOK_GATEWAY_URL", "https://webhook.site/test-uuid")
	t.Setenv("PENDING_RESCAN_AFTER_SEC", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.RateLimit != 250 {
		t.Errorf("RateLimit = %d, want 250", cfg.RateLimit)
	}
	if cfg.RateLimitWindow() != time.Minute {
		t.Errorf("RateLimitWindow = %s, want 1m", cfg.RateLimitWindow())
	}
	if cfg.PushGateway != GatewayWebhook {
		t.Errorf("PushGateway = %s, want webhook", cfg.PushGateway)
	}
	if cfg.PendingRescanAfter() != 30*time.Second {
		t.Errorf("PendingRescanAfter = %s, want 30s", cfg.PendingRescanAfter())
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("FIREBASE_PROJECT_ID", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing firebase project, got nil")
	}
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("FIREBASE_PROJECT_ID", "")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("PUSH_GATEWAY", "sns")
	t.Setenv("DATABASE_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_DSN, got nil")
	}

	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=test port=5432 sslmode=disable")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreBackend != StorePostgres {
		t.Errorf("StoreBackend = %s, want postgres", cfg.StoreBackend)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown store", mutate: func(c *Config) { c.StoreBackend = "dynamo" }},
		{name: "unknown gateway", mutate: func(c *Config) { c.PushGateway = "apns" }},
		{name: "webhook without url", mutate: func(c *Config) { c.PushGateway = GatewayWebhook }},
		{name: "zero retention", mutate: func(c *Config) { c.RetentionDays = 0 }},
		{name: "batch above firestore limit", mutate: func(c *Config) { c.SweepBatchSize = 501 }},
		{name: "zero rate limit window", mutate: func(c *Config) { c.RateLimitWindowSec = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				StoreBackend:       StoreFirestore,
				FirebaseProjectID:  "p",
				PushGateway:        GatewayFCM,
				RetentionDays:      7,
				SweepBatchSize:     500,
				RateLimitWindowSec: 1,
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("base config should be valid: %v", err)
			}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
