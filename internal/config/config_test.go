package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "alara"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{Secret: "secret"},
		ConvAI: ConvAIConfig{
			WebhookSecret:      "whsec_0123456789abcdef",
			APIKey:             "xi_key",
			BaseURL:            "https://api.elevenlabs.io",
			AgentID:            "agent_1",
			AgentPhoneNumberID: "phnum_1",
			SignatureHeader:    "ElevenLabs-Signature",
			SignatureTolerance: 30 * time.Minute,
			WebhookPath:        "/api/convai/webhook",
			RequestTimeout:     30 * time.Second,
		},
		NATS: NATSConfig{Stream: "ALARA_TASKS", TaskSubject: "alara.tasks.extracted"},
	}
}

func TestValidate_ReportsAllMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET", "CONVAI_WEBHOOK_SECRET", "CONVAI_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.Issuer, c.Auth.Audience = "alara", "alara-api"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected DB_SSLMODE error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.AccessTTL != 15*time.Minute || c.Auth.RefreshTTL != 720*time.Hour {
		t.Fatalf("unexpected ttl defaults %v %v", c.Auth.AccessTTL, c.Auth.RefreshTTL)
	}
}

func TestValidate_WebhookSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "short secret", mutate: func(c *Config) { c.ConvAI.WebhookSecret = "short" }, want: "CONVAI_WEBHOOK_SECRET"},
		{name: "padded secret", mutate: func(c *Config) { c.ConvAI.WebhookSecret = " whsec_0123456789abcdef" }, want: "CONVAI_WEBHOOK_SECRET"},
		{name: "zero tolerance", mutate: func(c *Config) { c.ConvAI.SignatureTolerance = 0 }, want: "CONVAI_SIGNATURE_TOLERANCE"},
		{name: "relative path", mutate: func(c *Config) { c.ConvAI.WebhookPath = "hooks" }, want: "CONVAI_WEBHOOK_PATH"},
		{name: "bad base url", mutate: func(c *Config) { c.ConvAI.BaseURL = "elevenlabs" }, want: "CONVAI_BASE_URL"},
		{name: "nats without subject", mutate: func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.TaskSubject = "" }, want: "NATS_TASK_SUBJECT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %s error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	env := map[string]string{
		"APP_ENV":                      "dev",
		"DB_HOST":                      "db",
		"DB_USER":                      "alara",
		"DB_NAME":                      "alara",
		"REDIS_HOST":                   "redis",
		"JWT_SECRET":                   "secret",
		"CONVAI_WEBHOOK_SECRET":        "whsec_0123456789abcdef",
		"CONVAI_API_KEY":               "xi_key",
		"CONVAI_AGENT_ID":              "agent_1",
		"CONVAI_AGENT_PHONE_NUMBER_ID": "phnum_1",
		"CONVAI_SIGNATURE_TOLERANCE":   "5m",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 8080 || c.DB.Port != 5432 || c.RedisAddr() != "redis:6379" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.ConvAI.SignatureTolerance != 5*time.Minute || c.ConvAI.WebhookPath != "/api/convai/webhook" {
		t.Fatalf("unexpected convai config: %+v", c.ConvAI)
	}
	if c.NATS.Stream != "ALARA_TASKS" || c.NATS.URL != "" {
		t.Fatalf("unexpected nats config: %+v", c.NATS)
	}
}
