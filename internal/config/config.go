package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"alara-platform/internal/convai"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	LogLevel string `envconfig:"LOG_LEVEL"`
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig   `envconfig:"JWT"`
	ConvAI   ConvAIConfig `envconfig:"CONVAI"`
	NATS     NATSConfig
}

type AppConfig struct {
	Env  string `envconfig:"ENV"`
	Port int    `envconfig:"PORT" default:"8080"`
}

type DBConfig struct {
	Host     string `envconfig:"HOST"`
	Port     int    `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	Name     string `envconfig:"NAME"`

	// SSLMode accepts disable, require, verify-ca, verify-full.
	SSLMode string `envconfig:"SSLMODE"`
}

type RedisConfig struct {
	Host string `envconfig:"HOST"`
	Port int    `envconfig:"PORT" default:"6379"`
}

type AuthConfig struct {
	Secret     string        `envconfig:"SECRET"`
	Issuer     string        `envconfig:"ISSUER"`
	Audience   string        `envconfig:"AUDIENCE"`
	AccessTTL  time.Duration `envconfig:"ACCESS_TTL"`
	RefreshTTL time.Duration `envconfig:"REFRESH_TTL"`
}

type ConvAIConfig struct {
	WebhookSecret      string        `envconfig:"WEBHOOK_SECRET"`
	APIKey             string        `envconfig:"API_KEY"`
	BaseURL            string        `envconfig:"BASE_URL" default:"https://api.elevenlabs.io"`
	AgentID            string        `envconfig:"AGENT_ID"`
	AgentPhoneNumberID string        `envconfig:"AGENT_PHONE_NUMBER_ID"`
	SignatureHeader    string        `envconfig:"SIGNATURE_HEADER" default:"ElevenLabs-Signature"`
	SignatureTolerance time.Duration `envconfig:"SIGNATURE_TOLERANCE" default:"30m"`
	WebhookPath        string        `envconfig:"WEBHOOK_PATH" default:"/api/convai/webhook"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// NATSConfig is optional; an empty URL disables task publishing.
type NATSConfig struct {
	URL         string `envconfig:"URL"`
	Stream      string `envconfig:"STREAM" default:"ALARA_TASKS"`
	TaskSubject string `envconfig:"TASK_SUBJECT" default:"alara.tasks.extracted"`
}

func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills env-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	c.App.Env = strings.TrimSpace(c.App.Env)
	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if !validPort(c.DB.Port) {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if !validPort(c.Redis.Port) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.Issuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.Audience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTTL <= 0 {
		c.Auth.AccessTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTTL <= 0 {
		c.Auth.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if err := convai.ValidateSecret(c.ConvAI.WebhookSecret); err != nil {
		errs = append(errs, fmt.Errorf("CONVAI_WEBHOOK_SECRET: %w", err))
	}
	if c.ConvAI.APIKey == "" {
		errs = append(errs, errors.New("CONVAI_API_KEY is required"))
	}
	if c.ConvAI.AgentID == "" {
		errs = append(errs, errors.New("CONVAI_AGENT_ID is required"))
	}
	if c.ConvAI.AgentPhoneNumberID == "" {
		errs = append(errs, errors.New("CONVAI_AGENT_PHONE_NUMBER_ID is required"))
	}
	if u, err := url.Parse(c.ConvAI.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("CONVAI_BASE_URL must be an absolute URL, got %q", c.ConvAI.BaseURL))
	}
	if c.ConvAI.SignatureTolerance <= 0 {
		errs = append(errs, errors.New("CONVAI_SIGNATURE_TOLERANCE must be positive"))
	}
	if c.ConvAI.RequestTimeout <= 0 {
		errs = append(errs, errors.New("CONVAI_REQUEST_TIMEOUT must be positive"))
	}
	if !strings.HasPrefix(c.ConvAI.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("CONVAI_WEBHOOK_PATH must start with /, got %q", c.ConvAI.WebhookPath))
	}
	if strings.TrimSpace(c.ConvAI.SignatureHeader) == "" {
		errs = append(errs, errors.New("CONVAI_SIGNATURE_HEADER cannot be empty"))
	}

	if c.NATS.URL != "" && (c.NATS.Stream == "" || c.NATS.TaskSubject == "") {
		errs = append(errs, errors.New("NATS_STREAM and NATS_TASK_SUBJECT are required when NATS_URL is set"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
