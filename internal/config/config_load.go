package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// ErrMissingAPIKey is returned by Validate when no provider credential is set.
// Startup fails fast on it; it never reaches per-message processing.
var ErrMissingAPIKey = errors.New("WADESK_OPENAI_API_KEY is not set")

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8085,
		},
		WhatsApp: WhatsAppConfig{
			APIBase:        "https://graph.facebook.com/v19.0",
			SendRatePerSec: 10,
		},
		Assistant: AssistantConfig{
			Model:             "gpt-4o-mini",
			PollIntervalMs:    1000,
			PollBudgetMs:      15000,
			AppendRetries:     3,
			MaxToolIterations: 3,
			CleanupHighWater:  15,
			CleanupLowWater:   10,
			FallbackReply:     "Sorry, I could not process your message right now. A member of our team will follow up shortly.",
		},
		Ingest: IngestConfig{
			DedupTTLSeconds: 60,
			DedupMaxEntries: 5000,
			BatchWindowMs:   2500,
		},
		Lifecycle: LifecycleConfig{
			SweepCron:           "*/5 * * * *",
			OpenMaxAgeHours:     24,
			AssignedMaxAgeHours: 12,
			WaitingMaxAgeHours:  12,
			ResolvedMaxAgeHours: 48,
			EscalationKeywords:  []string{"urgent", "complaint", "refund", "lawyer"},
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(home, ".wadesk", "wadesk.db"),
		},
		Events: EventsConfig{
			Exchange: "wadesk.events",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}

	// Secrets: env only, never persisted in the config file.
	envStr("WADESK_OPENAI_API_KEY", &c.Assistant.APIKey)
	envStr("WADESK_WA_TOKEN", &c.WhatsApp.AccessToken)
	envStr("WADESK_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("WADESK_AMQP_URL", &c.Events.AMQPURL)

	envStr("WADESK_ASSISTANT_ID", &c.Assistant.AssistantID)
	envStr("WADESK_WA_PHONE_NUMBER_ID", &c.WhatsApp.PhoneNumberID)
	envStr("WADESK_WA_VERIFY_TOKEN", &c.WhatsApp.VerifyToken)
	envStr("WADESK_DB_DRIVER", &c.Database.Driver)
	envStr("WADESK_SQLITE_PATH", &c.Database.SQLitePath)

	envInt("WADESK_PORT", &c.Gateway.Port)
	envInt("WADESK_DEDUP_TTL_SECONDS", &c.Ingest.DedupTTLSeconds)
	envInt("WADESK_BATCH_WINDOW_MS", &c.Ingest.BatchWindowMs)
}

// Validate checks that the config is runnable.
func (c *Config) Validate() error {
	if c.Assistant.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Assistant.AssistantID == "" {
		return errors.New("assistant_id is not configured (config file or WADESK_ASSISTANT_ID)")
	}
	if c.Database.Driver == "postgres" && c.Database.PostgresDSN == "" {
		return errors.New("database driver is postgres but WADESK_POSTGRES_DSN is not set")
	}
	return nil
}
