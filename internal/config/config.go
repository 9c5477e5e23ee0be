package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the wadesk gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Assistant AssistantConfig `json:"assistant"`
	Ingest    IngestConfig    `json:"ingest"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Events    EventsConfig    `json:"events,omitempty"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// WhatsAppConfig configures the Meta Cloud API channel.
// AccessToken is NEVER read from the config file — env WADESK_WA_TOKEN only.
type WhatsAppConfig struct {
	PhoneNumberID  string  `json:"phone_number_id"`
	VerifyToken    string  `json:"verify_token"`
	APIBase        string  `json:"api_base,omitempty"`          // default https://graph.facebook.com/v19.0
	AccessToken    string  `json:"-"`                           // from env WADESK_WA_TOKEN only
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"` // outbound rate limit (default 10)
}

// AssistantConfig configures the AI provider and thread lifecycle tunables.
// APIKey comes from env WADESK_OPENAI_API_KEY only.
type AssistantConfig struct {
	APIKey      string `json:"-"`
	AssistantID string `json:"assistant_id"`
	Model       string `json:"model,omitempty"`

	PollIntervalMs    int    `json:"poll_interval_ms,omitempty"`    // run poll interval (default 1000)
	PollBudgetMs      int    `json:"poll_budget_ms,omitempty"`      // total wait per run (default 15000)
	AppendRetries     int    `json:"append_retries,omitempty"`      // message append retries (default 3)
	MaxToolIterations int    `json:"max_tool_iterations,omitempty"` // requires_action rounds per turn (default 3)
	CleanupHighWater  int    `json:"cleanup_high_water,omitempty"`  // trim trigger (default 15)
	CleanupLowWater   int    `json:"cleanup_low_water,omitempty"`   // messages kept after trim (default 10)
	FallbackReply     string `json:"fallback_reply,omitempty"`

	// OrdersAPIBase enables the order_status tool when set.
	OrdersAPIBase string `json:"orders_api_base,omitempty"`
}

// IngestConfig configures inbound dedup and batching.
type IngestConfig struct {
	DedupTTLSeconds int `json:"dedup_ttl_seconds,omitempty"` // default 60
	DedupMaxEntries int `json:"dedup_max_entries,omitempty"` // default 5000
	BatchWindowMs   int `json:"batch_window_ms,omitempty"`   // debounce quiet period (default 2500)
}

// DedupTTL returns the dedup window as a duration.
func (i IngestConfig) DedupTTL() time.Duration {
	return time.Duration(i.DedupTTLSeconds) * time.Second
}

// BatchWindow returns the debounce quiet period as a duration.
func (i IngestConfig) BatchWindow() time.Duration {
	return time.Duration(i.BatchWindowMs) * time.Millisecond
}

// LifecycleConfig configures the conversation state machine and sweep.
type LifecycleConfig struct {
	SweepCron           string   `json:"sweep_cron,omitempty"`             // gronx expression (default "*/5 * * * *")
	OpenMaxAgeHours     int      `json:"open_max_age_hours,omitempty"`     // open → resolved (default 24)
	AssignedMaxAgeHours int      `json:"assigned_max_age_hours,omitempty"` // assigned → resolved (default 12)
	WaitingMaxAgeHours  int      `json:"waiting_max_age_hours,omitempty"`  // waiting → resolved (default 12)
	ResolvedMaxAgeHours int      `json:"resolved_max_age_hours,omitempty"` // resolved → closed (default 48)
	EscalationKeywords  []string `json:"escalation_keywords,omitempty"`
}

// MaxAge returns the per-status timeout for the sweep.
func (l LifecycleConfig) MaxAge(status string) time.Duration {
	hours := 0
	switch status {
	case "open":
		hours = l.OpenMaxAgeHours
	case "assigned":
		hours = l.AssignedMaxAgeHours
	case "waiting":
		hours = l.WaitingMaxAgeHours
	case "resolved":
		hours = l.ResolvedMaxAgeHours
	}
	return time.Duration(hours) * time.Hour
}

// DatabaseConfig selects the durable store backend.
// PostgresDSN is NEVER read from the config file — env WADESK_POSTGRES_DSN only.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`      // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default ~/.wadesk/wadesk.db
	PostgresDSN string `json:"-"`
}

// EventsConfig configures the optional AMQP notification publisher.
// AMQPURL comes from env WADESK_AMQP_URL only (credentials embedded in URL).
type EventsConfig struct {
	AMQPURL  string `json:"-"`
	Exchange string `json:"exchange,omitempty"` // default "wadesk.events"
}
