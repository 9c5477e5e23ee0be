package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Gateway.Port != 8085 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if got := cfg.Ingest.DedupTTL(); got != 60*time.Second {
		t.Errorf("dedup ttl = %v", got)
	}
	if got := cfg.Ingest.BatchWindow(); got != 2500*time.Millisecond {
		t.Errorf("batch window = %v", got)
	}
	if cfg.Assistant.PollBudgetMs != 15000 || cfg.Assistant.AppendRetries != 3 {
		t.Errorf("assistant tunables = %+v", cfg.Assistant)
	}
	if got := cfg.Lifecycle.MaxAge("resolved"); got != 48*time.Hour {
		t.Errorf("resolved max age = %v", got)
	}
	if got := cfg.Lifecycle.MaxAge("bogus"); got != 0 {
		t.Errorf("unknown status max age = %v", got)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
	  // listener
	  gateway: { host: "127.0.0.1", port: 9090 },
	  whatsapp: { phone_number_id: "1234567890", verify_token: "hook-secret" },
	  assistant: { assistant_id: "asst_abc" },
	  ingest: { batch_window_ms: 500 },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Addr() != "127.0.0.1:9090" {
		t.Errorf("addr = %s", cfg.Gateway.Addr())
	}
	if cfg.WhatsApp.VerifyToken != "hook-secret" {
		t.Errorf("verify token = %q", cfg.WhatsApp.VerifyToken)
	}
	if cfg.Ingest.BatchWindowMs != 500 {
		t.Errorf("batch window = %d", cfg.Ingest.BatchWindowMs)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 8085 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WADESK_OPENAI_API_KEY", "sk-test")
	t.Setenv("WADESK_WA_TOKEN", "wa-token")
	t.Setenv("WADESK_PORT", "7070")
	t.Setenv("WADESK_BATCH_WINDOW_MS", "1000")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.APIKey != "sk-test" {
		t.Errorf("api key not overlaid")
	}
	if cfg.WhatsApp.AccessToken != "wa-token" {
		t.Errorf("access token not overlaid")
	}
	if cfg.Gateway.Port != 7070 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Ingest.BatchWindowMs != 1000 {
		t.Errorf("batch window = %d", cfg.Ingest.BatchWindowMs)
	}
}

func TestSecretsNeverReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
	  assistant: { "-": "nope", assistant_id: "asst_abc" },
	  whatsapp: { phone_number_id: "123" },
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.APIKey != "" || cfg.WhatsApp.AccessToken != "" {
		t.Error("secret fields must only come from the environment")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("want ErrMissingAPIKey, got %v", err)
	}

	cfg.Assistant.APIKey = "sk-test"
	if err := cfg.Validate(); err == nil {
		t.Error("missing assistant_id should fail validation")
	}

	cfg.Assistant.AssistantID = "asst_abc"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Database.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("postgres without DSN should fail validation")
	}
	cfg.Database.PostgresDSN = "postgres://localhost/wadesk"
	if err := cfg.Validate(); err != nil {
		t.Errorf("postgres with DSN rejected: %v", err)
	}
}
