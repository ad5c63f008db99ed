package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Code.TimeoutSeconds != 1800 {
		t.Errorf("Code.TimeoutSeconds = %d, want 1800", cfg.Code.TimeoutSeconds)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BackoffBaseMS != 1000 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Diversity.Threshold != 0.8 {
		t.Errorf("Diversity.Threshold = %f", cfg.Diversity.Threshold)
	}
	if cfg.Coordinator.MinAgents != 2 || cfg.Coordinator.MaxAgents != 10 {
		t.Errorf("Coordinator = %+v", cfg.Coordinator)
	}
	if cfg.Monitor.MaxContextTokens != 500_000 {
		t.Errorf("MaxContextTokens = %d", cfg.Monitor.MaxContextTokens)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.toml")
	data := `
[server]
addr = ":9090"

[xl]
base_url = "https://api.example.com/v1"
api_key = "file-key"
model = "big-model"

[coordinator]
max_agents = 6

[database]
driver = "sqlite"
path = "/tmp/test.db"

[observer]
enabled = true

[observer.pricing.conductor-xl]
input = 2.5
output = 10.0
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.XL.BaseURL != "https://api.example.com/v1" || cfg.XL.APIKey != "file-key" {
		t.Errorf("XL = %+v", cfg.XL)
	}
	if cfg.Coordinator.MaxAgents != 6 {
		t.Errorf("MaxAgents = %d, want 6", cfg.Coordinator.MaxAgents)
	}
	// Unset sections keep their defaults.
	if cfg.Coordinator.MinAgents != 2 {
		t.Errorf("MinAgents = %d, want default 2", cfg.Coordinator.MinAgents)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if !cfg.Observer.Enabled {
		t.Error("Observer.Enabled = false")
	}
	if p := cfg.Observer.Pricing["conductor-xl"]; p.Input != 2.5 || p.Output != 10.0 {
		t.Errorf("Pricing = %+v", p)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.toml")
	os.WriteFile(path, []byte("[xl]\napi_key = \"file-key\"\n"), 0o644)

	t.Setenv("CONDUCTOR_XL_API_KEY", "env-key")
	t.Setenv("CONDUCTOR_MAX_AGENTS", "4")
	t.Setenv("CONDUCTOR_DIVERSITY_THRESHOLD", "0.9")

	cfg := Load(path)
	if cfg.XL.APIKey != "env-key" {
		t.Errorf("APIKey = %q, env must win over file", cfg.XL.APIKey)
	}
	if cfg.Coordinator.MaxAgents != 4 {
		t.Errorf("MaxAgents = %d, want 4", cfg.Coordinator.MaxAgents)
	}
	if cfg.Diversity.Threshold != 0.9 {
		t.Errorf("Threshold = %f, want 0.9", cfg.Diversity.Threshold)
	}
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("CONDUCTOR_MAX_AGENTS", "not-a-number")
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Coordinator.MaxAgents != 10 {
		t.Errorf("MaxAgents = %d, want default 10", cfg.Coordinator.MaxAgents)
	}
}

func TestPostgresEnvSwitchesDriver(t *testing.T) {
	t.Setenv("CONDUCTOR_POSTGRES_URL", "postgres://localhost/conductor")
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Database.PostgresURL == "" {
		t.Error("PostgresURL not set")
	}
}

func TestProviderFallbacks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.toml")
	data := `
[xl]
base_url = "https://api.example.com/v1"
api_key = "shared-key"
model = "big-model"

[code]
model = "code-model"
`
	os.WriteFile(path, []byte(data), 0o644)

	cfg := Load(path)
	// Code keeps its own model but inherits the XL endpoint and key.
	if cfg.Code.Model != "code-model" {
		t.Errorf("Code.Model = %q", cfg.Code.Model)
	}
	if cfg.Code.BaseURL != cfg.XL.BaseURL || cfg.Code.APIKey != "shared-key" {
		t.Errorf("Code = %+v, want XL endpoint inherited", cfg.Code)
	}
	if cfg.Light.BaseURL != cfg.XL.BaseURL || cfg.Vision.BaseURL != cfg.XL.BaseURL {
		t.Error("light/vision did not inherit the XL endpoint")
	}
}
