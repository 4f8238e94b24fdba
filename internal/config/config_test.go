package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
server:
  port: 9090

database:
  driver: mysql
  host: db.internal
  port: 3307
  name: agentfloor
  user: hub
  password: secret

queue:
  lease_timeout: 2m
  retention: 12h
  batch_size: 10
  sweep_schedule: "*/5 * * * *"

vendors:
  anthropic:
    api_key: sk-ant
    default_model: claude-test
  openai:
    api_key: sk-oai

github:
  token: ghp_x
  cache_ttl: 1m

alerts:
  slack:
    bot_token: xoxb-1
    channel: C123
  discord:
    bot_token: d-1

logging:
  level: debug
  format: console
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverMySQL {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 3307 {
		t.Errorf("Database addr = %s:%d, want db.internal:3307", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.User != "hub" || cfg.Database.Password != "secret" {
		t.Errorf("Database credentials = %q/%q", cfg.Database.User, cfg.Database.Password)
	}
	if cfg.Queue.LeaseTimeout != 2*time.Minute {
		t.Errorf("Queue.LeaseTimeout = %v, want 2m", cfg.Queue.LeaseTimeout)
	}
	if cfg.Queue.Retention != 12*time.Hour {
		t.Errorf("Queue.Retention = %v, want 12h", cfg.Queue.Retention)
	}
	if cfg.Queue.BatchSize != 10 {
		t.Errorf("Queue.BatchSize = %d, want 10", cfg.Queue.BatchSize)
	}
	if cfg.Queue.SweepSchedule != "*/5 * * * *" {
		t.Errorf("Queue.SweepSchedule = %q", cfg.Queue.SweepSchedule)
	}
	if cfg.Vendors.Anthropic.APIKey != "sk-ant" || cfg.Vendors.Anthropic.DefaultModel != "claude-test" {
		t.Errorf("Vendors.Anthropic = %+v", cfg.Vendors.Anthropic)
	}
	if cfg.GitHub.Token != "ghp_x" || cfg.GitHub.CacheTTL != time.Minute {
		t.Errorf("GitHub = %+v", cfg.GitHub)
	}
	if !cfg.Alerts.Slack.Enabled() {
		t.Error("Alerts.Slack should be enabled")
	}
	if cfg.Alerts.Discord.Enabled() {
		t.Error("Alerts.Discord without channel should be disabled")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestParse_Defaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GITHUB_TOKEN", "")
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != "agentfloor.db" {
		t.Errorf("Database = %+v, want sqlite agentfloor.db", cfg.Database)
	}
	if cfg.Queue.LeaseTimeout != 5*time.Minute {
		t.Errorf("Queue.LeaseTimeout = %v, want 5m", cfg.Queue.LeaseTimeout)
	}
	if cfg.Queue.Retention != 24*time.Hour {
		t.Errorf("Queue.Retention = %v, want 24h", cfg.Queue.Retention)
	}
	if cfg.Queue.BatchSize != 5 {
		t.Errorf("Queue.BatchSize = %d, want 5", cfg.Queue.BatchSize)
	}
	if cfg.Queue.SweepSchedule != "*/1 * * * *" {
		t.Errorf("Queue.SweepSchedule = %q", cfg.Queue.SweepSchedule)
	}
	if cfg.GitHub.CacheTTL != 5*time.Minute {
		t.Errorf("GitHub.CacheTTL = %v, want 5m", cfg.GitHub.CacheTTL)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: mysql\n  name: af\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 || cfg.Database.User != "root" {
		t.Errorf("Database = %+v", cfg.Database)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("AF_TEST_SLACK", "xoxb-from-env")
	cfg, err := Parse([]byte("alerts:\n  slack:\n    bot_token: ${AF_TEST_SLACK}\n    channel: C1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Alerts.Slack.BotToken != "xoxb-from-env" {
		t.Errorf("BotToken = %q, want xoxb-from-env", cfg.Alerts.Slack.BotToken)
	}
}

func TestParse_VendorKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vendors.OpenAI.APIKey != "sk-env" {
		t.Errorf("OpenAI.APIKey = %q, want sk-env", cfg.Vendors.OpenAI.APIKey)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad driver", "database:\n  driver: postgres\n", "database.driver"},
		{"mysql without name", "database:\n  driver: mysql\n", "database.name is required"},
		{"bad schedule", "queue:\n  sweep_schedule: nope\n", "queue.sweep_schedule"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "config: validation failed") {
				t.Errorf("error = %q, want validation prefix", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: mysql\nlogging:\n  format: xml\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("error = %q, want multiple errors joined", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "config: parse") {
		t.Fatalf("error = %v, want parse error", err)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentfloor.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("AF_TEST_DOTENV_PORT", "")
	os.Unsetenv("AF_TEST_DOTENV_PORT")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AF_TEST_DOTENV_PORT=7100\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "agentfloor.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: ${AF_TEST_DOTENV_PORT}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, want 7100", cfg.Server.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("/nonexistent/agentfloor.yaml")
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Fatalf("error = %v, want read error", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8080 || cfg.Database.Driver != DriverSQLite {
		t.Errorf("Default() = %+v", cfg)
	}
}
