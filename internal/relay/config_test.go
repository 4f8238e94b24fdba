package relay

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, root, body string) {
	t.Helper()
	dir := filepath.Join(root, ConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadLocalConfig_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"agentId":"a1","agentName":"Atlas","hubUrl":"https://hub.example/","pollToken":"tok"}`)
	nested := filepath.Join(root, "src", "pkg")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLocalConfig(nested)
	if err != nil {
		t.Fatalf("LoadLocalConfig: %v", err)
	}
	if cfg.AgentID != "a1" || cfg.AgentName != "Atlas" || cfg.PollToken != "tok" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HubURL != "https://hub.example" {
		t.Errorf("HubURL = %q, want trailing slash trimmed", cfg.HubURL)
	}
	if cfg.ExecutorURL != DefaultExecutorURL {
		t.Errorf("ExecutorURL = %q, want default", cfg.ExecutorURL)
	}
}

func TestLoadLocalConfig_MissingFields(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"agentId":"a1","hubUrl":"https://hub.example"}`)
	_, err := LoadLocalConfig(root)
	if err == nil || !strings.Contains(err.Error(), "missing agentId, hubUrl, or pollToken") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadLocalConfig_NotFound(t *testing.T) {
	_, err := LoadLocalConfig(t.TempDir())
	if !errors.Is(err, ErrNoLocalConfig) || !IsNotExist(err) {
		t.Fatalf("error = %v, want ErrNoLocalConfig", err)
	}
}

func TestLoadLocalConfig_InvalidFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"agentId": [`)
	if _, err := LoadLocalConfig(root); err == nil || !strings.Contains(err.Error(), "relay: parse") {
		t.Fatalf("error = %v, want parse error", err)
	}
}

func TestSaveLocalConfig_RoundTrip(t *testing.T) {
	root := t.TempDir()
	want := LocalConfig{AgentID: "a1", HubURL: "http://hub", PollToken: "tok", ExecutorURL: "http://localhost:9000"}
	path, err := SaveLocalConfig(root, want)
	if err != nil {
		t.Fatalf("SaveLocalConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	got, err := LoadLocalConfig(root)
	if err != nil {
		t.Fatalf("LoadLocalConfig: %v", err)
	}
	if *got != want {
		t.Errorf("got %+v, want %+v", *got, want)
	}
}
