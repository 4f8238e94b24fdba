// Package relay polls the hub on behalf of one agent, hands each queued
// message to a local executor and reports the executor's answer back.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultExecutorURL is the local agent runtime the relay forwards to.
const DefaultExecutorURL = "http://localhost:18789"

// ConfigDir and ConfigFile locate the per-project relay configuration.
const (
	ConfigDir  = ".agentfloor"
	ConfigFile = "config.json"
)

// ErrNoLocalConfig is returned when no .agentfloor/config.json exists in the
// start directory or any of its parents.
var ErrNoLocalConfig = errors.New("relay: no .agentfloor/config.json found")

// LocalConfig identifies the agent a relay serves and where to reach the hub
// and the executor.
type LocalConfig struct {
	AgentID     string `json:"agentId" yaml:"agentId"`
	AgentName   string `json:"agentName,omitempty" yaml:"agentName"`
	HubURL      string `json:"hubUrl" yaml:"hubUrl"`
	PollToken   string `json:"pollToken" yaml:"pollToken"`
	ExecutorURL string `json:"executorUrl,omitempty" yaml:"executorUrl"`
}

// FindProjectRoot walks up from start to the first directory containing
// .agentfloor/config.json.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("relay: resolve %s: %w", start, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ConfigDir, ConfigFile)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoLocalConfig
		}
		dir = parent
	}
}

// LoadLocalConfig finds and reads the relay configuration for start.
func LoadLocalConfig(start string) (*LocalConfig, error) {
	root, err := FindProjectRoot(start)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(root, ConfigDir, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relay: read %s: %w", path, err)
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("relay: parse %s: %w", path, err)
	}
	if cfg.ExecutorURL == "" {
		cfg.ExecutorURL = DefaultExecutorURL
	}
	cfg.HubURL = strings.TrimSuffix(cfg.HubURL, "/")
	if cfg.AgentID == "" || cfg.HubURL == "" || cfg.PollToken == "" {
		return nil, fmt.Errorf("relay: missing agentId, hubUrl, or pollToken in %s", path)
	}
	return &cfg, nil
}

// SaveLocalConfig writes cfg to root/.agentfloor/config.json, readable only
// by the owner since it carries the poll token.
func SaveLocalConfig(root string, cfg LocalConfig) (string, error) {
	dir := filepath.Join(root, ConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("relay: create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("relay: encode config: %w", err)
	}
	path := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return "", fmt.Errorf("relay: write %s: %w", path, err)
	}
	return path, nil
}

// IsNotExist reports whether err means no local configuration was found.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNoLocalConfig) || errors.Is(err, fs.ErrNotExist)
}
