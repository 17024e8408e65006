// Package config models the spawner configuration file: the host pool,
// SSH credentials, remote helper commands and lifecycle tuning knobs.
// All fields are plain named struct members with documented defaults,
// validated eagerly by Validate before any session work starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full spawner configuration.
type Config struct {
	// HostPool is the ordered set of candidate remote hosts. Read-only at
	// runtime; one entry is picked per session by the selection strategy.
	HostPool []string `yaml:"hostPool"`

	// SSHPort is the SSH port on every pool member.
	SSHPort int `yaml:"sshPort"`

	// SSHKeyPath is the private key used to authenticate with remote hosts.
	// `~` expands to the orchestrator's home directory; `%U` or `{username}`
	// expands to the session user.
	SSHKeyPath string `yaml:"sshKeyPath"`

	// SSHCertPath optionally points at a certificate paired with the key.
	// Same template expansion as SSHKeyPath. Empty means key-only auth.
	SSHCertPath string `yaml:"sshCertPath"`

	// RemotePortCommand is an executable present on every pool member that
	// prints either a free port number, or an "<address> <port>" pair when
	// the reachable address differs from the dialed host.
	RemotePortCommand string `yaml:"remotePortCommand"`

	// LogFileName is the remote file the launched process logs into,
	// relative to the remote user's working directory.
	LogFileName string `yaml:"logFileName"`

	// ScriptDir, when set, keeps a local copy of each rendered launch
	// script for debugging. The copy is removed after the launch call.
	ScriptDir string `yaml:"scriptDir"`

	// StateDir is where per-user session state is persisted so sessions
	// survive orchestrator restarts.
	StateDir string `yaml:"stateDir"`

	// Environment is merged into the launched process environment.
	Environment map[string]string `yaml:"environment"`

	// Path is the PATH exported to the launched process when Environment
	// does not set one.
	Path string `yaml:"path"`

	// StopInterval and StopAttempts bound the wait after each stop signal:
	// the process is probed StopAttempts times, StopInterval apart, before
	// the next signal in the escalation is sent.
	StopInterval time.Duration `yaml:"stopInterval"`
	StopAttempts int           `yaml:"stopAttempts"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"logLevel"`
}

// Default returns a Config with every field set to its documented default.
func Default() *Config {
	return &Config{
		SSHPort:           22,
		SSHKeyPath:        "~/.ssh/id_rsa",
		RemotePortCommand: "/usr/local/bin/get_port",
		LogFileName:       "session.log",
		StateDir:          filepath.Join(DefaultConfigDir(), "state"),
		Path:              "/usr/bin:/bin:/usr/sbin:/sbin:/usr/local/bin",
		StopInterval:      time.Second,
		StopAttempts:      10,
		LogLevel:          "info",
	}
}

// Load decodes the config file. Missing files return (nil, nil) so callers
// can fall back to Default.
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := ExpandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o600)
}

// Validate checks the config for misconfiguration that would make every
// session fail. Called once at orchestrator construction.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if len(c.HostPool) == 0 {
		return fmt.Errorf("hostPool must list at least one host")
	}
	for i, h := range c.HostPool {
		if strings.TrimSpace(h) == "" {
			return fmt.Errorf("hostPool[%d] is empty", i)
		}
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		return fmt.Errorf("sshPort %d out of range", c.SSHPort)
	}
	if strings.TrimSpace(c.SSHKeyPath) == "" {
		return fmt.Errorf("sshKeyPath is required")
	}
	if strings.TrimSpace(c.RemotePortCommand) == "" {
		return fmt.Errorf("remotePortCommand is required")
	}
	if strings.TrimSpace(c.LogFileName) == "" {
		return fmt.Errorf("logFileName is required")
	}
	if strings.TrimSpace(c.StateDir) == "" {
		return fmt.Errorf("stateDir is required")
	}
	if c.StopInterval <= 0 {
		return fmt.Errorf("stopInterval must be positive")
	}
	if c.StopAttempts <= 0 {
		return fmt.Errorf("stopAttempts must be positive")
	}
	return nil
}

// ExpandPath resolves `~` and relative paths against the current user and
// working directory.
func ExpandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
