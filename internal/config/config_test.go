package config

import (
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.HostPool = []string{"h1", "h2"}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.SSHPort != 22 {
		t.Fatalf("sshPort default = %d", cfg.SSHPort)
	}
	if cfg.StopInterval != time.Second || cfg.StopAttempts != 10 {
		t.Fatalf("stop defaults = %v/%d", cfg.StopInterval, cfg.StopAttempts)
	}
	if cfg.LogFileName == "" || cfg.RemotePortCommand == "" || cfg.SSHKeyPath == "" {
		t.Fatalf("missing defaults: %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := validConfig()
	cfg.Environment = map[string]string{"K": "v"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected config")
	}
	if len(loaded.HostPool) != 2 || loaded.HostPool[0] != "h1" {
		t.Fatalf("host pool lost: %v", loaded.HostPool)
	}
	if loaded.Environment["K"] != "v" {
		t.Fatalf("environment lost: %v", loaded.Environment)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil for missing file, got %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty pool", func(c *Config) { c.HostPool = nil }},
		{"blank pool member", func(c *Config) { c.HostPool = []string{"h1", " "} }},
		{"bad port", func(c *Config) { c.SSHPort = 0 }},
		{"no key", func(c *Config) { c.SSHKeyPath = "" }},
		{"no port command", func(c *Config) { c.RemotePortCommand = "" }},
		{"no log file", func(c *Config) { c.LogFileName = "" }},
		{"no state dir", func(c *Config) { c.StateDir = "" }},
		{"bad stop interval", func(c *Config) { c.StopInterval = 0 }},
		{"bad stop attempts", func(c *Config) { c.StopAttempts = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
