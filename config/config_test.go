package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:7468" {
		t.Fatalf("unexpected rpc address %q", cfg.RPCAddress)
	}
	if cfg.DefaultBanHours != 24 {
		t.Fatalf("unexpected default ban hours %d", cfg.DefaultBanHours)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("reloaded config %+v differs from defaults %+v", reloaded, cfg)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "RPCAddress = \"127.0.0.1:9000\"\nDefaultBanHours = 1\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:9000" {
		t.Fatalf("explicit rpc address lost, got %q", cfg.RPCAddress)
	}
	if cfg.DefaultBanHours != 1 {
		t.Fatalf("explicit ban hours lost, got %d", cfg.DefaultBanHours)
	}
	if cfg.BanlistFile != "banlist.json" {
		t.Fatalf("banlist default not applied, got %q", cfg.BanlistFile)
	}
	if cfg.SweepIntervalSeconds != 60 {
		t.Fatalf("sweep default not applied, got %d", cfg.SweepIntervalSeconds)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("RPCAddress = [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error for malformed config")
	}
}

func TestPathResolution(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/peerban", BanlistFile: "banlist.json", PeerstorePath: "peerstore"}
	if got := cfg.BanlistPath(); got != filepath.Join("/var/lib/peerban", "banlist.json") {
		t.Fatalf("relative banlist resolution: %q", got)
	}
	if got := cfg.PeerstoreDir(); got != filepath.Join("/var/lib/peerban", "peerstore") {
		t.Fatalf("relative peerstore resolution: %q", got)
	}

	cfg.BanlistFile = "/etc/peerban/banlist.json"
	cfg.PeerstorePath = "/srv/peerstore"
	if got := cfg.BanlistPath(); got != "/etc/peerban/banlist.json" {
		t.Fatalf("absolute banlist resolution: %q", got)
	}
	if got := cfg.PeerstoreDir(); got != "/srv/peerstore" {
		t.Fatalf("absolute peerstore resolution: %q", got)
	}
}
