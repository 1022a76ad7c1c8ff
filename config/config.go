package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon settings decoded from the TOML file.
type Config struct {
	// ListenAddress is reserved for the transport layer that feeds the
	// connection registry; the daemon itself does not bind it.
	ListenAddress string `toml:"ListenAddress"`
	RPCAddress    string `toml:"RPCAddress"`
	DataDir       string `toml:"DataDir"`
	// BanlistFile is resolved against DataDir unless absolute.
	BanlistFile   string `toml:"BanlistFile"`
	PeerstorePath string `toml:"PeerstorePath"`

	DefaultBanHours      uint `toml:"DefaultBanHours"`
	SweepIntervalSeconds uint `toml:"SweepIntervalSeconds"`

	RPCRateLimit float64 `toml:"RPCRateLimit"`
	RPCRateBurst int     `toml:"RPCRateBurst"`
}

// Load reads the configuration, creating a default file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// BanlistPath resolves the ban file location.
func (c *Config) BanlistPath() string {
	if filepath.IsAbs(c.BanlistFile) {
		return c.BanlistFile
	}
	return filepath.Join(c.DataDir, c.BanlistFile)
}

// PeerstoreDir resolves the peerstore location.
func (c *Config) PeerstoreDir() string {
	if filepath.IsAbs(c.PeerstorePath) {
		return c.PeerstorePath
	}
	return filepath.Join(c.DataDir, c.PeerstorePath)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "0.0.0.0:7467"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:7468"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.BanlistFile) == "" {
		cfg.BanlistFile = "banlist.json"
	}
	if strings.TrimSpace(cfg.PeerstorePath) == "" {
		cfg.PeerstorePath = "peerstore"
	}
	if cfg.DefaultBanHours == 0 {
		cfg.DefaultBanHours = 24
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 60
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = 10
	}
	if cfg.RPCRateBurst <= 0 {
		cfg.RPCRateBurst = 20
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}
