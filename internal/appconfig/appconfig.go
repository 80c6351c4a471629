// Package appconfig loads the proxy's program configuration file, the
// YAML counterpart of original_source/src/config.rs's Config/DbConfig.
package appconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level program configuration, loaded once at startup
// and handed to internal/proxy.Config and internal/store.Open.
type Config struct {
	ListenAddr    string  `yaml:"listen_addr"`
	RemoteAddr    string  `yaml:"remote_addr"`
	InvertersPath string  `yaml:"inverters_path"`
	DB            DB      `yaml:"db"`
	Logging       Logging `yaml:"logging"`
}

type DB struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Logging struct {
	Level string `yaml:"level"`
}

const (
	defaultListenAddr    = "0.0.0.0:5279"
	defaultRemoteAddr    = "server.growatt.com:5279"
	defaultInvertersPath = "./inverters/Growatt_v6.yaml"
	defaultDBDriver      = "sqlite3"
	defaultDBDSN         = "./var/growatt.db"
	defaultLoggingLevel  = "info"
)

// Load reads and parses the YAML configuration file at path, filling any
// unset field with the proxy's defaults the way original_source/src/main.rs
// falls back to "./inverters/Growatt v6.json" when inverters_dir is absent.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("appconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("appconfig: parse %s: %w", path, err)
	}

	cfg.withDefault()
	return &cfg, nil
}

func (c *Config) withDefault() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.RemoteAddr == "" {
		c.RemoteAddr = defaultRemoteAddr
	}
	if c.InvertersPath == "" {
		c.InvertersPath = defaultInvertersPath
	}
	if c.DB.Driver == "" {
		c.DB.Driver = defaultDBDriver
	}
	if c.DB.DSN == "" {
		c.DB.DSN = defaultDBDSN
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLoggingLevel
	}
}
