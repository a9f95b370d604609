package ws

import (
	"fmt"
	"os"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of a server configuration file:
//
//	addr: ":8080"
//	path: /ws
//	rate_limit:
//	  messages_per_second: 100
//	  burst: 200
//	  enabled: true
//	allow_all_origins: true
type fileConfig struct {
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	RateLimit *struct {
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
		Enabled           bool    `yaml:"enabled"`
	} `yaml:"rate_limit"`
	AllowAllOrigins bool `yaml:"allow_all_origins"`
}

// LoadConfig reads a ServerConfig's scalar settings from a YAML file.
// Callbacks (OnConnect, OnDisconnect, a custom CheckOrigin) are wired by
// the caller afterwards.
func LoadConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if fc.Addr == "" {
		return nil, fmt.Errorf("config %s: addr is required", path)
	}

	cfg := &ServerConfig{
		Addr: fc.Addr,
		Path: fc.Path,
	}
	if fc.RateLimit != nil {
		cfg.RateLimit = &RateLimitConfig{
			MessagesPerSecond: rate.Limit(fc.RateLimit.MessagesPerSecond),
			Burst:             fc.RateLimit.Burst,
			Enabled:           fc.RateLimit.Enabled,
		}
	}
	if fc.AllowAllOrigins {
		cfg.CheckOrigin = AllOrigins()
	}
	return cfg, nil
}
