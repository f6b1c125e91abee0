// Package config loads the engine configuration from a YAML file and
// validates it against an embedded CUE schema before anything touches
// the network or the database.
package config

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// schema constrains a decoded config. Bounds here are deliberately
// loose; they catch swapped fields and nonsense values, not policy.
const schema = `
{
	nexus_url:      string & !=""
	homeserver_url: string & !=""
	database_path:  string & !=""
	viewer_id:      string
	batch_delay_ms: int & >=0 & <=10000
	ttl_seconds:    int & >0
	refresh_cron:   string & !=""
	log_level:      "debug" | "info" | "warn" | "error"
}
`

// Config is the fully resolved engine configuration.
type Config struct {
	NexusURL      string `yaml:"nexus_url"`
	HomeserverURL string `yaml:"homeserver_url"`
	DatabasePath  string `yaml:"database_path"`
	ViewerID      string `yaml:"viewer_id"`
	BatchDelayMS  int    `yaml:"batch_delay_ms"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	RefreshCron   string `yaml:"refresh_cron"`
	LogLevel      string `yaml:"log_level"`
}

// BatchDelay returns the coalescing window as a duration.
func (c Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// TTL returns the freshness window as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Default returns the configuration used when no file is given. The
// URLs point at local development servers.
func Default() Config {
	return Config{
		NexusURL:      "http://localhost:8080",
		HomeserverURL: "http://localhost:8081",
		DatabasePath:  "quill.db",
		BatchDelayMS:  50,
		TTLSeconds:    300,
		RefreshCron:   "*/5 * * * *",
		LogLevel:      "info",
	}
}

// Load reads path as YAML over the defaults and validates the result.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	constraint := ctx.CompileString(schema)
	if err := constraint.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := ctx.Encode(map[string]any{
		"nexus_url":      c.NexusURL,
		"homeserver_url": c.HomeserverURL,
		"database_path":  c.DatabasePath,
		"viewer_id":      c.ViewerID,
		"batch_delay_ms": c.BatchDelayMS,
		"ttl_seconds":    c.TTLSeconds,
		"refresh_cron":   c.RefreshCron,
		"log_level":      c.LogLevel,
	})
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := constraint.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid: %w", err)
	}
	return nil
}
