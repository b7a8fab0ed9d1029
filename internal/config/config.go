// Package config provides configuration loading for trustd.
//
// Configuration is loaded in layers: hardcoded defaults, then an optional
// YAML file, then environment variables. Every section validates itself
// before the kernel starts.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/trustd/internal/governance"
	"github.com/fyrsmithlabs/trustd/internal/heartbeat"
	"github.com/fyrsmithlabs/trustd/internal/logging"
	"github.com/fyrsmithlabs/trustd/internal/memory"
	"github.com/fyrsmithlabs/trustd/internal/sanitize"
)

// Config holds the complete trustd configuration.
type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Audit      AuditConfig       `koanf:"audit"`
	Logging    logging.Config    `koanf:"logging"`
	Sanitize   sanitize.Config   `koanf:"sanitize"`
	Memory     memory.Config     `koanf:"memory"`
	Governance governance.Config `koanf:"governance"`
	Heartbeat  heartbeat.Config  `koanf:"heartbeat"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AuditConfig holds audit ledger configuration.
type AuditConfig struct {
	// LedgerPath is the JSONL ledger file.
	LedgerPath string `koanf:"ledger_path"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9180,
			ShutdownTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			LedgerPath: "audit.jsonl",
		},
		Logging:    *logging.NewDefaultConfig(),
		Sanitize:   *sanitize.DefaultConfig(),
		Memory:     *memory.DefaultConfig(),
		Governance: *governance.DefaultConfig(),
		Heartbeat:  *heartbeat.DefaultConfig(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Audit.LedgerPath == "" {
		return errors.New("audit ledger path cannot be empty")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Sanitize.Validate(); err != nil {
		return fmt.Errorf("sanitize: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Governance.Validate(); err != nil {
		return fmt.Errorf("governance: %w", err)
	}
	if err := c.Heartbeat.Validate(); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}
