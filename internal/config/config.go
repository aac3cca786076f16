// Package config loads CLI configuration from files, environment
// variables, and defaults, in that order of increasing precedence
// reversed: explicit file values lose to environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level CLI configuration.
type Config struct {
	Repo    Repo    `mapstructure:"repo"`
	Logging Logging `mapstructure:"logging"`
}

// Repo selects and configures the backup repository.
type Repo struct {
	// Type is the repository storage type. Currently "azure".
	Type string `mapstructure:"type"`

	Azure Azure `mapstructure:"azure"`
}

// Azure configures the Azure blob repository.
type Azure struct {
	Account   string `mapstructure:"account"`
	Container string `mapstructure:"container"`

	// Key is the shared account key or SAS query string, depending on
	// KeyType. Empty for managed-identity ("auto") authentication.
	Key     string `mapstructure:"key"`
	KeyType string `mapstructure:"key_type"`

	Endpoint string `mapstructure:"endpoint"`
	URIStyle string `mapstructure:"uri_style"`
	Port     uint   `mapstructure:"port"`

	Timeout   time.Duration `mapstructure:"timeout"`
	BlockSize int64         `mapstructure:"block_size"`
	RateLimit float64       `mapstructure:"rate_limit"`

	Tags map[string]string `mapstructure:"tags"`

	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	CAFile        string `mapstructure:"ca_file"`
}

// Logging configures the CLI logger.
type Logging struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// Validate checks cross-field consistency. Repository credentials are
// validated by the driver at construction, not here.
func (c *Config) Validate() error {
	switch c.Repo.Type {
	case "azure":
	default:
		return fmt.Errorf("unsupported repo type %q", c.Repo.Type)
	}
	return nil
}
