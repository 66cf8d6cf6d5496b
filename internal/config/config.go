// Package config loads the analysis configuration and the static branch table.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bucket granularities for the time-series reconstruction.
const (
	BucketDay  = "day"
	BucketHour = "hour"
	BucketNone = "none"
)

// Delta pct formulas for redemption records.
const (
	DeltaPctAsSource = "as_source"
	DeltaPctRelative = "relative"
)

// ErrInvalidBranch is returned when the branch table violates its invariants.
var ErrInvalidBranch = errors.New("invalid branch configuration")

// BranchConfig is one entry of the static branch table.
type BranchConfig struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	MCR  float64 `yaml:"mcr"`
	CCR  float64 `yaml:"ccr"`
}

// Config holds all application configuration.
type Config struct {
	Subgraph struct {
		URL               string        `yaml:"url"`
		Timeout           time.Duration `yaml:"timeout"`
		MaxRetries        int           `yaml:"max_retries"`
		RetryDelay        time.Duration `yaml:"retry_delay"`
		RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
		Burst             int           `yaml:"burst"`
	} `yaml:"subgraph"`
	Analysis struct {
		Bucket          string `yaml:"bucket"`
		DeltaPctFormula string `yaml:"delta_pct_formula"`
	} `yaml:"analysis"`
	Storage struct {
		PostgresDSN   string `yaml:"postgres_dsn"`
		ClickhouseDSN string `yaml:"clickhouse_dsn"`
	} `yaml:"storage"`
	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`
	Server struct {
		Addr     string `yaml:"addr"`
		Schedule string `yaml:"schedule"` // cron expression with seconds field
	} `yaml:"server"`
	Branches []BranchConfig `yaml:"branches"`
}

// DefaultBranches is the production branch table.
var DefaultBranches = []BranchConfig{
	{ID: "0xf8a25a2e4c863bb7cea7e4b4eeb3866bb7f11718", Name: "ysyBOLD", MCR: 1.1, CCR: 1.2},
	{ID: "0x7aff0173e3d7c5416d8caa3433871ef07568220d", Name: "scrvUSD", MCR: 1.1, CCR: 1.2},
	{ID: "0x53ce82ac43660aab1f80fecd1d74afe7a033d505", Name: "sUSDS", MCR: 1.1, CCR: 1.2},
	{ID: "0x478e7c27193aca052964c3306d193446027630b0", Name: "sfrxUSD", MCR: 1.1, CCR: 1.2},
	{ID: "0xfb17d0402ae557e3efa549812b95e931b2b63bce", Name: "tBTC", MCR: 1.2, CCR: 1.5},
	{ID: "0x7bd47eca45ee18609d3d64ba683ce488ca9320a3", Name: "WBTC", MCR: 1.2, CCR: 1.5},
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SUBGRAPH_URL"); v != "" {
		cfg.Subgraph.URL = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("BUCKET"); v != "" {
		cfg.Analysis.Bucket = v
	}
	if v := os.Getenv("SCHEDULE"); v != "" {
		cfg.Server.Schedule = v
	}

	// Defaults
	if cfg.Subgraph.URL == "" {
		cfg.Subgraph.URL = "http://localhost:42069/graphql"
	}
	if cfg.Subgraph.Timeout == 0 {
		cfg.Subgraph.Timeout = 30 * time.Second
	}
	if cfg.Subgraph.MaxRetries == 0 {
		cfg.Subgraph.MaxRetries = 3
	}
	if cfg.Subgraph.RetryDelay == 0 {
		cfg.Subgraph.RetryDelay = time.Second
	}
	if cfg.Analysis.Bucket == "" {
		cfg.Analysis.Bucket = BucketDay
	}
	if cfg.Analysis.DeltaPctFormula == "" {
		cfg.Analysis.DeltaPctFormula = DeltaPctAsSource
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "out"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.Schedule == "" {
		cfg.Server.Schedule = "0 0 * * * *" // hourly
	}
	if len(cfg.Branches) == 0 {
		cfg.Branches = append([]BranchConfig(nil), DefaultBranches...)
	}

	return cfg, nil
}

// Validate checks that all required fields are set and the branch table is sound.
func (c *Config) Validate() error {
	if c.Subgraph.URL == "" {
		return fmt.Errorf("subgraph.url is required")
	}
	switch c.Analysis.Bucket {
	case BucketDay, BucketHour, BucketNone:
	default:
		return fmt.Errorf("analysis.bucket must be one of day, hour, none: got %q", c.Analysis.Bucket)
	}
	switch c.Analysis.DeltaPctFormula {
	case DeltaPctAsSource, DeltaPctRelative:
	default:
		return fmt.Errorf("analysis.delta_pct_formula must be as_source or relative: got %q", c.Analysis.DeltaPctFormula)
	}
	if c.Subgraph.RequestsPerSecond < 0 {
		return fmt.Errorf("subgraph.requests_per_second must not be negative")
	}
	if _, err := NewBranchTable(c.Branches); err != nil {
		return err
	}
	return nil
}

// BranchTable builds the validated branch lookup from the config.
func (c *Config) BranchTable() (*BranchTable, error) {
	return NewBranchTable(c.Branches)
}

// normalizeID lower-cases addresses so lookups are case-insensitive.
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
