// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads mirror configuration from defaults, an optional
// YAML or JSON file, and environment overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MirrorConfig is the top-level configuration for the mirror engine.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type MirrorConfig struct {
	// Gateway configures the ledger gateway client.
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`

	// Sync configures the synchronization engine.
	Sync SyncConfig `json:"sync" yaml:"sync"`

	// Index configures the Weaviate connection.
	Index IndexConfig `json:"index" yaml:"index"`

	// Resolver configures reference resolution.
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// GatewayConfig contains ledger gateway client settings.
type GatewayConfig struct {
	BaseURL           string        `json:"base_url" yaml:"base_url" validate:"required,url"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
}

// SyncConfig contains synchronization engine settings.
type SyncConfig struct {
	// ProtocolName is the App-Name tag value identifying protocol
	// transactions on the ledger.
	ProtocolName string `json:"protocol_name" yaml:"protocol_name" validate:"required"`

	// Network names the ledger network, used as the did method segment.
	Network string `json:"network" yaml:"network" validate:"required"`

	// MinVersion is the lowest protocol version still indexed.
	MinVersion int `json:"min_version" yaml:"min_version" validate:"min=1"`

	// GenesisBlock floors the watermark; blocks below it are never
	// fetched.
	GenesisBlock int64 `json:"genesis_block" yaml:"genesis_block" validate:"min=0"`

	PageSize         int           `json:"page_size" yaml:"page_size" validate:"min=1,max=1000"`
	PageRetries      int           `json:"page_retries" yaml:"page_retries" validate:"min=0,max=10"`
	PageRetryBackoff time.Duration `json:"page_retry_backoff" yaml:"page_retry_backoff" validate:"min=0"`

	// Interval is the pause between sync passes when running
	// continuously.
	Interval time.Duration `json:"interval" yaml:"interval" validate:"gt=0"`
}

// IndexConfig contains Weaviate connection settings.
type IndexConfig struct {
	Scheme string `json:"scheme" yaml:"scheme" validate:"oneof=http https"`
	Host   string `json:"host" yaml:"host" validate:"required"`
}

// ResolverConfig contains reference resolution settings.
type ResolverConfig struct {
	// FanOut bounds concurrent lookups while resolving one page.
	FanOut int `json:"fan_out" yaml:"fan_out" validate:"min=1,max=64"`

	// MaxDepth caps caller-requested resolve depth.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"min=0,max=10"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`

	// Text switches from JSON to text output.
	Text bool `json:"text" yaml:"text"`
}

// DefaultMirrorConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Gateway: GatewayConfig{
			BaseURL:           "http://localhost:1984",
			RequestsPerSecond: 5,
			MaxRetries:        3,
			RequestTimeout:    30 * time.Second,
		},
		Sync: SyncConfig{
			ProtocolName:     "OpenIndex",
			Network:          "arlocal",
			MinVersion:       1,
			GenesisBlock:     0,
			PageSize:         100,
			PageRetries:      3,
			PageRetryBackoff: 2 * time.Second,
			Interval:         time.Minute,
		},
		Index: IndexConfig{
			Scheme: "http",
			Host:   "localhost:8080",
		},
		Resolver: ResolverConfig{
			FanOut:   8,
			MaxDepth: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

var configValidator = validator.New()

// Validate checks every field constraint.
func (c *MirrorConfig) Validate() error {
	return configValidator.Struct(c)
}

// LoadMirrorConfig assembles the effective configuration: defaults,
// then the file at configPath when present, then environment
// variables. An empty configPath skips the file layer.
func LoadMirrorConfig(configPath string) (MirrorConfig, error) {
	config := DefaultMirrorConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFile(path string, config *MirrorConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *MirrorConfig) {
	// Gateway
	if v := os.Getenv("MIRROR_GATEWAY_URL"); v != "" {
		config.Gateway.BaseURL = v
	}
	if v := os.Getenv("MIRROR_GATEWAY_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Gateway.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("MIRROR_GATEWAY_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Gateway.MaxRetries = i
		}
	}
	if v := os.Getenv("MIRROR_GATEWAY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Gateway.RequestTimeout = d
		}
	}

	// Sync
	if v := os.Getenv("MIRROR_PROTOCOL_NAME"); v != "" {
		config.Sync.ProtocolName = v
	}
	if v := os.Getenv("MIRROR_NETWORK"); v != "" {
		config.Sync.Network = v
	}
	if v := os.Getenv("MIRROR_MIN_VERSION"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Sync.MinVersion = i
		}
	}
	if v := os.Getenv("MIRROR_GENESIS_BLOCK"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Sync.GenesisBlock = i
		}
	}
	if v := os.Getenv("MIRROR_PAGE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Sync.PageSize = i
		}
	}
	if v := os.Getenv("MIRROR_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Sync.Interval = d
		}
	}

	// Index
	if v := os.Getenv("MIRROR_WEAVIATE_SCHEME"); v != "" {
		config.Index.Scheme = v
	}
	if v := os.Getenv("MIRROR_WEAVIATE_HOST"); v != "" {
		config.Index.Host = v
	}

	// Resolver
	if v := os.Getenv("MIRROR_RESOLVER_FANOUT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Resolver.FanOut = i
		}
	}
	if v := os.Getenv("MIRROR_RESOLVER_MAX_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Resolver.MaxDepth = i
		}
	}

	// Logging
	if v := os.Getenv("MIRROR_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("MIRROR_LOG_TEXT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Logging.Text = b
		}
	}
}
