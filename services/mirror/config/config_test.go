// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultMirrorConfig passes its own validation.
func TestDefaultMirrorConfig(t *testing.T) {
	cfg := DefaultMirrorConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "OpenIndex", cfg.Sync.ProtocolName)
	assert.Equal(t, 1, cfg.Sync.MinVersion)
	assert.Equal(t, 100, cfg.Sync.PageSize)
	assert.Equal(t, 8, cfg.Resolver.FanOut)
	assert.Equal(t, "info", cfg.Logging.Level)
}

// TestLoadMirrorConfig_File layers YAML over defaults.
func TestLoadMirrorConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync:
  network: mainnet
  min_version: 2
gateway:
  base_url: https://gateway.example.net
`), 0o600))

	cfg, err := LoadMirrorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mainnet", cfg.Sync.Network)
	assert.Equal(t, 2, cfg.Sync.MinVersion)
	assert.Equal(t, "https://gateway.example.net", cfg.Gateway.BaseURL)
	assert.Equal(t, "OpenIndex", cfg.Sync.ProtocolName, "untouched keys keep defaults")
}

// TestLoadMirrorConfig_MissingFile silently keeps defaults.
func TestLoadMirrorConfig_MissingFile(t *testing.T) {
	cfg, err := LoadMirrorConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMirrorConfig(), cfg)
}

// TestLoadMirrorConfig_EnvOverrides win over file and defaults.
func TestLoadMirrorConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MIRROR_NETWORK", "testnet")
	t.Setenv("MIRROR_GATEWAY_RPS", "12.5")
	t.Setenv("MIRROR_SYNC_INTERVAL", "90s")
	t.Setenv("MIRROR_RESOLVER_MAX_DEPTH", "3")

	cfg, err := LoadMirrorConfig("")
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Sync.Network)
	assert.Equal(t, 12.5, cfg.Gateway.RequestsPerSecond)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 3, cfg.Resolver.MaxDepth)
}

// TestLoadMirrorConfig_Invalid rejects out-of-range values.
func TestLoadMirrorConfig_Invalid(t *testing.T) {
	t.Setenv("MIRROR_LOG_LEVEL", "verbose")
	_, err := LoadMirrorConfig("")
	assert.Error(t, err)
}

// TestLoadMirrorConfig_MalformedFile errors instead of guessing.
func TestLoadMirrorConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not config"), 0o600))

	_, err := LoadMirrorConfig(path)
	assert.Error(t, err)
}
