// Copyright 2025 The portal-evm-rpc Authors
// This file is part of the portal-evm-rpc library.
//
// The portal-evm-rpc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The portal-evm-rpc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the portal-evm-rpc library. If not, see <http://www.gnu.org/licenses/>.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsquid-labs/portal-evm-rpc/chains"
)

func validConfig() Config {
	return Config{
		PortalBaseURL: "https://portal.sqd.dev/datasets",
		ChainID:       1,
	}
}

func TestSanitizeDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Sanitize())

	assert.Equal(t, ModeSingle, cfg.Mode)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, RealtimeAuto, cfg.RealtimeMode)
	assert.Equal(t, "X-API-Key", cfg.PortalAPIKeyHeader)
	assert.Equal(t, "X-API-Key", cfg.APIKeyHeader)
	assert.Equal(t, DefaultConfig.HTTPTimeout, cfg.HTTPTimeout)
	assert.Equal(t, DefaultConfig.HandlerTimeout, cfg.HandlerTimeout)
	assert.Equal(t, DefaultConfig.MaxConcurrent, cfg.MaxConcurrent)
	assert.Equal(t, DefaultConfig.MaxItemConcurrency, cfg.MaxItemConcurrency)
	assert.Equal(t, DefaultConfig.MaxBodyBytes, cfg.MaxBodyBytes)
	assert.Equal(t, uint64(10_000), cfg.MaxLogBlockRange)
	assert.Equal(t, 100, cfg.MaxLogAddresses)
	assert.Equal(t, uint64(1<<53-1), cfg.MaxBlockNumber)
}

func TestSanitizeRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "both" }, `unknown service mode "both"`},
		{"no portal url", func(c *Config) { c.PortalBaseURL = "" }, "portal base URL is required"},
		{"no chain in single mode", func(c *Config) { c.ChainID = 0 }, "single mode requires a chain id"},
		{"dataset override in multi mode", func(c *Config) {
			c.Mode = ModeMulti
			c.ChainID = 0
			c.PortalDataset = "ethereum-mainnet"
		}, "the dataset override only applies to single mode"},
		{"unknown realtime mode", func(c *Config) { c.RealtimeMode = "sometimes" }, `unknown realtime mode "sometimes"`},
		{"bad dataset map key", func(c *Config) {
			c.DatasetMap = map[string]string{"mainnet": "ethereum-mainnet"}
		}, `dataset map: invalid chain id "mainnet"`},
		{"bad upstream map key", func(c *Config) {
			c.UpstreamURLMap = map[string]string{"-1": "https://node.example"}
		}, `upstream url map: invalid chain id "-1"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Sanitize()
			require.Error(t, err)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestSanitizeChainIDForms(t *testing.T) {
	cfg := validConfig()
	cfg.UpstreamURLMap = map[string]string{
		"1":      "https://eth.example",
		"0xa4b1": "https://arb.example",
		"0XA4B1": "https://arb.example", // same chain, hex case-insensitive
	}
	require.NoError(t, cfg.Sanitize())

	assert.Equal(t, "https://eth.example", cfg.upstreamURLs[1])
	assert.Equal(t, "https://arb.example", cfg.upstreamURLs[42161])
	assert.Len(t, cfg.upstreamURLs, 2)
}

func TestRegistryEntries(t *testing.T) {
	cfg := validConfig()
	cfg.UseDefaultDatasets = true
	cfg.DatasetMap = map[string]string{
		"1":   "ethereum-mainnet-v2",
		"777": "my-devnet",
	}

	entries, err := cfg.RegistryEntries()
	require.NoError(t, err)

	builtin, err := chains.Builtin()
	require.NoError(t, err)
	require.Len(t, entries, len(builtin)+2)

	// overrides come after the builtins, in ascending chain id order, so the
	// registry's later-wins merge applies them on top
	assert.Equal(t, chains.Chain{ID: 1, Dataset: "ethereum-mainnet-v2"}, entries[len(builtin)])
	assert.Equal(t, chains.Chain{ID: 777, Dataset: "my-devnet"}, entries[len(builtin)+1])

	reg, err := chains.NewRegistry(entries)
	require.NoError(t, err)
	ds, err := reg.Dataset(1)
	require.NoError(t, err)
	assert.Equal(t, "ethereum-mainnet-v2", ds)
	ds, err = reg.Dataset(777)
	require.NoError(t, err)
	assert.Equal(t, "my-devnet", ds)
}

func TestRegistryEntriesWithoutDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.UseDefaultDatasets = false
	cfg.DatasetMap = map[string]string{"1": "ethereum-mainnet"}

	entries, err := cfg.RegistryEntries()
	require.NoError(t, err)
	assert.Equal(t, []chains.Chain{{ID: 1, Dataset: "ethereum-mainnet"}}, entries)
}

func TestUpstreamEnabled(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.upstreamEnabled())

	cfg.UpstreamURL = "https://node.example"
	assert.True(t, cfg.upstreamEnabled())

	cfg = validConfig()
	cfg.UpstreamURLMap = map[string]string{"1": "https://node.example"}
	assert.True(t, cfg.upstreamEnabled())
}
