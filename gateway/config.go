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
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/subsquid-labs/portal-evm-rpc/chains"
)

// Service modes. Single serves one configured chain on POST /; multi routes
// every registry chain through /v1/evm/{chainId} or the X-Chain-Id header.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// Real-time policies. Auto reports whatever the dataset offers, required
// refuses readiness until the dataset streams unfinalized blocks, disabled
// never advertises real-time data.
const (
	RealtimeAuto     = "auto"
	RealtimeRequired = "required"
	RealtimeDisabled = "disabled"
)

// Config collects every tunable of the gateway process. Fields map onto the
// command-line flags and their environment variables one to one; the TOML
// config file uses the same names.
type Config struct {
	Mode       string
	ListenAddr string
	ChainID    uint64 // single mode only

	PortalBaseURL          string
	PortalDataset          string            // single mode override of the registry mapping
	DatasetMap             map[string]string // chain id (decimal or 0x hex) -> dataset, any mode
	UseDefaultDatasets     bool              // consult the built-in chain registry
	RealtimeMode           string
	PortalAPIKey           string `toml:"-"`
	PortalAPIKeyHeader     string
	PortalMetadataTTL      time.Duration
	PortalNegotiableFields []string
	PortalIncludeAllBlocks bool

	MaxLogBlockRange uint64
	MaxLogAddresses  int
	MaxBlockNumber   uint64

	HTTPTimeout        time.Duration // per portal/upstream call, streams included
	HandlerTimeout     time.Duration // per JSON-RPC item
	MaxConcurrent      int64         // in-flight HTTP requests admitted
	MaxItemConcurrency int           // parallel items within one batch
	MaxNDJSONLineBytes int
	MaxNDJSONBytes     int
	MaxBodyBytes       int64

	UpstreamURL       string
	UpstreamURLMap    map[string]string // chain id -> upstream endpoint
	UpstreamRateLimit float64
	UpstreamMethods   []string // by-hash methods to expose; empty exposes all

	APIKey       string `toml:"-"` // wrapper auth; empty disables it
	APIKeyHeader string

	CORSOrigins []string

	// Parsed form of UpstreamURLMap, filled by Sanitize.
	upstreamURLs map[uint64]string
}

// DefaultConfig holds the production defaults. Deployments override the
// listen address, chain and portal settings and keep the rest.
var DefaultConfig = Config{
	Mode:       ModeSingle,
	ListenAddr: ":8080",

	UseDefaultDatasets: true,
	RealtimeMode:       RealtimeAuto,
	PortalAPIKeyHeader: "X-API-Key",
	PortalMetadataTTL:  10 * time.Second,

	MaxLogBlockRange: 10_000,
	MaxLogAddresses:  100,
	MaxBlockNumber:   1<<53 - 1,

	HTTPTimeout:        60 * time.Second,
	HandlerTimeout:     120 * time.Second,
	MaxConcurrent:      1024,
	MaxItemConcurrency: 16,
	MaxNDJSONLineBytes: 10 * 1024 * 1024,
	MaxNDJSONBytes:     1024 * 1024 * 1024,
	MaxBodyBytes:       1024 * 1024,

	APIKeyHeader: "X-API-Key",
}

// Sanitize validates the config and fills gaps from DefaultConfig.
func (cfg *Config) Sanitize() error {
	if cfg.Mode == "" {
		cfg.Mode = ModeSingle
	}
	if cfg.Mode != ModeSingle && cfg.Mode != ModeMulti {
		return errors.Errorf("unknown service mode %q", cfg.Mode)
	}
	if cfg.PortalBaseURL == "" {
		return errors.New("portal base URL is required")
	}
	if cfg.Mode == ModeSingle && cfg.ChainID == 0 {
		return errors.New("single mode requires a chain id")
	}
	if cfg.Mode == ModeMulti && cfg.PortalDataset != "" {
		return errors.New("the dataset override only applies to single mode")
	}
	switch cfg.RealtimeMode {
	case "":
		cfg.RealtimeMode = DefaultConfig.RealtimeMode
	case RealtimeAuto, RealtimeRequired, RealtimeDisabled:
	default:
		return errors.Errorf("unknown realtime mode %q", cfg.RealtimeMode)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig.ListenAddr
	}
	if cfg.PortalAPIKeyHeader == "" {
		cfg.PortalAPIKeyHeader = DefaultConfig.PortalAPIKeyHeader
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultConfig.APIKeyHeader
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultConfig.HTTPTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultConfig.HandlerTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig.MaxConcurrent
	}
	if cfg.MaxItemConcurrency <= 0 {
		cfg.MaxItemConcurrency = DefaultConfig.MaxItemConcurrency
	}
	if cfg.MaxNDJSONLineBytes <= 0 {
		cfg.MaxNDJSONLineBytes = DefaultConfig.MaxNDJSONLineBytes
	}
	if cfg.MaxNDJSONBytes <= 0 {
		cfg.MaxNDJSONBytes = DefaultConfig.MaxNDJSONBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig.MaxBodyBytes
	}
	if cfg.MaxLogBlockRange == 0 {
		cfg.MaxLogBlockRange = DefaultConfig.MaxLogBlockRange
	}
	if cfg.MaxLogAddresses == 0 {
		cfg.MaxLogAddresses = DefaultConfig.MaxLogAddresses
	}
	if cfg.MaxBlockNumber == 0 {
		cfg.MaxBlockNumber = DefaultConfig.MaxBlockNumber
	}
	var err error
	if _, err = byChainID(cfg.DatasetMap); err != nil {
		return errors.Wrap(err, "dataset map")
	}
	if cfg.upstreamURLs, err = byChainID(cfg.UpstreamURLMap); err != nil {
		return errors.Wrap(err, "upstream url map")
	}
	return nil
}

// RegistryEntries assembles the chain registry table: the built-in defaults,
// unless disabled, with the dataset map merged over them.
func (cfg *Config) RegistryEntries() ([]chains.Chain, error) {
	var entries []chains.Chain
	if cfg.UseDefaultDatasets {
		var err error
		entries, err = chains.Builtin()
		if err != nil {
			return nil, err
		}
	}
	overrides, err := byChainID(cfg.DatasetMap)
	if err != nil {
		return nil, errors.Wrap(err, "dataset map")
	}
	ids := make([]uint64, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		entries = append(entries, chains.Chain{ID: id, Dataset: overrides[id]})
	}
	return entries, nil
}

// byChainID converts a string-keyed chain map (the wire form of the JSON and
// TOML sources) into its uint64-keyed runtime form.
func byChainID(m map[string]string) (map[uint64]string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[uint64]string, len(m))
	for k, v := range m {
		id, err := parseChainID(k)
		if err != nil {
			return nil, errors.Errorf("invalid chain id %q", k)
		}
		out[id] = v
	}
	return out, nil
}

// upstreamEnabled reports whether any upstream endpoint is configured.
func (cfg *Config) upstreamEnabled() bool {
	return cfg.UpstreamURL != "" || len(cfg.UpstreamURLMap) > 0
}
