// Copyright 2025 The portal-evm-rpc Authors
// This file is part of portal-evm-rpc.
//
// portal-evm-rpc is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// portal-evm-rpc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with portal-evm-rpc. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/subsquid-labs/portal-evm-rpc/gateway"
	"github.com/subsquid-labs/portal-evm-rpc/internal/flags"
)

var dumpConfigCommand = &cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Export configuration values in TOML format",
	ArgsUsage:   "",
	Flags:       flags.Merge(serviceFlags, portalFlags, limitFlags, upstreamFlags, authFlags),
	Description: `Exports the effective configuration: the defaults overlaid with the config file, then with flag and environment settings.`,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

var jstd = jsoniter.ConfigCompatibleWithStandardLibrary

// loadConfig builds the gateway configuration: defaults, then the TOML file
// when given, then every flag or environment variable that was set.
func loadConfig(ctx *cli.Context) (gateway.Config, error) {
	cfg := gateway.DefaultConfig
	if path := ctx.String(configFileFlag.Name); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyFlags(ctx, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *gateway.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add the file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return err
}

func applyFlags(ctx *cli.Context, cfg *gateway.Config) error {
	if ctx.IsSet(modeFlag.Name) {
		cfg.Mode = ctx.String(modeFlag.Name)
	}
	if ctx.IsSet(listenFlag.Name) {
		cfg.ListenAddr = ctx.String(listenFlag.Name)
	}
	if ctx.IsSet(chainFlag.Name) {
		cfg.ChainID = ctx.Uint64(chainFlag.Name)
	}
	if ctx.IsSet(corsFlag.Name) {
		cfg.CORSOrigins = ctx.StringSlice(corsFlag.Name)
	}
	if ctx.IsSet(portalURLFlag.Name) {
		cfg.PortalBaseURL = ctx.String(portalURLFlag.Name)
	}
	if ctx.IsSet(portalDatasetFlag.Name) {
		cfg.PortalDataset = ctx.String(portalDatasetFlag.Name)
	}
	if ctx.IsSet(portalDatasetMapFlag.Name) {
		m, err := parseJSONMap(ctx.String(portalDatasetMapFlag.Name), "dataset map")
		if err != nil {
			return err
		}
		cfg.DatasetMap = m
	}
	if ctx.IsSet(portalDefaultDatasetsFlag.Name) {
		cfg.UseDefaultDatasets = ctx.Bool(portalDefaultDatasetsFlag.Name)
	}
	if ctx.IsSet(portalRealtimeFlag.Name) {
		cfg.RealtimeMode = ctx.String(portalRealtimeFlag.Name)
	}
	if ctx.IsSet(portalAPIKeyFlag.Name) {
		cfg.PortalAPIKey = ctx.String(portalAPIKeyFlag.Name)
	}
	if ctx.IsSet(portalAPIKeyHeaderFlag.Name) {
		cfg.PortalAPIKeyHeader = ctx.String(portalAPIKeyHeaderFlag.Name)
	}
	if ctx.IsSet(portalMetadataTTLFlag.Name) {
		cfg.PortalMetadataTTL = time.Duration(ctx.Int64(portalMetadataTTLFlag.Name)) * time.Millisecond
	}
	if ctx.IsSet(portalNegotiableFieldsFlag.Name) {
		cfg.PortalNegotiableFields = ctx.StringSlice(portalNegotiableFieldsFlag.Name)
	}
	if ctx.IsSet(portalAllBlocksFlag.Name) {
		cfg.PortalIncludeAllBlocks = ctx.Bool(portalAllBlocksFlag.Name)
	}
	if ctx.IsSet(maxLogRangeFlag.Name) {
		cfg.MaxLogBlockRange = ctx.Uint64(maxLogRangeFlag.Name)
	}
	if ctx.IsSet(maxLogAddressesFlag.Name) {
		cfg.MaxLogAddresses = ctx.Int(maxLogAddressesFlag.Name)
	}
	if ctx.IsSet(maxBlockNumberFlag.Name) {
		cfg.MaxBlockNumber = ctx.Uint64(maxBlockNumberFlag.Name)
	}
	if ctx.IsSet(httpTimeoutFlag.Name) {
		cfg.HTTPTimeout = ctx.Duration(httpTimeoutFlag.Name)
	}
	if ctx.IsSet(handlerTimeoutFlag.Name) {
		cfg.HandlerTimeout = time.Duration(ctx.Int64(handlerTimeoutFlag.Name)) * time.Millisecond
	}
	if ctx.IsSet(maxConcurrentFlag.Name) {
		cfg.MaxConcurrent = ctx.Int64(maxConcurrentFlag.Name)
	}
	if ctx.IsSet(maxNDJSONLineFlag.Name) {
		cfg.MaxNDJSONLineBytes = ctx.Int(maxNDJSONLineFlag.Name)
	}
	if ctx.IsSet(maxNDJSONBytesFlag.Name) {
		cfg.MaxNDJSONBytes = ctx.Int(maxNDJSONBytesFlag.Name)
	}
	if ctx.IsSet(maxBodyBytesFlag.Name) {
		cfg.MaxBodyBytes = ctx.Int64(maxBodyBytesFlag.Name)
	}
	if ctx.IsSet(upstreamURLFlag.Name) {
		cfg.UpstreamURL = ctx.String(upstreamURLFlag.Name)
	}
	if ctx.IsSet(upstreamURLMapFlag.Name) {
		m, err := parseJSONMap(ctx.String(upstreamURLMapFlag.Name), "upstream url map")
		if err != nil {
			return err
		}
		cfg.UpstreamURLMap = m
	}
	if ctx.IsSet(upstreamMethodsFlag.Name) {
		cfg.UpstreamMethods = ctx.StringSlice(upstreamMethodsFlag.Name)
	}
	if ctx.IsSet(upstreamRateLimitFlag.Name) {
		cfg.UpstreamRateLimit = ctx.Float64(upstreamRateLimitFlag.Name)
	}
	if ctx.IsSet(authKeyFlag.Name) {
		cfg.APIKey = ctx.String(authKeyFlag.Name)
	}
	if ctx.IsSet(authKeyHeaderFlag.Name) {
		cfg.APIKeyHeader = ctx.String(authKeyHeaderFlag.Name)
	}
	return nil
}

func parseJSONMap(raw, what string) (map[string]string, error) {
	m := make(map[string]string)
	if err := jstd.UnmarshalFromString(raw, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing the %s", what)
	}
	return m, nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
