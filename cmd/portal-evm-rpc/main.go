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

// portal-evm-rpc serves the Ethereum JSON-RPC read surface of an SQD portal.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/subsquid-labs/portal-evm-rpc/gateway"
	"github.com/subsquid-labs/portal-evm-rpc/internal/flags"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}

	modeFlag = &cli.StringFlag{
		Name:    "mode",
		Usage:   `Service mode ("single" or "multi")`,
		Value:   gateway.DefaultConfig.Mode,
		EnvVars: []string{"SERVICE_MODE"},
	}
	listenFlag = &cli.StringFlag{
		Name:    "listen",
		Usage:   "HTTP listen address",
		Value:   gateway.DefaultConfig.ListenAddr,
		EnvVars: []string{"SERVICE_LISTEN_ADDR"},
	}
	chainFlag = &cli.Uint64Flag{
		Name:    "chain",
		Usage:   "Chain id served in single mode",
		EnvVars: []string{"PORTAL_CHAIN_ID", "CHAIN_ID"},
	}
	corsFlag = &cli.StringSliceFlag{
		Name:    "http.corsdomain",
		Usage:   "Comma separated list of origins to accept cross origin requests from",
		EnvVars: []string{"SERVICE_CORS_ORIGINS"},
	}

	portalURLFlag = &cli.StringFlag{
		Name:    "portal.url",
		Usage:   "Base URL of the portal serving the datasets",
		EnvVars: []string{"PORTAL_BASE_URL"},
	}
	portalDatasetFlag = &cli.StringFlag{
		Name:    "portal.dataset",
		Usage:   "Dataset override for the configured chain (single mode)",
		EnvVars: []string{"PORTAL_DATASET"},
	}
	portalDatasetMapFlag = &cli.StringFlag{
		Name:    "portal.datasetmap",
		Usage:   "JSON object mapping chain ids to dataset names",
		EnvVars: []string{"PORTAL_DATASET_MAP"},
	}
	portalDefaultDatasetsFlag = &cli.BoolFlag{
		Name:    "portal.defaultdatasets",
		Usage:   "Serve the chains of the built-in dataset registry",
		Value:   true,
		EnvVars: []string{"PORTAL_USE_DEFAULT_DATASETS"},
	}
	portalRealtimeFlag = &cli.StringFlag{
		Name:    "portal.realtime",
		Usage:   `Real-time data policy ("auto", "required" or "disabled")`,
		Value:   gateway.DefaultConfig.RealtimeMode,
		EnvVars: []string{"PORTAL_REALTIME_MODE"},
	}
	portalAPIKeyFlag = &cli.StringFlag{
		Name:    "portal.apikey",
		Usage:   "API key sent to the portal",
		EnvVars: []string{"PORTAL_API_KEY"},
	}
	portalAPIKeyHeaderFlag = &cli.StringFlag{
		Name:    "portal.apikeyheader",
		Usage:   "Header carrying the portal API key",
		Value:   gateway.DefaultConfig.PortalAPIKeyHeader,
		EnvVars: []string{"PORTAL_API_KEY_HEADER"},
	}
	portalMetadataTTLFlag = &cli.Int64Flag{
		Name:    "portal.metadatattl",
		Usage:   "Dataset metadata cache TTL in milliseconds",
		Value:   gateway.DefaultConfig.PortalMetadataTTL.Milliseconds(),
		EnvVars: []string{"PORTAL_METADATA_TTL_MS"},
	}
	portalNegotiableFieldsFlag = &cli.StringSliceFlag{
		Name:    "portal.negotiablefields",
		Usage:   "Field names stripped and retried when the portal rejects them as unknown",
		EnvVars: []string{"PORTAL_NEGOTIABLE_FIELDS"},
	}
	portalAllBlocksFlag = &cli.BoolFlag{
		Name:    "portal.allblocks",
		Usage:   "Force the portal to emit every block of an eth_getLogs range",
		EnvVars: []string{"PORTAL_INCLUDE_ALL_BLOCKS"},
	}

	maxLogRangeFlag = &cli.Uint64Flag{
		Name:    "limits.logrange",
		Usage:   "Widest eth_getLogs block range, inclusive",
		Value:   gateway.DefaultConfig.MaxLogBlockRange,
		EnvVars: []string{"MAX_LOG_BLOCK_RANGE"},
	}
	maxLogAddressesFlag = &cli.IntFlag{
		Name:    "limits.logaddresses",
		Usage:   "Most addresses accepted per eth_getLogs filter",
		Value:   gateway.DefaultConfig.MaxLogAddresses,
		EnvVars: []string{"MAX_LOG_ADDRESSES"},
	}
	maxBlockNumberFlag = &cli.Uint64Flag{
		Name:    "limits.maxblock",
		Usage:   "Highest block number accepted in request parameters",
		Value:   gateway.DefaultConfig.MaxBlockNumber,
		EnvVars: []string{"MAX_BLOCK_NUMBER"},
	}
	httpTimeoutFlag = &cli.DurationFlag{
		Name:    "limits.httptimeout",
		Usage:   "Timeout of portal and upstream calls, streaming included",
		Value:   gateway.DefaultConfig.HTTPTimeout,
		EnvVars: []string{"HTTP_TIMEOUT"},
	}
	handlerTimeoutFlag = &cli.Int64Flag{
		Name:    "limits.handlertimeout",
		Usage:   "Deadline of one JSON-RPC item in milliseconds",
		Value:   gateway.DefaultConfig.HandlerTimeout.Milliseconds(),
		EnvVars: []string{"HANDLER_TIMEOUT_MS"},
	}
	maxConcurrentFlag = &cli.Int64Flag{
		Name:    "limits.concurrency",
		Usage:   "In-flight HTTP requests admitted before responding 503",
		Value:   gateway.DefaultConfig.MaxConcurrent,
		EnvVars: []string{"MAX_CONCURRENT_REQUESTS"},
	}
	maxNDJSONLineFlag = &cli.IntFlag{
		Name:    "limits.ndjsonline",
		Usage:   "Longest accepted portal NDJSON line in bytes",
		Value:   gateway.DefaultConfig.MaxNDJSONLineBytes,
		EnvVars: []string{"MAX_NDJSON_LINE_BYTES"},
	}
	maxNDJSONBytesFlag = &cli.IntFlag{
		Name:    "limits.ndjsonbytes",
		Usage:   "Most portal NDJSON bytes consumed per stream",
		Value:   gateway.DefaultConfig.MaxNDJSONBytes,
		EnvVars: []string{"MAX_NDJSON_BYTES"},
	}
	maxBodyBytesFlag = &cli.Int64Flag{
		Name:    "limits.body",
		Usage:   "Largest accepted request body in bytes, after inflation",
		Value:   gateway.DefaultConfig.MaxBodyBytes,
		EnvVars: []string{"MAX_REQUEST_BODY_BYTES"},
	}

	upstreamURLFlag = &cli.StringFlag{
		Name:    "upstream.url",
		Usage:   "EVM JSON-RPC endpoint answering the by-hash methods",
		EnvVars: []string{"UPSTREAM_RPC_URL"},
	}
	upstreamURLMapFlag = &cli.StringFlag{
		Name:    "upstream.urlmap",
		Usage:   "JSON object mapping chain ids to upstream endpoints",
		EnvVars: []string{"UPSTREAM_RPC_URL_MAP"},
	}
	upstreamMethodsFlag = &cli.StringSliceFlag{
		Name:    "upstream.methods",
		Usage:   "By-hash methods exposed when an upstream is configured (default all)",
		EnvVars: []string{"UPSTREAM_METHODS_ENABLED"},
	}
	upstreamRateLimitFlag = &cli.Float64Flag{
		Name:    "upstream.ratelimit",
		Usage:   "Upstream requests per second, 0 disables the limiter",
		EnvVars: []string{"UPSTREAM_RPC_RATE_LIMIT"},
	}

	authKeyFlag = &cli.StringFlag{
		Name:    "auth.key",
		Usage:   "API key demanded from clients, empty disables ingress auth",
		EnvVars: []string{"WRAPPER_API_KEY"},
	}
	authKeyHeaderFlag = &cli.StringFlag{
		Name:    "auth.keyheader",
		Usage:   "Header carrying the client API key",
		Value:   gateway.DefaultConfig.APIKeyHeader,
		EnvVars: []string{"WRAPPER_API_KEY_HEADER"},
	}

	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:   3,
		EnvVars: []string{"VERBOSITY"},
	}
	logJSONFlag = &cli.BoolFlag{
		Name:    "log.json",
		Usage:   "Format logs with JSON",
		EnvVars: []string{"LOG_JSON"},
	}
	logFileFlag = &cli.StringFlag{
		Name:    "log.file",
		Usage:   "Write logs to a file, rotated when it grows past 100 MB",
		EnvVars: []string{"LOG_FILE"},
	}
)

var (
	serviceFlags = []cli.Flag{
		configFileFlag,
		modeFlag,
		listenFlag,
		chainFlag,
		corsFlag,
	}
	portalFlags = []cli.Flag{
		portalURLFlag,
		portalDatasetFlag,
		portalDatasetMapFlag,
		portalDefaultDatasetsFlag,
		portalRealtimeFlag,
		portalAPIKeyFlag,
		portalAPIKeyHeaderFlag,
		portalMetadataTTLFlag,
		portalNegotiableFieldsFlag,
		portalAllBlocksFlag,
	}
	limitFlags = []cli.Flag{
		maxLogRangeFlag,
		maxLogAddressesFlag,
		maxBlockNumberFlag,
		httpTimeoutFlag,
		handlerTimeoutFlag,
		maxConcurrentFlag,
		maxNDJSONLineFlag,
		maxNDJSONBytesFlag,
		maxBodyBytesFlag,
	}
	upstreamFlags = []cli.Flag{
		upstreamURLFlag,
		upstreamURLMapFlag,
		upstreamMethodsFlag,
		upstreamRateLimitFlag,
	}
	authFlags = []cli.Flag{
		authKeyFlag,
		authKeyHeaderFlag,
	}
	loggingFlags = []cli.Flag{
		verbosityFlag,
		logJSONFlag,
		logFileFlag,
	}
)

var app = flags.NewApp("portal-backed Ethereum JSON-RPC gateway")

func init() {
	app.Action = run
	app.Flags = flags.Merge(serviceFlags, portalFlags, limitFlags, upstreamFlags, authFlags, loggingFlags)
	app.Commands = []*cli.Command{
		chainsCommand,
		dumpConfigCommand,
		versionCommand,
	}
	app.Before = setupLogging
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}
	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return gw.Run(sigCtx)
}

func setupLogging(ctx *cli.Context) error {
	logFile := ctx.String(logFileFlag.Name)
	useColor := logFile == "" && !ctx.Bool(logJSONFlag.Name) &&
		(isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) &&
		os.Getenv("TERM") != "dumb"

	output := io.Writer(os.Stderr)
	if logFile != "" {
		output = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		}
	} else if useColor {
		output = colorable.NewColorable(os.Stderr)
	}

	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	var handler slog.Handler
	if ctx.Bool(logJSONFlag.Name) {
		handler = log.JSONHandlerWithLevel(output, level)
	} else {
		handler = log.NewTerminalHandlerWithLevel(output, level, useColor)
	}
	log.SetDefault(log.NewLogger(handler))
	return nil
}
