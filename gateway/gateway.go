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

// Package gateway is the JSON-RPC front-end: routing, admission, batch
// coalescing and response assembly over the portal-backed method handlers.
package gateway

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"

	"github.com/subsquid-labs/portal-evm-rpc/chains"
	"github.com/subsquid-labs/portal-evm-rpc/internal/ethapi"
	"github.com/subsquid-labs/portal-evm-rpc/internal/version"
	"github.com/subsquid-labs/portal-evm-rpc/portal"
	"github.com/subsquid-labs/portal-evm-rpc/upstream"
)

// portalMethods are served from portal range streams; upstreamMethods only
// exist when an upstream endpoint is configured for the chain.
var (
	portalMethods = []string{
		"eth_blockNumber",
		"eth_chainId",
		"eth_getBlockByNumber",
		"eth_getLogs",
		"eth_getTransactionByBlockNumberAndIndex",
		"trace_block",
	}
	upstreamMethods = []string{
		"eth_getBlockByHash",
		"eth_getTransactionByHash",
		"eth_getTransactionReceipt",
		"trace_transaction",
	}
)

// Gateway is one service instance. It is stateless between requests apart
// from the shared clients and the global metrics registry.
type Gateway struct {
	cfg      Config
	registry *chains.Registry
	portal   *portal.Client
	upstream *upstream.Client
	api      *ethapi.API
	sem      *semaphore.Weighted
	baseURL  string
	log      log.Logger
}

// New wires the clients and validates the configuration. In single mode the
// chain must resolve to a dataset at construction time.
func New(cfg Config) (*Gateway, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	entries, err := cfg.RegistryEntries()
	if err != nil {
		return nil, err
	}
	registry, err := chains.NewRegistry(entries)
	if err != nil {
		return nil, errors.Wrap(err, "loading chain registry")
	}

	portalClient := portal.NewClient(portal.Config{
		APIKey:           cfg.PortalAPIKey,
		APIKeyHeader:     cfg.PortalAPIKeyHeader,
		Timeout:          cfg.HTTPTimeout,
		MaxLineBytes:     cfg.MaxNDJSONLineBytes,
		MaxBytes:         cfg.MaxNDJSONBytes,
		MetadataTTL:      cfg.PortalMetadataTTL,
		NegotiableFields: cfg.PortalNegotiableFields,
	})
	upstreamClient := upstream.NewClient(upstream.Config{
		Enabled:    cfg.upstreamEnabled(),
		URL:        cfg.UpstreamURL,
		URLByChain: cfg.upstreamURLs,
		Timeout:    cfg.HTTPTimeout,
		RateLimit:  cfg.UpstreamRateLimit,
	})

	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		portal:   portalClient,
		upstream: upstreamClient,
		api: ethapi.New(portalClient, upstreamClient, ethapi.Config{
			MaxLogBlockRange: cfg.MaxLogBlockRange,
			MaxLogAddresses:  cfg.MaxLogAddresses,
			MaxBlockNumber:   cfg.MaxBlockNumber,
			IncludeAllBlocks: cfg.PortalIncludeAllBlocks,
			UpstreamMethods:  cfg.UpstreamMethods,
		}),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		baseURL: portal.NormalizeBaseURL(cfg.PortalBaseURL),
		log:     log.New("service", "gateway"),
	}
	if cfg.Mode == ModeSingle {
		if _, err := g.datasetURL(cfg.ChainID); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// exposedUpstreamMethods returns the by-hash methods this deployment serves.
func (g *Gateway) exposedUpstreamMethods() []string {
	if len(g.cfg.UpstreamMethods) == 0 {
		return upstreamMethods
	}
	var out []string
	for _, m := range upstreamMethods {
		for _, allowed := range g.cfg.UpstreamMethods {
			if m == allowed {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// datasetURL resolves the portal dataset endpoint for a chain. The explicit
// dataset override wins in single mode; everything else goes through the
// registry, which merges the dataset map over the built-in table.
func (g *Gateway) datasetURL(chainID uint64) (string, error) {
	if g.cfg.Mode == ModeSingle && g.cfg.PortalDataset != "" && chainID == g.cfg.ChainID {
		return portal.DatasetURL(g.baseURL, g.cfg.PortalDataset), nil
	}
	dataset, err := g.registry.Dataset(chainID)
	if err != nil {
		return "", err
	}
	return portal.DatasetURL(g.baseURL, dataset), nil
}

// Handler builds the HTTP routing table.
func (g *Gateway) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", g.handleRPC).Methods(http.MethodPost)
	if g.cfg.Mode == ModeMulti {
		r.HandleFunc("/v1/evm/{chainId}", g.handleRPC).Methods(http.MethodPost)
	}
	r.HandleFunc("/healthz", g.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", g.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/capabilities", g.handleCapabilities).Methods(http.MethodGet)

	var h http.Handler = r
	if len(g.cfg.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: g.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			MaxAge:         600,
		}).Handler(h)
	}
	return h
}

// Run serves until ctx is canceled, then drains in-flight requests for up
// to ten seconds.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		g.log.Info("JSON-RPC gateway listening", "addr", g.cfg.ListenAddr, "mode", g.cfg.Mode)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	g.log.Info("Shutting down, draining in-flight requests")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(drainCtx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleReadyz probes the portal. Single mode checks the configured
// dataset's head, and under the required realtime policy also that the
// dataset streams unfinalized blocks; multi mode has no distinguished
// dataset and reports ready as long as the process serves.
func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Mode == ModeSingle {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		dsURL, err := g.datasetURL(g.cfg.ChainID)
		if err == nil {
			_, _, err = g.portal.Head(ctx, dsURL, false)
		}
		if err != nil {
			g.log.Warn("Readiness probe failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("portal unavailable\n"))
			return
		}
		if g.cfg.RealtimeMode == RealtimeRequired {
			meta, err := g.portal.Metadata(ctx, dsURL)
			if err != nil || meta == nil || !meta.RealTime {
				g.log.Warn("Readiness probe failed", "err", err, "realtime", meta != nil && meta.RealTime)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("dataset is not real-time\n"))
				return
			}
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (g *Gateway) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	var ids []uint64
	if g.cfg.Mode == ModeSingle {
		ids = []uint64{g.cfg.ChainID}
	} else {
		for _, c := range g.registry.All() {
			ids = append(ids, c.ID)
		}
	}
	methods := append([]string{}, portalMethods...)
	if g.cfg.upstreamEnabled() {
		methods = append(methods, g.exposedUpstreamMethods()...)
		sort.Strings(methods)
	}
	out := map[string]interface{}{
		"version":  version.WithMeta,
		"mode":     g.cfg.Mode,
		"chains":   ids,
		"methods":  methods,
		"upstream": g.cfg.upstreamEnabled(),
		"realtime": g.cfg.RealtimeMode,
	}
	enc, err := jstd.Marshal(out)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(enc)
}
