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

// Package upstream proxies single JSON-RPC calls to a standard EVM node for
// the methods the portal cannot answer, translating remote errors into the
// local taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"github.com/subsquid-labs/portal-evm-rpc/internal/reqctx"
	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

// Config selects the upstream endpoints. Fallback stays off unless Enabled
// is set and an endpoint resolves for the chain.
type Config struct {
	Enabled    bool
	URL        string            // global endpoint
	URLByChain map[uint64]string // per-chain endpoints, take precedence
	Timeout    time.Duration
	RateLimit  float64 // client-side requests/sec toward upstream, 0 = unlimited
}

// Client is a minimal single-shot JSON-RPC HTTP client.
type Client struct {
	hc      *http.Client
	cfg     Config
	limiter *rate.Limiter
	nextID  atomic.Uint64
	log     log.Logger
}

// NewClient builds the client; it is usable even when disabled, Call then
// fails with unsupported_method so handlers can surface a uniform error.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}
	return &Client{
		hc:      &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)},
		cfg:     cfg,
		limiter: limiter,
		log:     log.New("client", "upstream"),
	}
}

// Enabled reports whether fallback is available for the chain.
func (c *Client) Enabled(chainID uint64) bool {
	return c.cfg.Enabled && c.endpoint(chainID) != ""
}

func (c *Client) endpoint(chainID uint64) string {
	if url, ok := c.cfg.URLByChain[chainID]; ok && url != "" {
		return url
	}
	return c.cfg.URL
}

type request struct {
	Version string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *remoteError    `json:"error"`
}

type remoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call proxies one request and returns the raw result. Remote errors come
// back as taxonomy errors keyed on the remote code, with object data
// preserved verbatim.
func (c *Client) Call(ctx context.Context, chainID uint64, method string, params json.RawMessage) (json.RawMessage, error) {
	url := c.endpoint(chainID)
	if !c.cfg.Enabled || url == "" {
		return nil, jsonrpc.UnsupportedMethod()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, jsonrpc.Unavailable("upstream unavailable: timeout")
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(&request{
		Version: jsonrpc.Vsn,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, jsonrpc.ServerError("")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, jsonrpc.ServerError("")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if tp := reqctx.Traceparent(ctx); tp != "" {
		req.Header.Set("traceparent", tp)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, jsonrpc.Unavailable("upstream unavailable: timeout")
		}
		return nil, jsonrpc.Unavailable("upstream unavailable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, jsonrpc.Unavailable("upstream unavailable: read failed")
	}
	var out response
	if len(raw) == 0 || json.Unmarshal(raw, &out) != nil {
		return nil, httpError(resp.StatusCode)
	}
	if out.Error != nil {
		return nil, translate(out.Error)
	}
	if out.Result == nil {
		out.Result = json.RawMessage("null")
	}
	return out.Result, nil
}

// translate maps a remote JSON-RPC error into the local taxonomy, keeping
// the remote message and any object-shaped data.
func translate(re *remoteError) *jsonrpc.Error {
	var kind jsonrpc.Kind
	switch re.Code {
	case -32700, -32600:
		kind = jsonrpc.KindInvalidRequest
	case -32602:
		kind = jsonrpc.KindInvalidParams
	case -32601:
		kind = jsonrpc.KindUnsupportedMethod
	case -32016:
		kind = jsonrpc.KindUnauthorized
	case -32005:
		kind = jsonrpc.KindRateLimit
	case -32014:
		kind = jsonrpc.KindNotFound
	default:
		kind = jsonrpc.KindServerError
	}
	msg := re.Message
	if msg == "" {
		msg = "server error"
	}
	err := &jsonrpc.Error{Kind: kind, Message: msg}
	if isObject(re.Data) {
		err.Data = re.Data
	}
	return err
}

func httpError(status int) *jsonrpc.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return jsonrpc.Unauthorized("unauthorized")
	case status == http.StatusTooManyRequests:
		return jsonrpc.RateLimited("Too Many Requests")
	case status >= 500:
		return jsonrpc.Unavailable("upstream unavailable")
	default:
		return jsonrpc.ServerError("")
	}
}

func isObject(raw json.RawMessage) bool {
	for _, c := range raw {
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c == '{'
	}
	return false
}
