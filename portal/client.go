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

package portal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
	"github.com/klauspost/compress/gzhttp"

	"github.com/subsquid-labs/portal-evm-rpc/internal/reqctx"
	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

// DefaultAPIKeyHeader is used when no header name is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// Config holds the client knobs; zero values pick safe defaults.
type Config struct {
	APIKey           string
	APIKeyHeader     string
	Timeout          time.Duration // per-call deadline, covers whole streams
	MaxLineBytes     int
	MaxBytes         int
	MetadataTTL      time.Duration // 0 disables the process-wide cache
	NegotiableFields []string      // extends the built-in negotiable set
}

// Client talks to one or more portal datasets. It is safe for concurrent
// use; all per-request state lives on the stack.
type Client struct {
	hc           *http.Client
	apiKey       string
	apiKeyHeader string
	timeout      time.Duration
	maxLine      int
	maxBytes     int
	negotiable   mapset.Set[string]
	metaTTL      time.Duration
	metaCache    *lru.Cache[string, metaEntry]
	log          log.Logger
}

type metaEntry struct {
	meta    *Metadata
	fetched time.Time
}

// NewClient builds a portal client around a shared gzip-aware transport.
func NewClient(cfg Config) *Client {
	transport := gzhttp.Transport(&http.Transport{
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	})
	negotiable := mapset.NewSet[string]("authorizationList")
	for _, f := range cfg.NegotiableFields {
		if f = strings.TrimSpace(f); f != "" {
			negotiable.Add(f)
		}
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		hc:           &http.Client{Transport: transport},
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		timeout:      timeout,
		maxLine:      cfg.MaxLineBytes,
		maxBytes:     cfg.MaxBytes,
		negotiable:   negotiable,
		metaTTL:      cfg.MetadataTTL,
		log:          log.New("client", "portal"),
	}
	if cfg.MetadataTTL > 0 {
		c.metaCache = lru.NewCache[string, metaEntry](64)
	}
	return c
}

// NormalizeBaseURL strips trailing slashes and one trailing endpoint suffix,
// so operators can paste any portal URL form as the base.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	for _, suffix := range []string{"/stream", "/finalized-stream", "/head", "/finalized-head", "/metadata"} {
		if strings.HasSuffix(u, suffix) {
			u = strings.TrimSuffix(u, suffix)
			break
		}
	}
	return strings.TrimRight(u, "/")
}

// DatasetURL joins a base URL and a dataset name. A {dataset} placeholder in
// the base is substituted; otherwise the dataset is appended as a path
// segment.
func DatasetURL(base, dataset string) string {
	base = NormalizeBaseURL(base)
	if strings.Contains(base, "{dataset}") {
		return strings.ReplaceAll(base, "{dataset}", dataset)
	}
	return base + "/" + dataset
}

// Head returns the dataset head. With finalized=true it asks /finalized-head
// first and, if this portal predates the endpoint (404), falls back to /head
// once. The second return value reports whether the number is actually a
// finalized position.
func (c *Client) Head(ctx context.Context, dsURL string, finalized bool) (*Head, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !finalized {
		h, _, err := c.getHead(ctx, dsURL, "head")
		return h, false, err
	}
	h, status, err := c.getHead(ctx, dsURL, "finalized-head")
	if err == nil {
		return h, true, nil
	}
	if status != http.StatusNotFound {
		return nil, false, err
	}
	finalizedFallbackTotal.Inc()
	c.log.Warn("Portal has no finalized head, falling back to head", "url", dsURL)
	h, _, err = c.getHead(ctx, dsURL, "head")
	return h, false, err
}

func (c *Client) getHead(ctx context.Context, dsURL, endpoint string) (*Head, int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, dsURL+"/"+endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, statusError(resp)
	}
	var h Head
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&h); err != nil {
		return nil, resp.StatusCode, jsonrpc.ServerError("invalid portal head response")
	}
	return &h, resp.StatusCode, nil
}

// Metadata returns the dataset metadata, or nil when the portal does not
// expose the endpoint. Responses, including the nil one, are cached
// process-wide for the configured TTL.
func (c *Client) Metadata(ctx context.Context, dsURL string) (*Metadata, error) {
	if c.metaCache != nil {
		if e, ok := c.metaCache.Get(dsURL); ok && time.Since(e.fetched) < c.metaTTL {
			return e.meta, nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, dsURL+"/metadata", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req, "metadata")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta *Metadata
	switch resp.StatusCode {
	case http.StatusOK:
		meta = new(Metadata)
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(meta); err != nil {
			return nil, jsonrpc.ServerError("invalid portal metadata response")
		}
	case http.StatusNotFound:
		meta = nil
	default:
		return nil, statusError(resp)
	}
	if c.metaCache != nil {
		c.metaCache.Add(dsURL, metaEntry{meta: meta, fetched: time.Now()})
	}
	return meta, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, jsonrpc.ServerError("")
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	if tp := reqctx.Traceparent(ctx); tp != "" {
		req.Header.Set("traceparent", tp)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.hc.Do(req)
	portalLatencySeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		portalRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, jsonrpc.Unavailable("portal unavailable: timeout")
		}
		return nil, jsonrpc.Unavailable("portal unavailable")
	}
	portalRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// statusError translates a non-2xx portal response into the taxonomy.
func statusError(resp *http.Response) *jsonrpc.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	msg := bodyMessage(body)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return jsonrpc.InvalidParams(nonEmpty(msg, "bad request"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return jsonrpc.Unauthorized(nonEmpty(msg, "unauthorized"))
	case resp.StatusCode == http.StatusNotFound:
		return jsonrpc.NotFound(nonEmpty(msg, "requested data is not available"))
	case resp.StatusCode == http.StatusConflict:
		var payload struct {
			Message        string          `json:"message"`
			PreviousBlocks json.RawMessage `json:"previousBlocks"`
		}
		_ = json.Unmarshal(body, &payload)
		return jsonrpc.Conflict(nonEmpty(payload.Message, nonEmpty(msg, "portal data conflict")), payload.PreviousBlocks)
	case resp.StatusCode == http.StatusTooManyRequests:
		return jsonrpc.RateLimited(nonEmpty(msg, "Too Many Requests"))
	case resp.StatusCode >= 500:
		return jsonrpc.Unavailable(nonEmpty(msg, "portal unavailable"))
	default:
		return jsonrpc.ServerError("")
	}
}

// bodyMessage extracts a human-readable message from a portal error body,
// which is either {"message": ...} or plain text.
func bodyMessage(body []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(body))
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
