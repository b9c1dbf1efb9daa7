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
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsquid-labs/portal-evm-rpc/internal/reqctx"
	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://portal.sqd.dev/datasets/ethereum-mainnet", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet/", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet///", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet/stream", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet/finalized-stream/", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet/head", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet/finalized-head", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/ethereum-mainnet/metadata", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"  https://portal.sqd.dev/datasets ", "https://portal.sqd.dev/datasets"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBaseURL(tt.in), "input %q", tt.in)
	}
}

func TestDatasetURL(t *testing.T) {
	tests := []struct {
		base, dataset, want string
	}{
		{"https://portal.sqd.dev/datasets", "ethereum-mainnet", "https://portal.sqd.dev/datasets/ethereum-mainnet"},
		{"https://portal.sqd.dev/datasets/", "base-mainnet", "https://portal.sqd.dev/datasets/base-mainnet"},
		{"https://portal.example.com/{dataset}/v1", "arbitrum-one", "https://portal.example.com/arbitrum-one/v1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DatasetURL(tt.base, tt.dataset), "base %q", tt.base)
	}
}

func TestHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/head", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"number":18000000,"hash":"0xdeadbeef"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	h, finalized, err := c.Head(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.False(t, finalized)
	assert.Equal(t, uint64(18000000), h.Number)
	assert.Equal(t, "0xdeadbeef", h.Hash)
}

func TestHeadFinalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/finalized-head", r.URL.Path)
		w.Write([]byte(`{"number":17999936,"hash":"0xfee1"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	h, finalized, err := c.Head(context.Background(), srv.URL, true)
	require.NoError(t, err)
	assert.True(t, finalized)
	assert.Equal(t, uint64(17999936), h.Number)
}

// Portals predating /finalized-head answer 404; the client falls back to
// /head and reports the position as unfinalized.
func TestHeadFinalizedFallback(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/finalized-head" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"number":42,"hash":"0x2a"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	h, finalized, err := c.Head(context.Background(), srv.URL, true)
	require.NoError(t, err)
	assert.False(t, finalized)
	assert.Equal(t, uint64(42), h.Number)
	assert.Equal(t, []string{"/finalized-head", "/head"}, paths)
}

func TestHeadFinalizedErrorNoFallback(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{})
	_, _, err := c.Head(context.Background(), srv.URL, true)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.KindUnavailable, rpcErr.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAPIKeyHeader(t *testing.T) {
	var defHeader, customHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defHeader = r.Header.Get(DefaultAPIKeyHeader)
		customHeader = r.Header.Get("Authorization")
		w.Write([]byte(`{"number":1,"hash":"0x01"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sqd-key"})
	_, _, err := c.Head(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.Equal(t, "sqd-key", defHeader)

	c = NewClient(Config{APIKey: "Bearer tok", APIKeyHeader: "Authorization"})
	_, _, err = c.Head(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", customHeader)
}

func TestTraceparentForwarding(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
		w.Write([]byte(`{"number":1,"hash":"0x01"}`))
	}))
	defer srv.Close()

	ctx := reqctx.WithTraceparent(context.Background(), "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	c := NewClient(Config{})
	_, _, err := c.Head(ctx, srv.URL, false)
	require.NoError(t, err)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", got)
}

func TestMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata", r.URL.Path)
		w.Write([]byte(`{"dataset":"ethereum-mainnet","aliases":["eth-main"],"real_time":true,"start_block":0}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	meta, err := c.Metadata(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "ethereum-mainnet", meta.Dataset)
	assert.Equal(t, []string{"eth-main"}, meta.Aliases)
	assert.True(t, meta.RealTime)
	require.NotNil(t, meta.StartBlock)
	assert.Equal(t, uint64(0), *meta.StartBlock)
}

// A portal without /metadata is not an error: the endpoint is optional and
// absence means "nothing known".
func TestMetadataNotExposed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{})
	meta, err := c.Metadata(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMetadataCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"dataset":"base-mainnet","real_time":false}`))
	}))
	defer srv.Close()

	c := NewClient(Config{MetadataTTL: time.Minute})
	for i := 0; i < 3; i++ {
		meta, err := c.Metadata(context.Background(), srv.URL)
		require.NoError(t, err)
		require.NotNil(t, meta)
		assert.Equal(t, "base-mainnet", meta.Dataset)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMetadataCachesAbsence(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{MetadataTTL: time.Minute})
	for i := 0; i < 2; i++ {
		meta, err := c.Metadata(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Nil(t, meta)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    jsonrpc.Kind
		message string
	}{
		{"bad request", http.StatusBadRequest, `{"message":"unknown field 'foo'"}`, jsonrpc.KindInvalidParams, "unknown field 'foo'"},
		{"unauthorized", http.StatusUnauthorized, "", jsonrpc.KindUnauthorized, "unauthorized"},
		{"forbidden", http.StatusForbidden, "key expired", jsonrpc.KindUnauthorized, "key expired"},
		{"not found", http.StatusNotFound, "", jsonrpc.KindNotFound, "requested data is not available"},
		{"rate limited", http.StatusTooManyRequests, "", jsonrpc.KindRateLimit, "Too Many Requests"},
		{"server error", http.StatusInternalServerError, "", jsonrpc.KindUnavailable, "portal unavailable"},
		{"maintenance", http.StatusServiceUnavailable, "maintenance", jsonrpc.KindUnavailable, "maintenance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{})
			_, _, err := c.Head(context.Background(), srv.URL, false)
			var rpcErr *jsonrpc.Error
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, tt.kind, rpcErr.Kind)
			assert.Equal(t, tt.message, rpcErr.Message)
		})
	}
}

func TestConflictCarriesPreviousBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"finalized head mismatch","previousBlocks":[{"number":90,"hash":"0x5a"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	_, _, err := c.Head(context.Background(), srv.URL, false)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.KindConflict, rpcErr.Kind)
	assert.Equal(t, "finalized head mismatch", rpcErr.Message)

	data, ok := rpcErr.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["retryable"])
	assert.Contains(t, data, "previousBlocks")
}

func TestPortalTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{Timeout: 50 * time.Millisecond})
	_, _, err := c.Head(context.Background(), srv.URL, false)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.KindUnavailable, rpcErr.Kind)
	assert.Equal(t, "portal unavailable: timeout", rpcErr.Message)
}

func TestPortalUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{})
	_, _, err := c.Head(context.Background(), url, false)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.KindUnavailable, rpcErr.Kind)
	assert.Equal(t, "portal unavailable", rpcErr.Message)
}
