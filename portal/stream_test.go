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
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

func uintp(n uint64) *uint64 { return &n }

func blockLine(n uint64) string {
	return fmt.Sprintf(`{"header":{"number":%d,"hash":"0x%02x","parentHash":"0x%02x"}}`, n, n, n-1)
}

// streamServer replays one canned NDJSON response per request and records
// the decoded queries it saw.
type streamServer struct {
	*httptest.Server
	queries   []Query
	responses []func(w http.ResponseWriter)
}

func newStreamServer(t *testing.T, responses ...func(w http.ResponseWriter)) *streamServer {
	t.Helper()
	s := &streamServer{responses: responses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var q Query
		require.NoError(t, jstd.Unmarshal(body, &q))
		s.queries = append(s.queries, q)

		i := len(s.queries) - 1
		require.Less(t, i, len(s.responses), "unexpected extra request")
		s.responses[i](w)
	}))
	return s
}

func serveBlocks(nums ...uint64) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		var sb strings.Builder
		for _, n := range nums {
			sb.WriteString(blockLine(n))
			sb.WriteByte('\n')
		}
		w.Write([]byte(sb.String()))
	}
}

func serveStatus(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func collectStream(t *testing.T, c *Client, p StreamParams) ([]uint64, error) {
	t.Helper()
	var got []uint64
	p.OnBlock = func(b *Block) error {
		got = append(got, b.Number())
		return nil
	}
	err := c.StreamBlocks(context.Background(), p)
	return got, err
}

func TestStreamBlocks(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5, 6))
	defer srv.Close()

	q := NewQuery(5, uintp(6))
	q.Fields.Block = BlockAllFields()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: q})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, got)

	require.Len(t, srv.queries, 1)
	sent := srv.queries[0]
	assert.Equal(t, "evm", sent.Type)
	assert.Equal(t, uint64(5), sent.FromBlock)
	require.NotNil(t, sent.ToBlock)
	assert.Equal(t, uint64(6), *sent.ToBlock)
	assert.True(t, sent.Fields.Block["number"])
}

func TestStreamBlocksFinalizedEndpoint(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))
		w.Write([]byte(blockLine(9) + "\n"))
	}))
	defer srv.Close()

	q := NewQuery(9, uintp(9))
	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Finalized: true, Query: q})
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, got)
	assert.Equal(t, "/finalized-stream", path)
}

// 204 on the first exchange is an empty range, not a failure.
func TestStreamBlocksEmptyRange(t *testing.T) {
	srv := newStreamServer(t, serveStatus(http.StatusNoContent, ""))
	defer srv.Close()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: NewQuery(5, uintp(6))})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStreamBlocksDropsPastToBlock(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5, 6, 7))
	defer srv.Close()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: NewQuery(5, uintp(6))})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, got)
}

// A stream cut short after progress resumes once from the block after the
// last seen one.
func TestStreamBlocksResumesTruncatedStream(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5), serveBlocks(6))
	defer srv.Close()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: NewQuery(5, uintp(6))})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, got)

	require.Len(t, srv.queries, 2)
	assert.Equal(t, uint64(5), srv.queries[0].FromBlock)
	assert.Equal(t, uint64(6), srv.queries[1].FromBlock)
}

func TestStreamBlocksResumeClosesGap(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5, 7), serveBlocks(6, 7))
	defer srv.Close()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: NewQuery(5, uintp(7))})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6, 7}, got)

	require.Len(t, srv.queries, 2)
	assert.Equal(t, uint64(6), srv.queries[1].FromBlock)
}

// A resume that makes no progress means the portal cannot serve the range
// right now; the caller gets the retryable interruption error.
func TestStreamBlocksResumeWithoutProgress(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5), serveStatus(http.StatusNoContent, ""))
	defer srv.Close()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: NewQuery(5, uintp(6))})
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.KindUnavailable, rpcErr.Kind)
	assert.Equal(t, "portal stream interrupted", rpcErr.Message)
	assert.Equal(t, []uint64{5}, got)
	assert.Len(t, srv.queries, 2)
}

func TestStreamBlocksResumesOnlyOnce(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5), serveBlocks(6), serveBlocks(7))
	defer srv.Close()

	_, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: NewQuery(5, uintp(8))})
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "portal stream interrupted", rpcErr.Message)
	assert.Len(t, srv.queries, 2)
}

// Logs-only filters skip blocks with no matches, so continuity is not
// enforced and a sparse stream completes in one exchange.
func TestStreamBlocksLogsOnlyNotEnforced(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(6))
	defer srv.Close()

	q := NewQuery(5, uintp(8))
	q.Logs = []LogRequest{{Address: []string{"0x11"}}}
	q.Fields.Log = LogAllFields()

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: q})
	require.NoError(t, err)
	assert.Equal(t, []uint64{6}, got)
	assert.Len(t, srv.queries, 1)
}

func TestStreamBlocksIncludeAllBlocksEnforced(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5, 6), serveStatus(http.StatusNoContent, ""))
	defer srv.Close()

	q := NewQuery(5, uintp(8))
	q.IncludeAllBlocks = true
	q.Logs = []LogRequest{{}}

	_, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: q})
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "portal stream interrupted", rpcErr.Message)
}

// Unknown negotiable columns are stripped and the stream retried once, so
// newer field selections degrade gracefully against older portals.
func TestStreamBlocksNegotiatesUnknownField(t *testing.T) {
	srv := newStreamServer(t,
		serveStatus(http.StatusBadRequest, `{"message":"unknown field `+"`authorizationList`"+`"}`),
		serveBlocks(5),
	)
	defer srv.Close()

	q := NewQuery(5, uintp(5))
	q.Fields.Transaction = TxAllFields()
	q.Transactions = []TxRequest{{}}

	got, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: q})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, got)

	require.Len(t, srv.queries, 2)
	assert.True(t, srv.queries[0].Fields.Transaction["authorizationList"])
	assert.NotContains(t, srv.queries[1].Fields.Transaction, "authorizationList")
}

func TestStreamBlocksNegotiatesConfiguredField(t *testing.T) {
	srv := newStreamServer(t,
		serveStatus(http.StatusBadRequest, `{"message":"unknown field 'l1BlockNumber'"}`),
		serveBlocks(5),
	)
	defer srv.Close()

	q := NewQuery(5, uintp(5))
	q.Fields.Block = BlockAllFields()

	c := NewClient(Config{NegotiableFields: []string{"l1BlockNumber"}})
	got, err := collectStream(t, c, StreamParams{DatasetURL: srv.URL, Query: q})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, got)
	assert.NotContains(t, srv.queries[1].Fields.Block, "l1BlockNumber")
}

// Non-negotiable rejections surface as invalid_params instead of being
// retried forever.
func TestStreamBlocksUnknownFieldNotNegotiable(t *testing.T) {
	srv := newStreamServer(t,
		serveStatus(http.StatusBadRequest, `{"message":"unknown field 'number'"}`),
	)
	defer srv.Close()

	q := NewQuery(5, uintp(5))
	q.Fields.Block = BlockAllFields()

	_, err := collectStream(t, NewClient(Config{}), StreamParams{DatasetURL: srv.URL, Query: q})
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.KindInvalidParams, rpcErr.Kind)
	assert.Len(t, srv.queries, 1)
}

func TestStreamBlocksHeadHints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("finalizedHeadNumber", "18000000")
		w.Header().Set("finalizedHeadHash", "0xabc")
		w.Write([]byte(blockLine(5) + "\n"))
	}))
	defer srv.Close()

	var num, hash string
	q := NewQuery(5, uintp(5))
	err := NewClient(Config{}).StreamBlocks(context.Background(), StreamParams{
		DatasetURL: srv.URL,
		Query:      q,
		OnHeaders: func(n, h string) {
			if num == "" {
				num, hash = n, h
			}
		},
		OnBlock: func(*Block) error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "18000000", num)
	assert.Equal(t, "0xabc", hash)
}

func TestStreamBlocksCallbackErrorAborts(t *testing.T) {
	srv := newStreamServer(t, serveBlocks(5, 6))
	defer srv.Close()

	abort := jsonrpc.RangeTooLarge(1)
	var seen int
	err := NewClient(Config{}).StreamBlocks(context.Background(), StreamParams{
		DatasetURL: srv.URL,
		Query:      NewQuery(5, uintp(6)),
		OnBlock: func(*Block) error {
			seen++
			return abort
		},
	})
	assert.Equal(t, abort, err)
	assert.Equal(t, 1, seen)
}

func TestUnknownField(t *testing.T) {
	tests := []struct {
		err   error
		field string
		ok    bool
	}{
		{jsonrpc.InvalidParams("unknown field `authorizationList`"), "authorizationList", true},
		{jsonrpc.InvalidParams(`unknown field "l1BlockNumber" in query`), "l1BlockNumber", true},
		{jsonrpc.InvalidParams("unknown field 'topics'"), "topics", true},
		{jsonrpc.InvalidParams("unknown field yParity"), "yParity", true},
		{jsonrpc.InvalidParams("toBlock out of range"), "", false},
		{jsonrpc.ServerError("unknown field `x`"), "", false},
		{errors.New("unknown field `x`"), "", false},
	}
	for _, tt := range tests {
		field, ok := UnknownField(tt.err)
		assert.Equal(t, tt.ok, ok, "error %v", tt.err)
		assert.Equal(t, tt.field, field, "error %v", tt.err)
	}
}

func TestFieldSelectionStrip(t *testing.T) {
	fs := FieldSelection{
		Block:       BlockIDFields(),
		Transaction: TxAllFields(),
	}
	assert.True(t, fs.Strip("authorizationList"))
	assert.NotContains(t, fs.Transaction, "authorizationList")
	assert.False(t, fs.Strip("authorizationList"))
	assert.False(t, fs.Strip("noSuchColumn"))
}

func TestQueryLogsOnly(t *testing.T) {
	q := NewQuery(1, nil)
	assert.False(t, q.LogsOnly())

	q.Logs = []LogRequest{{}}
	assert.True(t, q.LogsOnly())

	q.Transactions = []TxRequest{{}}
	assert.False(t, q.LogsOnly())
}
