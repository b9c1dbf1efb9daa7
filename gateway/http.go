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
	"bytes"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	jsoniter "github.com/json-iterator/go"

	"github.com/subsquid-labs/portal-evm-rpc/internal/reqctx"
	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

var jstd = jsoniter.ConfigCompatibleWithStandardLibrary

// Response headers carrying the finalized-head hints observed on portal
// streams during the request.
const (
	headerFinalizedNumber = "X-Sqd-Finalized-Head-Number"
	headerFinalizedHash   = "X-Sqd-Finalized-Head-Hash"
)

// headHints keeps the first non-empty finalized-head value per key across
// every portal exchange of one gateway request.
type headHints struct {
	mu           sync.Mutex
	number, hash string
}

func (h *headHints) capture(number, hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.number == "" {
		h.number = number
	}
	if h.hash == "" {
		h.hash = hash
	}
}

func (h *headHints) apply(hdr http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.number != "" {
		hdr.Set(headerFinalizedNumber, h.number)
	}
	if h.hash != "" {
		hdr.Set(headerFinalizedHash, h.hash)
	}
}

// handleRPC is the JSON-RPC endpoint: admission, auth, body handling,
// dispatch and ordered response assembly.
func (g *Gateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !g.sem.TryAcquire(1) {
		g.writeError(w, jsonrpc.Overloaded())
		return
	}
	defer g.sem.Release(1)

	if g.cfg.APIKey != "" && r.Header.Get(g.cfg.APIKeyHeader) != g.cfg.APIKey {
		g.writeError(w, jsonrpc.Unauthorized("unauthorized"))
		return
	}

	chainID, rpcErr := g.resolveChain(r)
	if rpcErr != nil {
		g.writeError(w, rpcErr)
		return
	}
	body, rpcErr := readBody(r, g.cfg.MaxBodyBytes)
	if rpcErr != nil {
		g.writeError(w, rpcErr)
		return
	}

	raws, batch, perr := jsonrpc.Items(body)
	if perr != nil {
		g.writeError(w, perr)
		return
	}
	if batch && len(raws) == 0 {
		g.writeError(w, jsonrpc.InvalidRequest("empty batch"))
		return
	}

	ctx := reqctx.WithTraceparent(r.Context(), r.Header.Get("Traceparent"))
	hints := &headHints{}
	items := g.dispatch(ctx, chainID, raws, batch, hints)
	g.writeResponses(w, chainID, batch, items, hints)
}

// resolveChain picks the chain a request addresses. Multi mode takes the
// path parameter when routed through /v1/evm/{chainId}, the X-Chain-Id
// header otherwise; both accept decimal and 0x-hex.
func (g *Gateway) resolveChain(r *http.Request) (uint64, *jsonrpc.Error) {
	if g.cfg.Mode == ModeSingle {
		return g.cfg.ChainID, nil
	}
	raw := mux.Vars(r)["chainId"]
	if raw == "" {
		raw = r.Header.Get("X-Chain-Id")
	}
	if raw == "" {
		return 0, jsonrpc.InvalidRequest("missing chain id")
	}
	id, err := parseChainID(raw)
	if err != nil {
		return 0, jsonrpc.InvalidRequest("invalid chain id")
	}
	return id, nil
}

func parseChainID(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// readBody drains the request body under the configured cap, transparently
// inflating gzip payloads; the cap applies to the inflated size too.
func readBody(r *http.Request, limit int64) ([]byte, *jsonrpc.Error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !jsonContentType(ct) {
		return nil, jsonrpc.InvalidRequest("unsupported content type")
	}
	var src io.Reader = io.LimitReader(r.Body, limit+1)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, jsonrpc.InvalidRequest("invalid gzip body")
		}
		defer zr.Close()
		src = io.LimitReader(zr, limit+1)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, jsonrpc.InvalidRequest("invalid gzip body")
	}
	if int64(len(body)) > limit {
		return nil, jsonrpc.InvalidRequest("request body too large")
	}
	return body, nil
}

// jsonContentType accepts any application/*json* media type: plain json,
// json-rpc, vendored +json suffixes.
func jsonContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "application/") && strings.Contains(mt, "json")
}

// writeError responds with a single error object outside of any dispatch,
// for failures that precede per-item handling.
func (g *Gateway) writeError(w http.ResponseWriter, rpcErr *jsonrpc.Error) {
	errorsTotal.WithLabelValues(string(rpcErr.Kind)).Inc()
	enc, err := jsonrpc.ErrorResponse(nil, rpcErr).EncodeJSON()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rpcErr.Kind.HTTPStatus())
	w.Write(enc)
}

// writeResponses assembles per-item responses in payload order. The HTTP
// status is the maximum per-item status; a response set emptied by
// notifications is 204.
func (g *Gateway) writeResponses(w http.ResponseWriter, chainID uint64, batch bool, items []*batchItem, hints *headHints) {
	var (
		buf    bytes.Buffer
		status int
		n      int
	)
	chain := strconv.FormatUint(chainID, 10)
	if batch {
		buf.WriteByte('[')
	}
	for _, it := range items {
		if it.res == nil {
			continue
		}
		enc, err := it.res.EncodeJSON()
		if err != nil {
			it.res = jsonrpc.ErrorResponse(it.res.ID, jsonrpc.ServerError(""))
			enc, _ = it.res.EncodeJSON()
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(enc)
		n++

		s := it.res.HTTPStatus()
		if s > status {
			status = s
		}
		method := "invalid"
		if it.msg != nil {
			method = it.msg.Method
		}
		requestsTotal.WithLabelValues(method, chain, strconv.Itoa(s)).Inc()
		responseBytesTotal.WithLabelValues(method, chain).Add(float64(len(enc)))
		if it.res.Error != nil {
			errorsTotal.WithLabelValues(string(it.res.Error.Kind)).Inc()
		}
	}
	if batch {
		buf.WriteByte(']')
	}

	hints.apply(w.Header())
	if n == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
