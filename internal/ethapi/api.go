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

// Package ethapi serves the Ethereum JSON-RPC read surface from portal range
// streams, with optional fallthrough to a standard EVM endpoint for the
// by-hash methods the portal cannot answer.
package ethapi

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
	"github.com/subsquid-labs/portal-evm-rpc/portal"
	"github.com/subsquid-labs/portal-evm-rpc/upstream"
)

// Config bounds the validation rules of the surface.
type Config struct {
	MaxLogBlockRange uint64 // widest eth_getLogs range, inclusive
	MaxLogAddresses  int    // most addresses per eth_getLogs filter
	MaxBlockNumber   uint64 // highest accepted block number
	IncludeAllBlocks bool   // force the portal to emit every block of a log range

	// UpstreamMethods restricts which by-hash methods are exposed when an
	// upstream endpoint is configured. Empty exposes all of them. Internal
	// fallthrough (pending tags, uncle enrichment) is not affected.
	UpstreamMethods []string
}

const (
	DefaultMaxLogBlockRange = 10_000
	DefaultMaxLogAddresses  = 100
)

// API answers JSON-RPC calls for one or more chains. It is stateless apart
// from the shared clients; per-request state travels in a CallEnv.
type API struct {
	portal   *portal.Client
	upstream *upstream.Client
	cfg      Config
	exposed  map[string]bool // nil exposes every by-hash method
	log      log.Logger
}

// New returns an API over the given clients. Zero config fields take the
// surface defaults.
func New(portalClient *portal.Client, upstreamClient *upstream.Client, cfg Config) *API {
	if cfg.MaxLogBlockRange == 0 {
		cfg.MaxLogBlockRange = DefaultMaxLogBlockRange
	}
	if cfg.MaxLogAddresses == 0 {
		cfg.MaxLogAddresses = DefaultMaxLogAddresses
	}
	if cfg.MaxBlockNumber == 0 || cfg.MaxBlockNumber > maxSafeBlock {
		cfg.MaxBlockNumber = maxSafeBlock
	}
	var exposed map[string]bool
	if len(cfg.UpstreamMethods) > 0 {
		exposed = make(map[string]bool, len(cfg.UpstreamMethods))
		for _, m := range cfg.UpstreamMethods {
			exposed[m] = true
		}
	}
	return &API{
		portal:   portalClient,
		upstream: upstreamClient,
		cfg:      cfg,
		exposed:  exposed,
		log:      log.New("service", "ethapi"),
	}
}

// CallEnv is the per-request context of one JSON-RPC item: the chain it
// addresses, the dataset serving it, and the memo shared across a batch.
type CallEnv struct {
	ChainID    uint64
	DatasetURL string
	Memo       *Memo

	// OnHeadHints receives finalized-head hints observed on portal streams.
	OnHeadHints func(number, hash string)
}

// Handle dispatches one JSON-RPC call and returns its raw result.
func (api *API) Handle(ctx context.Context, env *CallEnv, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "eth_chainId":
		return jstd.Marshal(hexutil.EncodeUint64(env.ChainID))

	case "eth_blockNumber":
		h, _, err := env.Memo.Head(ctx, api.portal, env.DatasetURL, false)
		if err != nil {
			return nil, err
		}
		return jstd.Marshal(hexutil.EncodeUint64(h.Number))

	case "eth_getLogs":
		res, err := api.getLogs(ctx, env, params)
		return api.withFieldFallback(ctx, env, method, params, res, err)

	case "eth_getBlockByNumber", "eth_getTransactionByBlockNumberAndIndex", "trace_block":
		call, err := api.PlanCall(ctx, env, method, params)
		if err != nil {
			return nil, err
		}
		if call.Proxy {
			return api.proxy(ctx, env, method, params)
		}
		res, err := api.ExecCall(ctx, env, call)
		return api.withFieldFallback(ctx, env, method, params, res, err)

	case "eth_getBlockByHash", "eth_getTransactionByHash", "eth_getTransactionReceipt", "trace_transaction":
		if api.exposed != nil && !api.exposed[method] {
			return nil, jsonrpc.UnsupportedMethod()
		}
		return api.proxy(ctx, env, method, params)

	default:
		return nil, jsonrpc.UnsupportedMethod()
	}
}

// RangeKind selects the portal field set of a block-anchored call.
type RangeKind int

const (
	RangeBlocks RangeKind = iota
	RangeTxs
	RangeTraces
)

// RangeCall is a validated block-anchored call. The batch coalescer groups
// RangeCalls by (Kind, UseFinalized, FullTx) and serves whole contiguous
// runs with a single stream; ExecCall serves one on its own.
type RangeCall struct {
	Kind         RangeKind
	Number       uint64
	UseFinalized bool
	FullTx       bool   // blocks only
	TxIndex      uint64 // transactions only

	// BelowStart marks a block under the dataset's first available one;
	// served as missing without touching the stream endpoint.
	BelowStart bool

	// Proxy marks a pending or block-hash form that an upstream endpoint
	// can answer. Such calls never coalesce.
	Proxy bool
}

// MissingResult is the result of a call whose block the portal does not
// have.
func (call *RangeCall) MissingResult() json.RawMessage {
	if call.Kind == RangeTraces {
		return json.RawMessage("[]")
	}
	return json.RawMessage("null")
}

// PlanCall validates a block-anchored method's params and resolves its tag.
// It returns nil for methods that are not block-anchored.
func (api *API) PlanCall(ctx context.Context, env *CallEnv, method string, params json.RawMessage) (*RangeCall, error) {
	items, err := parseParams(params)
	if err != nil {
		return nil, err
	}
	call := &RangeCall{}
	var tagRaw json.RawMessage

	switch method {
	case "eth_getBlockByNumber":
		call.Kind = RangeBlocks
		if len(items) == 0 {
			return nil, jsonrpc.InvalidParams("missing block number")
		}
		tagRaw = items[0]
		if len(items) > 1 && isPresent(items[1]) {
			if err := jstd.Unmarshal(items[1], &call.FullTx); err != nil {
				return nil, jsonrpc.InvalidParams("invalid full transaction flag")
			}
		}

	case "eth_getTransactionByBlockNumberAndIndex":
		call.Kind = RangeTxs
		if len(items) < 2 {
			return nil, jsonrpc.InvalidParams("missing block number or transaction index")
		}
		tagRaw = items[0]
		if call.TxIndex, err = parseTransactionIndex(items[1]); err != nil {
			return nil, err
		}

	case "trace_block":
		call.Kind = RangeTraces
		if len(items) == 0 {
			return nil, jsonrpc.InvalidParams("missing block number")
		}
		tagRaw = items[0]
		if isBlockHashTag(tagRaw) {
			if api.upstreamEnabled(env) {
				call.Proxy = true
				return call, nil
			}
			return nil, jsonrpc.InvalidParams("blockHash not supported")
		}

	default:
		return nil, nil
	}

	if isPendingTag(tagRaw) {
		if api.upstreamEnabled(env) {
			call.Proxy = true
			return call, nil
		}
		return nil, jsonrpc.InvalidParams("pending block not found")
	}
	tag, err := api.parseBlockTag(ctx, env, tagRaw)
	if err != nil {
		return nil, err
	}
	call.Number, call.UseFinalized = tag.Number, tag.UseFinalized

	start, err := env.Memo.StartBlock(ctx, api.portal, env.DatasetURL)
	if err != nil {
		api.log.Warn("Dataset metadata unavailable", "dataset", env.DatasetURL, "err", err)
	} else {
		call.BelowStart = call.Number < start
	}
	return call, nil
}

// ExecCall serves one planned call with a single-block stream.
func (api *API) ExecCall(ctx context.Context, env *CallEnv, call *RangeCall) (json.RawMessage, error) {
	if call.BelowStart {
		return call.MissingResult(), nil
	}
	blocks, err := api.FetchRange(ctx, env, call.Kind, call.Number, call.Number, call.UseFinalized, call.FullTx)
	if err != nil {
		return nil, err
	}
	return api.ShapeCall(ctx, env, call, blocks)
}

// FetchRange streams the inclusive range [from,to] once with the field set
// the kind requires and indexes the records by number. Every block of the
// range is requested whether or not it has matching items; absence from the
// result means the portal does not have it.
func (api *API) FetchRange(ctx context.Context, env *CallEnv, kind RangeKind, from, to uint64, finalized, fullTx bool) (map[uint64]*portal.Block, error) {
	q := portal.NewQuery(from, &to)
	q.IncludeAllBlocks = true
	q.Transactions = []portal.TxRequest{{}}
	switch kind {
	case RangeBlocks:
		q.Fields.Block = portal.BlockAllFields()
		if fullTx {
			q.Fields.Transaction = portal.TxAllFields()
		} else {
			q.Fields.Transaction = portal.TxHashFields()
		}
	case RangeTxs:
		q.Fields.Block = portal.BlockMinimalFields()
		q.Fields.Transaction = portal.TxAllFields()
	case RangeTraces:
		q.Fields.Block = portal.BlockIDFields()
		q.Fields.Transaction = portal.TxHashFields()
		q.Fields.Trace = portal.TraceAllFields()
		q.Traces = []portal.TraceRequest{{}}
	}

	blocks := make(map[uint64]*portal.Block, to-from+1)
	err := api.portal.StreamBlocks(ctx, portal.StreamParams{
		DatasetURL: env.DatasetURL,
		Finalized:  finalized,
		Query:      q,
		OnHeaders:  env.OnHeadHints,
		OnBlock: func(b *portal.Block) error {
			blocks[b.Number()] = b
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// ShapeCall renders one planned call's result from indexed range records.
func (api *API) ShapeCall(ctx context.Context, env *CallEnv, call *RangeCall, blocks map[uint64]*portal.Block) (json.RawMessage, error) {
	b := blocks[call.Number]
	if b == nil {
		return call.MissingResult(), nil
	}

	switch call.Kind {
	case RangeBlocks:
		uncles := api.unclesFor(ctx, env, call.Number)
		fields, err := marshalBlock(b, call.FullTx, uncles)
		if err != nil {
			return nil, err
		}
		return jstd.Marshal(fields)

	case RangeTxs:
		txs := b.Transactions
		if i := int(call.TxIndex); call.TxIndex < uint64(len(txs)) && txs[i].TransactionIndex == call.TxIndex {
			return api.marshalTxResult(&txs[i], b)
		}
		for i := range txs {
			if txs[i].TransactionIndex == call.TxIndex {
				return api.marshalTxResult(&txs[i], b)
			}
		}
		return json.RawMessage("null"), nil

	case RangeTraces:
		hashes := make(map[uint64]string, len(b.Transactions))
		for i := range b.Transactions {
			hashes[b.Transactions[i].TransactionIndex] = b.Transactions[i].Hash
		}
		out := make([]interface{}, 0, len(b.Traces))
		for i := range b.Traces {
			out = append(out, marshalTrace(&b.Traces[i], b.Header.Hash, b.Header.Number, hashes))
		}
		return jstd.Marshal(out)
	}
	return nil, jsonrpc.ServerError("")
}

func (api *API) marshalTxResult(tx *portal.Transaction, b *portal.Block) (json.RawMessage, error) {
	out, err := marshalTx(tx, b.Header.Hash, b.Header.Number)
	if err != nil {
		return nil, err
	}
	return jstd.Marshal(out)
}

func (api *API) getLogs(ctx context.Context, env *CallEnv, params json.RawMessage) (json.RawMessage, error) {
	items, err := parseParams(params)
	if err != nil {
		return nil, err
	}
	var filterRaw json.RawMessage
	if len(items) > 0 {
		filterRaw = items[0]
	}
	f, err := api.parseLogFilter(ctx, env, filterRaw)
	if err != nil {
		return nil, err
	}
	if f.BlockHash != "" {
		if api.upstreamEnabled(env) {
			return api.upstream.Call(ctx, env.ChainID, "eth_getLogs", params)
		}
		return nil, jsonrpc.InvalidParams("blockHash filter not supported")
	}

	start, serr := env.Memo.StartBlock(ctx, api.portal, env.DatasetURL)
	switch {
	case serr != nil:
		api.log.Warn("Dataset metadata unavailable", "dataset", env.DatasetURL, "err", serr)
	case f.To < start:
		return json.RawMessage("[]"), nil
	case f.From < start:
		f.From = start
	}

	to := f.To
	q := portal.NewQuery(f.From, &to)
	q.IncludeAllBlocks = api.cfg.IncludeAllBlocks
	q.Fields.Block = portal.BlockIDFields()
	q.Fields.Log = portal.LogAllFields()
	q.Logs = []portal.LogRequest{f.portalLogRequest()}

	logs := []*RPCLog{}
	err = api.portal.StreamBlocks(ctx, portal.StreamParams{
		DatasetURL: env.DatasetURL,
		Finalized:  f.UseFinalized,
		Query:      q,
		OnHeaders:  env.OnHeadHints,
		OnBlock: func(b *portal.Block) error {
			for i := range b.Logs {
				logs = append(logs, marshalLog(&b.Logs[i], b.Header.Hash, b.Header.Number))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return jstd.Marshal(logs)
}

// unclesFor fetches a block's uncle hashes from the upstream endpoint,
// shared across batch items through the memo. Without an upstream, or when
// the lookup fails, the surface reports an empty list.
func (api *API) unclesFor(ctx context.Context, env *CallEnv, number uint64) json.RawMessage {
	if !api.upstreamEnabled(env) {
		return nil
	}
	return env.Memo.Uncles(number, func() json.RawMessage {
		params, _ := jstd.Marshal([]interface{}{hexutil.EncodeUint64(number), false})
		res, err := api.upstream.Call(ctx, env.ChainID, "eth_getBlockByNumber", params)
		if err != nil {
			api.log.Warn("Uncle enrichment failed", "block", number, "err", err)
			return nil
		}
		var out struct {
			Uncles json.RawMessage `json:"uncles"`
		}
		if err := jstd.Unmarshal(res, &out); err != nil || !isPresent(out.Uncles) {
			return nil
		}
		return out.Uncles
	})
}

func (api *API) proxy(ctx context.Context, env *CallEnv, method string, params json.RawMessage) (json.RawMessage, error) {
	if !api.upstreamEnabled(env) {
		return nil, jsonrpc.UnsupportedMethod()
	}
	return api.upstream.Call(ctx, env.ChainID, method, params)
}

func (api *API) upstreamEnabled(env *CallEnv) bool {
	return api.upstream != nil && api.upstream.Enabled(env.ChainID)
}

// withFieldFallback retries a call upstream when the portal rejected a
// column this build considers required, typically an old portal behind a
// new dataset.
func (api *API) withFieldFallback(ctx context.Context, env *CallEnv, method string, params json.RawMessage, res json.RawMessage, err error) (json.RawMessage, error) {
	if err == nil || !api.upstreamEnabled(env) {
		return res, err
	}
	if _, ok := portal.UnknownField(err); !ok {
		return res, err
	}
	api.log.Warn("Portal rejected a required column, retrying upstream", "method", method, "err", err)
	return api.upstream.Call(ctx, env.ChainID, method, params)
}

// parseParams splits positional params. Absent and null are an empty list.
func parseParams(raw json.RawMessage) ([]json.RawMessage, error) {
	if !isPresent(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := jstd.Unmarshal(raw, &items); err != nil {
		return nil, jsonrpc.InvalidParams("params must be an array")
	}
	return items, nil
}

func isPendingTag(raw json.RawMessage) bool {
	var s string
	if jstd.Unmarshal(raw, &s) != nil {
		return false
	}
	return s == "pending"
}

func isBlockHashTag(raw json.RawMessage) bool {
	var s string
	if jstd.Unmarshal(raw, &s) != nil {
		return false
	}
	return len(s) == 66 && hexBytesRe.MatchString(s)
}
