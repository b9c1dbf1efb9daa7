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

package ethapi

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
	"github.com/subsquid-labs/portal-evm-rpc/portal"
)

// maxSafeBlock caps tags at JSON's exactly-representable integer range.
const maxSafeBlock = uint64(1)<<53 - 1

// BlockTag is a resolved block selector: a concrete height plus whether it
// was reached through a finalized tag, which routes the read to the
// finalized portal endpoints.
type BlockTag struct {
	Number       uint64
	UseFinalized bool
}

// parseBlockTag resolves a block tag parameter against the dataset. Named
// tags resolve through the request memo so a batch does one head lookup;
// "pending" is rejected, numeric tags are bounded.
func (api *API) parseBlockTag(ctx context.Context, env *CallEnv, raw json.RawMessage) (BlockTag, error) {
	var v interface{}
	if len(raw) > 0 {
		if err := jnum.Unmarshal(raw, &v); err != nil {
			return BlockTag{}, jsonrpc.InvalidParams("invalid block number")
		}
	}
	if s, ok := v.(string); ok || v == nil {
		switch s {
		case "", "latest":
			h, _, err := env.Memo.Head(ctx, api.portal, env.DatasetURL, false)
			if err != nil {
				return BlockTag{}, err
			}
			return BlockTag{Number: h.Number}, nil
		case "finalized", "safe":
			h, finalized, err := env.Memo.Head(ctx, api.portal, env.DatasetURL, true)
			if err != nil {
				return BlockTag{}, err
			}
			return BlockTag{Number: h.Number, UseFinalized: finalized}, nil
		case "earliest":
			start, err := env.Memo.StartBlock(ctx, api.portal, env.DatasetURL)
			if err != nil {
				return BlockTag{}, err
			}
			return BlockTag{Number: start}, nil
		case "pending":
			return BlockTag{}, jsonrpc.InvalidParams("pending block not found")
		}
	}
	n, err := parseQuantity(v)
	if err != nil || n == nil {
		return BlockTag{}, jsonrpc.InvalidParams("invalid block number")
	}
	return api.boundedTag(n)
}

func (api *API) boundedTag(n *big.Int) (BlockTag, error) {
	if !n.IsUint64() || n.Uint64() > maxSafeBlock || n.Uint64() > api.cfg.MaxBlockNumber {
		return BlockTag{}, jsonrpc.InvalidParams("invalid block number")
	}
	return BlockTag{Number: n.Uint64()}, nil
}

// parseTransactionIndex accepts a hex or decimal index parameter.
func parseTransactionIndex(raw json.RawMessage) (uint64, error) {
	var v interface{}
	if len(raw) == 0 {
		return 0, jsonrpc.InvalidParams("invalid transaction index")
	}
	if err := jnum.Unmarshal(raw, &v); err != nil {
		return 0, jsonrpc.InvalidParams("invalid transaction index")
	}
	n, err := parseQuantity(v)
	if err != nil || n == nil || !n.IsUint64() {
		return 0, jsonrpc.InvalidParams("invalid transaction index")
	}
	return n.Uint64(), nil
}

// LogFilter is a validated eth_getLogs criteria object. Either BlockHash is
// set, or the [From,To] range is resolved, bounded and normalized.
type LogFilter struct {
	From         uint64
	To           uint64
	UseFinalized bool
	Addresses    []string
	Topics       [][]string
	BlockHash    string
}

// parseLogFilter validates an eth_getLogs parameter object. Tag resolution
// defaults mirror the standard surface: a missing toBlock is the current
// head (finalized when fromBlock picked a finalized tag), a missing
// fromBlock collapses to toBlock.
func (api *API) parseLogFilter(ctx context.Context, env *CallEnv, raw json.RawMessage) (*LogFilter, error) {
	var in struct {
		BlockHash *string         `json:"blockHash"`
		FromBlock json.RawMessage `json:"fromBlock"`
		ToBlock   json.RawMessage `json:"toBlock"`
		Address   interface{}     `json:"address"`
		Topics    []interface{}   `json:"topics"`
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := jstd.Unmarshal(raw, &in); err != nil {
		return nil, jsonrpc.InvalidParams("invalid filter")
	}

	f := &LogFilter{}
	var err error
	if f.Addresses, err = parseAddresses(in.Address); err != nil {
		return nil, err
	}
	if len(f.Addresses) > api.cfg.MaxLogAddresses {
		return nil, jsonrpc.TooManyAddresses()
	}
	if f.Topics, err = parseTopics(in.Topics); err != nil {
		return nil, err
	}

	if in.BlockHash != nil {
		if isPresent(in.FromBlock) || isPresent(in.ToBlock) {
			return nil, jsonrpc.InvalidParams("cannot specify both blockHash and fromBlock/toBlock")
		}
		hash, err := hexBytes("block hash", *in.BlockHash, 32)
		if err != nil {
			return nil, err
		}
		f.BlockHash = hash
		return f, nil
	}

	var from *BlockTag
	if isPresent(in.FromBlock) {
		tag, err := api.parseBlockTag(ctx, env, in.FromBlock)
		if err != nil {
			return nil, err
		}
		from = &tag
	}
	var to BlockTag
	if isPresent(in.ToBlock) {
		if to, err = api.parseBlockTag(ctx, env, in.ToBlock); err != nil {
			return nil, err
		}
	} else {
		finalized := from != nil && from.UseFinalized
		h, fin, herr := env.Memo.Head(ctx, api.portal, env.DatasetURL, finalized)
		if herr != nil {
			return nil, herr
		}
		to = BlockTag{Number: h.Number, UseFinalized: finalized && fin}
	}
	if from == nil {
		from = &BlockTag{Number: to.Number, UseFinalized: to.UseFinalized}
	}

	if from.Number > to.Number {
		return nil, jsonrpc.InvalidParams("invalid block range")
	}
	if rng := to.Number - from.Number + 1; rng > api.cfg.MaxLogBlockRange {
		return nil, jsonrpc.RangeTooLarge(api.cfg.MaxLogBlockRange)
	}
	f.From, f.To, f.UseFinalized = from.Number, to.Number, to.UseFinalized
	return f, nil
}

// isPresent reports whether the raw value is present and not JSON null.
func isPresent(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	for _, c := range raw {
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c != 'n'
	}
	return false
}

// parseAddresses accepts a single address or an array of them.
func parseAddresses(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		a, err := hexBytes("address", x, 20)
		if err != nil {
			return nil, err
		}
		return []string{a}, nil
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, jsonrpc.InvalidParams("invalid address")
			}
			a, err := hexBytes("address", s, 20)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return nil, jsonrpc.InvalidParams("invalid address")
	}
}

// parseTopics accepts up to four positions; each is null (wildcard), a
// topic, or a list of alternatives. Nulls inside a list widen it to a
// wildcard and are dropped.
func parseTopics(v []interface{}) ([][]string, error) {
	if len(v) > 4 {
		return nil, jsonrpc.InvalidParams("too many topics")
	}
	if len(v) == 0 {
		return nil, nil
	}
	out := make([][]string, len(v))
	for i, slot := range v {
		switch t := slot.(type) {
		case nil:
			out[i] = nil
		case string:
			topic, err := hexBytes("topic", t, 32)
			if err != nil {
				return nil, err
			}
			out[i] = []string{topic}
		case []interface{}:
			for _, e := range t {
				if e == nil {
					out[i] = nil
					break
				}
				s, ok := e.(string)
				if !ok {
					return nil, jsonrpc.InvalidParams("invalid topic")
				}
				topic, err := hexBytes("topic", s, 32)
				if err != nil {
					return nil, err
				}
				out[i] = append(out[i], topic)
			}
		default:
			return nil, jsonrpc.InvalidParams("invalid topic")
		}
	}
	return out, nil
}

// portalLogRequest translates the filter for the portal's log table.
func (f *LogFilter) portalLogRequest() portal.LogRequest {
	req := portal.LogRequest{Address: f.Addresses}
	slots := [](*[]string){&req.Topic0, &req.Topic1, &req.Topic2, &req.Topic3}
	for i, topics := range f.Topics {
		if i >= len(slots) {
			break
		}
		*slots[i] = topics
	}
	return req
}
