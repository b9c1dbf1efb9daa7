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
	"context"
	"encoding/json"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/subsquid-labs/portal-evm-rpc/internal/ethapi"
	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

// batchItem tracks one payload element through dispatch. msg is nil when
// the element was not a valid call; res stays nil for notifications.
type batchItem struct {
	msg  *jsonrpc.Message
	plan *ethapi.RangeCall
	res  *jsonrpc.Message
}

// dispatch decodes and serves every payload element, returning them in
// order. Batches run through the coalescer first; whatever it leaves behind
// is served item by item. Singletons skip the coalescer.
func (g *Gateway) dispatch(ctx context.Context, chainID uint64, raws []json.RawMessage, batch bool, hints *headHints) []*batchItem {
	items := make([]*batchItem, len(raws))
	for i, raw := range raws {
		it := &batchItem{}
		msg, derr := jsonrpc.Decode(raw)
		switch {
		case derr != nil:
			it.res = jsonrpc.InvalidItemResponse()
		case msg.IsNotification():
			// processed as far as validation; no response, no dispatch
		default:
			it.msg = msg
		}
		items[i] = it
	}

	env, envErr := g.newEnv(chainID, hints)
	if envErr != nil {
		for _, it := range items {
			if it.msg != nil {
				it.res = jsonrpc.ErrorResponse(it.msg.ID, envErr)
			}
		}
		return items
	}

	if batch {
		g.coalesce(ctx, env, items)
	}
	g.dispatchRest(ctx, env, items)
	return items
}

// newEnv builds the per-request call environment. Dataset resolution
// failure poisons the whole payload with the same error.
func (g *Gateway) newEnv(chainID uint64, hints *headHints) (*ethapi.CallEnv, *jsonrpc.Error) {
	dsURL, err := g.datasetURL(chainID)
	if err != nil {
		return nil, jsonrpc.FromError(err)
	}
	return &ethapi.CallEnv{
		ChainID:     chainID,
		DatasetURL:  dsURL,
		Memo:        ethapi.NewMemo(),
		OnHeadHints: hints.capture,
	}, nil
}

// groupKey buckets block-anchored calls that one stream can serve.
type groupKey struct {
	kind         ethapi.RangeKind
	useFinalized bool
	fullTx       bool
}

// coalesce plans every block-anchored item and serves each group of plans
// with as few portal streams as the requested numbers allow. Items it
// cannot take on (other methods, proxied forms, plan failures) are left for
// individual dispatch.
func (g *Gateway) coalesce(ctx context.Context, env *ethapi.CallEnv, items []*batchItem) {
	groups := map[groupKey][]*batchItem{}
	for _, it := range items {
		if it.msg == nil || it.res != nil {
			continue
		}
		switch it.msg.Method {
		case "eth_getBlockByNumber", "eth_getTransactionByBlockNumberAndIndex", "trace_block":
		default:
			continue
		}
		plan, err := g.api.PlanCall(ctx, env, it.msg.Method, it.msg.Params)
		if err != nil {
			it.res = jsonrpc.ErrorResponse(it.msg.ID, jsonrpc.FromError(err))
			continue
		}
		if plan.Proxy {
			continue
		}
		if plan.BelowStart {
			it.res = jsonrpc.NewRawResponse(it.msg.ID, plan.MissingResult())
			continue
		}
		it.plan = plan
		key := groupKey{plan.Kind, plan.UseFinalized, plan.FullTx}
		groups[key] = append(groups[key], it)
	}

	for key, members := range groups {
		g.serveGroup(ctx, env, key, members)
	}
}

// serveGroup partitions the group's block numbers into maximal contiguous
// segments and streams each segment once.
func (g *Gateway) serveGroup(ctx context.Context, env *ethapi.CallEnv, key groupKey, members []*batchItem) {
	byNumber := map[uint64][]*batchItem{}
	numbers := make([]uint64, 0, len(members))
	for _, it := range members {
		n := it.plan.Number
		if _, seen := byNumber[n]; !seen {
			numbers = append(numbers, n)
		}
		byNumber[n] = append(byNumber[n], it)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for lo := 0; lo < len(numbers); {
		hi := lo
		for hi+1 < len(numbers) && numbers[hi+1] == numbers[hi]+1 {
			hi++
		}
		g.serveSegment(ctx, env, key, numbers[lo:hi+1], byNumber)
		lo = hi + 1
	}
}

// serveSegment streams one contiguous run of blocks and shapes every member
// item from the shared records. A stream failure fails every member the
// same way.
func (g *Gateway) serveSegment(ctx context.Context, env *ethapi.CallEnv, key groupKey, segment []uint64, byNumber map[uint64][]*batchItem) {
	sctx, cancel := context.WithTimeout(ctx, g.cfg.HandlerTimeout)
	defer cancel()

	blocks, err := g.api.FetchRange(sctx, env, key.kind, segment[0], segment[len(segment)-1], key.useFinalized, key.fullTx)
	if err != nil {
		rpcErr := finishErr(sctx, err)
		for _, n := range segment {
			for _, it := range byNumber[n] {
				it.res = jsonrpc.ErrorResponse(it.msg.ID, rpcErr)
			}
		}
		return
	}
	for _, n := range segment {
		for _, it := range byNumber[n] {
			res, serr := g.api.ShapeCall(sctx, env, it.plan, blocks)
			if serr != nil {
				it.res = jsonrpc.ErrorResponse(it.msg.ID, jsonrpc.FromError(serr))
				continue
			}
			it.res = jsonrpc.NewRawResponse(it.msg.ID, res)
		}
	}
}

// dispatchRest serves the remaining items concurrently, each under its own
// handler deadline.
func (g *Gateway) dispatchRest(ctx context.Context, env *ethapi.CallEnv, items []*batchItem) {
	var eg errgroup.Group
	eg.SetLimit(g.cfg.MaxItemConcurrency)
	for _, it := range items {
		if it.msg == nil || it.res != nil {
			continue
		}
		it := it
		eg.Go(func() error {
			it.res = g.serveItem(ctx, env, it.msg)
			return nil
		})
	}
	eg.Wait()
}

// serveItem runs one call; plan-level routing happens inside the API.
func (g *Gateway) serveItem(ctx context.Context, env *ethapi.CallEnv, msg *jsonrpc.Message) *jsonrpc.Message {
	ictx, cancel := context.WithTimeout(ctx, g.cfg.HandlerTimeout)
	defer cancel()

	res, err := g.api.Handle(ictx, env, msg.Method, msg.Params)
	if err != nil {
		return jsonrpc.ErrorResponse(msg.ID, finishErr(ictx, err))
	}
	return jsonrpc.NewRawResponse(msg.ID, res)
}

// finishErr maps a handler failure to its wire error. A fired item deadline
// overrides whatever the aborted call reported.
func finishErr(ctx context.Context, err error) *jsonrpc.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return jsonrpc.Timeout()
	}
	return jsonrpc.FromError(err)
}
