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
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

// StreamParams describes one range stream.
type StreamParams struct {
	DatasetURL string
	Finalized  bool
	Query      *Query

	// OnHeaders receives the finalized-head hints a response carries, once
	// per HTTP exchange. Callers keep the first non-empty pair.
	OnHeaders func(number, hash string)

	// OnBlock receives records in ascending block order. Returning an error
	// aborts the stream and is passed through to the StreamBlocks caller.
	OnBlock func(b *Block) error
}

// StreamBlocks runs a range stream against /stream or /finalized-stream.
//
// Unknown-field rejections for negotiable columns are retried once with the
// column stripped. When the query has a finite toBlock and is not a
// logs-only filter (or sets includeAllBlocks), records must form a
// contiguous run ending at toBlock; a stream cut short after progress is
// resumed exactly once from the last seen block, and a resume that does not
// advance fails with the retryable unavailable error. A stream that ends
// before its first record is an empty result, never an error: the caller
// decides what absence means.
func (c *Client) StreamBlocks(ctx context.Context, p StreamParams) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := *p.Query
	endpoint := "stream"
	if p.Finalized {
		endpoint = "finalized-stream"
	}
	enforce := q.ToBlock != nil && (q.IncludeAllBlocks || !q.LogsOnly())

	var (
		last       *uint64
		negotiated bool
		resumed    bool
	)
	for {
		resp, err := c.openStream(ctx, p.DatasetURL+"/"+endpoint, endpoint, &q)
		if err != nil {
			if name, ok := UnknownField(err); ok && !negotiated && c.negotiable.Contains(name) && q.Fields.Strip(name) {
				negotiated = true
				c.log.Debug("Retrying portal stream without unknown field", "field", name)
				continue
			}
			return err
		}
		if resp == nil { // 204: the range holds nothing (or nothing anymore)
			if last == nil {
				return nil
			}
			return jsonrpc.Unavailable("portal stream interrupted")
		}

		emitHeadHints(resp.Header, p.OnHeaders)
		next, gap, err := c.consume(resp, &q, enforce, last, p.OnBlock)
		if err != nil {
			return err
		}
		emitHeadHints(resp.Trailer, p.OnHeaders)
		last = next

		if !enforce {
			return nil
		}
		if !gap {
			if last == nil {
				return nil // empty result
			}
			if *last >= *q.ToBlock {
				return nil // range covered
			}
		}
		if resumed {
			return jsonrpc.Unavailable("portal stream interrupted")
		}
		resumed = true
		if last != nil {
			q.FromBlock = *last + 1
		}
		c.log.Debug("Resuming portal stream", "url", p.DatasetURL, "from", q.FromBlock, "to", *q.ToBlock)
	}
}

func (c *Client) openStream(ctx context.Context, url, endpoint string, q *Query) (*http.Response, error) {
	body, err := jstd.Marshal(q)
	if err != nil {
		return nil, jsonrpc.ServerError("")
	}
	req, rerr := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	if rerr != nil {
		return nil, rerr
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, derr := c.do(req, endpoint)
	if derr != nil {
		return nil, derr
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNoContent:
		resp.Body.Close()
		return nil, nil
	default:
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
}

// consume forwards records until the stream ends, an ordering gap appears or
// a record past toBlock shows up. It returns the highest block forwarded and
// whether it stopped because of a gap.
func (c *Client) consume(resp *http.Response, q *Query, enforce bool, last *uint64, onBlock func(*Block) error) (*uint64, bool, error) {
	defer resp.Body.Close()

	br := NewBlockReader(resp.Body, c.maxLine, c.maxBytes)
	for {
		b, err := br.Read()
		if err != nil {
			if err == io.EOF {
				return last, false, nil
			}
			return last, false, err
		}
		n := b.Number()
		if q.ToBlock != nil && n > *q.ToBlock {
			return last, false, nil
		}
		if enforce {
			switch {
			case last == nil && n != q.FromBlock:
				return last, true, nil
			case last != nil && n != *last+1:
				return last, true, nil
			}
		} else if last != nil && n < *last {
			// out-of-order record on an unenforced stream: drop it
			continue
		}
		if err := onBlock(b); err != nil {
			return last, false, err
		}
		seen := n
		last = &seen
	}
}

var unknownFieldRe = regexp.MustCompile("unknown field\\s+[`'\"]?([A-Za-z0-9_]+)")

// UnknownField extracts the offending column name from a portal bad-request
// error, when the body names one. Callers with an upstream endpoint may
// treat such errors as retriable there.
func UnknownField(err error) (string, bool) {
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok || rpcErr.Kind != jsonrpc.KindInvalidParams {
		return "", false
	}
	m := unknownFieldRe.FindStringSubmatch(rpcErr.Message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func emitHeadHints(h http.Header, fn func(string, string)) {
	if fn == nil || h == nil {
		return
	}
	num, hash := h.Get("finalizedHeadNumber"), h.Get("finalizedHeadHash")
	if num != "" || hash != "" {
		fn(num, hash)
	}
}
