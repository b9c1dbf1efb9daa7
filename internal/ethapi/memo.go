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
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/subsquid-labs/portal-evm-rpc/portal"
)

// Memo deduplicates portal lookups within one inbound request. Batch items
// resolving the same tag share a single head call, concurrent items share
// in-flight lookups, and the whole thing is dropped when the request ends.
type Memo struct {
	group singleflight.Group

	mu      sync.Mutex
	heads   map[string]headResult
	metas   map[string]*portal.Metadata
	metaSet map[string]bool
	uncles  map[string]json.RawMessage
}

type headResult struct {
	head      *portal.Head
	finalized bool
}

// NewMemo returns an empty request memo.
func NewMemo() *Memo {
	return &Memo{
		heads:   make(map[string]headResult),
		metas:   make(map[string]*portal.Metadata),
		metaSet: make(map[string]bool),
		uncles:  make(map[string]json.RawMessage),
	}
}

// Head returns the (finalized) head for the dataset, fetching at most once
// per request per finality.
func (m *Memo) Head(ctx context.Context, c *portal.Client, dsURL string, finalized bool) (*portal.Head, bool, error) {
	key := fmt.Sprintf("head|%v|%s", finalized, dsURL)

	m.mu.Lock()
	if r, ok := m.heads[key]; ok {
		m.mu.Unlock()
		return r.head, r.finalized, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		h, fin, err := c.Head(ctx, dsURL, finalized)
		if err != nil {
			return nil, err
		}
		r := headResult{head: h, finalized: fin}
		m.mu.Lock()
		m.heads[key] = r
		m.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(headResult)
	return r.head, r.finalized, nil
}

// Metadata returns the dataset metadata (nil when the portal has none),
// fetching at most once per request.
func (m *Memo) Metadata(ctx context.Context, c *portal.Client, dsURL string) (*portal.Metadata, error) {
	key := "meta|" + dsURL

	m.mu.Lock()
	if m.metaSet[dsURL] {
		meta := m.metas[dsURL]
		m.mu.Unlock()
		return meta, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		meta, err := c.Metadata(ctx, dsURL)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.metas[dsURL] = meta
		m.metaSet[dsURL] = true
		m.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	meta, _ := v.(*portal.Metadata)
	return meta, nil
}

// Uncles shares upstream uncle lookups between items touching the same
// block. fetch runs at most once per block number.
func (m *Memo) Uncles(number uint64, fetch func() json.RawMessage) json.RawMessage {
	key := fmt.Sprintf("uncles|%d", number)

	m.mu.Lock()
	if u, ok := m.uncles[key]; ok {
		m.mu.Unlock()
		return u
	}
	m.mu.Unlock()

	v, _, _ := m.group.Do(key, func() (interface{}, error) {
		u := fetch()
		m.mu.Lock()
		m.uncles[key] = u
		m.mu.Unlock()
		return u, nil
	})
	u, _ := v.(json.RawMessage)
	return u
}

// StartBlock resolves the dataset's first available block, zero when
// unknown.
func (m *Memo) StartBlock(ctx context.Context, c *portal.Client, dsURL string) (uint64, error) {
	meta, err := m.Metadata(ctx, c, dsURL)
	if err != nil {
		return 0, err
	}
	if meta == nil || meta.StartBlock == nil {
		return 0, nil
	}
	return *meta.StartBlock, nil
}
