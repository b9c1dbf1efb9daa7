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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subsquid-labs/portal-evm-rpc/portal"
)

func TestMemoHead(t *testing.T) {
	p := taggedPortal(t)
	c := portal.NewClient(portal.Config{})
	m := NewMemo()
	ctx := context.Background()

	h, fin, err := m.Head(ctx, c, p.srv.URL, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), h.Number)
	assert.False(t, fin)

	// same finality hits the memo, the other finality does not
	_, _, err = m.Head(ctx, c, p.srv.URL, false)
	require.NoError(t, err)
	assert.Equal(t, 1, p.headCalls)

	h, fin, err = m.Head(ctx, c, p.srv.URL, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), h.Number)
	assert.True(t, fin)
	assert.Equal(t, 2, p.headCalls)
}

func TestMemoHeadConcurrent(t *testing.T) {
	p := taggedPortal(t)
	c := portal.NewClient(portal.Config{})
	m := NewMemo()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, _, err := m.Head(context.Background(), c, p.srv.URL, false)
			assert.NoError(t, err)
			assert.Equal(t, uint64(100), h.Number)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, p.headCount())
}

func TestMemoHeadErrorNotCached(t *testing.T) {
	p := newFakePortal(t)
	url := p.srv.URL
	p.srv.Close()

	c := portal.NewClient(portal.Config{})
	m := NewMemo()
	_, _, err := m.Head(context.Background(), c, url, false)
	require.Error(t, err)

	// failures are not memoized; a later call may succeed
	_, _, err = m.Head(context.Background(), c, url, false)
	require.Error(t, err)
}

func TestMemoMetadata(t *testing.T) {
	p := taggedPortal(t)
	c := portal.NewClient(portal.Config{})
	m := NewMemo()
	ctx := context.Background()

	meta, err := m.Metadata(ctx, c, p.srv.URL)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "test", meta.Dataset)

	start, err := m.StartBlock(ctx, c, p.srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), start)
}

// nil metadata (portal without the endpoint) is a memoized answer too.
func TestMemoMetadataAbsent(t *testing.T) {
	p := newFakePortal(t)
	c := portal.NewClient(portal.Config{})
	m := NewMemo()
	ctx := context.Background()

	meta, err := m.Metadata(ctx, c, p.srv.URL)
	require.NoError(t, err)
	assert.Nil(t, meta)

	start, err := m.StartBlock(ctx, c, p.srv.URL)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)
}

func TestMemoUncles(t *testing.T) {
	m := NewMemo()
	calls := 0
	fetch := func() json.RawMessage {
		calls++
		return json.RawMessage(`["0xu"]`)
	}

	assert.Equal(t, json.RawMessage(`["0xu"]`), m.Uncles(7, fetch))
	assert.Equal(t, json.RawMessage(`["0xu"]`), m.Uncles(7, fetch))
	assert.Equal(t, 1, calls)

	m.Uncles(8, fetch)
	assert.Equal(t, 2, calls)
}
