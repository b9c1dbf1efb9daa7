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

// Package chains maps EVM chain ids to Portal dataset names. The mapping is
// assembled once at startup and is immutable afterwards; every request
// resolves exactly one (chainId, dataset) pair through it.
package chains

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

//go:embed chains.yaml
var builtinYAML []byte

// Chain is one registry entry.
type Chain struct {
	ID      uint64 `yaml:"id" json:"chainId"`
	Name    string `yaml:"name" json:"name,omitempty"`
	Dataset string `yaml:"dataset" json:"dataset"`
}

type chainFile struct {
	Chains []Chain `yaml:"chains"`
}

// Builtin returns the embedded default table.
func Builtin() ([]Chain, error) {
	var f chainFile
	if err := yaml.Unmarshal(builtinYAML, &f); err != nil {
		return nil, errors.Wrap(err, "builtin chain registry")
	}
	return f.Chains, nil
}

// Registry resolves chain ids to datasets. The dataset mapping is bijective:
// construction fails on a duplicated id or dataset.
type Registry struct {
	byID   map[uint64]Chain
	sorted []Chain
}

// NewRegistry builds a registry from the given entries. Later entries win on
// id (so runtime overrides replace built-ins) but two distinct ids may not
// share a dataset.
func NewRegistry(entries []Chain) (*Registry, error) {
	byID := make(map[uint64]Chain, len(entries))
	for _, c := range entries {
		if c.Dataset == "" {
			return nil, errors.Errorf("chain %d has no dataset", c.ID)
		}
		if prev, ok := byID[c.ID]; ok && c.Name == "" {
			c.Name = prev.Name
		}
		byID[c.ID] = c
	}
	byDataset := make(map[string]uint64, len(byID))
	for id, c := range byID {
		if prev, ok := byDataset[c.Dataset]; ok {
			return nil, errors.Errorf("dataset %q mapped to chains %d and %d", c.Dataset, prev, id)
		}
		byDataset[c.Dataset] = id
	}
	sorted := make([]Chain, 0, len(byID))
	for _, c := range byID {
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Registry{byID: byID, sorted: sorted}, nil
}

// Dataset resolves a chain id. Unknown chains are not_found: the request is
// well formed, this deployment just does not serve that chain.
func (r *Registry) Dataset(chainID uint64) (string, error) {
	c, ok := r.byID[chainID]
	if !ok {
		return "", jsonrpc.NotFound(fmt.Sprintf("no dataset for chain %d", chainID))
	}
	return c.Dataset, nil
}

// Has reports whether the chain is served.
func (r *Registry) Has(chainID uint64) bool {
	_, ok := r.byID[chainID]
	return ok
}

// All returns the entries ordered by chain id.
func (r *Registry) All() []Chain { return r.sorted }

// Len returns the number of served chains.
func (r *Registry) Len() int { return len(r.byID) }
