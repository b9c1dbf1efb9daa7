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

// Query is the POST body of /stream and /finalized-stream.
type Query struct {
	Type             string         `json:"type"`
	FromBlock        uint64         `json:"fromBlock"`
	ToBlock          *uint64        `json:"toBlock,omitempty"`
	IncludeAllBlocks bool           `json:"includeAllBlocks,omitempty"`
	Fields           FieldSelection `json:"fields"`
	Logs             []LogRequest   `json:"logs,omitempty"`
	Transactions     []TxRequest    `json:"transactions,omitempty"`
	Traces           []TraceRequest `json:"traces,omitempty"`
}

// NewQuery returns an EVM range query.
func NewQuery(from uint64, to *uint64) *Query {
	return &Query{Type: "evm", FromBlock: from, ToBlock: to}
}

// LogsOnly reports whether the query filters logs and nothing else; such
// streams legitimately skip blocks unless includeAllBlocks is set.
func (q *Query) LogsOnly() bool {
	return len(q.Logs) > 0 && len(q.Transactions) == 0 && len(q.Traces) == 0
}

// FieldSelection names the columns the portal should return per table.
type FieldSelection struct {
	Block       map[string]bool `json:"block,omitempty"`
	Transaction map[string]bool `json:"transaction,omitempty"`
	Log         map[string]bool `json:"log,omitempty"`
	Trace       map[string]bool `json:"trace,omitempty"`
}

// Strip removes a column from every table of the selection. It returns true
// when the column was present somewhere. Used by unknown-field negotiation.
func (fs *FieldSelection) Strip(name string) bool {
	found := false
	for _, m := range []map[string]bool{fs.Block, fs.Transaction, fs.Log, fs.Trace} {
		if _, ok := m[name]; ok {
			delete(m, name)
			found = true
		}
	}
	return found
}

// LogRequest filters the log table. Empty slices match everything;
// per-position topic lists are OR-ed, positions are AND-ed.
type LogRequest struct {
	Address []string `json:"address,omitempty"`
	Topic0  []string `json:"topic0,omitempty"`
	Topic1  []string `json:"topic1,omitempty"`
	Topic2  []string `json:"topic2,omitempty"`
	Topic3  []string `json:"topic3,omitempty"`
}

// TxRequest filters the transaction table; the empty filter matches all
// transactions of a block.
type TxRequest struct{}

// TraceRequest filters the trace table; the empty filter matches all traces.
type TraceRequest struct{}

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// BlockAllFields selects every header column an RPC block shape consumes.
func BlockAllFields() map[string]bool {
	return setOf(
		"number", "hash", "parentHash", "timestamp", "nonce",
		"difficulty", "totalDifficulty", "size", "gasLimit", "gasUsed",
		"baseFeePerGas", "blobGasUsed", "excessBlobGas", "l1BlockNumber",
		"miner", "stateRoot", "transactionsRoot", "receiptsRoot",
		"logsBloom", "extraData", "sha3Uncles", "mixHash",
		"parentBeaconBlockRoot", "withdrawalsRoot",
	)
}

// BlockMinimalFields selects just enough to anchor items to a block.
func BlockMinimalFields() map[string]bool {
	return setOf("number", "hash", "parentHash", "timestamp")
}

// BlockIDFields selects block identity only, for queries whose payload
// lives in another table.
func BlockIDFields() map[string]bool {
	return setOf("number", "hash")
}

// TxAllFields selects every transaction column an RPC transaction shape
// consumes. authorizationList is negotiable: portals predating it reject the
// name and the client strips it on retry.
func TxAllFields() map[string]bool {
	return setOf(
		"transactionIndex", "hash", "nonce", "from", "to", "input",
		"value", "gas", "gasPrice", "maxFeePerGas", "maxPriorityFeePerGas",
		"maxFeePerBlobGas", "type", "chainId", "v", "r", "s", "yParity",
		"accessList", "authorizationList", "blobVersionedHashes",
	)
}

// TxHashFields selects transaction identity only.
func TxHashFields() map[string]bool {
	return setOf("transactionIndex", "hash")
}

// LogAllFields selects every log column.
func LogAllFields() map[string]bool {
	return setOf(
		"logIndex", "transactionIndex", "transactionHash",
		"address", "data", "topics",
	)
}

// TraceAllFields selects every trace column, covering both the nested and
// the flat column layouts.
func TraceAllFields() map[string]bool {
	return setOf(
		"transactionIndex", "type", "subtraces", "traceAddress",
		"error", "revertReason",
		"callFrom", "callTo", "callValue", "callGas", "callInput",
		"callType", "callResultGasUsed", "callResultOutput",
		"createFrom", "createValue", "createGas", "createInit",
		"createResultGasUsed", "createResultCode", "createResultAddress",
		"suicideAddress", "suicideRefundAddress", "suicideBalance",
		"rewardAuthor", "rewardValue", "rewardType",
	)
}
