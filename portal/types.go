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

// Package portal implements the client side of the SQD Portal block data
// service: dataset discovery, head tracking and NDJSON range streaming with
// finality fallback, field negotiation and continuity enforcement.
package portal

import "encoding/json"

// Head is the chain position reported by /head and /finalized-head.
type Head struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

// Metadata describes a dataset as reported by /metadata. Older portals do
// not expose the endpoint at all; callers must treat the whole struct as
// optional.
type Metadata struct {
	Dataset    string   `json:"dataset"`
	Aliases    []string `json:"aliases,omitempty"`
	RealTime   bool     `json:"real_time"`
	StartBlock *uint64  `json:"start_block,omitempty"`
}

// Block is one NDJSON stream record. The items present depend on the field
// selection and filters of the query that produced it.
//
// Quantity-like values are kept raw: the portal serves some of them as JSON
// numbers and some as decimal or hex strings depending on dataset age, and
// the response shaper owns the normalization rules.
type Block struct {
	Header       Header        `json:"header"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Logs         []Log         `json:"logs,omitempty"`
	Traces       []Trace       `json:"traces,omitempty"`
}

// Number returns the block number of the record.
func (b *Block) Number() uint64 { return b.Header.Number }

// Header carries the per-block columns.
type Header struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash,omitempty"`

	Timestamp       json.RawMessage `json:"timestamp,omitempty"`
	Nonce           json.RawMessage `json:"nonce,omitempty"`
	Difficulty      json.RawMessage `json:"difficulty,omitempty"`
	TotalDifficulty json.RawMessage `json:"totalDifficulty,omitempty"`
	Size            json.RawMessage `json:"size,omitempty"`
	GasLimit        json.RawMessage `json:"gasLimit,omitempty"`
	GasUsed         json.RawMessage `json:"gasUsed,omitempty"`
	BaseFeePerGas   json.RawMessage `json:"baseFeePerGas,omitempty"`
	BlobGasUsed     json.RawMessage `json:"blobGasUsed,omitempty"`
	ExcessBlobGas   json.RawMessage `json:"excessBlobGas,omitempty"`
	L1BlockNumber   json.RawMessage `json:"l1BlockNumber,omitempty"`

	Miner                 string `json:"miner,omitempty"`
	StateRoot             string `json:"stateRoot,omitempty"`
	TransactionsRoot      string `json:"transactionsRoot,omitempty"`
	ReceiptsRoot          string `json:"receiptsRoot,omitempty"`
	LogsBloom             string `json:"logsBloom,omitempty"`
	ExtraData             string `json:"extraData,omitempty"`
	Sha3Uncles            string `json:"sha3Uncles,omitempty"`
	MixHash               string `json:"mixHash,omitempty"`
	ParentBeaconBlockRoot string `json:"parentBeaconBlockRoot,omitempty"`
	WithdrawalsRoot       string `json:"withdrawalsRoot,omitempty"`

	Withdrawals json.RawMessage `json:"withdrawals,omitempty"`
}

// Transaction carries the per-transaction columns. Signature values stay raw
// so that explicit zeroes survive shaping verbatim.
type Transaction struct {
	TransactionIndex uint64  `json:"transactionIndex"`
	Hash             string  `json:"hash,omitempty"`
	From             string  `json:"from,omitempty"`
	To               *string `json:"to,omitempty"`
	Input            string  `json:"input,omitempty"`

	Nonce                json.RawMessage `json:"nonce,omitempty"`
	Value                json.RawMessage `json:"value,omitempty"`
	Gas                  json.RawMessage `json:"gas,omitempty"`
	GasPrice             json.RawMessage `json:"gasPrice,omitempty"`
	MaxFeePerGas         json.RawMessage `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas json.RawMessage `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerBlobGas     json.RawMessage `json:"maxFeePerBlobGas,omitempty"`
	Type                 json.RawMessage `json:"type,omitempty"`
	ChainID              json.RawMessage `json:"chainId,omitempty"`
	V                    json.RawMessage `json:"v,omitempty"`
	R                    json.RawMessage `json:"r,omitempty"`
	S                    json.RawMessage `json:"s,omitempty"`
	YParity              json.RawMessage `json:"yParity,omitempty"`
	AccessList           json.RawMessage `json:"accessList,omitempty"`
	AuthorizationList    json.RawMessage `json:"authorizationList,omitempty"`
	BlobVersionedHashes  json.RawMessage `json:"blobVersionedHashes,omitempty"`
}

// Log carries the per-log columns; block position comes from the record the
// log arrived in.
type Log struct {
	LogIndex         uint64   `json:"logIndex"`
	TransactionIndex uint64   `json:"transactionIndex"`
	TransactionHash  string   `json:"transactionHash,omitempty"`
	Address          string   `json:"address,omitempty"`
	Data             string   `json:"data,omitempty"`
	Topics           []string `json:"topics,omitempty"`
}

// Trace carries the per-trace columns. Newer portals serve nested action and
// result objects, older ones only the flat prefixed columns; the shaper
// merges both forms, so everything beyond identity fields stays raw.
type Trace struct {
	TransactionIndex *uint64         `json:"transactionIndex,omitempty"`
	Type             string          `json:"type,omitempty"`
	TraceAddress     []uint64        `json:"traceAddress"`
	Subtraces        json.RawMessage `json:"subtraces,omitempty"`
	Error            json.RawMessage `json:"error,omitempty"`
	RevertReason     *string         `json:"revertReason,omitempty"`

	Action map[string]json.RawMessage `json:"action,omitempty"`
	Result map[string]json.RawMessage `json:"result,omitempty"`

	CallFrom          json.RawMessage `json:"callFrom,omitempty"`
	CallTo            json.RawMessage `json:"callTo,omitempty"`
	CallValue         json.RawMessage `json:"callValue,omitempty"`
	CallGas           json.RawMessage `json:"callGas,omitempty"`
	CallInput         json.RawMessage `json:"callInput,omitempty"`
	CallType          json.RawMessage `json:"callType,omitempty"`
	CallResultGasUsed json.RawMessage `json:"callResultGasUsed,omitempty"`
	CallResultOutput  json.RawMessage `json:"callResultOutput,omitempty"`

	CreateFrom          json.RawMessage `json:"createFrom,omitempty"`
	CreateValue         json.RawMessage `json:"createValue,omitempty"`
	CreateGas           json.RawMessage `json:"createGas,omitempty"`
	CreateInit          json.RawMessage `json:"createInit,omitempty"`
	CreateResultGasUsed json.RawMessage `json:"createResultGasUsed,omitempty"`
	CreateResultCode    json.RawMessage `json:"createResultCode,omitempty"`
	CreateResultAddress json.RawMessage `json:"createResultAddress,omitempty"`

	SuicideAddress       json.RawMessage `json:"suicideAddress,omitempty"`
	SuicideRefundAddress json.RawMessage `json:"suicideRefundAddress,omitempty"`
	SuicideBalance       json.RawMessage `json:"suicideBalance,omitempty"`

	RewardAuthor json.RawMessage `json:"rewardAuthor,omitempty"`
	RewardValue  json.RawMessage `json:"rewardValue,omitempty"`
	RewardType   json.RawMessage `json:"rewardType,omitempty"`
}
