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
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/subsquid-labs/portal-evm-rpc/portal"
)

// RPCTransaction is the canonical transaction shape. Quantities are
// pre-rendered hex strings; optional fields are omitted when the portal did
// not serve them, except To, whose null marks contract creation.
type RPCTransaction struct {
	BlockHash        string  `json:"blockHash"`
	BlockNumber      string  `json:"blockNumber"`
	TransactionIndex string  `json:"transactionIndex"`
	Hash             string  `json:"hash"`
	From             string  `json:"from"`
	To               *string `json:"to"`
	Nonce            string  `json:"nonce"`
	Value            string  `json:"value"`
	Input            string  `json:"input"`
	Gas              string  `json:"gas"`
	Type             string  `json:"type"`

	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	MaxFeePerBlobGas     string `json:"maxFeePerBlobGas,omitempty"`
	ChainID              string `json:"chainId,omitempty"`
	YParity              string `json:"yParity,omitempty"`
	V                    string `json:"v,omitempty"`
	R                    string `json:"r,omitempty"`
	S                    string `json:"s,omitempty"`

	AccessList          json.RawMessage `json:"accessList,omitempty"`
	AuthorizationList   json.RawMessage `json:"authorizationList,omitempty"`
	BlobVersionedHashes json.RawMessage `json:"blobVersionedHashes,omitempty"`
}

// RPCLog is the canonical log shape; removed is always false because the
// portal never serves reorged-out data.
type RPCLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	BlockHash        string   `json:"blockHash"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// marshalBlock renders a full block object. uncles nil means no enrichment
// data, which the surface reports as an empty list.
func marshalBlock(b *portal.Block, fullTx bool, uncles json.RawMessage) (map[string]interface{}, error) {
	h := &b.Header
	fields := map[string]interface{}{
		"number":     hexutil.EncodeUint64(h.Number),
		"hash":       h.Hash,
		"parentHash": h.ParentHash,
	}

	var err error
	if fields["nonce"], err = nonceHex(h.Nonce); err != nil {
		return nil, err
	}
	always := []struct {
		key string
		raw json.RawMessage
	}{
		{"timestamp", h.Timestamp},
		{"gasLimit", h.GasLimit},
		{"gasUsed", h.GasUsed},
		{"size", h.Size},
		{"difficulty", h.Difficulty},
	}
	for _, f := range always {
		if fields[f.key], err = qtyHex(f.raw); err != nil {
			return nil, err
		}
	}
	optional := []struct {
		key string
		raw json.RawMessage
	}{
		{"totalDifficulty", h.TotalDifficulty},
		{"baseFeePerGas", h.BaseFeePerGas},
		{"blobGasUsed", h.BlobGasUsed},
		{"excessBlobGas", h.ExcessBlobGas},
		{"l1BlockNumber", h.L1BlockNumber},
	}
	for _, f := range optional {
		v, qerr := qtyHexIfSet(f.raw)
		if qerr != nil {
			return nil, qerr
		}
		if v != "" {
			fields[f.key] = v
		}
	}
	verbatim := map[string]string{
		"miner":                 h.Miner,
		"stateRoot":             h.StateRoot,
		"transactionsRoot":      h.TransactionsRoot,
		"receiptsRoot":          h.ReceiptsRoot,
		"logsBloom":             h.LogsBloom,
		"extraData":             h.ExtraData,
		"sha3Uncles":            h.Sha3Uncles,
		"mixHash":               h.MixHash,
		"parentBeaconBlockRoot": h.ParentBeaconBlockRoot,
		"withdrawalsRoot":       h.WithdrawalsRoot,
	}
	for k, v := range verbatim {
		if v != "" {
			fields[k] = v
		}
	}
	if len(h.Withdrawals) > 0 {
		fields["withdrawals"] = h.Withdrawals
	}

	if uncles != nil {
		fields["uncles"] = uncles
	} else {
		fields["uncles"] = []string{}
	}

	txs := sortedTxs(b.Transactions)
	if fullTx {
		out := make([]interface{}, 0, len(txs))
		for i := range txs {
			tx, terr := marshalTx(&txs[i], h.Hash, h.Number)
			if terr != nil {
				return nil, terr
			}
			out = append(out, tx)
		}
		fields["transactions"] = out
	} else {
		hashes := make([]string, 0, len(txs))
		for i := range txs {
			hashes = append(hashes, txs[i].Hash)
		}
		fields["transactions"] = hashes
	}
	return fields, nil
}

func sortedTxs(txs []portal.Transaction) []portal.Transaction {
	if sort.SliceIsSorted(txs, func(i, j int) bool {
		return txs[i].TransactionIndex < txs[j].TransactionIndex
	}) {
		return txs
	}
	sorted := make([]portal.Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TransactionIndex < sorted[j].TransactionIndex
	})
	return sorted
}

// marshalTx renders a canonical transaction anchored to its block.
func marshalTx(tx *portal.Transaction, blockHash string, blockNumber uint64) (*RPCTransaction, error) {
	out := &RPCTransaction{
		BlockHash:        blockHash,
		BlockNumber:      hexutil.EncodeUint64(blockNumber),
		TransactionIndex: hexutil.EncodeUint64(tx.TransactionIndex),
		Hash:             tx.Hash,
		From:             tx.From,
		To:               tx.To,
		Input:            tx.Input,

		AccessList:          tx.AccessList,
		AuthorizationList:   tx.AuthorizationList,
		BlobVersionedHashes: tx.BlobVersionedHashes,
	}
	if out.Input == "" {
		out.Input = "0x"
	}

	var err error
	for _, f := range []struct {
		dst *string
		raw json.RawMessage
	}{
		{&out.Nonce, tx.Nonce},
		{&out.Value, tx.Value},
		{&out.Gas, tx.Gas},
		{&out.Type, tx.Type},
	} {
		if *f.dst, err = qtyHex(f.raw); err != nil {
			return nil, err
		}
	}
	for _, f := range []struct {
		dst *string
		raw json.RawMessage
	}{
		{&out.GasPrice, tx.GasPrice},
		{&out.MaxFeePerGas, tx.MaxFeePerGas},
		{&out.MaxPriorityFeePerGas, tx.MaxPriorityFeePerGas},
		{&out.MaxFeePerBlobGas, tx.MaxFeePerBlobGas},
		{&out.ChainID, tx.ChainID},
		{&out.YParity, tx.YParity},
	} {
		if *f.dst, err = qtyHexIfSet(f.raw); err != nil {
			return nil, err
		}
	}
	// signature values keep their wire form so explicit zeroes survive
	for _, f := range []struct {
		dst *string
		raw json.RawMessage
	}{
		{&out.V, tx.V},
		{&out.R, tx.R},
		{&out.S, tx.S},
	} {
		if *f.dst, err = verbatimOrQty(f.raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// marshalLog renders a canonical log anchored to its block.
func marshalLog(lg *portal.Log, blockHash string, blockNumber uint64) *RPCLog {
	topics := lg.Topics
	if topics == nil {
		topics = []string{}
	}
	data := lg.Data
	if data == "" {
		data = "0x"
	}
	return &RPCLog{
		Address:          lg.Address,
		Topics:           topics,
		Data:             data,
		BlockNumber:      hexutil.EncodeUint64(blockNumber),
		TransactionHash:  lg.TransactionHash,
		TransactionIndex: hexutil.EncodeUint64(lg.TransactionIndex),
		BlockHash:        blockHash,
		LogIndex:         hexutil.EncodeUint64(lg.LogIndex),
		Removed:          false,
	}
}

// marshalTrace renders one parity-style trace. The portal serves either
// nested action/result objects or flat prefixed columns depending on age;
// nested values win and flat ones fill the gaps.
func marshalTrace(t *portal.Trace, blockHash string, blockNumber uint64, txHashByIndex map[uint64]string) map[string]interface{} {
	traceAddr := t.TraceAddress
	if traceAddr == nil {
		traceAddr = []uint64{}
	}
	out := map[string]interface{}{
		"type":         t.Type,
		"blockHash":    blockHash,
		"blockNumber":  blockNumber,
		"traceAddress": traceAddr,
	}
	if isPresent(t.Subtraces) {
		out["subtraces"] = t.Subtraces
	} else {
		out["subtraces"] = 0
	}

	action := map[string]interface{}{}
	for k, v := range t.Action {
		if isPresent(v) {
			action[k] = v
		}
	}
	switch t.Type {
	case "call":
		fillRaw(action, "from", t.CallFrom)
		fillRaw(action, "to", t.CallTo)
		fillRaw(action, "value", t.CallValue)
		fillRaw(action, "gas", t.CallGas)
		fillRaw(action, "input", t.CallInput)
		fillRaw(action, "callType", t.CallType)
	case "create":
		fillRaw(action, "from", t.CreateFrom)
		fillRaw(action, "value", t.CreateValue)
		fillRaw(action, "gas", t.CreateGas)
		fillRaw(action, "init", t.CreateInit)
	case "suicide":
		fillRaw(action, "address", t.SuicideAddress)
		fillRaw(action, "refundAddress", t.SuicideRefundAddress)
		fillRaw(action, "balance", t.SuicideBalance)
	case "reward":
		fillRaw(action, "author", t.RewardAuthor)
		fillRaw(action, "value", t.RewardValue)
		fillRaw(action, "rewardType", t.RewardType)
	}
	out["action"] = action

	if isPresent(t.Error) {
		out["error"] = t.Error
		if t.RevertReason != nil {
			out["revertReason"] = *t.RevertReason
		}
	} else {
		switch t.Type {
		case "call":
			result := map[string]interface{}{}
			for k, v := range t.Result {
				if isPresent(v) {
					result[k] = v
				}
			}
			fillRaw(result, "gasUsed", t.CallResultGasUsed)
			fillRaw(result, "output", t.CallResultOutput)
			out["result"] = result
		case "create":
			result := map[string]interface{}{}
			for k, v := range t.Result {
				if isPresent(v) {
					result[k] = v
				}
			}
			fillRaw(result, "gasUsed", t.CreateResultGasUsed)
			fillRaw(result, "code", t.CreateResultCode)
			fillRaw(result, "address", t.CreateResultAddress)
			out["result"] = result
		default:
			out["result"] = nil
		}
	}

	if t.TransactionIndex != nil {
		if hash, ok := txHashByIndex[*t.TransactionIndex]; ok && hash != "" {
			out["transactionHash"] = hash
			out["transactionPosition"] = *t.TransactionIndex
		}
	}
	return out
}

func fillRaw(m map[string]interface{}, key string, raw json.RawMessage) {
	if _, ok := m[key]; ok {
		return
	}
	if isPresent(raw) {
		m[key] = raw
	}
}
