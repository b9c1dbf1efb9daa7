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
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"

	"github.com/subsquid-labs/portal-evm-rpc/jsonrpc"
)

var (
	jstd = jsoniter.ConfigCompatibleWithStandardLibrary
	jnum = jsoniter.Config{UseNumber: true}.Froze()
)

// parseQuantity normalizes the portal's quantity encodings (hex strings,
// decimal strings, JSON numbers) into a big integer. nil input stays nil.
// Floats, negatives and malformed strings are invalid_params.
func parseQuantity(v interface{}) (*big.Int, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return parseQuantityString(x)
	case json.Number:
		return parseQuantityString(string(x))
	case float64:
		if x < 0 || x != math.Trunc(x) || x > (1<<53) {
			return nil, jsonrpc.InvalidParams("invalid quantity")
		}
		return new(big.Int).SetUint64(uint64(x)), nil
	case int:
		if x < 0 {
			return nil, jsonrpc.InvalidParams("invalid quantity")
		}
		return big.NewInt(int64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	default:
		return nil, jsonrpc.InvalidParams("invalid quantity")
	}
}

func parseQuantityString(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, jsonrpc.InvalidParams("invalid quantity")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok := new(big.Int).SetString(s[2:], 16)
		if !ok || b.Sign() < 0 {
			return nil, jsonrpc.InvalidParams("invalid quantity")
		}
		return b, nil
	}
	// decimal; anything float-ish is rejected rather than truncated
	if strings.ContainsAny(s, ".eE") {
		return nil, jsonrpc.InvalidParams("invalid quantity")
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return nil, jsonrpc.InvalidParams("invalid quantity")
	}
	return b, nil
}

// parseQuantityRaw parses a raw JSON value; absent values stay nil. Numbers
// are decoded with full precision.
func parseQuantityRaw(raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := jnum.Unmarshal(raw, &v); err != nil {
		return nil, jsonrpc.InvalidParams("invalid quantity")
	}
	return parseQuantity(v)
}

// quantityHex renders a canonical 0x quantity; nil becomes 0x0.
func quantityHex(b *big.Int) string {
	if b == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(b)
}

// qtyHex hex-encodes a raw quantity, defaulting absent values to 0x0.
func qtyHex(raw json.RawMessage) (string, error) {
	b, err := parseQuantityRaw(raw)
	if err != nil {
		return "", err
	}
	return quantityHex(b), nil
}

// qtyHexIfSet hex-encodes a raw quantity, keeping absence ("") distinct so
// callers can omit the field.
func qtyHexIfSet(raw json.RawMessage) (string, error) {
	b, err := parseQuantityRaw(raw)
	if err != nil || b == nil {
		return "", err
	}
	return quantityHex(b), nil
}

// verbatimOrQty passes hex strings through untouched (so explicit zeroes
// survive) and hex-encodes everything else as a quantity. Returns "" when
// the value is absent or JSON null.
func verbatimOrQty(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var v interface{}
	if err := jnum.Unmarshal(raw, &v); err != nil {
		return "", jsonrpc.InvalidParams("invalid quantity")
	}
	if s, ok := v.(string); ok && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return s, nil
	}
	b, err := parseQuantity(v)
	if err != nil {
		return "", err
	}
	if b == nil {
		return "", nil
	}
	return quantityHex(b), nil
}

// nonceHex renders a block nonce: hex strings verbatim, numbers as the
// canonical 8-byte field.
func nonceHex(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return fmt.Sprintf("0x%016x", 0), nil
	}
	var v interface{}
	if err := jnum.Unmarshal(raw, &v); err != nil {
		return "", jsonrpc.InvalidParams("invalid quantity")
	}
	if s, ok := v.(string); ok && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return s, nil
	}
	b, err := parseQuantity(v)
	if err != nil {
		return "", err
	}
	if b == nil {
		b = new(big.Int)
	}
	return fmt.Sprintf("0x%016x", b), nil
}

var hexBytesRe = regexp.MustCompile("^0x[0-9a-fA-F]*$")

// hexBytes validates a fixed-width 0x hex string of n bytes and returns it
// lowercased.
func hexBytes(label, s string, n int) (string, error) {
	if !hexBytesRe.MatchString(s) || len(s) != 2+2*n {
		return "", jsonrpc.InvalidParams(fmt.Sprintf("invalid %s", label))
	}
	return strings.ToLower(s), nil
}
