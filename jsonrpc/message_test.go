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

package jsonrpc

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsSingle(t *testing.T) {
	items, batch, err := Items([]byte(`{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`))
	require.Nil(t, err)
	assert.False(t, batch)
	require.Len(t, items, 1)
}

func TestItemsBatch(t *testing.T) {
	items, batch, err := Items([]byte(` [{"id":1},{"id":2},{"id":3}]`))
	require.Nil(t, err)
	assert.True(t, batch)
	assert.Len(t, items, 3)
}

func TestItemsEmptyBatch(t *testing.T) {
	items, batch, err := Items([]byte(`[]`))
	require.Nil(t, err)
	assert.True(t, batch)
	assert.Empty(t, items)
}

func TestItemsParseError(t *testing.T) {
	for _, body := range []string{`{"id":`, `[{"id":1},`, `garbage`, ``} {
		_, _, err := Items([]byte(body))
		require.NotNil(t, err, "body %q", body)
		assert.Equal(t, KindParseError, err.Kind)
		assert.Equal(t, "parse error", err.Message)
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode(json.RawMessage(`{"jsonrpc":"2.0","id":7,"method":"eth_getLogs","params":[{"fromBlock":"0x1"}]}`))
	require.Nil(t, err)
	assert.Equal(t, "eth_getLogs", msg.Method)
	assert.Equal(t, json.RawMessage(`7`), msg.ID)
	assert.Equal(t, json.RawMessage(`[{"fromBlock":"0x1"}]`), msg.Params)
	assert.False(t, msg.IsNotification())
}

func TestDecodeRejects(t *testing.T) {
	bodies := []string{
		`1`,                                         // not an object
		`"eth_chainId"`,                             // not an object
		`{"id":1,"method":"eth_chainId"}`,           // missing version
		`{"jsonrpc":"1.0","id":1,"method":"x"}`,     // wrong version
		`{"jsonrpc":"2.0","id":1}`,                  // missing method
		`{"jsonrpc":"2.0","id":true,"method":"x"}`,      // boolean id
		`{"jsonrpc":"2.0","id":{"a":1},"method":"x"}`,   // object id
		`{"jsonrpc":"2.0","id":[1],"method":"x"}`,       // array id
		`{"jsonrpc":"2.0","id":{0:1},"method":"x"}`,     // malformed
	}
	for _, body := range bodies {
		_, err := Decode(json.RawMessage(body))
		require.NotNil(t, err, "body %s", body)
		assert.Equal(t, KindInvalidRequest, err.Kind)
		assert.Equal(t, "invalid request", err.Message)
	}
}

func TestDecodeIDForms(t *testing.T) {
	for _, id := range []string{`1`, `-7`, `1.5`, `"abc"`, `null`} {
		msg, err := Decode(json.RawMessage(`{"jsonrpc":"2.0","id":` + id + `,"method":"eth_chainId"}`))
		require.Nil(t, err, "id %s", id)
		assert.Equal(t, json.RawMessage(id), msg.ID)
	}
}

// An absent id is a notification; an explicit null id is a normal call whose
// response carries "id":null.
func TestIsNotification(t *testing.T) {
	msg, err := Decode(json.RawMessage(`{"jsonrpc":"2.0","method":"eth_blockNumber"}`))
	require.Nil(t, err)
	assert.True(t, msg.IsNotification())

	msg, err = Decode(json.RawMessage(`{"jsonrpc":"2.0","id":null,"method":"eth_blockNumber"}`))
	require.Nil(t, err)
	assert.False(t, msg.IsNotification())
}

func TestNewResponse(t *testing.T) {
	msg := NewResponse(json.RawMessage(`1`), "0x1")
	enc, err := msg.EncodeJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":"0x1"}`, string(enc))
	assert.Equal(t, http.StatusOK, msg.HTTPStatus())
}

func TestNewResponseUnmarshalableResult(t *testing.T) {
	msg := NewResponse(json.RawMessage(`1`), make(chan int))
	require.NotNil(t, msg.Error)
	assert.Equal(t, KindServerError, msg.Error.Kind)
}

// A nil raw result encodes as the JSON null, never as a missing field.
func TestNewRawResponseNull(t *testing.T) {
	msg := NewRawResponse(json.RawMessage(`3`), nil)
	enc, err := msg.EncodeJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":null}`, string(enc))
}

func TestErrorResponse(t *testing.T) {
	msg := ErrorResponse(json.RawMessage(`"a"`), UnsupportedMethod())
	enc, err := msg.EncodeJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"method not supported"}}`, string(enc))
	assert.Equal(t, http.StatusNotFound, msg.HTTPStatus())
}

func TestErrorResponseNilID(t *testing.T) {
	msg := InvalidItemResponse()
	enc, err := msg.EncodeJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"invalid request"}}`, string(enc))
	assert.Equal(t, http.StatusBadRequest, msg.HTTPStatus())
}
