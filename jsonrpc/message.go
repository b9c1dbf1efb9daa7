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

	jsoniter "github.com/json-iterator/go"
)

// Vsn is the protocol version stamped on every response.
const Vsn = "2.0"

var jstd = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is a JSON-RPC request or response envelope. A request without an
// id field is a notification and never produces a response.
type Message struct {
	Version string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// IsNotification reports whether the message carries no id at all.
// An explicit "id": null is not a notification.
func (msg *Message) IsNotification() bool {
	return msg.ID == nil && msg.Method != ""
}

// HTTPStatus is the per-item status; batch responses take the maximum.
func (msg *Message) HTTPStatus() int {
	if msg.Error != nil {
		return msg.Error.Kind.HTTPStatus()
	}
	return http.StatusOK
}

// EncodeJSON renders the message for the wire.
func (msg *Message) EncodeJSON() ([]byte, error) {
	return jstd.Marshal(msg)
}

// isBatch returns true when the first non-whitespace character is '['.
func isBatch(raw []byte) bool {
	for _, c := range raw {
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c == '['
	}
	return false
}

// Items splits a request body into its raw elements. A JSON array yields its
// elements and batch=true (an empty array yields zero items); anything else
// yields the body itself as the only item. A syntactically broken body is a
// parse_error.
func Items(body []byte) (items []json.RawMessage, batch bool, err *Error) {
	if isBatch(body) {
		var raw []json.RawMessage
		if uerr := jstd.Unmarshal(body, &raw); uerr != nil {
			return nil, true, ParseError("parse error")
		}
		return raw, true, nil
	}
	if !json.Valid(body) {
		return nil, false, ParseError("parse error")
	}
	return []json.RawMessage{body}, false, nil
}

// validID accepts string, integer/number and null ids.
func validID(raw json.RawMessage) bool {
	for _, c := range raw {
		if c == 0x20 || c == 0x09 || c == 0x0a || c == 0x0d {
			continue
		}
		return c == '"' || c == '-' || (c >= '0' && c <= '9') || c == 'n'
	}
	return true // absent
}

// Decode parses one batch element into a call message. Non-object elements,
// wrong protocol versions, missing or non-string methods and malformed ids
// are invalid_request.
func Decode(raw json.RawMessage) (*Message, *Error) {
	var msg Message
	if err := jstd.Unmarshal(raw, &msg); err != nil {
		return nil, InvalidRequest("invalid request")
	}
	if msg.Version != Vsn || msg.Method == "" {
		return nil, InvalidRequest("invalid request")
	}
	if msg.ID != nil && !validID(msg.ID) {
		return nil, InvalidRequest("invalid request")
	}
	return &msg, nil
}

// NewResponse marshals result into a success response for id. A marshaling
// failure degrades to a server_error response rather than a broken envelope.
func NewResponse(id json.RawMessage, result interface{}) *Message {
	enc, err := jstd.Marshal(result)
	if err != nil {
		return ErrorResponse(id, ServerError(""))
	}
	return NewRawResponse(id, enc)
}

// NewRawResponse wraps an already-encoded result.
func NewRawResponse(id, result json.RawMessage) *Message {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Message{Version: Vsn, ID: id, Result: result}
}

// ErrorResponse builds an error response for id; a nil id becomes the
// explicit null required by the protocol.
func ErrorResponse(id json.RawMessage, err *Error) *Message {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Message{Version: Vsn, ID: id, Error: err}
}

// InvalidItemResponse is the fixed response substituted for a batch element
// that is not a valid call object.
func InvalidItemResponse() *Message {
	return ErrorResponse(nil, InvalidRequest("invalid request"))
}
