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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable error category. It drives the JSON-RPC error code, the
// per-item HTTP status and the errors_total metric label.
type Kind string

const (
	KindParseError        Kind = "parse_error"
	KindInvalidRequest    Kind = "invalid_request"
	KindInvalidParams     Kind = "invalid_params"
	KindRangeTooLarge     Kind = "range_too_large"
	KindTooManyAddresses  Kind = "too_many_addresses"
	KindUnsupportedMethod Kind = "unsupported_method"
	KindUnauthorized      Kind = "unauthorized"
	KindRateLimit         Kind = "rate_limit"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnavailable       Kind = "unavailable"
	KindOverload          Kind = "overload"
	KindServerError       Kind = "server_error"
)

// Code returns the JSON-RPC error code for the kind.
func (k Kind) Code() int {
	switch k {
	case KindParseError:
		return -32700
	case KindInvalidRequest:
		return -32600
	case KindInvalidParams:
		return -32602
	case KindRangeTooLarge, KindTooManyAddresses:
		return -32012
	case KindUnsupportedMethod:
		return -32601
	case KindUnauthorized:
		return -32016
	case KindRateLimit:
		return -32005
	case KindNotFound:
		return -32014
	default:
		return -32603
	}
}

// HTTPStatus returns the HTTP status a response carrying this kind gets.
// For batches the front-end takes the maximum status across items.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindParseError, KindInvalidRequest, KindInvalidParams, KindRangeTooLarge, KindTooManyAddresses:
		return http.StatusBadRequest
	case KindUnsupportedMethod, KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable, KindOverload:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Error is a JSON-RPC error object bound to a category. It is the only error
// type that crosses component boundaries; everything else is converted with
// FromError at the edge.
type Error struct {
	Kind    Kind
	Message string
	// Data is attached verbatim to the wire error object. Either nil, a
	// json.RawMessage (preserved upstream payload) or a marshalable value.
	Data interface{}
}

func (e *Error) Error() string { return e.Message }

// ErrorCode implements the rpc.Error convention from go-ethereum.
func (e *Error) ErrorCode() int { return e.Kind.Code() }

// MarshalJSON renders the wire {code,message,data} object.
func (e *Error) MarshalJSON() ([]byte, error) {
	obj := struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data,omitempty"`
	}{e.Kind.Code(), e.Message, e.Data}
	return json.Marshal(&obj)
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Constructors for the fixed taxonomy. Message tokens are part of the wire
// contract and matched by clients; change them only with care.

func ParseError(msg string) *Error     { return newError(KindParseError, msg) }
func InvalidRequest(msg string) *Error { return newError(KindInvalidRequest, msg) }
func InvalidParams(msg string) *Error  { return newError(KindInvalidParams, msg) }

func RangeTooLarge(max uint64) *Error {
	return newError(KindRangeTooLarge, fmt.Sprintf("range too large; max block range %d", max))
}

func TooManyAddresses() *Error {
	return newError(KindTooManyAddresses, "specify less number of address")
}

func UnsupportedMethod() *Error {
	return newError(KindUnsupportedMethod, "method not supported")
}

func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg) }
func RateLimited(msg string) *Error  { return newError(KindRateLimit, msg) }
func NotFound(msg string) *Error     { return newError(KindNotFound, msg) }

// Conflict is retryable by contract; data always carries retryable=true and,
// when the data plane reported them, the previousBlocks it knows about.
func Conflict(msg string, previousBlocks json.RawMessage) *Error {
	data := map[string]interface{}{"retryable": true}
	if len(previousBlocks) > 0 {
		data["previousBlocks"] = previousBlocks
	}
	return &Error{Kind: KindConflict, Message: msg, Data: data}
}

func Unavailable(msg string) *Error { return newError(KindUnavailable, msg) }

func Overloaded() *Error {
	return newError(KindOverload, "service unavailable")
}

func ServerError(msg string) *Error {
	if msg == "" {
		msg = "server error"
	}
	return newError(KindServerError, msg)
}

// Timeout is the server_error raised when a handler deadline fires.
func Timeout() *Error { return newError(KindServerError, "request timeout") }

// FromError coerces any error into a taxonomy error. Taxonomy errors pass
// through unchanged; deadline and cancellation become the timeout
// server_error; everything else collapses to the generic server_error so
// internals never leak to clients.
func FromError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout()
	}
	return ServerError("")
}
