// Package mcperr defines the numeric JSON-RPC error taxonomy used across
// the broker, plus a NetworkError classifier for transport-level faults.
package mcperr

import (
	"errors"
	"fmt"
)

// Code is one of the stable JSON-RPC / MCP error codes.
type Code int

const (
	ParseError                 Code = -32700
	InvalidRequest             Code = -32600
	MethodNotFound             Code = -32601
	InvalidParams              Code = -32602
	InternalError              Code = -32603
	ConnectionClosed           Code = -32000
	RequestTimeout             Code = -32001
	UnsupportedProtocolVersion Code = -32002
)

func (c Code) String() string {
	switch c {
	case ParseError:
		return "ParseError"
	case InvalidRequest:
		return "InvalidRequest"
	case MethodNotFound:
		return "MethodNotFound"
	case InvalidParams:
		return "InvalidParams"
	case InternalError:
		return "InternalError"
	case ConnectionClosed:
		return "ConnectionClosed"
	case RequestTimeout:
		return "RequestTimeout"
	case UnsupportedProtocolVersion:
		return "UnsupportedProtocolVersion"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the typed error returned by the jsonrpc, mcpclient and schema
// packages. The registry, settings and toolcache packages also return
// plain Go errors, which carry no Code.
type Error struct {
	Code    Code
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
}

// New builds an *Error with the given code and message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches a data payload and returns the same error for chaining.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// As reports whether err is an *Error, writing it into target like errors.As.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
