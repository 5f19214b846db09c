package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexd-io/nexd/pkg/errdefs"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Request is a JSON-RPC request object
type Request struct {
	// The name of the RPC call
	Method string `json:"method"`
	// Parameters to the RPC call
	Params json.RawMessage `json:"params,omitempty"`
	// Identifier for this Request, which should appear in the response
	ID json.Number `json:"id"`
	// JSONRPC field, MUST be "2.0"
	JSONRPC string `json:"jsonrpc"`
}

// Response is a JSON-RPC response object
type Response struct {
	// A result if there is one, or null
	Result json.RawMessage `json:"result,omitempty"`
	// An error if there is one, or null
	Error *RPCError `json:"error,omitempty"`
	// Identifier matching that of the request
	ID json.Number `json:"id"`
	// JSONRPC field, MUST be "2.0"
	JSONRPC string `json:"jsonrpc"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	// The integer identifier of the error
	Code int `json:"code"`
	// A string describing the error
	Message string `json:"message"`
	// Additional data specific to the error
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Protocol error codes per the JSON-RPC spec, plus nexd domain codes in the
// reserved server-error range (-32000..-32099).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeChildUnavailable     = -32000
	CodeIncompatibleGeometry = -32001
	CodeOutOfRange           = -32002
	CodeIoFailed             = -32003
	CodeAlreadyExists        = -32004
	CodeNotFound             = -32005
	CodeLastChild            = -32006
	CodeNotPublished         = -32007
	CodeStillPublished       = -32008
	CodeFaulted              = -32009
)

var codeByKind = []struct {
	kind error
	code int
}{
	{errdefs.ErrChildUnavailable, CodeChildUnavailable},
	{errdefs.ErrIncompatibleGeometry, CodeIncompatibleGeometry},
	{errdefs.ErrOutOfRange, CodeOutOfRange},
	{errdefs.ErrIoFailed, CodeIoFailed},
	{errdefs.ErrAlreadyExists, CodeAlreadyExists},
	{errdefs.ErrNotFound, CodeNotFound},
	{errdefs.ErrLastChild, CodeLastChild},
	{errdefs.ErrNotPublished, CodeNotPublished},
	{errdefs.ErrStillPublished, CodeStillPublished},
	{errdefs.ErrFaulted, CodeFaulted},
}

// ErrInvalidParams marks a request payload the handler could not decode;
// it surfaces as an invalid-params wire error.
var ErrInvalidParams = errors.New("invalid params")

// codeFor maps a handler error onto a wire code.
func codeFor(err error) int {
	if errors.Is(err, ErrInvalidParams) {
		return CodeInvalidParams
	}
	for _, m := range codeByKind {
		if errors.Is(err, m.kind) {
			return m.code
		}
	}
	return CodeInternalError
}

// kindFor maps a wire code back onto the matching error kind, or nil for
// codes with no domain meaning.
func kindFor(code int) error {
	if code == CodeInvalidParams {
		return ErrInvalidParams
	}
	for _, m := range codeByKind {
		if m.code == code {
			return m.kind
		}
	}
	return nil
}
