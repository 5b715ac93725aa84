package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/chainbridge/pkg/backend"
	"github.com/fortiblox/chainbridge/pkg/router"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Backend error codes.
const (
	NotInitialized     = -32001
	BackendUnavailable = -32002
	SyncIncomplete     = -32003
	ProtocolFault      = -32004
	UnsupportedBackend = -32005
)

// Common error messages.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

var errorCodes = []struct {
	target error
	code   int
}{
	{backend.ErrMalformedRequest, InvalidParams},
	{backend.ErrNotInitialized, NotInitialized},
	{backend.ErrBackendUnavailable, BackendUnavailable},
	{backend.ErrSyncIncomplete, SyncIncomplete},
	{backend.ErrProtocolFault, ProtocolFault},
	{backend.ErrUnsupportedBackend, UnsupportedBackend},
	{router.ErrMethodNotFound, MethodNotFound},
}

// FromError maps a router error to a JSON-RPC error. The message keeps the
// full error chain.
func FromError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.target) {
			return NewRPCError(ec.code, err.Error())
		}
	}
	return NewRPCError(InternalError, err.Error())
}
