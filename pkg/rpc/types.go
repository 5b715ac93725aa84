// Package rpc carries the router over JSON-RPC 2.0.
//
// Two transports share the same types and error mapping: an HTTP server for
// standalone use, and the stdio plugin protocol lightningd speaks to its
// plugins.
package rpc

import (
	"encoding/json"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request. A request without an id is a
// notification and gets no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Notification is a request sent to lightningd that expects no answer.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Manifest answers lightningd's getmanifest.
type Manifest struct {
	Options    []ManifestOption `json:"options"`
	RPCMethods []ManifestMethod `json:"rpcmethods"`
	Dynamic    bool             `json:"dynamic"`
}

// ManifestOption is a command-line option registered with lightningd.
type ManifestOption struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description"`
}

// ManifestMethod is an RPC method registered with lightningd.
type ManifestMethod struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
}

// InitParams are the params of lightningd's init call.
type InitParams struct {
	Options       map[string]interface{} `json:"options"`
	Configuration json.RawMessage        `json:"configuration"`
}
