// Package router dispatches lightningd's five bitcoin-backend methods to the
// active backend and shapes the results.
//
// Every response carries all of its declared fields. estimatefees,
// getrawblockbyheight and getutxout answer any backend failure with the
// same shape filled with nulls, whether the data is missing or the backend
// faulted. sendrawtransaction reports failures as success=false. Only
// decode errors, a missing backend and getchaininfo failures surface as
// errors. The router never retries.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// Method names.
const (
	MethodGetChainInfo        = "getchaininfo"
	MethodEstimateFees        = "estimatefees"
	MethodGetRawBlockByHeight = "getrawblockbyheight"
	MethodGetUtxOut           = "getutxout"
	MethodSendRawTransaction  = "sendrawtransaction"
)

// ErrMethodNotFound is returned by Handle for an unknown method.
var ErrMethodNotFound = errors.New("method not found")

// Source yields the active backend. *registry.Registry implements it.
type Source interface {
	Active() (backend.Backend, error)
}

// Handler serves one method.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Method describes a routed method for transports that advertise them.
type Method struct {
	Name        string
	Usage       string
	Description string
	Handler     Handler
}

// Router routes requests to the active backend.
type Router struct {
	src     Source
	log     logrus.FieldLogger
	methods []Method
	byName  map[string]Handler
}

// New returns a router reading the active backend from src.
func New(src Source, log logrus.FieldLogger) *Router {
	r := &Router{src: src, log: log}
	r.methods = []Method{
		{MethodGetChainInfo, "[last_height]",
			"Chain name, header and block counts and IBD status", r.GetChainInfo},
		{MethodEstimateFees, "",
			"Feerates for lightningd's transaction types, in sat/kvB", r.EstimateFees},
		{MethodGetRawBlockByHeight, "height",
			"Hash and raw hex of the block at height", r.GetRawBlockByHeight},
		{MethodGetUtxOut, "txid vout",
			"Amount and script of an unspent output", r.GetUtxOut},
		{MethodSendRawTransaction, "tx allowhighfees",
			"Broadcast a raw transaction", r.SendRawTransaction},
	}
	r.byName = make(map[string]Handler, len(r.methods))
	for _, m := range r.methods {
		r.byName[m.Name] = m.Handler
	}
	return r
}

// Methods returns the routed methods in a stable order.
func (r *Router) Methods() []Method {
	out := make([]Method, len(r.methods))
	copy(out, r.methods)
	return out
}

// Handle dispatches method by name.
func (r *Router) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	h, ok := r.byName[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	start := time.Now()
	result, err := h(ctx, params)
	entry := r.log.WithFields(logrus.Fields{
		"method":  method,
		"elapsed": time.Since(start).Round(time.Millisecond),
	})
	switch {
	case err != nil && backend.IsTimeout(err):
		entry.WithError(err).Warn("backend timed out")
	case err != nil:
		entry.WithError(err).Info("request failed")
	default:
		entry.Debug("request served")
	}
	return result, err
}

// GetChainInfo serves getchaininfo. Errors are never null-filled here:
// lightningd cannot proceed without knowing the chain.
func (r *Router) GetChainInfo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	req, err := DecodeChainInfoRequest(raw)
	if err != nil {
		return nil, err
	}
	b, err := r.src.Active()
	if err != nil {
		return nil, err
	}
	info, err := b.ChainInfo(ctx, req.TipHint)
	if err != nil {
		return nil, err
	}
	return chainInfoResponse(info), nil
}

// EstimateFees serves estimatefees. Any failure yields all eight fields
// null.
func (r *Router) EstimateFees(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	b, err := r.src.Active()
	if err != nil {
		return nil, err
	}
	est, err := b.EstimateFees(ctx)
	if err != nil {
		r.logNullFill(MethodEstimateFees, err, backend.ErrFeesUnavailable)
		return feesResponse(nil), nil
	}
	return feesResponse(est), nil
}

// GetRawBlockByHeight serves getrawblockbyheight.
func (r *Router) GetRawBlockByHeight(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	req, err := DecodeBlockByHeightRequest(raw)
	if err != nil {
		return nil, err
	}
	b, err := r.src.Active()
	if err != nil {
		return nil, err
	}
	blk, err := b.BlockByHeight(ctx, req.Height)
	if err != nil {
		r.logNullFill(MethodGetRawBlockByHeight, err, backend.ErrBlockNotFound)
		return blockResponse(nil), nil
	}
	return blockResponse(blk), nil
}

// GetUtxOut serves getutxout.
func (r *Router) GetUtxOut(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	req, err := DecodeGetUtxoRequest(raw)
	if err != nil {
		return nil, err
	}
	b, err := r.src.Active()
	if err != nil {
		return nil, err
	}
	utxo, err := b.GetUtxo(ctx, req.Txid, req.Vout)
	if err != nil {
		r.logNullFill(MethodGetUtxOut, err, backend.ErrUtxoNotFound)
		return utxoResponse(nil), nil
	}
	return utxoResponse(utxo), nil
}

// SendRawTransaction serves sendrawtransaction. A backend error becomes
// success=false with its message.
func (r *Router) SendRawTransaction(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	req, err := DecodeSendRawTxRequest(raw)
	if err != nil {
		return nil, err
	}
	b, err := r.src.Active()
	if err != nil {
		return nil, err
	}
	err = b.SendRawTransaction(ctx, req.Tx, req.AllowHighFees)
	if err != nil {
		r.log.WithError(err).Info("broadcast rejected")
	}
	return sendResponse(err), nil
}

// logNullFill logs a null-filled answer. The operation's own not-found
// condition is routine; anything else is a backend fault.
func (r *Router) logNullFill(method string, err, notFound error) {
	entry := r.log.WithField("method", method).WithError(err)
	if errors.Is(err, notFound) {
		entry.Debug("not found, answering with nulls")
		return
	}
	entry.Warn("backend failed, answering with nulls")
}
