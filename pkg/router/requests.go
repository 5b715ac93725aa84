package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/fortiblox/chainbridge/internal/types"
	"github.com/fortiblox/chainbridge/pkg/backend"
)

// ChainInfoRequest holds getchaininfo parameters.
type ChainInfoRequest struct {
	// TipHint is the last height lightningd saw, if it sent one.
	TipHint *uint64
}

// BlockByHeightRequest holds getrawblockbyheight parameters.
type BlockByHeightRequest struct {
	Height uint64
}

// GetUtxoRequest holds getutxout parameters.
type GetUtxoRequest struct {
	Txid chainhash.Hash
	Vout uint32
}

// SendRawTxRequest holds sendrawtransaction parameters.
type SendRawTxRequest struct {
	Tx            []byte
	AllowHighFees bool
}

// params is a request's parameters keyed by name. Positional (array)
// parameters are named by their declared order.
type params map[string]json.RawMessage

func decodeParams(raw json.RawMessage, names ...string) (params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return params{}, nil
	}

	switch raw[0] {
	case '{':
		var p params
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, malformed("params: %v", err)
		}
		return p, nil
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, malformed("params: %v", err)
		}
		if len(list) > len(names) {
			return nil, malformed("expected at most %d params, got %d", len(names), len(list))
		}
		p := make(params, len(list))
		for i, v := range list {
			p[names[i]] = v
		}
		return p, nil
	default:
		return nil, malformed("params must be an object or an array")
	}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", backend.ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// lookup returns the first present, non-null field among names.
func (p params) lookup(names ...string) (json.RawMessage, bool) {
	for _, n := range names {
		if v, ok := p[n]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

func (p params) uint(name string, bits int, aliases ...string) (uint64, bool, error) {
	raw, ok := p.lookup(append([]string{name}, aliases...)...)
	if !ok {
		return 0, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, true, malformed("%s must be an integer", name)
	}
	v, err := strconv.ParseUint(n.String(), 10, bits)
	if err != nil {
		return 0, true, malformed("%s must be a non-negative integer below 2^%d", name, bits)
	}
	return v, true, nil
}

func (p params) requireUint(name string, bits int) (uint64, error) {
	v, ok, err := p.uint(name, bits)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, malformed("missing %s", name)
	}
	return v, nil
}

func (p params) requireString(name string) (string, error) {
	raw, ok := p.lookup(name)
	if !ok {
		return "", malformed("missing %s", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed("%s must be a string", name)
	}
	return s, nil
}

func (p params) requireBool(name string) (bool, error) {
	raw, ok := p.lookup(name)
	if !ok {
		return false, malformed("missing %s", name)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, malformed("%s must be a boolean", name)
	}
	return b, nil
}

// DecodeChainInfoRequest decodes getchaininfo params. lightningd names the
// hint last_height.
func DecodeChainInfoRequest(raw json.RawMessage) (*ChainInfoRequest, error) {
	p, err := decodeParams(raw, "last_height")
	if err != nil {
		return nil, err
	}
	v, ok, err := p.uint("tip_hint", 64, "last_height")
	if err != nil {
		return nil, err
	}
	req := &ChainInfoRequest{}
	if ok {
		req.TipHint = &v
	}
	return req, nil
}

// DecodeBlockByHeightRequest decodes getrawblockbyheight params.
func DecodeBlockByHeightRequest(raw json.RawMessage) (*BlockByHeightRequest, error) {
	p, err := decodeParams(raw, "height")
	if err != nil {
		return nil, err
	}
	h, err := p.requireUint("height", 64)
	if err != nil {
		return nil, err
	}
	return &BlockByHeightRequest{Height: h}, nil
}

// DecodeGetUtxoRequest decodes getutxout params.
func DecodeGetUtxoRequest(raw json.RawMessage) (*GetUtxoRequest, error) {
	p, err := decodeParams(raw, "txid", "vout")
	if err != nil {
		return nil, err
	}
	s, err := p.requireString("txid")
	if err != nil {
		return nil, err
	}
	txid, err := types.HashFromHex(s)
	if err != nil {
		return nil, malformed("txid: %v", err)
	}
	vout, err := p.requireUint("vout", 32)
	if err != nil {
		return nil, err
	}
	return &GetUtxoRequest{Txid: txid, Vout: uint32(vout)}, nil
}

// DecodeSendRawTxRequest decodes sendrawtransaction params.
func DecodeSendRawTxRequest(raw json.RawMessage) (*SendRawTxRequest, error) {
	p, err := decodeParams(raw, "tx", "allowhighfees")
	if err != nil {
		return nil, err
	}
	s, err := p.requireString("tx")
	if err != nil {
		return nil, err
	}
	tx, err := types.DecodeHex(s)
	if err != nil {
		return nil, malformed("tx: %v", err)
	}
	allow, err := p.requireBool("allowhighfees")
	if err != nil {
		return nil, err
	}
	return &SendRawTxRequest{Tx: tx, AllowHighFees: allow}, nil
}
