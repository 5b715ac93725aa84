// Package bitcoind implements the full-node backend over bitcoind's JSON-RPC
// interface.
package bitcoind

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/fortiblox/chainbridge/internal/types"
	"github.com/fortiblox/chainbridge/pkg/backend"
)

// estimateMode is passed to estimatesmartfee. lightningd's own bcli plugin
// samples conservatively for everything that must confirm.
const estimateMode = "CONSERVATIVE"

// Config configures the backend.
type Config struct {
	Host       string
	User       string
	Password   string
	Timeout    time.Duration
	FeePolicy  backend.FeePolicy
	MaxFeeRate uint64
}

// Backend is the full-node backend.
type Backend struct {
	client     *rpcclient.Client
	log        logrus.FieldLogger
	timeout    time.Duration
	policy     backend.FeePolicy
	maxFeeRate uint64
}

var _ backend.Backend = (*Backend)(nil)

// New creates the backend. rpcclient in HTTP POST mode does not dial until
// the first call.
func New(cfg Config, log logrus.FieldLogger) (*Backend, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoind client: %w", err)
	}
	log.WithField("host", cfg.Host).Info("bitcoind backend ready")

	return &Backend{
		client:     client,
		log:        log,
		timeout:    cfg.Timeout,
		policy:     cfg.FeePolicy,
		maxFeeRate: cfg.MaxFeeRate,
	}, nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.FullNode }

// ChainInfo implements backend.Backend.
func (b *Backend) ChainInfo(ctx context.Context, tipHint *uint64) (*backend.ChainInfo, error) {
	res, err := b.raw(ctx, "getblockchaininfo")
	if err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(res)
	chain := r.Get("chain").String()
	if chain == "" || !r.Get("blocks").Exists() || !r.Get("headers").Exists() {
		return nil, backend.ProtocolFault("getblockchaininfo: missing fields in %s", res)
	}

	info := &backend.ChainInfo{
		Chain:       chain,
		HeaderCount: r.Get("headers").Uint(),
		BlockCount:  r.Get("blocks").Uint(),
		IBD:         r.Get("initialblockdownload").Bool(),
	}
	if tipHint != nil && *tipHint > info.BlockCount {
		b.log.WithFields(logrus.Fields{"blocks": info.BlockCount, "hint": *tipHint}).Warn("bitcoind is behind lightningd")
	}
	return info, nil
}

// EstimateFees implements backend.Backend.
func (b *Backend) EstimateFees(ctx context.Context) (*backend.FeeEstimate, error) {
	rates := make(map[int]float64)
	for _, target := range backend.Targets() {
		res, err := b.raw(ctx, "estimatesmartfee", target, estimateMode)
		if err != nil {
			return nil, err
		}
		feerate := gjson.GetBytes(res, "feerate")
		if !feerate.Exists() {
			b.log.WithField("target", target).WithField("errors", gjson.GetBytes(res, "errors").String()).
				Debug("no estimate for target")
			continue
		}
		rates[target] = backend.BTCPerKvBToSat(feerate.Float())
	}
	return b.policy.Build(rates)
}

// BlockByHeight implements backend.Backend.
func (b *Backend) BlockByHeight(ctx context.Context, height uint64) (*backend.Block, error) {
	hash, err := call(ctx, b.timeout, "getblockhash", func() (*chainhash.Hash, error) {
		return b.client.GetBlockHash(int64(height))
	})
	if err != nil {
		if isRPCCode(err, btcjson.ErrRPCInvalidParameter) {
			return nil, fmt.Errorf("height %d: %w", height, backend.ErrBlockNotFound)
		}
		return nil, err
	}

	res, err := b.raw(ctx, "getblock", hash.String(), 0)
	if err != nil {
		if isRPCCode(err, btcjson.ErrRPCBlockNotFound) {
			// Reorged away between the two calls.
			return nil, fmt.Errorf("block %s: %w", hash, backend.ErrBlockNotFound)
		}
		return nil, err
	}
	var blockHex string
	if err := json.Unmarshal(res, &blockHex); err != nil {
		return nil, backend.ProtocolFault("getblock %s: %v", hash, err)
	}
	raw, err := types.DecodeHex(blockHex)
	if err != nil {
		return nil, backend.ProtocolFault("getblock %s: %v", hash, err)
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, backend.ProtocolFault("block %s header: %v", hash, err)
	}
	if got := header.BlockHash(); got != *hash {
		return nil, backend.ProtocolFault("block at %d hashes to %s, expected %s", height, got, hash)
	}
	return &backend.Block{Hash: *hash, Raw: raw}, nil
}

// GetUtxo implements backend.Backend. gettxout answers null for spent and
// unknown outputs alike.
func (b *Backend) GetUtxo(ctx context.Context, txid chainhash.Hash, vout uint32) (*backend.Utxo, error) {
	res, err := b.raw(ctx, "gettxout", txid.String(), vout)
	if err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(res)
	if r.Type == gjson.Null || !r.Exists() {
		return nil, fmt.Errorf("%s:%d: %w", txid, vout, backend.ErrUtxoNotFound)
	}

	amount, err := btcutil.NewAmount(r.Get("value").Float())
	if err != nil {
		return nil, backend.ProtocolFault("gettxout value: %v", err)
	}
	script, err := types.DecodeHex(r.Get("scriptPubKey.hex").String())
	if err != nil && !errors.Is(err, types.ErrEmptyPayload) {
		return nil, backend.ProtocolFault("gettxout script: %v", err)
	}
	return &backend.Utxo{Amount: int64(amount), Script: script}, nil
}

// SendRawTransaction implements backend.Backend. bitcoind enforces the fee
// ceiling itself through the maxfeerate argument.
func (b *Backend) SendRawTransaction(ctx context.Context, tx []byte, allowHighFees bool) error {
	maxFeeRate := 0.0
	if !allowHighFees {
		maxFeeRate = btcutil.Amount(b.maxFeeRate).ToBTC()
	}
	res, err := b.raw(ctx, "sendrawtransaction", types.EncodeHex(tx), maxFeeRate)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && isFeeRejection(rpcErr.Message) {
			return fmt.Errorf("%w: %s", backend.ErrFeeTooHigh, rpcErr.Message)
		}
		return err
	}
	b.log.WithField("txid", strings.Trim(string(res), `"`)).Info("transaction broadcast")
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.client.Shutdown()
	b.client.WaitForShutdown()
	return nil
}

// raw issues a JSON-RPC call with positional params.
func (b *Backend) raw(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	args := make([]json.RawMessage, len(params))
	for i, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%s param %d: %w", method, i, err)
		}
		args[i] = data
	}
	return call(ctx, b.timeout, method, func() (json.RawMessage, error) {
		return b.client.RawRequest(method, args)
	})
}

// call bounds a blocking rpcclient call by timeout. RPC errors are returned
// wrapped; anything else means bitcoind could not be reached.
//
// rpcclient takes no context and its HTTP client has no deadline, so a call
// abandoned on timeout keeps its goroutine until the POST completes or
// fails. The result channel is buffered, so that goroutine then exits
// without a reader. POST mode sends one request at a time, so at most one
// abandoned request is on the wire; the rest wait in rpcclient's queue and
// are failed by Close.
func call[T any](ctx context.Context, timeout time.Duration, method string, fn func() (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err == nil {
			return r.v, nil
		}
		var rpcErr *btcjson.RPCError
		if errors.As(r.err, &rpcErr) {
			return zero, fmt.Errorf("%s: %w", method, rpcErr)
		}
		return zero, backend.Unavailable(method, r.err)
	case <-ctx.Done():
		return zero, backend.Unavailable(method, ctx.Err())
	}
}

func isRPCCode(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

func isFeeRejection(msg string) bool {
	return strings.Contains(msg, "max-fee-exceeded") || strings.Contains(msg, "Fee exceeds maximum")
}
