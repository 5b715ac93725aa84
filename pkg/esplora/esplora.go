// Package esplora implements the explorer backend over the Esplora REST API
// (blockstream.info, mempool.space and self-hosted electrs).
package esplora

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/fortiblox/chainbridge/internal/types"
	"github.com/fortiblox/chainbridge/pkg/backend"
)

const onionHost = "http://explorerzydxu5ecjrkwceayqybizmpjjznk5izmitf2modhcusuqlid.onion"

// DefaultURLs returns the public base URL for a lightningd network name.
// With tor set, the onion service is preferred where one exists.
func DefaultURLs(network string, tor bool) ([]string, error) {
	switch network {
	case "bitcoin", "mainnet":
		if tor {
			return []string{onionHost + "/api"}, nil
		}
		return []string{"https://blockstream.info/api", "https://mempool.space/api"}, nil
	case "testnet", "testnet3":
		if tor {
			return []string{onionHost + "/testnet/api"}, nil
		}
		return []string{"https://blockstream.info/testnet/api", "https://mempool.space/testnet/api"}, nil
	case "signet":
		return []string{"https://mempool.space/signet/api"}, nil
	case "liquid", "liquidv1":
		if tor {
			return []string{onionHost + "/liquid/api"}, nil
		}
		return []string{"https://blockstream.info/liquid/api"}, nil
	default:
		return nil, fmt.Errorf("%w: no esplora default for %q", backend.ErrUnknownNetwork, network)
	}
}

// Config configures the backend.
type Config struct {
	Network    string
	URLs       []string
	Proxy      string
	Timeout    time.Duration
	FeePolicy  backend.FeePolicy
	MaxFeeRate uint64
}

// Backend is the explorer backend.
type Backend struct {
	client     *Client
	log        logrus.FieldLogger
	policy     backend.FeePolicy
	maxFeeRate uint64
	// Liquid headers are not bitcoin headers and cannot be hashed with wire.
	verifyBlocks bool

	chainMu sync.Mutex
	chain   string
}

var _ backend.Backend = (*Backend)(nil)

// New creates the explorer backend. No request is made until the first call.
func New(cfg Config, log logrus.FieldLogger) (*Backend, error) {
	urls := cfg.URLs
	if len(urls) == 0 {
		var err error
		urls, err = DefaultURLs(cfg.Network, cfg.Proxy != "")
		if err != nil {
			return nil, err
		}
	}
	client, err := NewClient(NewPool(urls), cfg.Timeout, cfg.Proxy, log)
	if err != nil {
		return nil, err
	}
	log.WithField("urls", strings.Join(urls, ",")).Info("esplora backend ready")

	return &Backend{
		client:       client,
		log:          log,
		policy:       cfg.FeePolicy,
		maxFeeRate:   cfg.MaxFeeRate,
		verifyBlocks: !strings.HasPrefix(cfg.Network, "liquid"),
	}, nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.Explorer }

// ChainInfo implements backend.Backend. Explorers serve fully synced
// chains, so headercount equals blockcount and ibd is always false.
func (b *Backend) ChainInfo(ctx context.Context, tipHint *uint64) (*backend.ChainInfo, error) {
	tip, err := b.tipHeight(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := b.chainName(ctx)
	if err != nil {
		return nil, err
	}
	if tipHint != nil && *tipHint > tip {
		b.log.WithFields(logrus.Fields{"tip": tip, "hint": *tipHint}).Warn("explorer is behind lightningd")
	}
	b.log.WithField("height", tip).Debug("blockchain height")

	return &backend.ChainInfo{
		Chain:       chain,
		HeaderCount: tip,
		BlockCount:  tip,
		IBD:         false,
	}, nil
}

func (b *Backend) tipHeight(ctx context.Context) (uint64, error) {
	body, err := b.client.Get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	tip, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, backend.ProtocolFault("tip height %q: %v", body, err)
	}
	return tip, nil
}

// chainName identifies the network from the genesis hash once.
func (b *Backend) chainName(ctx context.Context) (string, error) {
	b.chainMu.Lock()
	defer b.chainMu.Unlock()
	if b.chain != "" {
		return b.chain, nil
	}

	genesis, err := b.hashAtHeight(ctx, 0)
	if err != nil {
		if errors.Is(err, backend.ErrBlockNotFound) {
			return "", backend.ProtocolFault("explorer has no genesis block")
		}
		return "", err
	}
	chain, err := backend.NetworkFromGenesis(genesis)
	if err != nil {
		return "", err
	}
	b.chain = chain
	return chain, nil
}

func (b *Backend) hashAtHeight(ctx context.Context, height uint64) (chainhash.Hash, error) {
	body, err := b.client.Get(ctx, "/block-height/"+strconv.FormatUint(height, 10))
	if err != nil {
		if errors.Is(err, errNotFound) {
			return chainhash.Hash{}, fmt.Errorf("height %d: %w", height, backend.ErrBlockNotFound)
		}
		return chainhash.Hash{}, err
	}
	hash, err := types.HashFromHex(strings.TrimSpace(string(body)))
	if err != nil {
		return chainhash.Hash{}, backend.ProtocolFault("block hash at %d: %v", height, err)
	}
	return hash, nil
}

// EstimateFees implements backend.Backend. /fee-estimates maps confirmation
// targets to sat/vB.
func (b *Backend) EstimateFees(ctx context.Context) (*backend.FeeEstimate, error) {
	body, err := b.client.Get(ctx, "/fee-estimates")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, backend.ProtocolFault("fee-estimates is not JSON")
	}

	rates := make(map[int]float64)
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		target, err := strconv.Atoi(key.String())
		if err == nil && value.Type == gjson.Number {
			rates[target] = backend.SatPerVByteToKvB(value.Float())
		}
		return true
	})
	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: explorer returned no estimates", backend.ErrFeesUnavailable)
	}
	return b.policy.Build(rates)
}

// BlockByHeight implements backend.Backend.
func (b *Backend) BlockByHeight(ctx context.Context, height uint64) (*backend.Block, error) {
	hash, err := b.hashAtHeight(ctx, height)
	if err != nil {
		return nil, err
	}

	raw, err := b.client.Get(ctx, "/block/"+hash.String()+"/raw")
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("block %s: %w", hash, backend.ErrBlockNotFound)
		}
		return nil, err
	}

	if b.verifyBlocks {
		var header wire.BlockHeader
		if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, backend.ProtocolFault("block %s header: %v", hash, err)
		}
		if got := header.BlockHash(); got != hash {
			return nil, backend.ProtocolFault("block at %d hashes to %s, expected %s", height, got, hash)
		}
	}
	return &backend.Block{Hash: hash, Raw: raw}, nil
}

// GetUtxo implements backend.Backend.
func (b *Backend) GetUtxo(ctx context.Context, txid chainhash.Hash, vout uint32) (*backend.Utxo, error) {
	out, err := b.output(ctx, txid, vout)
	if err != nil {
		return nil, err
	}

	body, err := b.client.Get(ctx, fmt.Sprintf("/tx/%s/outspend/%d", txid, vout))
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%s:%d: %w", txid, vout, backend.ErrUtxoNotFound)
		}
		return nil, err
	}
	if gjson.GetBytes(body, "spent").Bool() {
		return nil, fmt.Errorf("%s:%d spent: %w", txid, vout, backend.ErrUtxoNotFound)
	}
	return out, nil
}

// output fetches the value and script of an output whether spent or not.
func (b *Backend) output(ctx context.Context, txid chainhash.Hash, vout uint32) (*backend.Utxo, error) {
	body, err := b.client.Get(ctx, "/tx/"+txid.String())
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("tx %s: %w", txid, backend.ErrUtxoNotFound)
		}
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, backend.ProtocolFault("tx %s is not JSON", txid)
	}

	out := gjson.GetBytes(body, fmt.Sprintf("vout.%d", vout))
	if !out.Exists() {
		return nil, fmt.Errorf("%s has no output %d: %w", txid, vout, backend.ErrUtxoNotFound)
	}
	value := out.Get("value")
	if !value.Exists() {
		// Confidential Liquid outputs hide their value.
		return nil, fmt.Errorf("%s:%d has no explicit value: %w", txid, vout, backend.ErrUtxoNotFound)
	}
	script, err := types.DecodeHex(out.Get("scriptpubkey").String())
	if err != nil && !errors.Is(err, types.ErrEmptyPayload) {
		return nil, backend.ProtocolFault("%s:%d script: %v", txid, vout, err)
	}
	return &backend.Utxo{Amount: value.Int(), Script: script}, nil
}

// SendRawTransaction implements backend.Backend. Esplora relays whatever
// bitcoind accepts, so the fee-sanity check runs here against prevout
// values fetched from the explorer.
func (b *Backend) SendRawTransaction(ctx context.Context, raw []byte, allowHighFees bool) error {
	tx, err := backend.DecodeTx(raw)
	if err != nil {
		return err
	}

	if !allowHighFees && b.maxFeeRate > 0 {
		values, err := b.inputValues(ctx, tx)
		if err != nil {
			return fmt.Errorf("fee check: %w", err)
		}
		if err := backend.CheckFeeRate(tx, values, b.maxFeeRate); err != nil {
			return err
		}
	}

	body, err := b.client.Post(ctx, "/tx", types.EncodeHex(raw))
	if err != nil {
		return err
	}
	b.log.WithField("txid", strings.TrimSpace(string(body))).Info("transaction broadcast")
	return nil
}

func (b *Backend) inputValues(ctx context.Context, tx *wire.MsgTx) ([]int64, error) {
	values := make([]int64, len(tx.TxIn))
	for i, in := range tx.TxIn {
		prev := in.PreviousOutPoint
		out, err := b.output(ctx, prev.Hash, prev.Index)
		if err != nil {
			return nil, fmt.Errorf("input %d (%s): %w", i, prev, err)
		}
		values[i] = out.Amount
	}
	return values, nil
}

// Endpoints returns the failover state of every configured endpoint.
func (b *Backend) Endpoints() []Endpoint {
	return b.client.pool.Snapshot()
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	b.client.httpClient.CloseIdleConnections()
	return nil
}
