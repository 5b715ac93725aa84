// Package lightclient implements the BIP157/158 compact-filter backend on top
// of neutrino.
//
// A light client validates headers and fetches full blocks from peers on
// demand. It has no mempool and no UTXO set, so it cannot estimate fees and
// cannot answer output queries; those calls report the corresponding
// not-found conditions.
package lightclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightninglabs/neutrino"
	"github.com/lightninglabs/neutrino/headerfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// DefaultTimeout bounds peer queries when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

const (
	dbFile    = "neutrino.db"
	dbTimeout = 10 * time.Second
)

// Config configures the backend.
type Config struct {
	Network string
	DataDir string
	Peers   []string
	Proxy   string
	Timeout time.Duration
}

// chainService is the subset of *neutrino.ChainService the backend uses.
type chainService interface {
	Start() error
	Stop() error
	BestBlock() (*headerfs.BlockStamp, error)
	IsCurrent() bool
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlock(hash chainhash.Hash, opts ...neutrino.QueryOption) (*btcutil.Block, error)
	SendTransaction(tx *wire.MsgTx) error
}

// Backend is the light client backend.
type Backend struct {
	svc     chainService
	db      walletdb.DB
	chain   string
	timeout time.Duration
	log     logrus.FieldLogger
}

var _ backend.Backend = (*Backend)(nil)

var errNoOutputLookup = errors.New("light client cannot look up outputs")

// New opens the header database under cfg.DataDir and starts syncing.
func New(cfg Config, log logrus.FieldLogger) (*Backend, error) {
	params, err := backend.ParamsForNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, errors.New("light client needs a data directory")
	}
	dir := filepath.Join(cfg.DataDir, params.Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	db, err := walletdb.Create("bdb", filepath.Join(dir, dbFile), true, dbTimeout)
	if err != nil {
		return nil, fmt.Errorf("open header db: %w", err)
	}

	ncfg := neutrino.Config{
		DataDir:      dir,
		Database:     db,
		ChainParams:  *params,
		ConnectPeers: cfg.Peers,
	}
	if cfg.Proxy != "" {
		dial, err := proxyDialer(cfg.Proxy)
		if err != nil {
			db.Close()
			return nil, err
		}
		ncfg.Dialer = dial
	}

	svc, err := neutrino.NewChainService(ncfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("neutrino: %w", err)
	}

	b, err := newBackend(svc, params, cfg.Timeout, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.db = db
	if err := svc.Start(); err != nil {
		b.Close()
		return nil, fmt.Errorf("start neutrino: %w", err)
	}
	log.WithFields(logrus.Fields{"dir": dir, "peers": len(cfg.Peers)}).Info("light client started")
	return b, nil
}

func newBackend(svc chainService, params *chaincfg.Params, timeout time.Duration, log logrus.FieldLogger) (*Backend, error) {
	chain, err := backend.NetworkFromGenesis(*params.GenesisHash)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Backend{svc: svc, chain: chain, timeout: timeout, log: log}, nil
}

func proxyDialer(raw string) (func(net.Addr) (net.Conn, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy %q: %w", raw, err)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy %q: %w", raw, err)
	}
	return func(addr net.Addr) (net.Conn, error) {
		return d.Dial(addr.Network(), addr.String())
	}, nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.LightClient }

// ChainInfo implements backend.Backend. A light client has validated every
// header it reports, so headercount and blockcount are both the header tip.
func (b *Backend) ChainInfo(ctx context.Context, tipHint *uint64) (*backend.ChainInfo, error) {
	tip, err := b.tip()
	if err != nil {
		return nil, err
	}
	ibd := !b.svc.IsCurrent()
	if tipHint != nil && *tipHint > tip {
		ibd = true
	}
	return &backend.ChainInfo{
		Chain:       b.chain,
		HeaderCount: tip,
		BlockCount:  tip,
		IBD:         ibd,
	}, nil
}

func (b *Backend) tip() (uint64, error) {
	best, err := b.svc.BestBlock()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", backend.ErrSyncIncomplete, err)
	}
	if best == nil || best.Height < 0 {
		return 0, backend.ErrSyncIncomplete
	}
	return uint64(best.Height), nil
}

// EstimateFees implements backend.Backend.
func (b *Backend) EstimateFees(ctx context.Context) (*backend.FeeEstimate, error) {
	return nil, fmt.Errorf("%w: light client has no mempool", backend.ErrFeesUnavailable)
}

// BlockByHeight implements backend.Backend.
func (b *Backend) BlockByHeight(ctx context.Context, height uint64) (*backend.Block, error) {
	tip, err := b.tip()
	if err != nil {
		return nil, err
	}
	if height > tip {
		return nil, fmt.Errorf("height %d above tip %d: %w", height, tip, backend.ErrBlockNotFound)
	}

	hash, err := b.svc.GetBlockHash(int64(height))
	if err != nil {
		return nil, fmt.Errorf("height %d: %w", height, backend.ErrBlockNotFound)
	}

	blk, err := withTimeout(ctx, b.timeout, "getblock", func() (*btcutil.Block, error) {
		return b.svc.GetBlock(*hash, neutrino.Timeout(b.timeout))
	})
	if err != nil {
		return nil, err
	}
	raw, err := blk.Bytes()
	if err != nil {
		return nil, backend.ProtocolFault("serialize block %s: %v", hash, err)
	}
	if got := blk.MsgBlock().BlockHash(); got != *hash {
		return nil, backend.ProtocolFault("peer sent block %s for %s", got, hash)
	}
	return &backend.Block{Hash: *hash, Raw: raw}, nil
}

// GetUtxo implements backend.Backend. Matching an outpoint against compact
// filters needs its script, which lightningd does not send, so the lookup
// is reported as unavailable rather than as a spent output.
func (b *Backend) GetUtxo(ctx context.Context, txid chainhash.Hash, vout uint32) (*backend.Utxo, error) {
	return nil, backend.Unavailable("getutxo", fmt.Errorf("%s:%d: %w", txid, vout, errNoOutputLookup))
}

// SendRawTransaction implements backend.Backend. Prevout values are unknown
// here, so allowHighFees has nothing to bypass.
func (b *Backend) SendRawTransaction(ctx context.Context, raw []byte, allowHighFees bool) error {
	tx, err := backend.DecodeTx(raw)
	if err != nil {
		return err
	}
	_, err = withTimeout(ctx, b.timeout, "sendtransaction", func() (struct{}, error) {
		return struct{}{}, b.svc.SendTransaction(tx)
	})
	if err != nil {
		return err
	}
	b.log.WithField("txid", tx.TxHash()).Info("transaction broadcast")
	return nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	err := b.svc.Stop()
	if b.db != nil {
		if cerr := b.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

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
		if r.err != nil {
			return zero, backend.Unavailable(op, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		return zero, backend.Unavailable(op, ctx.Err())
	}
}
