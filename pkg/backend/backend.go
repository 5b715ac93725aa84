// Package backend defines the contract every blockchain data source must
// satisfy to serve lightningd's bitcoin-backend queries.
//
// A backend is one of a closed set of kinds (light client, explorer, full
// node). The rest of the process sees only the Backend interface; which
// kind is active is decided once at startup by the registry.
//
// # Not-found conditions
//
// A missing block, a spent output and a failed fee estimate are normal
// outcomes, not faults. Backends report them with ErrBlockNotFound,
// ErrUtxoNotFound and ErrFeesUnavailable and the router answers with a
// null-filled response of the same shape as a success.
//
// # Timeouts
//
// Backends bound their own network I/O. A timeout surfaces as
// ErrBackendUnavailable.
package backend

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Backend is the capability interface implemented by every data source.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Kind returns the backend kind. It is constant for the instance.
	Kind() Kind

	// ChainInfo reports the network and sync progress. tipHint is the
	// height lightningd last saw; it may be used as a sync hint but is
	// never authoritative.
	ChainInfo(ctx context.Context, tipHint *uint64) (*ChainInfo, error)

	// EstimateFees returns the eight lightningd feerates in sat/kvB.
	EstimateFees(ctx context.Context) (*FeeEstimate, error)

	// BlockByHeight returns the block at height, or ErrBlockNotFound when
	// the height is beyond the known tip.
	BlockByHeight(ctx context.Context, height uint64) (*Block, error)

	// GetUtxo returns an unspent output, or ErrUtxoNotFound when it was
	// spent or never existed.
	GetUtxo(ctx context.Context, txid chainhash.Hash, vout uint32) (*Utxo, error)

	// SendRawTransaction relays a serialized transaction. allowHighFees
	// bypasses any fee-sanity check the backend applies. A non-nil error
	// means the transaction was not accepted.
	SendRawTransaction(ctx context.Context, tx []byte, allowHighFees bool) error

	// Close releases backend resources.
	Close() error
}

// ChainInfo describes the chain as seen by a backend.
type ChainInfo struct {
	// Chain is the bip70 network name (main, test, regtest, signet, ...).
	Chain string

	// HeaderCount is the number of block headers known.
	HeaderCount uint64

	// BlockCount is the number of full blocks known.
	BlockCount uint64

	// IBD reports whether the backend is still in initial block download.
	IBD bool
}

// FeeEstimate holds lightningd's eight feerates, all in sat/kvB.
type FeeEstimate struct {
	Opening         uint64
	MutualClose     uint64
	UnilateralClose uint64
	DelayedToUs     uint64
	HTLCResolution  uint64
	Penalty         uint64
	MinAcceptable   uint64
	MaxAcceptable   uint64
}

// Block is a raw block with its hash.
type Block struct {
	Hash chainhash.Hash
	Raw  []byte
}

// Utxo is an unspent transaction output.
type Utxo struct {
	// Amount is the output value in satoshis.
	Amount int64

	// Script is the output scriptPubKey.
	Script []byte
}
