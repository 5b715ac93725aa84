// Package backendtest provides a testify mock of backend.Backend.
package backendtest

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// Backend is a mock backend.Backend.
type Backend struct {
	mock.Mock
	kind backend.Kind
}

var _ backend.Backend = (*Backend)(nil)

// New returns a mock reporting kind.
func New(kind backend.Kind) *Backend {
	return &Backend{kind: kind}
}

func (b *Backend) Kind() backend.Kind { return b.kind }

func (b *Backend) ChainInfo(ctx context.Context, tipHint *uint64) (*backend.ChainInfo, error) {
	args := b.Called(ctx, tipHint)
	info, _ := args.Get(0).(*backend.ChainInfo)
	return info, args.Error(1)
}

func (b *Backend) EstimateFees(ctx context.Context) (*backend.FeeEstimate, error) {
	args := b.Called(ctx)
	est, _ := args.Get(0).(*backend.FeeEstimate)
	return est, args.Error(1)
}

func (b *Backend) BlockByHeight(ctx context.Context, height uint64) (*backend.Block, error) {
	args := b.Called(ctx, height)
	blk, _ := args.Get(0).(*backend.Block)
	return blk, args.Error(1)
}

func (b *Backend) GetUtxo(ctx context.Context, txid chainhash.Hash, vout uint32) (*backend.Utxo, error) {
	args := b.Called(ctx, txid, vout)
	utxo, _ := args.Get(0).(*backend.Utxo)
	return utxo, args.Error(1)
}

func (b *Backend) SendRawTransaction(ctx context.Context, tx []byte, allowHighFees bool) error {
	args := b.Called(ctx, tx, allowHighFees)
	return args.Error(0)
}

func (b *Backend) Close() error {
	if !b.hasExpectation("Close") {
		return nil
	}
	return b.Called().Error(0)
}

func (b *Backend) hasExpectation(method string) bool {
	for _, c := range b.ExpectedCalls {
		if c.Method == method {
			return true
		}
	}
	return false
}
