package backend

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)

		text, err := k.MarshalText()
		require.NoError(t, err)
		var decoded Kind
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, k, decoded)
	}

	assert.Equal(t, "nakamoto", LightClient.String())
	assert.Equal(t, "esplora", Explorer.String())
	assert.Equal(t, "bitcoind", FullNode.String())
}

func TestParseKindRejectsUnknown(t *testing.T) {
	for _, token := range []string{"unknown", "", "Esplora", "BITCOIND", " esplora", "electrum"} {
		t.Run(token, func(t *testing.T) {
			_, err := ParseKind(token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupportedBackend)

			var ube *UnsupportedBackendError
			require.True(t, errors.As(err, &ube))
			assert.Equal(t, token, ube.Token)
		})
	}
}

func TestNetworkFromGenesis(t *testing.T) {
	tests := []struct {
		genesis chainhash.Hash
		want    string
	}{
		{*chaincfg.MainNetParams.GenesisHash, ChainMain},
		{*chaincfg.TestNet3Params.GenesisHash, ChainTest},
		{*chaincfg.SigNetParams.GenesisHash, ChainSignet},
		{*chaincfg.RegressionNetParams.GenesisHash, ChainRegtest},
		{testnet4Genesis, ChainTestnet4},
		{liquidGenesis, ChainLiquid},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := NetworkFromGenesis(tt.genesis)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
		chaincfg.MainNetParams.GenesisHash.String())

	_, err := NetworkFromGenesis(chainhash.Hash{0x01})
	assert.ErrorIs(t, err, ErrProtocolFault)
}

func TestParamsForNetwork(t *testing.T) {
	params, err := ParamsForNetwork("bitcoin")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.MainNetParams.Name, params.Name)

	params, err = ParamsForNetwork("testnet")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.TestNet3Params.Name, params.Name)

	_, err = ParamsForNetwork("liquid")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestFeePolicyBuild(t *testing.T) {
	policy := DefaultFeePolicy()
	est, err := policy.Build(map[int]float64{
		TargetVeryUrgent: 50_000,
		TargetUrgent:     20_000,
		TargetNormal:     10_000,
		TargetSlow:       4_000,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(10_000), est.Opening)
	assert.Equal(t, uint64(10_000), est.MutualClose)
	assert.Equal(t, uint64(50_000), est.UnilateralClose)
	assert.Equal(t, uint64(10_000), est.DelayedToUs)
	assert.Equal(t, uint64(20_000), est.HTLCResolution)
	assert.Equal(t, uint64(10_000), est.Penalty)
	assert.Equal(t, uint64(2_000), est.MinAcceptable)
	assert.Equal(t, uint64(500_000), est.MaxAcceptable)
}

func TestFeePolicyFloorsAndFallback(t *testing.T) {
	est, err := DefaultFeePolicy().Build(map[int]float64{
		3:   1500,
		144: 200,
	})
	require.NoError(t, err)

	// Only higher targets are borrowed: 2 -> 3, 6/12/100 -> 144.
	assert.Equal(t, uint64(1500), est.UnilateralClose)
	assert.Equal(t, uint64(FeerateFloor), est.HTLCResolution)
	assert.Equal(t, uint64(FeerateFloor), est.Opening)
	assert.Equal(t, uint64(FeerateFloor), est.MinAcceptable)
	assert.Equal(t, uint64(15_000), est.MaxAcceptable)
}

func TestFeePolicyNeverPartial(t *testing.T) {
	est, err := DefaultFeePolicy().Build(map[int]float64{
		TargetVeryUrgent: 5000,
		TargetUrgent:     4000,
		TargetNormal:     3000,
	})
	assert.Nil(t, est)
	assert.ErrorIs(t, err, ErrFeesUnavailable)

	est, err = DefaultFeePolicy().Build(nil)
	assert.Nil(t, est)
	assert.ErrorIs(t, err, ErrFeesUnavailable)
}

func testTx(outputs ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0xaa}, 0), nil, nil))
	for _, v := range outputs {
		tx.AddTxOut(wire.NewTxOut(v, []byte{0x00, 0x14,
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}))
	}
	return tx
}

func TestCheckFeeRate(t *testing.T) {
	tx := testTx(90_000)
	vsize := VirtualSize(tx)
	require.Greater(t, vsize, int64(0))

	fee, rate, err := FeeRate(tx, []int64{100_000})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), fee)
	assert.Equal(t, uint64(10_000*1000/vsize), rate)

	assert.NoError(t, CheckFeeRate(tx, []int64{100_000}, DefaultMaxFeeRate))
	assert.NoError(t, CheckFeeRate(tx, []int64{100_000}, 0))

	err = CheckFeeRate(tx, []int64{10_000_000}, DefaultMaxFeeRate)
	assert.ErrorIs(t, err, ErrFeeTooHigh)

	_, _, err = FeeRate(tx, []int64{1})
	assert.Error(t, err)

	_, _, err = FeeRate(tx, nil)
	assert.Error(t, err)
}

func TestDecodeTx(t *testing.T) {
	tx := testTx(1000, 2000)
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	decoded, err := DecodeTx(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, tx.TxHash(), decoded.TxHash())

	_, err = DecodeTx([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	err := Unavailable("fetch tip", errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	assert.ErrorIs(t, ProtocolFault("bad %s", "thing"), ErrProtocolFault)


	timedOut := Unavailable("getblock", context.DeadlineExceeded)
	assert.ErrorIs(t, timedOut, ErrBackendUnavailable)
	assert.True(t, IsTimeout(timedOut))
	assert.False(t, IsTimeout(err))
}
