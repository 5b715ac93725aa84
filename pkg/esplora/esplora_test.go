package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// fakeExplorer serves canned Esplora responses keyed by "METHOD path".
type fakeExplorer struct {
	mu     sync.Mutex
	routes map[string]func(w http.ResponseWriter, r *http.Request)
	posted []string
}

func newFakeExplorer(t *testing.T) (*fakeExplorer, *httptest.Server) {
	t.Helper()
	f := &fakeExplorer{routes: make(map[string]func(http.ResponseWriter, *http.Request))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeExplorer) text(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes["GET "+path] = func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, body)
	}
}

func (f *fakeExplorer) raw(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes["GET "+path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Write(body)
	}
}

func (f *fakeExplorer) acceptBroadcast(status int, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes["POST /tx"] = func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.posted = append(f.posted, string(body))
		f.mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}
}

func (f *fakeExplorer) postedTxs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...)
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestBackend(t *testing.T, urls ...string) *Backend {
	t.Helper()
	b, err := New(Config{
		Network:    "bitcoin",
		URLs:       urls,
		Timeout:    2 * time.Second,
		FeePolicy:  backend.DefaultFeePolicy(),
		MaxFeeRate: backend.DefaultMaxFeeRate,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func serializeBlock(t *testing.T, blk *wire.MsgBlock) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, blk.Serialize(&buf))
	return buf.Bytes()
}

func TestDefaultURLs(t *testing.T) {
	urls, err := DefaultURLs("bitcoin", false)
	require.NoError(t, err)
	assert.Equal(t, "https://blockstream.info/api", urls[0])

	urls, err = DefaultURLs("testnet", true)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(urls[0], ".onion/testnet/api"))

	urls, err = DefaultURLs("signet", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://mempool.space/signet/api"}, urls)

	_, err = DefaultURLs("regtest", false)
	assert.ErrorIs(t, err, backend.ErrUnknownNetwork)
}

func TestChainInfo(t *testing.T) {
	f, srv := newFakeExplorer(t)
	f.text("/blocks/tip/height", "800000")
	f.text("/block-height/0", chaincfg.MainNetParams.GenesisHash.String())

	b := newTestBackend(t, srv.URL)
	hint := uint64(799_990)
	info, err := b.ChainInfo(context.Background(), &hint)
	require.NoError(t, err)
	assert.Equal(t, &backend.ChainInfo{Chain: "main", HeaderCount: 800_000, BlockCount: 800_000}, info)
}

func TestChainInfoUnknownGenesis(t *testing.T) {
	f, srv := newFakeExplorer(t)
	f.text("/blocks/tip/height", "10")
	f.text("/block-height/0", strings.Repeat("ab", 32))

	_, err := newTestBackend(t, srv.URL).ChainInfo(context.Background(), nil)
	assert.ErrorIs(t, err, backend.ErrProtocolFault)
}

func TestChainInfoBadTip(t *testing.T) {
	f, srv := newFakeExplorer(t)
	f.text("/blocks/tip/height", "<html>")

	_, err := newTestBackend(t, srv.URL).ChainInfo(context.Background(), nil)
	assert.ErrorIs(t, err, backend.ErrProtocolFault)
}

func TestEstimateFees(t *testing.T) {
	f, srv := newFakeExplorer(t)
	f.text("/fee-estimates", `{"1":25.1,"2":20.5,"3":15,"6":10,"12":5,"100":2,"144":1.5,"1008":1}`)

	est, err := newTestBackend(t, srv.URL).EstimateFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), est.Opening)
	assert.Equal(t, uint64(20_500), est.UnilateralClose)
	assert.Equal(t, uint64(10_000), est.HTLCResolution)
	assert.Equal(t, uint64(1000), est.MinAcceptable)
	assert.Equal(t, uint64(205_000), est.MaxAcceptable)
}

func TestEstimateFeesEmpty(t *testing.T) {
	f, srv := newFakeExplorer(t)
	f.text("/fee-estimates", `{}`)

	_, err := newTestBackend(t, srv.URL).EstimateFees(context.Background())
	assert.ErrorIs(t, err, backend.ErrFeesUnavailable)
}

func TestBlockByHeight(t *testing.T) {
	genesis := chaincfg.MainNetParams.GenesisBlock
	hash := genesis.BlockHash()
	raw := serializeBlock(t, genesis)

	f, srv := newFakeExplorer(t)
	f.text("/block-height/0", hash.String())
	f.raw("/block/"+hash.String()+"/raw", raw)

	blk, err := newTestBackend(t, srv.URL).BlockByHeight(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, hash, blk.Hash)
	assert.Equal(t, raw, blk.Raw)
}

func TestBlockByHeightBeyondTip(t *testing.T) {
	_, srv := newFakeExplorer(t)

	_, err := newTestBackend(t, srv.URL).BlockByHeight(context.Background(), 900_000)
	assert.ErrorIs(t, err, backend.ErrBlockNotFound)
}

func TestBlockByHeightHashMismatch(t *testing.T) {
	hash := chaincfg.MainNetParams.GenesisBlock.BlockHash()
	f, srv := newFakeExplorer(t)
	f.text("/block-height/1", hash.String())
	f.raw("/block/"+hash.String()+"/raw", serializeBlock(t, chaincfg.RegressionNetParams.GenesisBlock))

	_, err := newTestBackend(t, srv.URL).BlockByHeight(context.Background(), 1)
	assert.ErrorIs(t, err, backend.ErrProtocolFault)
}

const txJSON = `{"txid":"%s","vout":[
	{"scriptpubkey":"0014aabbccddeeff00112233445566778899aabbccdd","value":50000000},
	{"scriptpubkey":"51","value":546}
]}`

func TestGetUtxo(t *testing.T) {
	txid := chainhash.Hash{0x11}
	f, srv := newFakeExplorer(t)
	f.text("/tx/"+txid.String(), fmt.Sprintf(txJSON, txid))
	f.text(fmt.Sprintf("/tx/%s/outspend/1", txid), `{"spent":false}`)
	f.text(fmt.Sprintf("/tx/%s/outspend/0", txid), `{"spent":true,"txid":"ff","vin":0}`)

	b := newTestBackend(t, srv.URL)

	utxo, err := b.GetUtxo(context.Background(), txid, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(546), utxo.Amount)
	assert.Equal(t, []byte{0x51}, utxo.Script)

	_, err = b.GetUtxo(context.Background(), txid, 0)
	assert.ErrorIs(t, err, backend.ErrUtxoNotFound)

	_, err = b.GetUtxo(context.Background(), txid, 7)
	assert.ErrorIs(t, err, backend.ErrUtxoNotFound)

	_, err = b.GetUtxo(context.Background(), chainhash.Hash{0x22}, 0)
	assert.ErrorIs(t, err, backend.ErrUtxoNotFound)
}

func spendTx(prev chainhash.Hash, value int64) []byte {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, [][]byte{make([]byte, 72), make([]byte, 33)}))
	tx.AddTxOut(wire.NewTxOut(value, make([]byte, 22)))
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestSendRawTransaction(t *testing.T) {
	prev := chainhash.Hash{0x11}
	f, srv := newFakeExplorer(t)
	f.text("/tx/"+prev.String(), fmt.Sprintf(txJSON, prev))
	f.acceptBroadcast(http.StatusOK, "c0ffee")

	b := newTestBackend(t, srv.URL)
	raw := spendTx(prev, 49_999_000)
	require.NoError(t, b.SendRawTransaction(context.Background(), raw, false))
	require.Len(t, f.postedTxs(), 1)
	assert.Equal(t, hex.EncodeToString(raw), f.postedTxs()[0])
}

func TestSendRawTransactionFeeTooHigh(t *testing.T) {
	prev := chainhash.Hash{0x11}
	f, srv := newFakeExplorer(t)
	f.text("/tx/"+prev.String(), fmt.Sprintf(txJSON, prev))
	f.acceptBroadcast(http.StatusOK, "c0ffee")

	b := newTestBackend(t, srv.URL)
	raw := spendTx(prev, 1_000)

	err := b.SendRawTransaction(context.Background(), raw, false)
	assert.ErrorIs(t, err, backend.ErrFeeTooHigh)
	assert.Empty(t, f.postedTxs())

	require.NoError(t, b.SendRawTransaction(context.Background(), raw, true))
	assert.Len(t, f.postedTxs(), 1)
}

func TestSendRawTransactionRejected(t *testing.T) {
	f, srv := newFakeExplorer(t)
	f.acceptBroadcast(http.StatusBadRequest,
		`sendrawtransaction RPC error: {"code":-25,"message":"bad-txns-inputs-missingorspent"}`)

	err := newTestBackend(t, srv.URL).SendRawTransaction(context.Background(), spendTx(chainhash.Hash{0x33}, 1), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad-txns-inputs-missingorspent")

	err = newTestBackend(t, srv.URL).SendRawTransaction(context.Background(), []byte{0x01, 0x02}, true)
	assert.Error(t, err)
}

func TestFailover(t *testing.T) {
	var failures atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failures.Add(1)
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	f, up := newFakeExplorer(t)
	f.text("/blocks/tip/height", "42")
	f.text("/block-height/0", chaincfg.RegressionNetParams.GenesisHash.String())

	b := newTestBackend(t, down.URL, up.URL)
	info, err := b.ChainInfo(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "regtest", info.Chain)
	assert.Equal(t, uint64(42), info.BlockCount)
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, 1, b.client.pool.HealthyCount())

	eps := b.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, down.URL, eps[0].URL)
	assert.False(t, eps[0].Healthy)
	assert.Error(t, eps[0].LastError)
	assert.True(t, eps[1].Healthy)
}

func TestUnavailable(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	b, err := New(Config{Network: "bitcoin", URLs: []string{slow.URL}, Timeout: 50 * time.Millisecond}, testLogger())
	require.NoError(t, err)

	_, err = b.ChainInfo(context.Background(), nil)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)

	_, err = b.BlockByHeight(context.Background(), 1)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}
