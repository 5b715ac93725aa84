package bitcoind

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

type rpcReply struct {
	Result interface{}     `json:"result"`
	Error  interface{}     `json:"error"`
	ID     json.RawMessage `json:"id"`
}

type rpcFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode answers bitcoind JSON-RPC calls through a handler per method.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]func(params []json.RawMessage) (interface{}, *rpcFault)
	calls    []rpcRequest
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	t.Helper()
	n := &fakeNode{handlers: make(map[string]func([]json.RawMessage) (interface{}, *rpcFault))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		n.calls = append(n.calls, req)
		h, ok := n.handlers[req.Method]
		n.mu.Unlock()

		reply := rpcReply{ID: req.ID}
		if !ok {
			reply.Error = &rpcFault{Code: -32601, Message: "Method not found"}
			w.WriteHeader(http.StatusNotFound)
		} else if result, fault := h(req.Params); fault != nil {
			reply.Error = fault
			w.WriteHeader(http.StatusInternalServerError)
		} else {
			reply.Result = result
		}
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) handle(method string, h func(params []json.RawMessage) (interface{}, *rpcFault)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) callsTo(method string) []rpcRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []rpcRequest
	for _, c := range n.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestBackend(t *testing.T, srv *httptest.Server) *Backend {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	b, err := New(Config{
		Host:       strings.TrimPrefix(srv.URL, "http://"),
		User:       "user",
		Password:   "pass",
		Timeout:    2 * time.Second,
		FeePolicy:  backend.DefaultFeePolicy(),
		MaxFeeRate: backend.DefaultMaxFeeRate,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestChainInfo(t *testing.T) {
	n, srv := newFakeNode(t)
	n.handle("getblockchaininfo", func([]json.RawMessage) (interface{}, *rpcFault) {
		return map[string]interface{}{
			"chain": "regtest", "blocks": 101, "headers": 105, "initialblockdownload": true,
		}, nil
	})

	info, err := newTestBackend(t, srv).ChainInfo(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &backend.ChainInfo{Chain: "regtest", HeaderCount: 105, BlockCount: 101, IBD: true}, info)
}

func TestChainInfoMalformed(t *testing.T) {
	n, srv := newFakeNode(t)
	n.handle("getblockchaininfo", func([]json.RawMessage) (interface{}, *rpcFault) {
		return map[string]interface{}{"blocks": 1}, nil
	})

	_, err := newTestBackend(t, srv).ChainInfo(context.Background(), nil)
	assert.ErrorIs(t, err, backend.ErrProtocolFault)
}

func TestEstimateFees(t *testing.T) {
	n, srv := newFakeNode(t)
	n.handle("estimatesmartfee", func(params []json.RawMessage) (interface{}, *rpcFault) {
		var target int
		json.Unmarshal(params[0], &target)
		rates := map[int]float64{2: 0.0005, 6: 0.0002, 12: 0.0001, 100: 0.00004}
		return map[string]interface{}{"feerate": rates[target], "blocks": target}, nil
	})

	est, err := newTestBackend(t, srv).EstimateFees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), est.Opening)
	assert.Equal(t, uint64(50_000), est.UnilateralClose)
	assert.Equal(t, uint64(20_000), est.HTLCResolution)
	assert.Equal(t, uint64(2_000), est.MinAcceptable)
	assert.Equal(t, uint64(500_000), est.MaxAcceptable)

	calls := n.callsTo("estimatesmartfee")
	require.Len(t, calls, 4)
	assert.JSONEq(t, `"CONSERVATIVE"`, string(calls[0].Params[1]))
}

func TestEstimateFeesInsufficientData(t *testing.T) {
	n, srv := newFakeNode(t)
	n.handle("estimatesmartfee", func([]json.RawMessage) (interface{}, *rpcFault) {
		return map[string]interface{}{"errors": []string{"Insufficient data or no feerate found"}, "blocks": 0}, nil
	})

	_, err := newTestBackend(t, srv).EstimateFees(context.Background())
	assert.ErrorIs(t, err, backend.ErrFeesUnavailable)
}

func TestBlockByHeight(t *testing.T) {
	genesis := chaincfg.RegressionNetParams.GenesisBlock
	hash := genesis.BlockHash()
	var buf bytes.Buffer
	require.NoError(t, genesis.Serialize(&buf))

	n, srv := newFakeNode(t)
	n.handle("getblockhash", func(params []json.RawMessage) (interface{}, *rpcFault) {
		if string(params[0]) != "0" {
			return nil, &rpcFault{Code: -8, Message: "Block height out of range"}
		}
		return hash.String(), nil
	})
	n.handle("getblock", func(params []json.RawMessage) (interface{}, *rpcFault) {
		return hex.EncodeToString(buf.Bytes()), nil
	})

	b := newTestBackend(t, srv)
	blk, err := b.BlockByHeight(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, hash, blk.Hash)
	assert.Equal(t, buf.Bytes(), blk.Raw)

	_, err = b.BlockByHeight(context.Background(), 5000)
	assert.ErrorIs(t, err, backend.ErrBlockNotFound)
}

func TestGetUtxo(t *testing.T) {
	txid := chainhash.Hash{0x42}
	n, srv := newFakeNode(t)
	n.handle("gettxout", func(params []json.RawMessage) (interface{}, *rpcFault) {
		if string(params[1]) != "1" {
			return nil, nil
		}
		return map[string]interface{}{
			"value":         0.00012345,
			"confirmations": 6,
			"scriptPubKey":  map[string]interface{}{"hex": "0014" + strings.Repeat("ab", 20)},
		}, nil
	})

	b := newTestBackend(t, srv)
	utxo, err := b.GetUtxo(context.Background(), txid, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(12_345), utxo.Amount)
	assert.Len(t, utxo.Script, 22)

	_, err = b.GetUtxo(context.Background(), txid, 0)
	assert.ErrorIs(t, err, backend.ErrUtxoNotFound)
}

func TestSendRawTransaction(t *testing.T) {
	n, srv := newFakeNode(t)
	n.handle("sendrawtransaction", func(params []json.RawMessage) (interface{}, *rpcFault) {
		if string(params[0]) == `"bad0"` {
			return nil, &rpcFault{Code: -26, Message: "max-fee-exceeded"}
		}
		return strings.Repeat("cd", 32), nil
	})

	b := newTestBackend(t, srv)
	require.NoError(t, b.SendRawTransaction(context.Background(), []byte{0x01, 0x02}, false))
	require.NoError(t, b.SendRawTransaction(context.Background(), []byte{0x01, 0x02}, true))

	calls := n.callsTo("sendrawtransaction")
	require.Len(t, calls, 2)
	assert.JSONEq(t, `0.1`, string(calls[0].Params[1]))
	assert.JSONEq(t, `0`, string(calls[1].Params[1]))

	err := b.SendRawTransaction(context.Background(), []byte{0xba, 0xd0}, false)
	assert.ErrorIs(t, err, backend.ErrFeeTooHigh)
}

func TestUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	b, err := New(Config{Host: strings.TrimPrefix(srv.URL, "http://"), Timeout: 50 * time.Millisecond}, log)
	require.NoError(t, err)

	_, err = b.ChainInfo(context.Background(), nil)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestCallAbandonedGoroutineExits(t *testing.T) {
	before := runtime.NumGoroutine()
	release := make(chan struct{})

	_, err := call(context.Background(), 20*time.Millisecond, "getblockcount", func() (int64, error) {
		<-release
		return 1, nil
	})
	require.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.True(t, backend.IsTimeout(err))

	close(release)
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}
