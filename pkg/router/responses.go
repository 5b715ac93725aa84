package router

import (
	"github.com/fortiblox/chainbridge/internal/types"
	"github.com/fortiblox/chainbridge/pkg/backend"
)

// ChainInfoResponse is the getchaininfo result.
type ChainInfoResponse struct {
	Chain       string `json:"chain"`
	HeaderCount uint64 `json:"headercount"`
	BlockCount  uint64 `json:"blockcount"`
	IBD         bool   `json:"ibd"`
}

// FeesResponse is the estimatefees result. Either every field is set or
// every field is null.
type FeesResponse struct {
	Opening         *uint64 `json:"opening"`
	MutualClose     *uint64 `json:"mutual_close"`
	UnilateralClose *uint64 `json:"unilateral_close"`
	DelayedToUs     *uint64 `json:"delayed_to_us"`
	HTLCResolution  *uint64 `json:"htlc_resolution"`
	Penalty         *uint64 `json:"penalty"`
	MinAcceptable   *uint64 `json:"min_acceptable"`
	MaxAcceptable   *uint64 `json:"max_acceptable"`
}

// BlockResponse is the getrawblockbyheight result.
type BlockResponse struct {
	BlockHash *string `json:"blockhash"`
	Block     *string `json:"block"`
}

// UtxoResponse is the getutxout result.
type UtxoResponse struct {
	Amount *int64  `json:"amount"`
	Script *string `json:"script"`
}

// SendResponse is the sendrawtransaction result.
type SendResponse struct {
	Success bool   `json:"success"`
	ErrMsg  string `json:"errmsg,omitempty"`
}

func chainInfoResponse(info *backend.ChainInfo) *ChainInfoResponse {
	return &ChainInfoResponse{
		Chain:       info.Chain,
		HeaderCount: info.HeaderCount,
		BlockCount:  info.BlockCount,
		IBD:         info.IBD,
	}
}

func feesResponse(est *backend.FeeEstimate) *FeesResponse {
	if est == nil {
		return &FeesResponse{}
	}
	u := func(v uint64) *uint64 { return &v }
	return &FeesResponse{
		Opening:         u(est.Opening),
		MutualClose:     u(est.MutualClose),
		UnilateralClose: u(est.UnilateralClose),
		DelayedToUs:     u(est.DelayedToUs),
		HTLCResolution:  u(est.HTLCResolution),
		Penalty:         u(est.Penalty),
		MinAcceptable:   u(est.MinAcceptable),
		MaxAcceptable:   u(est.MaxAcceptable),
	}
}

func blockResponse(b *backend.Block) *BlockResponse {
	if b == nil {
		return &BlockResponse{}
	}
	hash := b.Hash.String()
	raw := types.EncodeHex(b.Raw)
	return &BlockResponse{BlockHash: &hash, Block: &raw}
}

func utxoResponse(u *backend.Utxo) *UtxoResponse {
	if u == nil {
		return &UtxoResponse{}
	}
	amount := u.Amount
	script := types.EncodeHex(u.Script)
	return &UtxoResponse{Amount: &amount, Script: &script}
}

func sendResponse(err error) *SendResponse {
	if err == nil {
		return &SendResponse{Success: true}
	}
	msg := err.Error()
	if msg == "" {
		msg = "transaction rejected"
	}
	return &SendResponse{Success: false, ErrMsg: msg}
}
