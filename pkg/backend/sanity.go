package backend

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// DecodeTx deserializes a raw transaction, witness-aware.
func DecodeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// VirtualSize returns the BIP141 virtual size of tx in vbytes.
func VirtualSize(tx *wire.MsgTx) int64 {
	base := int64(tx.SerializeSizeStripped())
	total := int64(tx.SerializeSize())
	weight := base*3 + total
	return (weight + 3) / 4
}

// FeeRate returns the fee in satoshis and the feerate in sat/kvB of tx given
// the values of the outputs it spends, in input order.
func FeeRate(tx *wire.MsgTx, inputValues []int64) (int64, uint64, error) {
	if len(inputValues) != len(tx.TxIn) {
		return 0, 0, fmt.Errorf("have %d input values for %d inputs", len(inputValues), len(tx.TxIn))
	}

	var in, out int64
	for _, v := range inputValues {
		in += v
	}
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	fee := in - out
	if fee < 0 {
		return fee, 0, fmt.Errorf("outputs (%d sat) exceed inputs (%d sat)", out, in)
	}

	vsize := VirtualSize(tx)
	if vsize == 0 {
		return fee, 0, fmt.Errorf("empty transaction")
	}
	return fee, uint64(fee) * 1000 / uint64(vsize), nil
}

// CheckFeeRate refuses transactions whose feerate exceeds maxFeeRate
// (sat/kvB). A zero maxFeeRate disables the check.
func CheckFeeRate(tx *wire.MsgTx, inputValues []int64, maxFeeRate uint64) error {
	if maxFeeRate == 0 {
		return nil
	}
	fee, rate, err := FeeRate(tx, inputValues)
	if err != nil {
		return err
	}
	if rate > maxFeeRate {
		return fmt.Errorf("%w: fee %d sat is %d sat/kvB, limit %d sat/kvB (set allowhighfees to override)",
			ErrFeeTooHigh, fee, rate, maxFeeRate)
	}
	return nil
}
