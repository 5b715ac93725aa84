package blockcache

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// ErrCorrupt is returned when a cached entry fails its checksum.
var ErrCorrupt = errors.New("cache entry corrupt")

const checksumSize = 32

// Entry layout: block hash (32) | blake3(raw) (32) | zstd(raw).
const headerSize = chainhash.HashSize + checksumSize

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func encodeBlock(blk *backend.Block) []byte {
	sum := blake3.Sum256(blk.Raw)
	out := make([]byte, headerSize, headerSize+len(blk.Raw)/2)
	copy(out, blk.Hash[:])
	copy(out[chainhash.HashSize:], sum[:])
	return encoder.EncodeAll(blk.Raw, out)
}

func decodeBlock(data []byte) (*backend.Block, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	raw, err := decoder.DecodeAll(data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	sum := blake3.Sum256(raw)
	if !bytes.Equal(sum[:], data[chainhash.HashSize:headerSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	blk := &backend.Block{Raw: raw}
	copy(blk.Hash[:], data[:chainhash.HashSize])
	return blk, nil
}
