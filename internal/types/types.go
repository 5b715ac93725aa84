// Package types defines the small set of Bitcoin wire primitives shared by
// the backends and the request router.
//
// Transaction ids and block hashes travel as 64-character hex strings in
// Bitcoin's customary reversed byte order. Raw blocks, transactions and
// scripts travel as plain hex.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Size constants for core types.
const (
	HashSize    = chainhash.HashSize
	HashHexSize = chainhash.MaxHashStringSize
)

var (
	// ErrInvalidHash is returned when a hash string is not 64 hex characters.
	ErrInvalidHash = errors.New("invalid hash: must be 64 hex characters")

	// ErrInvalidHex is returned when a payload is not valid hex.
	ErrInvalidHex = errors.New("invalid hex encoding")

	// ErrEmptyPayload is returned when a hex payload decodes to zero bytes.
	ErrEmptyPayload = errors.New("empty payload")
)

// HashFromHex parses a txid or block hash in display (reversed) order.
// Unlike chainhash.NewHashFromStr it rejects short strings.
func HashFromHex(s string) (chainhash.Hash, error) {
	var h chainhash.Hash
	if len(s) != HashHexSize {
		return h, ErrInvalidHash
	}
	if _, err := hex.DecodeString(s); err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	parsed, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return *parsed, nil
}

// MustHashFromHex is like HashFromHex but panics on error.
// Only for package-level literals.
func MustHashFromHex(s string) chainhash.Hash {
	h, err := HashFromHex(s)
	if err != nil {
		panic(err)
	}
	return h
}

// DecodeHex decodes a non-empty hex payload. Surrounding whitespace is
// tolerated because some explorers terminate bodies with a newline.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyPayload
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return data, nil
}

// EncodeHex encodes bytes as lowercase hex.
func EncodeHex(data []byte) string {
	return hex.EncodeToString(data)
}
