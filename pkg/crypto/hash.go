// Package crypto provides the hashing and signature primitives used by the ledger.
package crypto

import (
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// Hash160 returns the first 20 bytes of BLAKE3(data).
func Hash160(data []byte) []byte {
	h := Hash(data)
	out := make([]byte, types.Hash160Size)
	copy(out, h[:types.Hash160Size])
	return out
}

// AddressFromPubKey derives the default-type address of a compressed public key
// on the given chain.
func AddressFromPubKey(chainID uint16, pubKey []byte) types.Address {
	return types.NewAddress(chainID, types.AddressTypeDefault, Hash160(pubKey))
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
