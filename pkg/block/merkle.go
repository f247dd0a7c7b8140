package block

import (
	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// ComputeMerkleRoot folds transaction hashes pairwise into a single root.
// An empty list gives the zero hash; a level with an odd count pairs its
// last hash with itself.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	switch len(txHashes) {
	case 0:
		return types.Hash{}
	case 1:
		return txHashes[0]
	}

	level := append([]types.Hash(nil), txHashes...)
	for n := len(level); n > 1; n = (n + 1) / 2 {
		for i := 0; i < n; i += 2 {
			right := level[i]
			if i+1 < n {
				right = level[i+1]
			}
			level[i/2] = crypto.HashConcat(level[i], right)
		}
	}
	return level[0]
}
