// Package block defines the blocks the ledger consumes.
package block

import (
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Block is a header plus its ordered transactions.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`

	// Unlocks lists earlier transactions whose locked outputs are released
	// by this block.
	Unlocks []types.Hash `json:"unlocks,omitempty"`
}

// NewBlock creates a block, filling in the merkle root and tx count and
// stamping every transaction with the block height.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	b := &Block{Header: header, Transactions: txs}
	header.TxCount = uint32(len(txs))
	header.MerkleRoot = ComputeMerkleRoot(b.TxHashes())
	b.StampHeights()
	return b
}

// TxHashes returns the hashes of the block's transactions in order.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}

// StampHeights sets BlockHeight on every transaction to the header height.
func (b *Block) StampHeights() {
	if b.Header == nil {
		return
	}
	for _, t := range b.Transactions {
		t.BlockHeight = int64(b.Header.Height)
	}
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}
