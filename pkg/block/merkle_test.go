package block

import (
	"fmt"
	"testing"

	"github.com/Klingon-tech/klingnet-ledger/pkg/crypto"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// transferHashes returns the hashes of n transfers between two accounts,
// each with its own remark.
func transferHashes(n int) []types.Hash {
	hashes := make([]types.Hash, n)
	for i := range hashes {
		t := tx.NewBuilder(tx.TypeTransfer, 1_700_000_000_000+int64(i)).
			SetRemark(fmt.Sprintf("payment %d", i)).
			AddInput(types.Outpoint{TxID: types.Hash{byte(i + 1)}}, tx.NewCoin(testAddr(1), 100, tx.Unlocked)).
			AddOutput(tx.NewCoin(testAddr(2), 90, tx.Unlocked)).
			Build()
		hashes[i] = t.Hash()
	}
	return hashes
}

func TestComputeMerkleRoot_Empty(t *testing.T) {
	if root := ComputeMerkleRoot(nil); !root.IsZero() {
		t.Errorf("root of no transactions = %s, want zero", root)
	}
}

func TestComputeMerkleRoot_Shapes(t *testing.T) {
	h := transferHashes(4)
	pair := crypto.HashConcat

	tests := []struct {
		name   string
		hashes []types.Hash
		want   types.Hash
	}{
		{"coinbase only", h[:1], h[0]},
		{"two", h[:2], pair(h[0], h[1])},
		{"three pads the last", h[:3], pair(pair(h[0], h[1]), pair(h[2], h[2]))},
		{"four", h, pair(pair(h[0], h[1]), pair(h[2], h[3]))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeMerkleRoot(tt.hashes); got != tt.want {
				t.Errorf("root = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeMerkleRoot_OrderMatters(t *testing.T) {
	h := transferHashes(2)
	if ComputeMerkleRoot([]types.Hash{h[0], h[1]}) == ComputeMerkleRoot([]types.Hash{h[1], h[0]}) {
		t.Error("swapping two transfers should change the root")
	}
}

func TestComputeMerkleRoot_KeepsInput(t *testing.T) {
	h := transferHashes(7)
	input := append([]types.Hash(nil), h...)
	root := ComputeMerkleRoot(input)
	for i := range input {
		if input[i] != h[i] {
			t.Fatalf("input[%d] was modified", i)
		}
	}
	if root.IsZero() || root != ComputeMerkleRoot(h) {
		t.Error("root of seven transfers should be non-zero and stable")
	}
}

func TestNewBlock_MerkleRootCoversTransactions(t *testing.T) {
	blk := validBlock(t, testSpend(types.Outpoint{TxID: types.Hash{1}}))
	if blk.Header.MerkleRoot != ComputeMerkleRoot(blk.TxHashes()) {
		t.Fatal("header merkle root does not match the block's transactions")
	}

	other := validBlock(t, testSpend(types.Outpoint{TxID: types.Hash{2}}))
	if other.Header.MerkleRoot == blk.Header.MerkleRoot {
		t.Error("blocks with different transfers share a merkle root")
	}
}
