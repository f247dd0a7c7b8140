package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadTxCount          = errors.New("tx count mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTime            = errors.New("block time is zero")
	ErrNoCoinbase          = errors.New("first transaction must be coinbase")
	ErrMultipleCoinbase    = errors.New("multiple coinbase transactions in block")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
	ErrBadUnlock           = errors.New("invalid unlock reference")
)

// Block limits.
const (
	CurrentVersion = 1
	MaxBlockTxs    = 10_000
)

// Validate checks block structure and internal consistency. It does not
// check that inputs exist or that signatures verify.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version != CurrentVersion {
		return fmt.Errorf("%w: got %d", ErrBadVersion, b.Header.Version)
	}
	if b.Header.Time == 0 {
		return ErrZeroTime
	}
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), MaxBlockTxs)
	}
	if int(b.Header.TxCount) != len(b.Transactions) {
		return fmt.Errorf("%w: header=%d body=%d", ErrBadTxCount, b.Header.TxCount, len(b.Transactions))
	}

	if b.Transactions[0].Type != tx.TypeCoinBase {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		if t.Type == tx.TypeCoinBase {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	if root := ComputeMerkleRoot(b.TxHashes()); root != b.Header.MerkleRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, root)
	}

	spent := make(map[types.Outpoint]int)
	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		for _, in := range t.CoinData.From {
			if prev, dup := spent[in.PrevOut]; dup {
				return fmt.Errorf("tx %d: %w: outpoint %s also spent in tx %d",
					i, ErrDuplicateBlockInput, in.PrevOut, prev)
			}
			spent[in.PrevOut] = i
		}
	}

	released := make(map[types.Hash]struct{}, len(b.Unlocks))
	for i, h := range b.Unlocks {
		if h.IsZero() {
			return fmt.Errorf("unlock %d: %w: zero hash", i, ErrBadUnlock)
		}
		if _, dup := released[h]; dup {
			return fmt.Errorf("unlock %d: %w: duplicate %s", i, ErrBadUnlock, h)
		}
		released[h] = struct{}{}
	}
	return nil
}
