package chain

import (
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis configuration.
// The genesis block has height 0, a zero PrevHash, and a single coinbase
// transaction that distributes the initial allocations.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	if len(gen.ExtraData) > tx.MaxRemarkLen {
		return nil, fmt.Errorf("extra_data: %w", tx.ErrRemarkTooLong)
	}

	b := tx.NewBuilder(tx.TypeCoinBase, gen.Timestamp).SetRemark(gen.ExtraData)
	if err := addAllocOutputs(b, gen.Alloc, tx.Unlocked); err != nil {
		return nil, err
	}
	if err := addAllocOutputs(b, gen.Locked, tx.Locked); err != nil {
		return nil, err
	}

	header := &block.Header{
		Version: block.CurrentVersion,
		Time:    gen.Timestamp,
		Height:  0,
	}
	return block.NewBlock(header, []*tx.Transaction{b.Build()}), nil
}

// addAllocOutputs appends one output per allocation, sorted by address
// string for deterministic ordering.
func addAllocOutputs(b *tx.Builder, alloc map[string]uint64, lock tx.Lock) error {
	addrs := make([]string, 0, len(alloc))
	for addr := range alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addrStr := range addrs {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		b.AddOutput(tx.NewCoin(addr, alloc[addrStr], lock))
	}
	return nil
}
