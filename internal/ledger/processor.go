package ledger

import (
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// BlockProcessor keeps the ledger in step with the chain. It is registered
// as a chain listener: connected blocks are saved as confirmed and release
// the locked outputs they name, disconnected blocks are undone in reverse.
type BlockProcessor struct {
	ledger *Ledger
}

// NewBlockProcessor creates a processor feeding l.
func NewBlockProcessor(l *Ledger) *BlockProcessor {
	return &BlockProcessor{ledger: l}
}

// BlockConnected applies blk.
func (p *BlockProcessor) BlockConnected(blk *block.Block) {
	n, err := p.ledger.SaveConfirmedBatch(blk.Transactions)
	if err != nil {
		log.Ledger.Error().Err(err).
			Uint64("height", blk.Header.Height).
			Msg("Failed to save block transactions")
		return
	}
	unlocked := 0
	for _, h := range blk.Unlocks {
		t := p.findTx(blk, h)
		if t == nil {
			continue
		}
		c, err := p.ledger.UnlockCoinData(t)
		if err != nil {
			log.Ledger.Error().Err(err).Str("tx", h.String()).Msg("Failed to unlock outputs")
			continue
		}
		unlocked += c
	}
	if n > 0 || unlocked > 0 {
		log.Ledger.Debug().
			Uint64("height", blk.Header.Height).
			Int("txs", n).
			Int("unlocked", unlocked).
			Msg("Block applied to ledger")
	}
}

// BlockDisconnected undoes blk: unlocks first, then transactions, both in
// reverse order.
func (p *BlockProcessor) BlockDisconnected(blk *block.Block) {
	for i := len(blk.Unlocks) - 1; i >= 0; i-- {
		h := blk.Unlocks[i]
		t := p.findTx(blk, h)
		if t == nil {
			continue
		}
		if _, err := p.ledger.RollbackUnlockCoinData(t); err != nil {
			log.Ledger.Error().Err(err).Str("tx", h.String()).Msg("Failed to relock outputs")
		}
	}

	txs := make([]*tx.Transaction, len(blk.Transactions))
	for i, t := range blk.Transactions {
		txs[len(txs)-1-i] = t
	}
	n := p.ledger.RollbackBatch(txs, true)
	log.Ledger.Debug().
		Uint64("height", blk.Header.Height).
		Int("txs", n).
		Msg("Block removed from ledger")
}

// findTx looks up hash in blk first, then in the chain.
func (p *BlockProcessor) findTx(blk *block.Block, hash types.Hash) *tx.Transaction {
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t
		}
	}
	t, err := p.ledger.chain.GetTransaction(hash)
	if err != nil {
		log.Ledger.Warn().Err(err).Str("tx", hash.String()).Msg("Unlock target not found")
		return nil
	}
	return t
}
