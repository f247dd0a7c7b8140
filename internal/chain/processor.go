package chain

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
)

// Block processing errors.
var (
	ErrBlockKnown            = errors.New("block already known")
	ErrBadHeight             = errors.New("block height does not follow parent")
	ErrBadPrevHash           = errors.New("prev_hash does not match current tip")
	ErrTimestampBeforeParent = errors.New("block timestamp before parent")
	ErrNotInitialized        = errors.New("chain has no genesis block")
	ErrDisconnectGenesis     = errors.New("cannot disconnect the genesis block")
)

// ProcessBlock validates a block that extends the current tip and connects
// it. Listeners are notified once the block store is updated.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}

	c.procMu.Lock()
	defer c.procMu.Unlock()

	hash := blk.Hash()
	if hash == c.TipHash() {
		return ErrBlockKnown
	}
	if err := c.checkParentLink(blk); err != nil {
		return err
	}
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if err := c.connect(blk); err != nil {
		return err
	}
	log.Chain.Debug().
		Uint64("height", blk.Header.Height).
		Str("hash", hash.String()).
		Int("txs", len(blk.Transactions)).
		Msg("Block connected")
	return nil
}

// checkParentLink requires blk to extend the current tip.
func (c *Chain) checkParentLink(blk *block.Block) error {
	st := c.State()
	if st.IsGenesis() {
		return ErrNotInitialized
	}
	if blk.Header.PrevHash != st.TipHash {
		return fmt.Errorf("%w: tip %s, got %s", ErrBadPrevHash, st.TipHash, blk.Header.PrevHash)
	}
	if want := st.Height + 1; blk.Header.Height != want {
		return fmt.Errorf("%w: want %d, got %d", ErrBadHeight, want, blk.Header.Height)
	}
	if blk.Header.Time < st.TipTime {
		return fmt.Errorf("%w: block time %d < parent time %d",
			ErrTimestampBeforeParent, blk.Header.Time, st.TipTime)
	}
	return nil
}

// connect stores and indexes blk, moves the tip, and notifies listeners.
// The caller holds procMu.
func (c *Chain) connect(blk *block.Block) error {
	blk.StampHeights()
	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store block: %w", err)
	}
	hash := blk.Hash()
	if err := c.blocks.SetTip(hash, blk.Header.Height); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}

	c.mu.Lock()
	c.state = State{Height: blk.Header.Height, TipHash: hash, TipTime: blk.Header.Time}
	c.mu.Unlock()

	c.notify(func(l Listener) { l.BlockConnected(blk) })
	return nil
}

// DisconnectTip removes the tip block from the active chain and returns it.
// Listeners see the block through BlockDisconnected. The block body stays
// in the store, so the same block can be processed again later.
func (c *Chain) DisconnectTip() (*block.Block, error) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	st := c.State()
	if st.IsGenesis() {
		return nil, ErrNotInitialized
	}
	if st.Height == 0 {
		return nil, ErrDisconnectGenesis
	}

	tip, err := c.blocks.GetBlock(st.TipHash)
	if err != nil {
		return nil, fmt.Errorf("load tip: %w", err)
	}
	parent, err := c.blocks.GetBlock(tip.Header.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("load parent: %w", err)
	}

	if err := c.blocks.UnindexBlock(tip); err != nil {
		return nil, err
	}
	if err := c.blocks.SetTip(parent.Hash(), parent.Header.Height); err != nil {
		return nil, fmt.Errorf("set tip: %w", err)
	}

	c.mu.Lock()
	c.state = State{Height: parent.Header.Height, TipHash: parent.Hash(), TipTime: parent.Header.Time}
	c.mu.Unlock()

	c.notify(func(l Listener) { l.BlockDisconnected(tip) })
	log.Chain.Info().
		Uint64("height", tip.Header.Height).
		Str("hash", st.TipHash.String()).
		Msg("Block disconnected")
	return tip, nil
}

// NextHeader returns a header template extending the current tip.
func (c *Chain) NextHeader(timeMillis int64) *block.Header {
	st := c.State()
	return &block.Header{
		Version:  block.CurrentVersion,
		PrevHash: st.TipHash,
		Time:     timeMillis,
		Height:   st.Height + 1,
	}
}
