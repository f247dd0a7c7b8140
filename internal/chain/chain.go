// Package chain stores the linked block sequence the ledger reads from and
// notifies listeners as blocks are connected and disconnected.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Lookup errors.
var (
	ErrBlockNotFound = errors.New("block not found")
	ErrTxNotFound    = errors.New("transaction not found")
)

// Listener receives block connect and disconnect events. Calls are made in
// chain order, after the block store has been updated, and never
// concurrently with each other.
type Listener interface {
	BlockConnected(blk *block.Block)
	BlockDisconnected(blk *block.Block)
}

// Chain is the active block sequence backed by a BlockStore.
type Chain struct {
	procMu sync.Mutex // serializes ProcessBlock / DisconnectTip including notification

	mu     sync.RWMutex // protects state
	state  State
	blocks *BlockStore

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New opens the chain stored in db, recovering the tip if one exists.
func New(db storage.DB) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}

	blocks := NewBlockStore(db)
	tipHash, height, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}

	ch := &Chain{
		state:  State{TipHash: tipHash, Height: height},
		blocks: blocks,
	}
	if !tipHash.IsZero() {
		tip, err := blocks.GetBlock(tipHash)
		if err != nil {
			return nil, fmt.Errorf("load tip block: %w", err)
		}
		ch.state.TipTime = tip.Header.Time
	}
	return ch, nil
}

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	c.procMu.Lock()
	defer c.procMu.Unlock()

	if st := c.State(); !st.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", st.Height)
	}

	// The genesis block carries only the allocation coinbase and is
	// accepted without structural validation.
	if err := c.connect(blk); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	log.Chain.Info().
		Str("hash", blk.Hash().String()).
		Int("outputs", len(blk.Transactions[0].CoinData.To)).
		Msg("Genesis block created")
	return nil
}

// AddListener registers l for block events.
func (c *Chain) AddListener(l Listener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
}

func (c *Chain) notify(fn func(Listener)) {
	c.listenersMu.RLock()
	ls := append([]Listener(nil), c.listeners...)
	c.listenersMu.RUnlock()
	for _, l := range ls {
		fn(l)
	}
}

// State returns a copy of the current chain state.
func (c *Chain) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	return c.State().Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	return c.State().TipHash
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block on the active chain by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// GetTransaction looks up a confirmed transaction by hash via the tx index.
// The returned transaction carries its block height.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}
