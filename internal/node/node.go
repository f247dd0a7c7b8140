// Package node assembles a ledger node from its configuration so it can be
// embedded in the daemon or in tests.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/config"
	"github.com/Klingon-tech/klingnet-ledger/internal/account"
	"github.com/Klingon-tech/klingnet-ledger/internal/chain"
	"github.com/Klingon-tech/klingnet-ledger/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/p2p"
	"github.com/Klingon-tech/klingnet-ledger/internal/rpc"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized ledger node.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	// Core
	db       storage.DB
	ch       *chain.Chain
	accounts *account.Store
	registry *account.Registry
	ledger   *ledger.Ledger

	// Networking
	p2pNode *p2p.Node

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node: logger, genesis, storage, accounts,
// ledger, chain, P2P and RPC. Background work (pending rebroadcast) waits
// for Start.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "ledger.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	// ── 2. Genesis ──────────────────────────────────────────────────
	genesis, err := resolveGenesis(cfg)
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	logger.Info().
		Uint16("chain_id", genesis.ChainID).
		Str("chain", genesis.ChainName).
		Str("network", string(cfg.Network)).
		Msg("Starting Klingnet Ledger node")

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	n, err := assemble(cfg, genesis, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

// assemble builds the node on an open database. The caller closes db on error.
func assemble(cfg *config.Config, genesis *config.Genesis, db storage.DB, logger zerolog.Logger) (*Node, error) {
	// ── 4. Accounts ─────────────────────────────────────────────────
	accounts := account.NewStore(storage.NewPrefixDB(db, prefixAccounts), genesis.ChainID)
	registry := account.NewRegistry(accounts)
	if err := registry.Reload(); err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	accounts.OnChange(func() { _ = registry.Reload() })
	logger.Info().Int("accounts", len(registry.Addresses())).Msg("Accounts loaded")

	// ── 5. Chain ────────────────────────────────────────────────────
	ch, err := chain.New(storage.NewPrefixDB(db, prefixChain))
	if err != nil {
		return nil, fmt.Errorf("create chain: %w", err)
	}

	// ── 6. P2P ──────────────────────────────────────────────────────
	var p2pNode *p2p.Node
	var bcast ledger.Broadcaster = offlineBroadcaster{}
	if cfg.P2P.Enabled {
		p2pNode = p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DHTServer:  cfg.P2P.DHTServer,
			NetworkID:  fmt.Sprintf("%s-%d", cfg.Network, genesis.ChainID),
			DataDir:    cfg.ChainDataDir(),
			DB:         storage.NewPrefixDB(db, prefixP2P),
		})
		bcast = p2pNode
	} else {
		logger.Warn().Msg("P2P disabled by config; transfers stay pending until relayed")
	}

	// ── 7. Ledger ───────────────────────────────────────────────────
	l, err := ledger.New(ledger.Config{
		Store:            ledger.NewStore(storage.NewPrefixDB(db, prefixLedger)),
		Accounts:         accounts,
		Registry:         registry,
		Chain:            ch,
		Broadcaster:      bcast,
		Fee:              tx.PerKBFee(cfg.Ledger.FeePerKB),
		BalanceCacheSize: cfg.Ledger.BalanceCacheSize,
		BalanceCacheTTL:  cfg.Ledger.BalanceCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	ch.AddListener(ledger.NewBlockProcessor(l))

	// The listener is in place first so the allocation reaches the ledger.
	if st := ch.State(); st.IsGenesis() {
		if err := ch.InitFromGenesis(genesis); err != nil {
			return nil, fmt.Errorf("init from genesis: %w", err)
		}
		logger.Info().Msg("Chain initialized from genesis")
	} else {
		if err := checkGenesis(ch, genesis); err != nil {
			return nil, err
		}
		logger.Info().
			Uint64("height", st.Height).
			Str("tip", st.TipHash.String()).
			Msg("Chain resumed from database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		genesis:  genesis,
		logger:   logger,
		db:       db,
		ch:       ch,
		accounts: accounts,
		registry: registry,
		ledger:   l,
		p2pNode:  p2pNode,
		ctx:      ctx,
		cancel:   cancel,
	}

	if p2pNode != nil {
		p2pNode.SetTxHandler(n.handleGossipTx)
		p2pNode.SetBlockHandler(n.handleGossipBlock)
		if err := p2pNode.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("start P2P: %w", err)
		}
		logger.Info().
			Str("id", p2pNode.ID().String()).
			Int("port", cfg.P2P.Port).
			Bool("discovery", !cfg.P2P.NoDiscover).
			Msg("P2P node started")
	}

	// ── 8. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(rpcAddr, l, accounts, ch, genesis, cfg.RPC)
		if p2pNode != nil {
			n.rpcServer.SetP2PNode(p2pNode)
		}
		if err := n.rpcServer.Start(); err != nil {
			cancel()
			if p2pNode != nil {
				p2pNode.Stop()
			}
			return nil, fmt.Errorf("start RPC at %s: %w", rpcAddr, err)
		}
		logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	return n, nil
}

// rebroadcastDelay gives discovery time to find peers before the pending
// pool is relayed.
const rebroadcastDelay = 10 * time.Second

// Start launches background work.
func (n *Node) Start() error {
	if n.cfg.Ledger.RebroadcastPending && n.p2pNode != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(rebroadcastDelay):
			}
			sent, err := n.ledger.RebroadcastPending(n.ctx)
			if err != nil {
				n.logger.Warn().Err(err).Int("sent", sent).Msg("Pending rebroadcast incomplete")
				return
			}
			if sent > 0 {
				n.logger.Info().Int("sent", sent).Msg("Pending transactions rebroadcast")
			}
		}()
	}

	n.logger.Info().
		Uint64("height", n.ch.Height()).
		Str("tip", n.ch.TipHash().String()).
		Bool("p2p", n.p2pNode != nil).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.ch.Height()
}

// Ledger exposes the node's ledger.
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Accounts exposes the node's account store.
func (n *Node) Accounts() *account.Store {
	return n.accounts
}

// Chain exposes the node's chain.
func (n *Node) Chain() *chain.Chain {
	return n.ch
}

// ── Gossip ──────────────────────────────────────────────────────────

// handleGossipTx records a relayed transaction touching a local account
// as unconfirmed.
func (n *Node) handleGossipTx(from peer.ID, data []byte) error {
	t, err := tx.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: decode tx: %v", p2p.ErrInvalidMessage, err)
	}
	if t.Type == tx.TypeCoinBase {
		return fmt.Errorf("%w: relayed coinbase", p2p.ErrInvalidMessage)
	}
	if err := t.Verify(); err != nil {
		return fmt.Errorf("%w: verify tx: %v", p2p.ErrInvalidMessage, err)
	}
	saved, err := n.ledger.SaveUnconfirmed(t)
	if err != nil {
		return err
	}
	if saved > 0 {
		n.logger.Info().
			Str("tx", t.Hash().String()).
			Str("peer", from.String()).
			Msg("Relayed transaction recorded")
	}
	return nil
}

// handleGossipBlock extends the chain with a relayed block.
func (n *Node) handleGossipBlock(from peer.ID, data []byte) error {
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return fmt.Errorf("%w: decode block: %v", p2p.ErrInvalidMessage, err)
	}
	if blk.Header == nil {
		return fmt.Errorf("%w: block without header", p2p.ErrInvalidMessage)
	}
	err := n.ch.ProcessBlock(&blk)
	switch {
	case err == nil:
	case errors.Is(err, chain.ErrBlockKnown):
		return nil
	case errors.Is(err, chain.ErrBadPrevHash), errors.Is(err, chain.ErrBadHeight):
		// Out of order or on another branch; not the sender's fault.
		n.logger.Debug().Err(err).Uint64("height", blk.Header.Height).Msg("Block does not extend tip")
		return nil
	default:
		return fmt.Errorf("%w: %v", p2p.ErrInvalidMessage, err)
	}
	n.logger.Info().
		Uint64("height", blk.Header.Height).
		Str("hash", blk.Hash().String()).
		Int("txs", len(blk.Transactions)).
		Str("peer", from.String()).
		Msg("Block received and applied")
	return nil
}
