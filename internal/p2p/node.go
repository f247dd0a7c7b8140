// Package p2p relays ledger transactions and blocks over libp2p GossipSub.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/Klingon-tech/klingnet-ledger/pkg/block"
	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lightningnetwork/lnd/clock"
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool       // Run DHT in server mode (for seeds)
	NetworkID  string     // e.g. "mainnet-1", isolates discovery per network
	DataDir    string     // Where the node identity key lives ("" = ephemeral)
	DB         storage.DB // Peer and ban persistence (nil = disabled)
}

// MessageHandler consumes a gossip payload. Returning an error that wraps
// ErrInvalidMessage penalizes the sender.
type MessageHandler func(from peer.ID, data []byte) error

// Node is a libp2p host subscribed to the ledger gossip topics.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	topicTx    *pubsub.Topic
	topicBlock *pubsub.Topic
	subTx      *pubsub.Subscription
	subBlock   *pubsub.Subscription

	handlerMu    sync.RWMutex
	txHandler    MessageHandler
	blockHandler MessageHandler

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	bans      *BanManager
	peerStore *PeerStore   // nil if Config.DB is nil
	dht       *dht.IpfsDHT // nil if NoDiscover
}

// New creates a P2P node. Nothing touches the network until Start.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[peer.ID]*Peer),
	}
	var banDB storage.DB
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
		banDB = cfg.DB
	}
	n.bans = NewBanManager(banDB, clock.NewDefaultClock())
	n.bans.onBan = func(id peer.ID) { _ = n.DisconnectPeer(id) }
	return n
}

// Start creates the libp2p host, joins the gossip topics and begins
// discovery.
func (n *Node) Start() error {
	logger := klog.WithComponent("p2p")
	addr := fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)

	if err := n.bans.Load(); err != nil {
		logger.Warn().Err(err).Msg("Could not restore peer bans")
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
		libp2p.ConnectionGater(&banGater{bans: n.bans}),
	}
	if n.config.DataDir != "" {
		privKey, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h
	h.Network().Notify(&connNotifier{node: n})

	if !n.config.NoDiscover {
		if err := n.initDHT(); err != nil {
			h.Close()
			return fmt.Errorf("init dht: %w", err)
		}
	}

	ps, err := pubsub.NewGossipSub(n.ctx, h, pubsub.WithMaxMessageSize(maxMessageSize))
	if err != nil {
		n.closeDHT()
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	n.pubsub = ps

	if err := n.joinTopics(); err != nil {
		n.closeDHT()
		h.Close()
		return err
	}

	go n.readLoop(n.subTx, n.txHandlerFn)
	go n.readLoop(n.subBlock, n.blockHandlerFn)
	go n.loadPersistedPeers()

	if len(n.config.Seeds) > 0 {
		logger.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
	}
	n.connectSeedsOnce()
	go n.connectSeedsLoop()

	if !n.config.NoDiscover {
		n.startMDNS()
		go n.runDHTDiscovery()
	}
	if n.peerStore != nil {
		go n.runPersistLoop()
	}

	logger.Info().Str("id", h.ID().String()).Strs("addrs", n.Addrs()).Msg("P2P node started")
	return nil
}

// Stop shuts down the node. It is safe to call before Start.
func (n *Node) Stop() error {
	n.persistPeers()

	n.cancel()
	if n.subTx != nil {
		n.subTx.Cancel()
	}
	if n.subBlock != nil {
		n.subBlock.Cancel()
	}
	n.closeDHT()
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// ID returns the peer ID of this node ("" before Start).
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// Bans exposes the peer ban manager.
func (n *Node) Bans() *BanManager {
	return n.bans
}

// SetTxHandler registers the consumer of gossiped transactions.
func (n *Node) SetTxHandler(fn MessageHandler) {
	n.handlerMu.Lock()
	n.txHandler = fn
	n.handlerMu.Unlock()
}

// SetBlockHandler registers the consumer of gossiped blocks.
func (n *Node) SetBlockHandler(fn MessageHandler) {
	n.handlerMu.Lock()
	n.blockHandler = fn
	n.handlerMu.Unlock()
}

func (n *Node) txHandlerFn() MessageHandler {
	n.handlerMu.RLock()
	defer n.handlerMu.RUnlock()
	return n.txHandler
}

func (n *Node) blockHandlerFn() MessageHandler {
	n.handlerMu.RLock()
	defer n.handlerMu.RUnlock()
	return n.blockHandler
}

// Broadcast publishes a transaction in its binary encoding.
func (n *Node) Broadcast(ctx context.Context, t *tx.Transaction) error {
	if n.topicTx == nil {
		return ErrNotStarted
	}
	return n.topicTx.Publish(ctx, t.Bytes())
}

// BroadcastBlock publishes a block as JSON.
func (n *Node) BroadcastBlock(ctx context.Context, b *block.Block) error {
	if n.topicBlock == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	return n.topicBlock.Publish(ctx, data)
}

func (n *Node) joinTopics() error {
	var err error
	n.topicTx, err = n.pubsub.Join(TopicTransactions)
	if err != nil {
		return fmt.Errorf("join tx topic: %w", err)
	}
	n.topicBlock, err = n.pubsub.Join(TopicBlocks)
	if err != nil {
		return fmt.Errorf("join block topic: %w", err)
	}
	n.subTx, err = n.topicTx.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe tx: %w", err)
	}
	n.subBlock, err = n.topicBlock.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe block: %w", err)
	}
	return nil
}

func (n *Node) readLoop(sub *pubsub.Subscription, handler func() MessageHandler) {
	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			return // Context cancelled.
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		n.deliver(msg.ReceivedFrom, msg.Data, handler())
	}
}

// deliver runs a handler and penalizes the sender for invalid payloads.
// A panicking handler counts as an invalid payload.
func (n *Node) deliver(from peer.ID, data []byte, fn MessageHandler) {
	if fn == nil {
		return
	}
	logger := klog.WithComponent("p2p")
	n.addPeer(from, SourceGossip)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: handler panic: %v", ErrInvalidMessage, r)
			}
		}()
		return fn(from, data)
	}()
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidMessage):
		logger.Debug().Err(err).Str("peer", shortID(from)).Msg("Invalid gossip message")
		n.bans.RecordOffense(from, PenaltyInvalidMessage, err.Error())
	default:
		logger.Warn().Err(err).Str("peer", shortID(from)).Msg("Gossip message not processed")
	}
}

// loadOrCreateIdentity loads the persisted libp2p key from dataDir, or
// generates and saves a new one so the peer ID survives restarts.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "node.key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(keyBytes)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read node key: %w", err)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return priv, nil
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// connectTimeout bounds a single dial to a seed or remembered peer.
const connectTimeout = 5 * time.Second
