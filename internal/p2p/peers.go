package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Peer sources.
const (
	SourceSeed    = "seed"
	SourceDHT     = "dht"
	SourceMDNS    = "mdns"
	SourceGossip  = "gossip"
	SourceInbound = "inbound"
)

// Peer is a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

// DisconnectPeer closes all connections to a peer.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

func (n *Node) full() bool {
	return n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers
}

// addPeer records a peer. The first known source sticks.
func (n *Node) addPeer(id peer.ID, source string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok {
		if p.Source == "" || p.Source == SourceInbound {
			p.Source = source
		}
		return
	}
	n.peers[id] = &Peer{ID: id, ConnectedAt: time.Now(), Source: source}
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

// connNotifier keeps the peer table in step with libp2p connections.
type connNotifier struct {
	node *Node
}

func (cn *connNotifier) Connected(_ network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if remote == cn.node.host.ID() {
		return
	}
	cn.node.addPeer(remote, SourceInbound)
}

// Disconnected drops the peer once its last connection is gone.
func (cn *connNotifier) Disconnected(net network.Network, conn network.Conn) {
	remote := conn.RemotePeer()
	if len(net.ConnsToPeer(remote)) == 0 {
		cn.node.removePeer(remote)
	}
}

func (cn *connNotifier) Listen(network.Network, multiaddr.Multiaddr)      {}
func (cn *connNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}

// --- Persistence ---

const (
	peerKeyPrefix     = "peer/"
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// PeerRecord is a remembered peer.
type PeerRecord struct {
	ID       string   `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"last_seen"` // unix seconds
	Source   string   `json:"source"`
}

// PeerStore keeps peer records under the "peer/" prefix.
type PeerStore struct {
	db storage.DB
}

// NewPeerStore creates a PeerStore backed by db.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: db}
}

func peerKey(id string) []byte {
	return []byte(peerKeyPrefix + id)
}

// Save writes a record. New peers are skipped once maxPersistedPeers is
// reached; known peers are always updated.
func (ps *PeerStore) Save(rec PeerRecord) error {
	key := peerKey(rec.ID)
	exists, err := ps.db.Has(key)
	if err != nil {
		return fmt.Errorf("check peer exists: %w", err)
	}
	if !exists {
		count, err := ps.Count()
		if err != nil {
			return err
		}
		if count >= maxPersistedPeers {
			return nil
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// LoadAll returns every decodable record.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(_, value []byte) error {
		var rec PeerRecord
		if json.Unmarshal(value, &rec) == nil {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	return records, nil
}

// PruneStale removes records last seen before now-threshold, and corrupt
// ones. It returns the number removed.
func (ps *PeerStore) PruneStale(now time.Time, threshold time.Duration) (int, error) {
	cutoff := now.Add(-threshold).Unix()
	var stale [][]byte
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var rec PeerRecord
		if json.Unmarshal(value, &rec) != nil || rec.LastSeen < cutoff {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}
	for _, k := range stale {
		if err := ps.db.Delete(k); err != nil {
			return 0, fmt.Errorf("delete stale peer: %w", err)
		}
	}
	return len(stale), nil
}

// Count returns the number of stored records.
func (ps *PeerStore) Count() (int, error) {
	count := 0
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count peers: %w", err)
	}
	return count, nil
}

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, p := range n.PeerList() {
		addrs := n.host.Peerstore().Addrs(p.ID)
		rec := PeerRecord{
			ID:       p.ID.String(),
			Addrs:    make([]string, len(addrs)),
			LastSeen: now,
			Source:   p.Source,
		}
		for i, a := range addrs {
			rec.Addrs[i] = a.String()
		}
		_ = n.peerStore.Save(rec)
	}
}

// loadPersistedPeers redials remembered peers in the background.
func (n *Node) loadPersistedPeers() {
	if n.peerStore == nil {
		return
	}
	_, _ = n.peerStore.PruneStale(time.Now(), staleThreshold)
	records, err := n.peerStore.LoadAll()
	if err != nil {
		return
	}
	for _, rec := range records {
		id, err := peer.Decode(rec.ID)
		if err != nil || id == n.host.ID() || n.bans.IsBanned(id) {
			continue
		}
		info := peer.AddrInfo{ID: id}
		for _, s := range rec.Addrs {
			a, err := multiaddr.NewMultiaddr(s)
			if err != nil {
				continue
			}
			info.Addrs = append(info.Addrs, a)
		}
		if len(info.Addrs) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, connectTimeout)
		if err := n.host.Connect(ctx, info); err == nil {
			n.addPeer(id, rec.Source)
		}
		cancel()
	}
}

func (n *Node) runPersistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			_, _ = n.peerStore.PruneStale(time.Now(), staleThreshold)
		}
	}
}
