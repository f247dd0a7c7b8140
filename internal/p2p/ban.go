package p2p

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	"github.com/Klingon-tech/klingnet-ledger/internal/storage"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lightningnetwork/lnd/clock"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	BanThreshold = 100
	BanDuration  = 24 * time.Hour

	// PenaltyInvalidMessage is charged for each undecodable or invalid
	// gossip payload.
	PenaltyInvalidMessage = 20
)

const banKeyPrefix = "ban/"

// BanRecord is an active ban.
type BanRecord struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`  // unix seconds
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

func (r BanRecord) expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// BanManager scores misbehaving peers and bans them at BanThreshold.
// Bans are persisted when a DB is given.
type BanManager struct {
	mu     sync.Mutex
	scores map[peer.ID]int
	bans   map[peer.ID]BanRecord
	db     storage.DB
	clock  clock.Clock
	onBan  func(peer.ID)
}

// NewBanManager creates a BanManager. db may be nil.
func NewBanManager(db storage.DB, c clock.Clock) *BanManager {
	return &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]BanRecord),
		db:     db,
		clock:  c,
	}
}

// Load restores unexpired bans from the DB and drops expired ones.
func (bm *BanManager) Load() error {
	if bm.db == nil {
		return nil
	}
	now := bm.clock.Now()
	var expired [][]byte

	bm.mu.Lock()
	err := bm.db.ForEach([]byte(banKeyPrefix), func(key, value []byte) error {
		var rec BanRecord
		if json.Unmarshal(value, &rec) != nil || rec.expired(now) {
			expired = append(expired, key)
			return nil
		}
		if id, err := peer.Decode(rec.ID); err == nil {
			bm.bans[id] = rec
		}
		return nil
	})
	bm.mu.Unlock()
	if err != nil {
		return fmt.Errorf("iterate bans: %w", err)
	}
	for _, k := range expired {
		if err := bm.db.Delete(k); err != nil {
			return fmt.Errorf("delete expired ban: %w", err)
		}
	}
	return nil
}

// RecordOffense adds penalty to the peer's score and bans it once the
// score reaches BanThreshold.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	bm.mu.Lock()
	if rec, ok := bm.bans[id]; ok && !rec.expired(bm.clock.Now()) {
		bm.mu.Unlock()
		return
	}
	bm.scores[id] += penalty
	score := bm.scores[id]
	if score < BanThreshold {
		bm.mu.Unlock()
		return
	}
	now := bm.clock.Now()
	rec := BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     score,
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id)
	onBan := bm.onBan
	bm.mu.Unlock()

	logger := klog.WithComponent("p2p")
	logger.Warn().Str("peer", shortID(id)).Str("reason", reason).Int("score", score).Msg("Peer banned")

	if bm.db != nil {
		if data, err := json.Marshal(rec); err == nil {
			if err := bm.db.Put([]byte(banKeyPrefix+rec.ID), data); err != nil {
				logger.Warn().Err(err).Msg("Could not persist ban")
			}
		}
	}
	if onBan != nil {
		go onBan(id)
	}
}

// Score returns the peer's accumulated penalty below the ban threshold.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.scores[id]
}

// IsBanned reports whether the peer has an unexpired ban.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.Lock()
	rec, ok := bm.bans[id]
	if !ok {
		bm.mu.Unlock()
		return false
	}
	if !rec.expired(bm.clock.Now()) {
		bm.mu.Unlock()
		return true
	}
	delete(bm.bans, id)
	bm.mu.Unlock()
	bm.deleteRecord(id)
	return false
}

// Unban lifts a ban and clears the score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()
	bm.deleteRecord(id)
}

// BanList returns the active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	now := bm.clock.Now()
	var list []BanRecord
	for _, rec := range bm.bans {
		if !rec.expired(now) {
			list = append(list, rec)
		}
	}
	return list
}

func (bm *BanManager) deleteRecord(id peer.ID) {
	if bm.db != nil {
		_ = bm.db.Delete([]byte(banKeyPrefix + id.String()))
	}
}

// banGater refuses connections to and from banned peers.
type banGater struct {
	bans *BanManager
}

func (g *banGater) InterceptPeerDial(p peer.ID) bool {
	return !g.bans.IsBanned(p)
}

func (g *banGater) InterceptAddrDial(peer.ID, ma.Multiaddr) bool {
	return true
}

func (g *banGater) InterceptAccept(network.ConnMultiaddrs) bool {
	return true
}

func (g *banGater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return !g.bans.IsBanned(p)
}

func (g *banGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
