package p2p

import (
	"context"
	"time"

	klog "github.com/Klingon-tech/klingnet-ledger/internal/log"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

const (
	rendezvousFallback   = "klingnet-ledger"
	dhtDiscoveryInterval = 30 * time.Second
	seedRetryInterval    = 10 * time.Second
)

// rendezvous returns the DHT/mDNS namespace, isolated per network when
// NetworkID is set.
func (n *Node) rendezvous() string {
	if n.config.NetworkID != "" {
		return "klingnet-ledger/" + n.config.NetworkID
	}
	return rendezvousFallback
}

// mdnsNotifee connects to peers announced on the local network.
type mdnsNotifee struct {
	node *Node
}

func (d *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.node.host.ID() || d.node.full() {
		return
	}
	ctx, cancel := context.WithTimeout(d.node.ctx, connectTimeout)
	defer cancel()
	if err := d.node.host.Connect(ctx, pi); err == nil {
		d.node.addPeer(pi.ID, SourceMDNS)
	}
}

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &mdnsNotifee{node: n})
	if err := svc.Start(); err != nil {
		l := klog.WithComponent("p2p")
		l.Debug().Err(err).Msg("mDNS unavailable")
	}
}

// connectSeedsOnce dials every seed once. It reports whether any connected.
func (n *Node) connectSeedsOnce() bool {
	logger := klog.WithComponent("p2p")
	connected := false
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, 2*connectTimeout)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			logger.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.addPeer(info.ID, SourceSeed)
		logger.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected = true
	}
	return connected
}

// connectSeedsLoop retries the seeds while the node has no peers.
func (n *Node) connectSeedsLoop() {
	if len(n.config.Seeds) == 0 {
		return
	}
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				n.connectSeedsOnce()
			}
		}
	}
}

func (n *Node) initDHT() error {
	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	kadDHT, err := dht.New(n.ctx, n.host, dht.Mode(mode))
	if err != nil {
		return err
	}
	n.dht = kadDHT
	return kadDHT.Bootstrap(n.ctx)
}

func (n *Node) closeDHT() {
	if n.dht != nil {
		n.dht.Close()
		n.dht = nil
	}
}

func (n *Node) runDHTDiscovery() {
	if n.dht == nil {
		return
	}
	rd := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, rd, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findDHTPeers(rd)
		}
	}
}

func (n *Node) findDHTPeers(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, 20*time.Second)
	defer cancel()

	peerCh, err := rd.FindPeers(ctx, n.rendezvous())
	if err != nil {
		return
	}
	for p := range peerCh {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		if n.full() {
			return
		}
		dialCtx, dialCancel := context.WithTimeout(n.ctx, connectTimeout)
		if err := n.host.Connect(dialCtx, p); err == nil {
			n.addPeer(p.ID, SourceDHT)
		}
		dialCancel()
	}
}
