package engine

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshlink/meshlink/internal/discovery"
	"github.com/meshlink/meshlink/internal/peer"
)

// discoverySink bridges C1's narrow Sink interface to C7's Manager,
// additionally kicking C9's drain whenever C1 reports a peer as
// discovered (first sighting, or again after it expired). Host
// connection events do not kick the drain.
type discoverySink struct {
	ctx   context.Context
	peers *peer.Manager
	eng   *Engine
}

func (s *discoverySink) Discovered(rec discovery.Record) {
	s.peers.OnDiscovered(s.ctx, peer.Record{
		PeerID:          rec.PeerID,
		Nickname:        rec.Nickname,
		ListenAddresses: rec.ListenAddresses,
		Capabilities:    rec.Capabilities,
		Metadata:        rec.Metadata,
	})
	_ = s.eng.syncMgr.OnPeerOnline(s.ctx, rec.PeerID)
}

func (s *discoverySink) Updated(old, new discovery.Record) {
	s.peers.OnUpdated(peer.Record{
		PeerID:          new.PeerID,
		Nickname:        new.Nickname,
		ListenAddresses: new.ListenAddresses,
		Capabilities:    new.Capabilities,
		Metadata:        new.Metadata,
	})
}

func (s *discoverySink) Expired(peerID string) {
	s.peers.OnExpired(peerID, peer.ReasonTTLExpired)
}

func (s *discoverySink) Offline(peerID string, reason string) {
	s.peers.OnExpired(peerID, peer.ReasonHealthCheckFailed)
}

// hostDialer implements peer.Dialer over a real libp2p host: it seeds
// the peerstore with the advertised addresses before dialing, mirroring
// the teacher's Connect (pkg/network/engine.go) minus the dual
// transport/metadata-node split that DHT routing needed.
type hostDialer struct {
	h host.Host
}

func (d *hostDialer) Dial(ctx context.Context, peerID string, addrs []string) error {
	pid, err := libp2ppeer.Decode(peerID)
	if err != nil {
		return err
	}
	var maddrs []ma.Multiaddr
	for _, a := range addrs {
		m, err := ma.NewMultiaddr(a)
		if err != nil {
			continue
		}
		maddrs = append(maddrs, m)
	}
	d.h.Peerstore().AddAddrs(pid, maddrs, peerstore.TempAddrTTL)
	return d.h.Connect(ctx, libp2ppeer.AddrInfo{ID: pid, Addrs: maddrs})
}

// notifyConnections wires the host's connection events into C7's
// OnConnectionEstablished/OnConnectionClosed toggles.
func notifyConnections(h host.Host, peers *peer.Manager) {
	h.Network().Notify(&libp2pnetwork.NotifyBundle{
		ConnectedF: func(_ libp2pnetwork.Network, c libp2pnetwork.Conn) {
			peers.OnConnectionEstablished(c.RemotePeer().String())
		},
		DisconnectedF: func(_ libp2pnetwork.Network, c libp2pnetwork.Conn) {
			peers.OnConnectionClosed(c.RemotePeer().String())
		},
	})
}
