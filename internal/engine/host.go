package engine

import (
	"context"
	"fmt"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pubsubpb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"lukechampine.com/blake3"

	"github.com/meshlink/meshlink/internal/auth"
)

// gossipHeartbeat and gossipMaxTransmit are the two GossipSub
// parameters spec §4.8 calls out explicitly on top of the library's
// own defaults (signed messages, strict validation are already the
// pubsub default and not overridden here).
const (
	gossipHeartbeat   = 10 * time.Second
	gossipMaxTransmit = 2 << 20 // 2 MiB
)

// hostIdentity converts the Ed25519 keypair C2 derived from the seed
// phrase into the libp2p crypto.PrivKey that seeds the transport's own
// peer id, so the wire-level identity and the account-level identity
// trace back to the same key material (spec P8) even though libp2p's
// own base58/multihash peer-id encoding differs textually from
// auth.Identity.PeerID's sha256-digest encoding (see DESIGN.md).
func hostIdentity(id *auth.Identity) (crypto.PrivKey, error) {
	priv, err := crypto.UnmarshalEd25519PrivateKey(append([]byte(nil), id.PrivateKey...))
	if err != nil {
		return nil, fmt.Errorf("engine: unmarshal libp2p identity: %w", err)
	}
	return priv, nil
}

// buildHost constructs the libp2p host spec §4.8 describes: noise
// security plus TCP and QUIC-v1 transports, listening on the
// configured port (0 selects ephemeral on both). This mirrors the
// teacher's newNetworkNode (pkg/network/engine.go) but deliberately
// omits its DHT/bootstrap/overlay-network machinery, which is WAN
// routing infrastructure out of scope for a LAN-local engine.
func buildHost(priv crypto.PrivKey, port int) (host.Host, error) {
	listen := []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", port),
	}
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listen...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultTransports,
	)
	if err != nil {
		return nil, fmt.Errorf("engine: create libp2p host: %w", err)
	}
	return h, nil
}

// buildPubSub wires GossipSub with the parameters spec §4.8 mandates:
// a Blake3 message-id function for deduplication, a 10s heartbeat and
// a 2MiB max transmit size. Signed messages and strict validation
// (drop invalid) are go-libp2p-pubsub's own defaults.
func buildPubSub(ctx context.Context, h host.Host) (*pubsub.PubSub, error) {
	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = gossipHeartbeat

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithGossipSubParams(params),
		pubsub.WithMessageIdFn(blake3MessageID),
		pubsub.WithMaxMessageSize(gossipMaxTransmit),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: create gossipsub: %w", err)
	}
	return ps, nil
}

func blake3MessageID(m *pubsubpb.Message) string {
	sum := blake3.Sum256(m.Data)
	return string(sum[:])
}
