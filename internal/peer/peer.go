// Package peer implements C7: the peer manager. It owns the
// peer-id -> PeerRecord table and its nickname inverse, reacts to
// discovery events by auto-dialing newly seen peers, and tracks
// connection state toggled by the transport layer. It is the single
// writer of both maps; everything else only ever reads a snapshot,
// the same "driver task owns the table" shape the teacher used for
// its sync.Map-backed PeerManager (Network Core/pkg/peer/peer.go),
// generalized here to a nickname-indexed record instead of a
// chunk-availability index.
package peer

import (
	"context"
	"sync"
	"time"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/merr"
)

// Record is a PeerRecord as described in spec §3: the durable fact
// that a peer with this id, advertising this nickname and these
// addresses, was last heard from before ExpiresAt.
type Record struct {
	PeerID          string
	Nickname        string
	ListenAddresses []string
	Capabilities    []string
	Metadata        map[string]string
	ExpiresAt       time.Time
}

// ExpireReason distinguishes a TTL lapse from a failed liveness check,
// mirroring the Offline event's reason field.
type ExpireReason int

const (
	ReasonTTLExpired ExpireReason = iota
	ReasonHealthCheckFailed
)

// Dialer abstracts the transport's outbound connect so this package
// never imports libp2p directly; C8 supplies the real implementation.
type Dialer interface {
	Dial(ctx context.Context, peerID string, addrs []string) error
}

// Manager is the concrete C7 peer table.
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*Record
	byNickname map[string]string // nickname -> peer_id
	connected  map[string]bool

	dialer Dialer
	bus    *events.Bus
}

// New builds an empty peer manager. dialer may be nil if auto-dial
// should be skipped (useful in tests).
func New(dialer Dialer, bus *events.Bus) *Manager {
	return &Manager{
		byID:       make(map[string]*Record),
		byNickname: make(map[string]string),
		connected:  make(map[string]bool),
		dialer:     dialer,
		bus:        bus,
	}
}

// OnDiscovered handles a never-before-seen peer reported by C1: it
// inserts the record, auto-dials it, and emits PeerDiscovered. Failed
// dials are logged via an ErrorEvent but never prevent the insert; the
// dial is not retried until C1 reports the peer as discovered again
// (after it has expired).
func (m *Manager) OnDiscovered(ctx context.Context, rec Record) {
	m.mu.Lock()
	m.byID[rec.PeerID] = &rec
	m.byNickname[rec.Nickname] = rec.PeerID
	m.mu.Unlock()

	m.publish(events.PeerDiscovered{PeerID: rec.PeerID, Nickname: rec.Nickname, Address: firstAddr(rec.ListenAddresses)})
	m.autoDial(ctx, rec)
}

// OnUpdated handles a change C1 already detected (nickname or address
// differs from the previous record for this peer-id). It swaps the
// nickname index atomically, remove-then-insert, and emits
// NicknameUpdated.
func (m *Manager) OnUpdated(rec Record) {
	m.mu.Lock()
	if existing, ok := m.byID[rec.PeerID]; ok {
		delete(m.byNickname, existing.Nickname)
	}
	m.byID[rec.PeerID] = &rec
	m.byNickname[rec.Nickname] = rec.PeerID
	m.mu.Unlock()

	m.publish(events.NicknameUpdated{PeerID: rec.PeerID, Nickname: rec.Nickname})
}

// OnExpired removes a peer whose TTL lapsed or whose liveness check
// failed, emitting PeerExpired.
func (m *Manager) OnExpired(peerID string, reason ExpireReason) {
	m.mu.Lock()
	rec, ok := m.byID[peerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, peerID)
	delete(m.byNickname, rec.Nickname)
	delete(m.connected, peerID)
	m.mu.Unlock()

	m.publish(events.PeerExpired{PeerID: peerID, Nickname: rec.Nickname})
}

// OnConnectionEstablished toggles a peer connected and emits
// Connected.
func (m *Manager) OnConnectionEstablished(peerID string) {
	m.mu.Lock()
	rec, ok := m.byID[peerID]
	m.connected[peerID] = true
	m.mu.Unlock()
	if ok {
		m.publish(events.Connected{PeerID: peerID, Nickname: rec.Nickname})
	}
}

// OnConnectionClosed toggles a peer disconnected and emits
// Disconnected.
func (m *Manager) OnConnectionClosed(peerID string) {
	m.mu.Lock()
	rec, ok := m.byID[peerID]
	m.connected[peerID] = false
	m.mu.Unlock()
	if ok {
		m.publish(events.Disconnected{PeerID: peerID, Nickname: rec.Nickname})
	}
}

// ListPeers returns a read snapshot of every known peer.
func (m *Manager) ListPeers() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, *rec)
	}
	return out
}

// GetByNickname resolves a nickname to its current record.
func (m *Manager) GetByNickname(nickname string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byNickname[nickname]
	if !ok {
		return Record{}, merr.NotFound("peer.GetByNickname", merr.ErrNicknameNotFound)
	}
	return *m.byID[id], nil
}

// GetNickname resolves a peer-id to its current nickname.
func (m *Manager) GetNickname(peerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[peerID]
	if !ok {
		return "", merr.NotFound("peer.GetNickname", merr.ErrPeerNotFound)
	}
	return rec.Nickname, nil
}

// IsConnected reports whether a peer's transport connection is
// currently established.
func (m *Manager) IsConnected(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected[peerID]
}

func (m *Manager) autoDial(ctx context.Context, rec Record) {
	if m.dialer == nil {
		return
	}
	if err := m.dialer.Dial(ctx, rec.PeerID, rec.ListenAddresses); err != nil {
		m.publish(events.ErrorEvent{Message: "peer.autoDial: " + err.Error()})
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func firstAddr(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}
