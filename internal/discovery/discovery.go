// Package discovery implements C1: link-local peer discovery over a
// DNS-shaped multicast packet, one task per network interface. It is
// grounded on the same "per-interface task with an update channel"
// shape the teacher used for outbound chunk transfers
// (pkg/network/chunk.go's TransferManager), generalized here from a
// single managed goroutine per transfer to one per interface, each
// running its own announce/query schedule; TTL cleanup runs once for
// the whole manager.
package discovery

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives the events C1 raises, kept as a narrow interface so
// this package never imports internal/peer or internal/events
// directly; the engine supplies the real adapter.
type Sink interface {
	Discovered(Record)
	Updated(old, new Record)
	Expired(peerID string)
	Offline(peerID string, reason string)
}

// peerState is what the manager tracks per known peer-id to decide
// Discovered vs. Updated vs. silent TTL refresh.
type peerState struct {
	record    Record
	expiresAt time.Time
}

// Manager runs the discovery protocol across every up interface.
type Manager struct {
	cfg        Config
	localPeer  string
	sink       Sink
	txID       uint32 // atomic, wraps at 16 bits
	listenAddr atomic.Value // []string

	mu    sync.Mutex
	peers map[string]*peerState
	tasks map[string]context.CancelFunc

	limiterMu sync.Mutex
	limiters  map[string]*rateLimiter
}

// rateLimiter enforces "after 20 bad packets within a short window
// from the same source, further packets are dropped until the window
// elapses" (spec §4.1).
type rateLimiter struct {
	count      int
	windowEnds time.Time
}

const (
	badPacketLimit  = 20
	badPacketWindow = 10 * time.Second
)

// NewManager builds a discovery manager for the given local peer-id
// and nickname/timing config. listenAddrs is the initial advertised
// address set; UpdateListenAddrs replaces it without restarting
// running tasks.
func NewManager(cfg Config, localPeerID string, listenAddrs []string, sink Sink) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:       cfg,
		localPeer: localPeerID,
		sink:      sink,
		peers:     make(map[string]*peerState),
		tasks:     make(map[string]context.CancelFunc),
		limiters:  make(map[string]*rateLimiter),
	}
	m.listenAddr.Store(append([]string(nil), listenAddrs...))
	return m, nil
}

// UpdateListenAddrs replaces the advertised address set; per-interface
// tasks pick it up before their next announce cycle (spec §5, "tasks
// pick up the new address list before the next announce cycle").
func (m *Manager) UpdateListenAddrs(addrs []string) {
	m.listenAddr.Store(append([]string(nil), addrs...))
}

func (m *Manager) currentListenAddrs() []string {
	v, _ := m.listenAddr.Load().([]string)
	return v
}

// Run polls the host's network interfaces and keeps one task per
// administratively-up interface alive until ctx is done, starting and
// stopping tasks as interfaces come up and down.
func (m *Manager) Run(ctx context.Context) error {
	ifaceTicker := time.NewTicker(2 * time.Second)
	defer ifaceTicker.Stop()
	cleanupTicker := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	m.syncInterfaces(ctx)
	for {
		select {
		case <-ctx.Done():
			m.stopAllTasks()
			return ctx.Err()
		case <-ifaceTicker.C:
			m.syncInterfaces(ctx)
		case <-cleanupTicker.C:
			m.cleanup()
		}
	}
}

func (m *Manager) syncInterfaces(ctx context.Context) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	up := make(map[string]bool, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		up[iface.Name] = true

		m.mu.Lock()
		_, running := m.tasks[iface.Name]
		m.mu.Unlock()
		if running {
			continue
		}

		taskCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.tasks[iface.Name] = cancel
		m.mu.Unlock()
		go m.runInterfaceTask(taskCtx, iface)
	}

	m.mu.Lock()
	for name, cancel := range m.tasks {
		if !up[name] {
			cancel()
			delete(m.tasks, name)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) stopAllTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cancel := range m.tasks {
		cancel()
		delete(m.tasks, name)
	}
}

func (m *Manager) nextTxID() uint16 {
	return uint16(atomic.AddUint32(&m.txID, 1) & 0xFFFF)
}

// localRecord builds the Record this node currently advertises.
func (m *Manager) localRecord() Record {
	return Record{
		PeerID:          m.localPeer,
		Nickname:        m.cfg.Nickname,
		ListenAddresses: m.currentListenAddrs(),
		Capabilities:    []string{"chat", "file_sharing"},
	}
}

// handlePacket classifies and applies one inbound packet from src,
// enforcing the malformed-packet rate limiter first.
func (m *Manager) handlePacket(data []byte, src string) {
	d, err := decode(data)
	if err != nil {
		m.noteBadPacket(src)
		return
	}
	if m.rateLimited(src) {
		return
	}

	now := time.Now()
	for _, rec := range d.records {
		if rec.PeerID == m.localPeer {
			continue // self-response suppression, spec §4.1/P1
		}
		m.applyRecord(rec, now)
	}
}

func (m *Manager) noteBadPacket(src string) {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	rl, ok := m.limiters[src]
	if !ok || time.Now().After(rl.windowEnds) {
		rl = &rateLimiter{windowEnds: time.Now().Add(badPacketWindow)}
		m.limiters[src] = rl
	}
	rl.count++
}

func (m *Manager) rateLimited(src string) bool {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	rl, ok := m.limiters[src]
	if !ok {
		return false
	}
	if time.Now().After(rl.windowEnds) {
		delete(m.limiters, src)
		return false
	}
	return rl.count >= badPacketLimit
}

func (m *Manager) applyRecord(rec Record, now time.Time) {
	m.mu.Lock()
	existing, known := m.peers[rec.PeerID]
	expiresAt := now.Add(m.cfg.TTL)

	if !known {
		m.peers[rec.PeerID] = &peerState{record: rec, expiresAt: expiresAt}
		m.mu.Unlock()
		m.sink.Discovered(rec)
		return
	}

	changed := existing.record.Nickname != rec.Nickname || !sameAddrs(existing.record.ListenAddresses, rec.ListenAddresses)
	old := existing.record
	existing.record = rec
	existing.expiresAt = expiresAt
	m.mu.Unlock()

	if changed {
		m.sink.Updated(old, rec)
	}
}

// cleanup expires any peer whose TTL has lapsed. Run calls it from a
// single manager-wide timer, not from the per-interface tasks.
func (m *Manager) cleanup() {
	now := time.Now()
	m.mu.Lock()
	var expired []string
	for id, st := range m.peers {
		if now.After(st.expiresAt) {
			expired = append(expired, id)
			delete(m.peers, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.sink.Expired(id)
	}
}

func sameAddrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
