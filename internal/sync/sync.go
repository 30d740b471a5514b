// Package sync implements C9: per-peer delivery tracking for messages
// persisted while their recipient was offline. It drains the offline
// queue as peers come back online, applies delivery/read
// acknowledgments, and retries failed sends with exponential backoff,
// mirroring the teacher's retry-with-backoff shape used for chunk
// downloads (Network Core/pkg/network/download.go) but applied here to
// whole queued messages instead of file chunks.
package sync

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/meshlink/meshlink/internal/store"
)

// AckType distinguishes the two acknowledgment kinds a recipient can
// send back for a message.
type AckType int

const (
	AckDelivered AckType = iota
	AckRead
)

// Sender resends a previously queued message to a peer, returning an
// error if the attempt failed (peer unreachable, stream reset). The
// engine supplies the real implementation over the direct-message
// protocol.
type Sender func(ctx context.Context, peerID, messageID string) error

type peerState struct {
	lastSync   time.Time
	inProgress bool
}

// Manager is the concrete C9 implementation.
type Manager struct {
	store         *store.Store
	send          Sender
	maxBatchSize  int
	maxRetries    int
	retryInterval time.Duration
	cleanupEvery  time.Duration

	mu    sync.Mutex
	peers map[string]*peerState
}

// Option mutates a Manager during construction.
type Option func(*Manager)

func WithMaxBatchSize(n int) Option  { return func(m *Manager) { m.maxBatchSize = n } }
func WithMaxRetries(n int) Option    { return func(m *Manager) { m.maxRetries = n } }
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.retryInterval = d }
}
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) { m.cleanupEvery = d }
}

// New builds a sync manager. Defaults match spec §4.9/§4.12:
// max_batch_size=50, max_retries=10, retry_interval=300s,
// cleanup_interval=3600s.
func New(st *store.Store, send Sender, opts ...Option) *Manager {
	m := &Manager{
		store:         st,
		send:          send,
		maxBatchSize:  50,
		maxRetries:    10,
		retryInterval: 300 * time.Second,
		cleanupEvery:  3600 * time.Second,
		peers:         make(map[string]*peerState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnPeerOnline drains up to maxBatchSize offline-queue items for
// peerID, re-attempting delivery through Sender for each. The engine
// calls it when C1 reports the peer as discovered; connection events
// do not call it. A peer already mid-drain is skipped rather
// than run concurrently with itself.
func (m *Manager) OnPeerOnline(ctx context.Context, peerID string) error {
	if !m.tryBeginDrain(peerID) {
		return nil
	}
	defer m.endDrain(peerID)

	items, err := m.store.ListQueued(peerID)
	if err != nil {
		return err
	}
	if len(items) > m.maxBatchSize {
		items = items[:m.maxBatchSize]
	}

	for _, item := range items {
		m.attemptDelivery(ctx, item)
	}
	return nil
}

func (m *Manager) attemptDelivery(ctx context.Context, item store.QueuedItem) {
	err := m.send(ctx, item.PeerID, item.MessageID)
	if err == nil {
		_ = m.store.Dequeue(item.PeerID, item.ItemID)
		_ = m.store.UpdateMessageStatus(item.MessageID, store.DeliveryDelivered)
		return
	}
	m.scheduleRetry(item)
}

// scheduleRetry bumps the queue item's attempt counter and schedules
// its next_retry_at with exponential backoff, clamped to maxRetries —
// beyond that the item is left in place with status Failed so it stops
// being picked up by RunRetryLoop without being silently dropped.
func (m *Manager) scheduleRetry(item store.QueuedItem) {
	if item.Attempts >= m.maxRetries {
		_ = m.store.UpdateMessageStatus(item.MessageID, store.DeliveryFailed)
		_ = m.store.UpdateRetry(item.PeerID, item.ItemID, math.MaxInt64)
		return
	}
	next := time.Now().Add(backoff(item.Attempts)).Unix()
	_ = m.store.UpdateRetry(item.PeerID, item.ItemID, next)
	_, _ = m.store.IncrementRetryCount(item.MessageID)
}

// backoff is 2^attempts seconds, capped at 5 minutes.
func backoff(attempts int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempts))) * time.Second
	const maxBackoff = 5 * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// OnMessageAcknowledged writes a delivery or read acknowledgment
// through to C3 and upgrades the message's sync status. Called when
// an Ack wire message arrives for a previously sent message.
func (m *Manager) OnMessageAcknowledged(messageID string, ackType AckType) error {
	switch ackType {
	case AckDelivered:
		if err := m.store.MarkDelivered(messageID); err != nil {
			return err
		}
		return m.store.UpdateMessageStatus(messageID, store.DeliveryDelivered)
	case AckRead:
		if err := m.store.MarkRead(messageID); err != nil {
			return err
		}
		return m.store.UpdateMessageStatus(messageID, store.DeliveryRead)
	default:
		return merr.Invalid("sync.OnMessageAcknowledged", nil)
	}
}

// RunRetryLoop scans for due offline-queue items every retryInterval
// and re-attempts delivery for each, until ctx is cancelled.
func (m *Manager) RunRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runDueRetries(ctx)
		}
	}
}

func (m *Manager) runDueRetries(ctx context.Context) {
	due, err := m.store.ListDueRetries(time.Now().Unix())
	if err != nil {
		return
	}
	for _, item := range due {
		m.attemptDelivery(ctx, item)
	}
}

// RunCleanupLoop calls CleanupExpired every cleanupEvery, until ctx is
// cancelled.
func (m *Manager) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = m.store.CleanupExpired(time.Now().Unix())
		}
	}
}

func (m *Manager) state(peerID string) *peerState {
	st, ok := m.peers[peerID]
	if !ok {
		st = &peerState{}
		m.peers[peerID] = st
	}
	return st
}

// tryBeginDrain marks peerID as mid-drain and returns true, unless it
// already was, in which case it returns false and leaves the state
// untouched.
func (m *Manager) tryBeginDrain(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(peerID)
	if st.inProgress {
		return false
	}
	st.inProgress = true
	return true
}

func (m *Manager) endDrain(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(peerID)
	st.inProgress = false
	st.lastSync = time.Now()
}

// LastSync returns the last time a drain completed for peerID, and
// whether a drain has ever run for it.
func (m *Manager) LastSync(peerID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.peers[peerID]
	if !ok || st.lastSync.IsZero() {
		return time.Time{}, false
	}
	return st.lastSync, true
}
