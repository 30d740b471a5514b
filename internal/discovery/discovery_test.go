package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	discovered []Record
	updated    [][2]Record
	expired    []string
	offline    []string
}

func (f *fakeSink) Discovered(r Record)       { f.discovered = append(f.discovered, r) }
func (f *fakeSink) Updated(old, new Record)   { f.updated = append(f.updated, [2]Record{old, new}) }
func (f *fakeSink) Expired(peerID string)     { f.expired = append(f.expired, peerID) }
func (f *fakeSink) Offline(id, reason string) { f.offline = append(f.offline, id) }

func newTestManager(t *testing.T, sink Sink) *Manager {
	t.Helper()
	cfg := DefaultConfig("Local")
	m, err := NewManager(cfg, "local-peer", []string{"/ip4/127.0.0.1/tcp/1"}, sink)
	require.NoError(t, err)
	return m
}

func TestApplyRecordEmitsDiscoveredOnce(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, sink)

	rec := Record{PeerID: "p1", Nickname: "Alice", ListenAddresses: []string{"/ip4/1.2.3.4/tcp/1"}}
	m.applyRecord(rec, time.Now())
	require.Len(t, sink.discovered, 1)
	assert.Equal(t, "p1", sink.discovered[0].PeerID)
}

func TestApplyRecordSilentRefreshDoesNotEmitUpdated(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, sink)
	rec := Record{PeerID: "p1", Nickname: "Alice", ListenAddresses: []string{"/ip4/1.2.3.4/tcp/1"}}
	m.applyRecord(rec, time.Now())

	m.applyRecord(rec, time.Now().Add(time.Second))
	assert.Empty(t, sink.updated)
}

func TestApplyRecordNicknameChangeEmitsUpdated(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, sink)
	rec := Record{PeerID: "p1", Nickname: "Alice", ListenAddresses: []string{"/ip4/1.2.3.4/tcp/1"}}
	m.applyRecord(rec, time.Now())

	changed := rec
	changed.Nickname = "Alice2"
	m.applyRecord(changed, time.Now())

	require.Len(t, sink.updated, 1)
	assert.Equal(t, "Alice", sink.updated[0][0].Nickname)
	assert.Equal(t, "Alice2", sink.updated[0][1].Nickname)
}

func TestCleanupExpiresLapsedPeers(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, sink)
	m.cfg.TTL = 10 * time.Millisecond
	rec := Record{PeerID: "p1", Nickname: "Alice", ListenAddresses: []string{"/ip4/1.2.3.4/tcp/1"}}
	m.applyRecord(rec, time.Now())

	time.Sleep(20 * time.Millisecond)
	m.cleanup()

	require.Len(t, sink.expired, 1)
	assert.Equal(t, "p1", sink.expired[0])
}

func TestHandlePacketSuppressesSelfResponse(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, sink)

	data, err := encode(Record{PeerID: "local-peer", Nickname: "Local", ListenAddresses: []string{"/ip4/1.2.3.4/tcp/1"}}, false, 1, 60)
	require.NoError(t, err)

	m.handlePacket(data, "10.0.0.1")
	assert.Empty(t, sink.discovered)
}

func TestHandlePacketMalformedCountsTowardRateLimit(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, sink)

	for i := 0; i < badPacketLimit; i++ {
		m.handlePacket([]byte{1, 2, 3}, "10.0.0.5")
	}
	assert.True(t, m.rateLimited("10.0.0.5"))

	good, err := encode(Record{PeerID: "p9", Nickname: "X", ListenAddresses: []string{"/ip4/1.2.3.4/tcp/1"}}, false, 1, 60)
	require.NoError(t, err)
	m.handlePacket(good, "10.0.0.5")
	assert.Empty(t, sink.discovered, "packets from a rate-limited source must still be dropped")
}

func TestConfigValidateBounds(t *testing.T) {
	cfg := DefaultConfig("Alice")
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Nickname = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TTL = time.Second
	assert.Error(t, bad.Validate())
}
