package peer

import (
	"context"
	"testing"
	"time"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/merr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialer struct {
	dialed []string
	fail   bool
}

func (d *fakeDialer) Dial(ctx context.Context, peerID string, addrs []string) error {
	d.dialed = append(d.dialed, peerID)
	if d.fail {
		return assert.AnError
	}
	return nil
}

func drain(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestOnDiscoveredEmitsAndDials(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	dialer := &fakeDialer{}
	m := New(dialer, bus)

	rec := Record{PeerID: "p1", Nickname: "Alice", ListenAddresses: []string{"/ip4/127.0.0.1/tcp/9"}}
	m.OnDiscovered(context.Background(), rec)

	ev := drain(t, ch)
	discovered, ok := ev.(events.PeerDiscovered)
	require.True(t, ok)
	assert.Equal(t, "p1", discovered.PeerID)
	assert.Equal(t, "Alice", discovered.Nickname)
	assert.Equal(t, []string{"p1"}, dialer.dialed)

	got, err := m.GetByNickname("Alice")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PeerID)
}

func TestOnUpdatedSwapsNicknameIndex(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	m := New(nil, bus)
	m.OnDiscovered(context.Background(), Record{PeerID: "p1", Nickname: "Alice"})
	drain(t, ch) // PeerDiscovered

	m.OnUpdated(Record{PeerID: "p1", Nickname: "Alice2"})
	ev := drain(t, ch)
	updated, ok := ev.(events.NicknameUpdated)
	require.True(t, ok)
	assert.Equal(t, "Alice2", updated.Nickname)

	_, err := m.GetByNickname("Alice")
	assert.True(t, merr.Is(err, merr.KindNotFound))

	got, err := m.GetByNickname("Alice2")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PeerID)
}

func TestOnExpiredRemovesAndEmits(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	m := New(nil, bus)
	m.OnDiscovered(context.Background(), Record{PeerID: "p1", Nickname: "Alice"})
	drain(t, ch)

	m.OnExpired("p1", ReasonTTLExpired)
	ev := drain(t, ch)
	expired, ok := ev.(events.PeerExpired)
	require.True(t, ok)
	assert.Equal(t, "Alice", expired.Nickname)

	assert.Empty(t, m.ListPeers())
	_, err := m.GetNickname("p1")
	assert.True(t, merr.Is(err, merr.KindNotFound))
}

func TestConnectionToggling(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	m := New(nil, bus)
	m.OnDiscovered(context.Background(), Record{PeerID: "p1", Nickname: "Alice"})
	drain(t, ch)

	assert.False(t, m.IsConnected("p1"))
	m.OnConnectionEstablished("p1")
	assert.True(t, m.IsConnected("p1"))
	ev := drain(t, ch)
	_, ok := ev.(events.Connected)
	require.True(t, ok)

	m.OnConnectionClosed("p1")
	assert.False(t, m.IsConnected("p1"))
	ev = drain(t, ch)
	_, ok = ev.(events.Disconnected)
	require.True(t, ok)
}

func TestDialFailureEmitsErrorEventButStillRegisters(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	m := New(&fakeDialer{fail: true}, bus)
	m.OnDiscovered(context.Background(), Record{PeerID: "p1", Nickname: "Alice"})
	drain(t, ch) // PeerDiscovered

	ev := drain(t, ch)
	_, ok := ev.(events.ErrorEvent)
	assert.True(t, ok)

	_, err := m.GetByNickname("Alice")
	assert.NoError(t, err)
}
