package sync

import (
	"context"
	"testing"
	"time"

	"github.com/meshlink/meshlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOnPeerOnlineDrainsQueueOnSuccess(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.PutMessage(store.Message{MessageID: "m1", ConversationID: "p1", SentAt: 1, Status: store.DeliveryPending}))
	require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1"}))

	sent := 0
	m := New(st, func(ctx context.Context, peerID, messageID string) error {
		sent++
		return nil
	})

	require.NoError(t, m.OnPeerOnline(context.Background(), "p1"))
	assert.Equal(t, 1, sent)

	items, err := st.ListQueued("p1")
	require.NoError(t, err)
	assert.Empty(t, items, "delivered item must be dequeued")

	msg, ok, err := st.GetMessage("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.DeliveryDelivered, msg.Status)

	_, ok = m.LastSync("p1")
	assert.True(t, ok)
}

func TestOnPeerOnlineSchedulesRetryOnFailure(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.PutMessage(store.Message{MessageID: "m1", ConversationID: "p1", SentAt: 1}))
	require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1"}))

	m := New(st, func(ctx context.Context, peerID, messageID string) error {
		return assert.AnError
	})

	require.NoError(t, m.OnPeerOnline(context.Background(), "p1"))

	items, err := st.ListQueued("p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Greater(t, items[0].NextRetryAt, time.Now().Unix())

	msg, ok, err := st.GetMessage("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, msg.RetryCount)
}

func TestOnPeerOnlineRespectsMaxBatchSize(t *testing.T) {
	st := openTestStore(t)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, st.PutMessage(store.Message{MessageID: id, ConversationID: "p1", SentAt: int64(i)}))
		require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: id, PeerID: "p1", MessageID: id}))
	}

	attempts := 0
	m := New(st, func(ctx context.Context, peerID, messageID string) error {
		attempts++
		return nil
	}, WithMaxBatchSize(2))

	require.NoError(t, m.OnPeerOnline(context.Background(), "p1"))
	assert.Equal(t, 2, attempts)
}

func TestOnPeerOnlineSkipsConcurrentDrain(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1"}))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	m := New(st, func(ctx context.Context, peerID, messageID string) error {
		close(started)
		<-release
		return nil
	})

	go func() {
		m.OnPeerOnline(context.Background(), "p1")
		close(done)
	}()
	<-started

	require.NoError(t, m.OnPeerOnline(context.Background(), "p1")) // no-op, already draining
	close(release)
	<-done
}

func TestScheduleRetryFailsPermanentlyPastMaxRetries(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.PutMessage(store.Message{MessageID: "m1", ConversationID: "p1", SentAt: 1}))
	require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1", Attempts: 10}))

	m := New(st, func(ctx context.Context, peerID, messageID string) error {
		return assert.AnError
	}, WithMaxRetries(10))

	require.NoError(t, m.OnPeerOnline(context.Background(), "p1"))

	msg, ok, err := st.GetMessage("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.DeliveryFailed, msg.Status)
}

func TestOnMessageAcknowledgedDeliveredThenRead(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.PutMessage(store.Message{MessageID: "m1", ConversationID: "p1", SentAt: 1}))
	m := New(st, func(ctx context.Context, peerID, messageID string) error { return nil })

	require.NoError(t, m.OnMessageAcknowledged("m1", AckDelivered))
	msg, _, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryDelivered, msg.Status)

	ack, ok, err := st.GetAck("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, ack.DeliveredAt)

	require.NoError(t, m.OnMessageAcknowledged("m1", AckRead))
	msg, _, err = st.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryRead, msg.Status)
}

func TestRunDueRetriesRedeliversAfterBackoff(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.PutMessage(store.Message{MessageID: "m1", ConversationID: "p1", SentAt: 1}))
	require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1", NextRetryAt: time.Now().Add(-time.Second).Unix()}))

	sent := 0
	m := New(st, func(ctx context.Context, peerID, messageID string) error {
		sent++
		return nil
	})

	m.runDueRetries(context.Background())
	assert.Equal(t, 1, sent)

	items, err := st.ListQueued("p1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCleanupExpiredCascadesQueueAndAck(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.PutMessage(store.Message{MessageID: "m1", ConversationID: "p1", SentAt: 1, ExpiresAt: 100}))
	require.NoError(t, st.Enqueue(store.QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1"}))
	require.NoError(t, st.MarkDelivered("m1"))

	n, err := st.CleanupExpired(200)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := st.GetMessage("m1")
	require.NoError(t, err)
	assert.False(t, ok)

	items, err := st.ListQueued("p1")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, ok, err = st.GetAck("m1")
	require.NoError(t, err)
	assert.False(t, ok)
}
