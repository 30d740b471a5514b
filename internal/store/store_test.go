package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	version, ok, err := s.GetSetting("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, version)

	schema, ok, err := s.getString(schemaVersionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", schema)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetSetting("nickname")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting("nickname", "Alice"))
	v, ok, err := s.GetSetting("nickname")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	require.NoError(t, s.DeleteSetting("nickname"))
	_, ok, err = s.GetSetting("nickname")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetManyIsAtomic(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetMany(map[string]string{"a": "1", "b": "2"}))

	a, _, err := s.GetSetting("a")
	require.NoError(t, err)
	assert.Equal(t, "1", a)

	b, _, err := s.GetSetting("b")
	require.NoError(t, err)
	assert.Equal(t, "2", b)
}

func TestContactFirstSeenSurvivesUpdate(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertContact(Contact{PeerID: "p1", Nickname: "Bob", FirstSeen: 100, LastSeen: 100}))
	require.NoError(t, s.UpsertContact(Contact{PeerID: "p1", Nickname: "Bob", LastSeen: 200}))

	c, ok, err := s.GetContact("p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 100, c.FirstSeen)
	assert.EqualValues(t, 200, c.LastSeen)
}

func TestGetContactByNickname(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertContact(Contact{PeerID: "p1", Nickname: "Bob"}))
	require.NoError(t, s.UpsertContact(Contact{PeerID: "p2", Nickname: "Carol"}))

	c, ok, err := s.GetContactByNickname("Carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p2", c.PeerID)

	_, ok, err = s.GetContactByNickname("Dave")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessagesOrderedByConversation(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutMessage(Message{MessageID: "m2", ConversationID: "p1", SentAt: 200, Body: "second"}))
	require.NoError(t, s.PutMessage(Message{MessageID: "m1", ConversationID: "p1", SentAt: 100, Body: "first"}))
	require.NoError(t, s.PutMessage(Message{MessageID: "m3", ConversationID: "other", SentAt: 50, Body: "elsewhere"}))

	msgs, err := s.ListMessagesByConversation("p1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
}

func TestMessageStatusAndRetry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutMessage(Message{MessageID: "m1", ConversationID: "p1", SentAt: 1, Status: DeliveryPending}))

	require.NoError(t, s.UpdateMessageStatus("m1", DeliveryFailed))
	m, ok, err := s.GetMessage("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DeliveryFailed, m.Status)

	count, err := s.IncrementRetryCount("m1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pending, err := s.ListMessagesByStatus(DeliveryFailed)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m1", pending[0].MessageID)
}

func TestSharedFileDedupByHash(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutSharedFile(SharedFile{ShareCode: "code1", ContentHash: "hash-a", FileName: "a.bin"}))

	found, ok, err := s.FindSharedFileByHash("hash-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "code1", found.ShareCode)

	require.NoError(t, s.RevokeSharedFile("code1"))
	_, ok, err = s.FindSharedFileByHash("hash-a")
	require.NoError(t, err)
	assert.False(t, ok, "revoked shares must not satisfy dedup lookups")
}

func TestSharedFileByCanonicalURIAndCleanup(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutSharedFile(SharedFile{ShareCode: "code1", CanonicalURI: "/tmp/a.bin", ContentHash: "hash-a"}))
	require.NoError(t, s.PutSharedFile(SharedFile{ShareCode: "code2", CanonicalURI: "/tmp/b.bin", ContentHash: "hash-b"}))

	found, ok, err := s.FindSharedFileByCanonicalURI("/tmp/a.bin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "code1", found.ShareCode)

	require.NoError(t, s.RevokeSharedFile("code1"))
	require.NoError(t, s.CleanupRevokedFiles())

	_, ok, err = s.GetSharedFile("code1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetSharedFile("code2")
	require.NoError(t, err)
	assert.True(t, ok, "non-revoked rows must survive cleanup")
}

func TestOfflineQueueRetrySchedule(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Enqueue(QueuedItem{ItemID: "i1", PeerID: "p1", MessageID: "m1", NextRetryAt: 100}))

	due, err := s.ListDueRetries(50)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListDueRetries(150)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, s.UpdateRetry("p1", "i1", 300))
	items, err := s.ListQueued("p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.EqualValues(t, 300, items[0].NextRetryAt)

	require.NoError(t, s.Dequeue("p1", "i1"))
	items, err = s.ListQueued("p1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAckMarksDeliveredThenRead(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MarkDelivered("m1"))
	a, ok, err := s.GetAck("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, a.DeliveredAt)
	assert.Zero(t, a.ReadAt)

	require.NoError(t, s.MarkRead("m1"))
	a, ok, err = s.GetAck("m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotZero(t, a.ReadAt)
}

func TestThumbnailsByFilePath(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutThumbnail(ThumbnailEntry{FilePath: "/a.jpg", ThumbPath: "/thumbs/a.jpg", CreatedAt: 100}))
	require.NoError(t, s.PutThumbnail(ThumbnailEntry{FilePath: "/b.jpg", ThumbPath: "/thumbs/b.jpg", CreatedAt: 1000}))

	got, ok, err := s.GetThumbnail("/a.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/thumbs/a.jpg", got.ThumbPath)

	stale, err := s.CleanupOldThumbnails(1000, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"/thumbs/a.jpg"}, stale)

	_, ok, err = s.GetThumbnail("/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetThumbnail("/b.jpg")
	require.NoError(t, err)
	assert.True(t, ok, "a fresh thumbnail must survive cleanup")
}

func TestSharedFileThumbnailPath(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutSharedFile(SharedFile{ShareCode: "code1", ContentHash: "h1"}))

	_, ok, err := s.GetThumbnailPath("code1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateThumbnailPath("code1", "/thumbs/code1.jpg"))
	path, ok, err := s.GetThumbnailPath("code1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/thumbs/code1.jpg", path)
}

func TestGroupsCRUD(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertGroup(Group{GroupID: "g1", Name: "Team", Joined: true}))

	g, ok, err := s.GetGroup("g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Team", g.Name)

	groups, err := s.ListGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, s.DeleteGroup("g1"))
	_, ok, err = s.GetGroup("g1")
	require.NoError(t, err)
	assert.False(t, ok)
}
