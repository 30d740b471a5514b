package filesharing

import (
	"context"
	"testing"

	"github.com/meshlink/meshlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReader struct {
	data map[string][]byte
}

func (r *memReader) ReadAt(ctx context.Context, uri string, offset int64, length int) ([]byte, error) {
	b := r.data[uri]
	if offset >= int64(len(b)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(b)) {
		end = int64(len(b))
	}
	return b[offset:end], nil
}

func (r *memReader) Size(ctx context.Context, uri string) (int64, error) {
	return int64(len(r.data[uri])), nil
}

func newTestManager(t *testing.T) (*Manager, *memReader) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	reader := &memReader{data: make(map[string][]byte)}
	return New(st, reader), reader
}

func TestShareContentURIAndRoundTripChunks(t *testing.T) {
	m, reader := newTestManager(t)
	content := make([]byte, ChunkSize+100)
	for i := range content {
		content[i] = byte(i)
	}
	reader.data["uri://a"] = content

	code, err := m.ShareContentURI(context.Background(), "uri://a", "a.bin", int64(len(content)))
	require.NoError(t, err)
	assert.Len(t, code, 8)

	info, err := m.GetFileInfo(code)
	require.NoError(t, err)
	assert.Equal(t, 2, info.ChunkCount)

	chunk0, err := m.GetChunk(context.Background(), code, 0)
	require.NoError(t, err)
	assert.Len(t, chunk0.Data, ChunkSize)

	chunk1, err := m.GetChunk(context.Background(), code, 1)
	require.NoError(t, err)
	assert.Len(t, chunk1.Data, 100)

	_, err = m.GetChunk(context.Background(), code, 2)
	assert.Error(t, err)
}

func TestShareContentURISameURISameHashReturnsSameCode(t *testing.T) {
	m, reader := newTestManager(t)
	reader.data["uri://a"] = []byte("hello world")

	code1, err := m.ShareContentURI(context.Background(), "uri://a", "a.txt", 11)
	require.NoError(t, err)

	code2, err := m.ShareContentURI(context.Background(), "uri://a", "a.txt", 11)
	require.NoError(t, err)

	assert.Equal(t, code1, code2)
}

func TestShareContentURIChangedContentKeepsCodeButUpdatesHash(t *testing.T) {
	m, reader := newTestManager(t)
	reader.data["uri://a"] = []byte("version one")
	code, err := m.ShareContentURI(context.Background(), "uri://a", "a.txt", 11)
	require.NoError(t, err)
	before, err := m.GetFileInfo(code)
	require.NoError(t, err)

	reader.data["uri://a"] = []byte("version two!")
	code2, err := m.ShareContentURI(context.Background(), "uri://a", "a.txt", 12)
	require.NoError(t, err)

	assert.Equal(t, code, code2)
	info, err := m.GetFileInfo(code)
	require.NoError(t, err)
	assert.EqualValues(t, 12, info.SizeBytes)
	assert.NotEqual(t, before.ContentHash, info.ContentHash)
}

func TestUnshareFileRemovesEntry(t *testing.T) {
	m, reader := newTestManager(t)
	reader.data["uri://a"] = []byte("x")
	code, err := m.ShareContentURI(context.Background(), "uri://a", "a.txt", 1)
	require.NoError(t, err)

	require.NoError(t, m.UnshareFile(code))
	_, err = m.GetFileInfo(code)
	assert.Error(t, err)
}

func TestListFilesExcludesRevoked(t *testing.T) {
	m, reader := newTestManager(t)
	reader.data["uri://a"] = []byte("x")
	reader.data["uri://b"] = []byte("y")
	codeA, err := m.ShareContentURI(context.Background(), "uri://a", "a.txt", 1)
	require.NoError(t, err)
	_, err = m.ShareContentURI(context.Background(), "uri://b", "b.txt", 1)
	require.NoError(t, err)

	require.NoError(t, m.store.RevokeSharedFile(codeA))

	files, err := m.ListFiles()
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = m.GetChunk(context.Background(), codeA, 0)
	assert.Error(t, err, "revoked share must refuse chunk requests even for a valid index")

	all, err := m.ListSharedFiles()
	require.NoError(t, err)
	assert.Len(t, all, 2, "ListSharedFiles is the local-facing listing and still includes revoked rows")
}
