package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/merr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

type fakeClient struct {
	filename    string
	chunks      [][]byte
	notFound    bool
	failChunkAt int
	badHashAt   int
}

func (c *fakeClient) GetFileInfo(ctx context.Context, peerID, shareCode string) (*RemoteFileInfo, error) {
	if c.notFound {
		return nil, merr.NotFound("fake.GetFileInfo", merr.ErrInvalidShareCode)
	}
	return &RemoteFileInfo{Filename: c.filename, TotalChunks: len(c.chunks)}, nil
}

func (c *fakeClient) GetChunk(ctx context.Context, peerID, shareCode string, index int) (*RemoteChunk, error) {
	if index == c.failChunkAt {
		return nil, merr.NotFound("fake.GetChunk", merr.ErrInvalidShareCode)
	}
	data := c.chunks[index]
	hash := blake3.Sum256(data)
	if index == c.badHashAt {
		hash[0] ^= 0xFF
	}
	return &RemoteChunk{Data: data, Hash: hash}, nil
}

func waitFor(t *testing.T, ch <-chan events.Event, match func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching event")
			return nil
		}
	}
}

func TestDownloadFileCompletesAndVerifies(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{filename: "greeting.txt", chunks: [][]byte{[]byte("hello "), []byte("world")}, failChunkAt: -1, badHashAt: -1}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	m := New(dir, 3, client, bus)
	id := m.DownloadFile(context.Background(), "peer1", "Alice", "code1")

	completed := waitFor(t, ch, func(ev events.Event) bool {
		_, ok := ev.(events.FileDownloadCompleted)
		return ok
	}).(events.FileDownloadCompleted)

	assert.Equal(t, id, completed.DownloadID)
	data, err := os.ReadFile(completed.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, filepath.Join(dir, "greeting.txt"), completed.FinalPath)

	d, ok := m.Get(id)
	require.True(t, ok)
	assert.True(t, d.Completed)
	assert.Equal(t, 2, d.DownloadedChunks)
}

func TestDownloadFileNotFoundFails(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{notFound: true}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	m := New(dir, 1, client, bus)
	m.DownloadFile(context.Background(), "peer1", "Alice", "code1")

	failed := waitFor(t, ch, func(ev events.Event) bool {
		_, ok := ev.(events.FileDownloadFailed)
		return ok
	}).(events.FileDownloadFailed)
	assert.Contains(t, failed.Error, "not_found")
}

func TestDownloadFileHashMismatchFails(t *testing.T) {
	dir := t.TempDir()
	client := &fakeClient{filename: "x.bin", chunks: [][]byte{[]byte("a"), []byte("b")}, failChunkAt: -1, badHashAt: 1}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	m := New(dir, 1, client, bus)
	m.DownloadFile(context.Background(), "peer1", "Alice", "code1")

	failed := waitFor(t, ch, func(ev events.Event) bool {
		_, ok := ev.(events.FileDownloadFailed)
		return ok
	}).(events.FileDownloadFailed)
	assert.Contains(t, failed.Error, "integrity")
}

func TestDownloadFileCollidingFinalPathGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.txt"), []byte("existing"), 0o644))

	client := &fakeClient{filename: "dup.txt", chunks: [][]byte{[]byte("new-content")}, failChunkAt: -1, badHashAt: -1}
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	m := New(dir, 1, client, bus)
	m.DownloadFile(context.Background(), "peer1", "Alice", "code1")

	completed := waitFor(t, ch, func(ev events.Event) bool {
		_, ok := ev.(events.FileDownloadCompleted)
		return ok
	}).(events.FileDownloadCompleted)

	assert.Equal(t, filepath.Join(dir, "dup (1).txt"), completed.FinalPath)
}
