// Package download implements C5: the per-download state machine that
// drives a sequential GetFileInfo/GetChunk exchange to disk with
// Blake3 integrity verification, grounded on the same
// "one goroutine drives one transfer, a semaphore bounds how many run
// at once" shape the teacher used in Network Core/pkg/network/chunk.go's
// TransferManager, generalized from a single Download call per chunk
// to the full per-file state machine spec §4.5 describes.
package download

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/merr"
	"lukechampine.com/blake3"
)

// State is one stage of the per-download state machine in spec §4.5.
type State int

const (
	StateRequested State = iota
	StateAwaitingInfo
	StateDownloading
	StateAwaitingChunk
	StateCompleted
	StateFailed
)

// FailReason distinguishes why a download ended in StateFailed.
type FailReason string

const (
	FailNotFound    FailReason = "not_found"
	FailIntegrity   FailReason = "integrity"
	FailUnavailable FailReason = "unavailable"
	FailTimeout     FailReason = "timeout"
)

const maxChunkRetries = 3

// RemoteFileInfo is what a GetFileInfo response carries.
type RemoteFileInfo struct {
	Filename    string
	TotalChunks int
	FileType    string
}

// RemoteChunk is what a GetChunk response carries.
type RemoteChunk struct {
	Data []byte
	Hash [32]byte
}

// FileClient is the wire-level seam C8 implements: issuing
// GetFileInfo/GetChunk requests against a specific peer over the
// `/file/1.0.0` protocol. ErrNotFound-kind errors distinguish a
// legitimate "not found"/"unavailable" response from a transport
// failure, which the caller is expected to surface as FailTimeout.
type FileClient interface {
	GetFileInfo(ctx context.Context, peerID, shareCode string) (*RemoteFileInfo, error)
	GetChunk(ctx context.Context, peerID, shareCode string, index int) (*RemoteChunk, error)
}

// Download is a single ActiveDownload row, as spec §3 describes it.
type Download struct {
	DownloadID       string
	ShareCode        string
	Filename         string
	FromPeer         string
	FromNickname     string
	TotalChunks      int
	DownloadedChunks int
	StartedAt        time.Time
	Completed        bool
	Failed           bool
	ErrorMessage     string
	FinalPath        string

	state State
}

// ThumbnailHook is invoked with a completed download's final path when
// the file looks like an image, handing off to C11.
type ThumbnailHook func(path string)

// Manager runs C5: it accepts download requests, bounds how many run
// concurrently, and drives each to completion or failure.
type Manager struct {
	downloadDir   string
	maxConcurrent int
	chunkTimeout  time.Duration
	client        FileClient
	bus           *events.Bus
	thumbnailHook ThumbnailHook

	mu     sync.Mutex
	active map[string]*Download
	sem    chan struct{}
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithChunkTimeout overrides the default per-chunk response timeout.
func WithChunkTimeout(d time.Duration) Option {
	return func(m *Manager) { m.chunkTimeout = d }
}

// WithThumbnailHook registers a callback invoked after an image
// download completes.
func WithThumbnailHook(hook ThumbnailHook) Option {
	return func(m *Manager) { m.thumbnailHook = hook }
}

// New builds a download manager writing completed files under
// downloadDir, running at most maxConcurrent transfers at once.
func New(downloadDir string, maxConcurrent int, client FileClient, bus *events.Bus, opts ...Option) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	m := &Manager{
		downloadDir:   downloadDir,
		maxConcurrent: maxConcurrent,
		chunkTimeout:  30 * time.Second,
		client:        client,
		bus:           bus,
		active:        make(map[string]*Download),
		sem:           make(chan struct{}, maxConcurrent),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DownloadFile starts (or queues, if the concurrency cap is already
// full) a download from peerID for shareCode. It returns immediately
// with the new download's id; progress is reported through the event
// bus.
func (m *Manager) DownloadFile(ctx context.Context, peerID, fromNickname, shareCode string) string {
	id := newID()
	d := &Download{
		DownloadID:   id,
		ShareCode:    shareCode,
		FromPeer:     peerID,
		FromNickname: fromNickname,
		StartedAt:    time.Now(),
		state:        StateRequested,
	}
	m.mu.Lock()
	m.active[id] = d
	m.mu.Unlock()

	go m.run(ctx, d)
	return id
}

// Get returns a snapshot of a tracked download.
func (m *Manager) Get(downloadID string) (Download, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[downloadID]
	if !ok {
		return Download{}, false
	}
	return *d, true
}

func (m *Manager) run(ctx context.Context, d *Download) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.fail(d, FailTimeout, ctx.Err())
		return
	}
	defer func() { <-m.sem }()

	m.setState(d, StateAwaitingInfo)
	info, err := m.client.GetFileInfo(ctx, d.FromPeer, d.ShareCode)
	if err != nil {
		if merr.Is(err, merr.KindNotFound) {
			m.fail(d, FailNotFound, err)
		} else {
			m.fail(d, FailTimeout, err)
		}
		return
	}

	d.Filename = info.Filename
	d.TotalChunks = info.TotalChunks
	m.setState(d, StateDownloading)
	m.publish(events.FileDownloadStarted{
		DownloadID: d.DownloadID, Filename: d.Filename, ShareCode: d.ShareCode,
		FromPeer: d.FromPeer, FromNickname: d.FromNickname,
	})

	tmpPath, finalPath, err := m.preparePaths(d.Filename)
	if err != nil {
		m.fail(d, FailUnavailable, err)
		return
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		m.fail(d, FailUnavailable, err)
		return
	}
	defer os.Remove(tmpPath)

	for i := 0; i < d.TotalChunks; i++ {
		m.setState(d, StateAwaitingChunk)
		data, ok := m.fetchChunkWithRetry(ctx, d, i)
		if !ok {
			f.Close()
			return
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			m.fail(d, FailUnavailable, err)
			return
		}
		d.DownloadedChunks = i + 1
		m.setState(d, StateDownloading)
		m.publish(events.FileDownloadProgress{DownloadID: d.DownloadID, DownloadedChunks: d.DownloadedChunks, TotalChunks: d.TotalChunks})
	}

	if err := f.Sync(); err != nil {
		f.Close()
		m.fail(d, FailUnavailable, err)
		return
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		m.fail(d, FailUnavailable, err)
		return
	}

	m.mu.Lock()
	d.Completed = true
	d.FinalPath = finalPath
	d.state = StateCompleted
	m.mu.Unlock()

	m.publish(events.FileDownloadCompleted{DownloadID: d.DownloadID, FinalPath: finalPath})
	if m.thumbnailHook != nil && looksLikeImage(d.Filename) {
		m.thumbnailHook(finalPath)
	}
}

// fetchChunkWithRetry makes up to maxChunkRetries attempts in all at a
// single GetChunk, retrying after a timeout or any other error that is
// not a not-found response. It returns false (and has already failed
// d) on a not-found response, a hash mismatch, or when the attempts
// run out.
func (m *Manager) fetchChunkWithRetry(ctx context.Context, d *Download, index int) ([]byte, bool) {
	var lastErr error
	for attempt := 0; attempt < maxChunkRetries; attempt++ {
		chunkCtx, cancel := context.WithTimeout(ctx, m.chunkTimeout)
		chunk, err := m.client.GetChunk(chunkCtx, d.FromPeer, d.ShareCode, index)
		cancel()

		if err != nil {
			lastErr = err
			if errors.Is(chunkCtx.Err(), context.DeadlineExceeded) {
				continue // per-chunk timeout: retry up to the bound
			}
			if merr.Is(err, merr.KindNotFound) {
				m.fail(d, FailUnavailable, err)
				return nil, false
			}
			continue
		}

		sum := blake3.Sum256(chunk.Data)
		if sum != chunk.Hash {
			m.fail(d, FailIntegrity, fmt.Errorf("chunk %d hash mismatch", index))
			return nil, false
		}
		return chunk.Data, true
	}
	m.fail(d, FailTimeout, lastErr)
	return nil, false
}

func (m *Manager) preparePaths(filename string) (tmpPath, finalPath string, err error) {
	if err := os.MkdirAll(m.downloadDir, 0o755); err != nil {
		return "", "", merr.Storage("download.preparePaths", err)
	}
	finalPath = filepath.Join(m.downloadDir, filename)
	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]
	for i := 1; fileExists(finalPath); i++ {
		finalPath = filepath.Join(m.downloadDir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	tmpPath = finalPath + ".part"
	return tmpPath, finalPath, nil
}

func (m *Manager) setState(d *Download, s State) {
	m.mu.Lock()
	d.state = s
	m.mu.Unlock()
}

func (m *Manager) fail(d *Download, reason FailReason, err error) {
	msg := string(reason)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", reason, err)
	}
	m.mu.Lock()
	d.Failed = true
	d.ErrorMessage = msg
	d.state = StateFailed
	m.mu.Unlock()
	m.publish(events.FileDownloadFailed{DownloadID: d.DownloadID, Error: msg})
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func looksLikeImage(filename string) bool {
	switch filepath.Ext(filename) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp":
		return true
	default:
		return false
	}
}

func newID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
