// Package filesharing implements C4: the shared-file registry and the
// chunk service backing it. Its OS-agnostic seam is ChunkReader —
// the same pattern the teacher's ChunkStore (Network
// Core/pkg/network/chunk.go) used for an in-memory hash->bytes map,
// generalized here into an interface so a filesystem path and an
// opaque content URI can share one code path.
package filesharing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/meshlink/meshlink/internal/store"
	"lukechampine.com/blake3"
)

// ChunkSize is the fixed window size every chunk request/response uses.
const ChunkSize = 262144

// ChunkReader is the single seam that lets the registry serve bytes
// for both real filesystem paths and opaque content URIs.
type ChunkReader interface {
	ReadAt(ctx context.Context, uri string, offset int64, length int) ([]byte, error)
	Size(ctx context.Context, uri string) (int64, error)
}

// FileInfo is returned by GetFileInfo.
type FileInfo struct {
	ShareCode   string
	FileName    string
	SizeBytes   int64
	ChunkSize   int
	ChunkCount  int
	ContentHash string
}

// ChunkInfo is returned by GetChunk.
type ChunkInfo struct {
	ShareCode  string
	ChunkIndex int
	Data       []byte
	Hash       [32]byte
}

// Manager is the concrete C4 implementation.
type Manager struct {
	store  *store.Store
	reader ChunkReader
}

// New builds a file sharing manager backed by store for persistence
// and reader for chunk I/O. Pass NewFSChunkReader() for ordinary
// filesystem-backed shares.
func New(st *store.Store, reader ChunkReader) *Manager {
	return &Manager{store: st, reader: reader}
}

// ShareFile registers a filesystem path, computing its size and full
// SHA-256. Re-sharing the same canonical path returns the existing
// code unless the file's content changed, in which case the entry is
// updated in place but keeps its code.
func (m *Manager) ShareFile(ctx context.Context, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", merr.Invalid("filesharing.ShareFile", err)
	}
	size, err := m.reader.Size(ctx, abs)
	if err != nil {
		return "", merr.NotFound("filesharing.ShareFile", err)
	}
	hash, err := m.hashFile(ctx, abs, size)
	if err != nil {
		return "", err
	}
	return m.register(abs, filepath.Base(abs), size, hash)
}

// ShareContentURI registers an opaque, non-filesystem content source
// whose bytes are served through the manager's ChunkReader.
func (m *Manager) ShareContentURI(ctx context.Context, uri, name string, size int64) (string, error) {
	hash, err := m.hashFile(ctx, uri, size)
	if err != nil {
		return "", err
	}
	return m.register(uri, name, size, hash)
}

func (m *Manager) register(canonicalURI, name string, size int64, contentHash string) (string, error) {
	existing, ok, err := m.store.FindSharedFileByCanonicalURI(canonicalURI)
	if err != nil {
		return "", err
	}
	if ok && !existing.Revoked {
		if existing.ContentHash == contentHash {
			return existing.ShareCode, nil
		}
		existing.ContentHash = contentHash
		existing.SizeBytes = size
		existing.ChunkCount = chunkCount(size)
		if err := m.store.PutSharedFile(*existing); err != nil {
			return "", err
		}
		return existing.ShareCode, nil
	}

	code := allocateShareCode(name)
	f := store.SharedFile{
		ShareCode:    code,
		CanonicalURI: canonicalURI,
		FileName:     name,
		SizeBytes:    size,
		ChunkSize:    ChunkSize,
		ChunkCount:   chunkCount(size),
		ContentHash:  contentHash,
		SharedAt:     time.Now().Unix(),
	}
	if err := m.store.PutSharedFile(f); err != nil {
		return "", err
	}
	return code, nil
}

// UnshareFile removes a share entirely: it can never be re-downloaded
// and its share code may be reused for an unrelated file.
func (m *Manager) UnshareFile(shareCode string) error {
	return m.store.DeleteSharedFile(shareCode)
}

// RevokeFile marks a share as revoked without deleting it: GetFileInfo
// and GetChunk stop serving it but it remains re-shareable (re-running
// ShareFile/ShareContentURI on the same canonical source un-revokes
// it, per register's existing-entry path).
func (m *Manager) RevokeFile(shareCode string) error {
	return m.store.RevokeSharedFile(shareCode)
}

// ListSharedFiles returns every share, revoked or not (local-facing
// listing; ListFiles is the inbound-request-facing counterpart below).
func (m *Manager) ListSharedFiles() ([]store.SharedFile, error) {
	return m.store.ListSharedFiles()
}

// GetFileInfo answers a GetFileInfo(share_code) request.
func (m *Manager) GetFileInfo(shareCode string) (*FileInfo, error) {
	f, ok, err := m.store.GetSharedFile(shareCode)
	if err != nil {
		return nil, err
	}
	if !ok || f.Revoked {
		return nil, merr.NotFound("filesharing.GetFileInfo", merr.ErrInvalidShareCode)
	}
	return &FileInfo{
		ShareCode:   f.ShareCode,
		FileName:    f.FileName,
		SizeBytes:   f.SizeBytes,
		ChunkSize:   f.ChunkSize,
		ChunkCount:  f.ChunkCount,
		ContentHash: f.ContentHash,
	}, nil
}

// GetChunk answers a GetChunk(share_code, index) request.
func (m *Manager) GetChunk(ctx context.Context, shareCode string, index int) (*ChunkInfo, error) {
	f, ok, err := m.store.GetSharedFile(shareCode)
	if err != nil {
		return nil, err
	}
	if !ok || f.Revoked || index < 0 || index >= f.ChunkCount {
		return nil, merr.NotFound("filesharing.GetChunk", merr.ErrInvalidShareCode)
	}

	offset := int64(index) * int64(ChunkSize)
	length := ChunkSize
	if remaining := f.SizeBytes - offset; remaining < int64(length) {
		length = int(remaining)
	}
	data, err := m.reader.ReadAt(ctx, f.CanonicalURI, offset, length)
	if err != nil {
		return nil, merr.Storage("filesharing.GetChunk", err)
	}
	return &ChunkInfo{ShareCode: shareCode, ChunkIndex: index, Data: data, Hash: blake3.Sum256(data)}, nil
}

// ListFiles answers a ListFiles request: every non-revoked share.
func (m *Manager) ListFiles() ([]store.SharedFile, error) {
	all, err := m.store.ListSharedFiles()
	if err != nil {
		return nil, err
	}
	out := make([]store.SharedFile, 0, len(all))
	for _, f := range all {
		if !f.Revoked {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Manager) hashFile(ctx context.Context, uri string, size int64) (string, error) {
	h := sha256.New()
	var offset int64
	for offset < size {
		length := ChunkSize
		if remaining := size - offset; remaining < int64(length) {
			length = int(remaining)
		}
		data, err := m.reader.ReadAt(ctx, uri, offset, length)
		if err != nil {
			return "", merr.Storage("filesharing.hashFile", err)
		}
		h.Write(data)
		offset += int64(len(data))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func chunkCount(size int64) int {
	if size == 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}

// allocateShareCode derives an 8-hex-char code from a Blake3 hash of
// the filename and the current nanosecond timestamp.
func allocateShareCode(name string) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s||%d", name, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:4])
}
