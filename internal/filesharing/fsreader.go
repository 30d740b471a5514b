package filesharing

import (
	"context"
	"os"

	"github.com/meshlink/meshlink/internal/merr"
)

// FSChunkReader is the default ChunkReader: a positioned read against
// a real filesystem path.
type FSChunkReader struct{}

// NewFSChunkReader builds the default filesystem-backed reader.
func NewFSChunkReader() *FSChunkReader { return &FSChunkReader{} }

// ReadAt performs a positioned read of length bytes starting at
// offset. A short final chunk returns fewer bytes than requested
// without error.
func (FSChunkReader) ReadAt(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, merr.NotFound("filesharing.FSChunkReader.ReadAt", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, merr.Storage("filesharing.FSChunkReader.ReadAt", err)
	}
	return buf[:n], nil
}

// Size stats the file for its current length.
func (FSChunkReader) Size(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, merr.NotFound("filesharing.FSChunkReader.Size", err)
	}
	return info.Size(), nil
}
