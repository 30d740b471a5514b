// Package thumbnail implements C11: on a completed image download,
// derive a bounded preview file. This package does not write to the
// persistence store; the engine records the thumbnail path. Failures here are never fatal to the download they follow
// from — they are logged and swallowed, matching spec §4.11.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/nfnt/resize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// DefaultBound is the default bounding box side length, preserving
// aspect ratio within it.
const DefaultBound = 200

// DefaultJPEGQuality is the quality used when encoding the output
// thumbnail.
const DefaultJPEGQuality = 85

// magic byte sniffing so files that arrive without a recognizable
// extension (content URIs, renamed downloads) are still classified.
var magicSignatures = []struct {
	prefix []byte
	format string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "jpeg"},
	{[]byte{0x89, 'P', 'N', 'G'}, "png"},
	{[]byte("GIF87a"), "gif"},
	{[]byte("GIF89a"), "gif"},
	{[]byte("BM"), "bmp"},
	{[]byte("II*\x00"), "tiff"},
	{[]byte("MM\x00*"), "tiff"},
	{[]byte("RIFF"), "webp"}, // followed by size + "WEBP", checked separately
}

// IsImage classifies a file by extension, falling back to magic
// bytes, exactly the pair of signals spec §4.11 names.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".tif", ".ico":
		return true
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, 12)
	n, _ := f.Read(header)
	header = header[:n]

	for _, sig := range magicSignatures {
		if bytes.HasPrefix(header, sig.prefix) {
			if sig.format == "webp" {
				return len(header) >= 12 && bytes.Equal(header[8:12], []byte("WEBP"))
			}
			return true
		}
	}
	return false
}

// Store is the narrow slice of C3 this package needs, kept as an
// interface to avoid an internal/store import cycle concern and to
// keep the generator independently testable.
type Store interface {
	PutThumbnail(t ThumbnailEntry) error
	UpdateThumbnailPath(shareCode, thumbPath string) error
}

// ThumbnailEntry mirrors store.ThumbnailEntry's shape without
// importing the store package's concrete type.
type ThumbnailEntry struct {
	FilePath  string
	ThumbPath string
	CreatedAt int64
}

// Generator derives thumbnail files; it does not record them in the
// store.
type Generator struct {
	thumbDir string
	bound    uint
}

// New builds a generator writing JPEG thumbnails under thumbDir.
func New(thumbDir string) *Generator {
	return &Generator{thumbDir: thumbDir, bound: DefaultBound}
}

// Generate decodes the image at sourcePath, resizes it to fit within
// the bounding box preserving aspect ratio, and writes a JPEG into the
// thumbnails directory with a name derived from the source file.
// Errors here are expected to be logged and swallowed by the caller,
// per spec §4.11 — they are returned rather than suppressed here so
// tests can assert on them directly.
func (g *Generator) Generate(sourcePath string) (string, error) {
	img, err := decodeImage(sourcePath)
	if err != nil {
		return "", merr.Invalid("thumbnail.Generate", err)
	}

	resized := resize.Thumbnail(g.bound, g.bound, img, resize.Lanczos3)

	if err := os.MkdirAll(g.thumbDir, 0o755); err != nil {
		return "", merr.Storage("thumbnail.Generate", err)
	}
	outPath := filepath.Join(g.thumbDir, fmt.Sprintf("%s.jpg", uniqueName(sourcePath)))
	f, err := os.Create(outPath)
	if err != nil {
		return "", merr.Storage("thumbnail.Generate", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, resized, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
		return "", merr.Storage("thumbnail.Generate", err)
	}
	return outPath, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch {
	case hasExt(path, ".png"):
		return png.Decode(f)
	case hasExt(path, ".gif"):
		return gif.Decode(f)
	case hasExt(path, ".bmp"):
		return bmp.Decode(f)
	case hasExt(path, ".tiff", ".tif"):
		return tiff.Decode(f)
	case hasExt(path, ".webp"):
		return webp.Decode(f)
	default:
		img, _, err := image.Decode(f)
		return img, err
	}
}

func hasExt(path string, exts ...string) bool {
	e := strings.ToLower(filepath.Ext(path))
	for _, want := range exts {
		if e == want {
			return true
		}
	}
	return false
}

func uniqueName(sourcePath string) string {
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return fmt.Sprintf("%s-%d", base, os.Getpid())
}
