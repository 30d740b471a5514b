package thumbnail

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 10, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func TestIsImageByExtension(t *testing.T) {
	assert.True(t, IsImage("photo.PNG"))
	assert.True(t, IsImage("photo.jpeg"))
	assert.False(t, IsImage("document.pdf"))
}

func TestIsImageByMagicBytesWithoutExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noext")
	writePNG(t, path, 4, 4)
	assert.True(t, IsImage(path))
}

func TestGenerateProducesBoundedJPEG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.png")
	writePNG(t, src, 800, 400)

	g := New(filepath.Join(dir, "thumbs"))
	out, err := g.Generate(src)
	require.NoError(t, err)
	require.FileExists(t, out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.LessOrEqual(t, cfg.Width, DefaultBound)
	assert.LessOrEqual(t, cfg.Height, DefaultBound)
	// aspect ratio preserved: original is 2:1
	assert.InDelta(t, 2.0, float64(cfg.Width)/float64(cfg.Height), 0.1)
}

func TestGenerateFromJPEGSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, src, 100, 100)

	g := New(filepath.Join(dir, "thumbs"))
	out, err := g.Generate(src)
	require.NoError(t, err)
	require.FileExists(t, out)
}

func TestGenerateFailsOnNonImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	g := New(filepath.Join(dir, "thumbs"))
	_, err := g.Generate(src)
	assert.Error(t, err)
}
