package imaging

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
}

func decodeWebPConfig(t *testing.T, path string) image.Config {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := webp.DecodeConfig(f)
	require.NoError(t, err)
	return cfg
}

func TestNativeEncoder_EncodesPNGAndJPEG(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, "a.png")
	jpgPath := filepath.Join(dir, "b.jpg")
	writeTestPNG(t, pngPath, 12, 8)
	writeTestJPEG(t, jpgPath, 20, 10)

	enc := NewNativeEncoder()
	require.NoError(t, enc.Encode(context.Background(), pngPath, filepath.Join(dir, "a.webp"), 80))
	require.NoError(t, enc.Encode(context.Background(), jpgPath, filepath.Join(dir, "b.webp"), 0))

	cfg := decodeWebPConfig(t, filepath.Join(dir, "a.webp"))
	assert.Equal(t, 12, cfg.Width)
	assert.Equal(t, 8, cfg.Height)

	cfg = decodeWebPConfig(t, filepath.Join(dir, "b.webp"))
	assert.Equal(t, 20, cfg.Width)
}

func TestNativeEncoder_CorruptSourceLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0o644))

	err := NewNativeEncoder().Encode(context.Background(), src, filepath.Join(dir, "broken.webp"), 80)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no sibling or temp file may remain")
}

func TestCwebpEncoder_RunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "cwebp")
	// args: -quiet -q N src -o dst
	script := "#!/bin/sh\necho \"$3\" > \"$6\"\n"
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	src := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o644))
	dst := filepath.Join(dir, "photo.webp")

	require.NoError(t, NewCwebpEncoder(stub).Encode(context.Background(), src, dst, 65))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "65\n", string(data))
}

func TestCwebpEncoder_FailureLeavesNoOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "cwebp")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho boom >&2\nexit 1\n"), 0o755))

	src := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o644))

	err := NewCwebpEncoder(stub).Encode(context.Background(), src, filepath.Join(dir, "photo.webp"), 80)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "photo.webp"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCwebpEncoder_MissingBinary(t *testing.T) {
	err := NewCwebpEncoder(filepath.Join(t.TempDir(), "nope")).Encode(context.Background(), "a.jpg", "a.webp", 80)
	require.Error(t, err)
}

func TestNewEncoder(t *testing.T) {
	enc, err := NewEncoder("", "")
	require.NoError(t, err)
	assert.Equal(t, BackendNative, enc.Name())

	enc, err = NewEncoder(BackendCwebp, "/usr/bin/cwebp")
	require.NoError(t, err)
	assert.Equal(t, BackendCwebp, enc.Name())

	_, err = NewEncoder("gimp", "")
	require.Error(t, err)
}
