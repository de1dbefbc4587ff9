package fileio

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS_OpenReadSeek(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	data := []byte("0123456789abcdef")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fs := NewOS(OSConfig{SequentialHint: true})
	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()

	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	pos, err := f.Seek(10, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)

	buf := make([]byte, 6)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), buf)
}

func TestOS_ExistsAndSize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 300), 0o644))

	fs := NewOS(OSConfig{})
	assert.True(t, fs.Exists(path))
	assert.False(t, fs.Exists(filepath.Join(dir, "missing.bin")))
	assert.False(t, fs.Exists(dir), "directories are not files")

	size, err := fs.Size(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), size)

	_, err = fs.Size(filepath.Join(dir, "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOS_ClosedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	f, err := NewOS(OSConfig{}).Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "double close is harmless")

	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOS_BandwidthLimitedRead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := NewOS(OSConfig{BandwidthLimit: 64 << 20}).Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOS_OpenMissing(t *testing.T) {
	t.Parallel()
	_, err := NewOS(OSConfig{}).Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
