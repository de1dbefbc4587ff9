package main

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/bamsammich/streamio/internal/config"
)

// runCLI runs the command with an isolated config directory.
func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var out bytes.Buffer
	code := run(args, &out)
	return code, out.String()
}

func testFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + i/7)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestRun_Version(t *testing.T) {
	code, out := runCLI(t, "--version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "streamio dev\n", out)
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _ := runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
}

func TestRun_ConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamio.toml")

	code, out := runCLI(t, "--config", path, "config", "path")
	require.Equal(t, 0, code)
	assert.Equal(t, path+"\n", out)

	code, _ = runCLI(t, "--config", path, "config", "init")
	require.Equal(t, 0, code)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)

	code, _ = runCLI(t, "--config", path, "config", "init")
	assert.Equal(t, 2, code, "an existing file is kept")
	code, _ = runCLI(t, "--config", path, "config", "init", "--force")
	assert.Equal(t, 0, code)
}

func TestRun_Read(t *testing.T) {
	path, data := testFile(t, 200_000)

	code, out := runCLI(t, "read", "--offset", "1000", "--size", "64K", path)
	require.Equal(t, 0, code)
	assert.Equal(t, data[1000:1000+64*1024], []byte(out))

	dst := filepath.Join(t.TempDir(), "out.bin")
	code, _ = runCLI(t, "read", "--no-splitter", "-o", dst, path)
	require.Equal(t, 0, code)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRun_Hash(t *testing.T) {
	path, data := testFile(t, 300_000)
	sum := blake3.Sum256(data)

	code, out := runCLI(t, "hash", "--chunk-size", "64K", path)
	require.Equal(t, 0, code)
	assert.Equal(t, hex.EncodeToString(sum[:])+"  "+path+"\n", out)

	code, _ = runCLI(t, "hash", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 1, code)
}

func TestRun_Stat(t *testing.T) {
	path, _ := testFile(t, 4096)

	code, out := runCLI(t, "stat", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "4096")

	code, out = runCLI(t, "stat", path, filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "missing")
}

func TestRun_Bench(t *testing.T) {
	path, _ := testFile(t, 100_000)
	db := filepath.Join(t.TempDir(), "stats.db")

	code, out := runCLI(t, "bench", "--read-size", "16K", "--progress", "--stats-db", db, filepath.Dir(path))
	require.Equal(t, 0, code)
	assert.NotEmpty(t, strings.TrimSpace(out))
	assert.FileExists(t, db)
}

func TestRun_Report(t *testing.T) {
	code, out := runCLI(t, "report", "file-locks")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "file handles open")

	code, _ = runCLI(t, "report", "bogus")
	assert.Equal(t, 2, code)
}

func TestParsePriority(t *testing.T) {
	for _, name := range []string{"lowest", "low", "medium", "high", "HIGHEST"} {
		_, err := parsePriority(name)
		assert.NoError(t, err, name)
	}
	_, err := parsePriority("urgent")
	assert.Error(t, err)
}
