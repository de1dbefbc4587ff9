package request

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPath_Normalizes(t *testing.T) {
	dir := t.TempDir()
	a := NewPath(filepath.Join(dir, "sub", "..", "model.bin"))
	b := NewPath(filepath.Join(dir, "model.bin"))

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(NewPath(filepath.Join(dir, "other.bin"))))
	assert.True(t, NewPath("").IsEmpty())
}

func TestFileRange_Contains(t *testing.T) {
	r := RangeOf(100, 50)
	assert.True(t, r.Contains(100))
	assert.True(t, r.Contains(149))
	assert.False(t, r.Contains(150))
	assert.False(t, r.Contains(99))
	assert.True(t, r.ContainsRange(120, 30))
	assert.False(t, r.ContainsRange(120, 31))

	whole := EntireFile()
	assert.True(t, whole.Contains(1<<40))
	assert.Equal(t, "[entire file]", whole.String())
	assert.NotEqual(t, whole, RangeOf(0, 0))
}

func TestAlignment(t *testing.T) {
	assert.Equal(t, uint64(4096), AlignUp(1, 4096))
	assert.Equal(t, uint64(4096), AlignUp(4096, 4096))
	assert.Equal(t, uint64(0), AlignDown(4095, 4096))
	assert.True(t, IsPowerOfTwo(64))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(48))

	buf := AlignedBuffer(100, 512)
	assert.Len(t, buf, 100)
	assert.True(t, IsAligned(buf, 512))
	assert.False(t, IsAligned(buf[1:], 512))
}
