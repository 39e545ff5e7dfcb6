package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n, start int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}

func TestWriteWAV_Header(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, WriteWAV(path, ramp(800, -400), 8000))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 44+800*2, "44-byte RIFF header plus 16-bit samples")

	assert.Equal(t, "RIFF", string(raw[0:4]))
	assert.Equal(t, "WAVE", string(raw[8:12]))
	assert.Equal(t, "fmt ", string(raw[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(raw[20:22]), "PCM")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(raw[22:24]), "mono")
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(raw[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(raw[34:36]))
	assert.Equal(t, "data", string(raw[36:40]))
	assert.Equal(t, uint32(1600), binary.LittleEndian.Uint32(raw[40:44]))
	assert.Equal(t, uint32(len(raw)-8), binary.LittleEndian.Uint32(raw[4:8]))
}

func TestAppendWAV_ReadModifyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.wav")

	require.NoError(t, AppendWAV(path, ramp(160, 0), 8000))
	require.NoError(t, AppendWAV(path, ramp(160, 160), 8000))
	require.NoError(t, AppendWAV(path, ramp(80, 320), 8000))

	samples, rate, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.Equal(t, ramp(400, 0), samples)

	d, err := Duration(path)
	require.NoError(t, err)
	assert.InDelta(t, 50, d.Milliseconds(), 1)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are renamed away")
}

func TestReadWAV_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff file at all"), 0600))

	_, _, err := ReadWAV(path)
	assert.ErrorIs(t, err, ErrInvalidWAV)

	assert.ErrorIs(t, AppendWAV(path, ramp(10, 0), 8000), ErrInvalidWAV)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	require.NoError(t, WriteWAV(src, ramp(100, 0), 8000))

	dst := filepath.Join(dir, "nested", "merge.wav")
	require.NoError(t, CopyFile(src, dst))

	a, err := os.ReadFile(src)
	require.NoError(t, err)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
