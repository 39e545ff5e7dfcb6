package stream

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/registry"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/rtp"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

var callStart = time.Date(2025, 3, 14, 9, 30, 5, 0, time.Local)

func match(callID string, dir types.Direction, seq uint16, codec audio.Codec) rtp.Match {
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0x80
	}
	return rtp.Match{
		CallID:    callID,
		Direction: dir,
		Dialog: registry.Snapshot{
			CallID:     callID,
			FromNumber: "01077141436",
			ToNumber:   "1427",
			Inbound:    true,
			StartTime:  callStart,
		},
		Packet: &rtp.Packet{SequenceNumber: seq, Codec: codec, Payload: payload},
	}
}

func newManager(t *testing.T) (*Manager, *stats.Collector, string) {
	t.Helper()
	dir := t.TempDir()
	c := stats.New()
	return NewManager(Options{Dir: dir, Stats: c}), c, dir
}

func TestManager_FlushesAtThreshold(t *testing.T) {
	m, _, dir := newManager(t)
	at := callStart

	// 29 packets = 9280 bytes, below the 9600 byte threshold
	for seq := uint16(1); seq <= 29; seq++ {
		require.NoError(t, m.Write(match("c1", types.In, seq, audio.PCMU), at))
		at = at.Add(20 * time.Millisecond)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, m.Write(match("c1", types.In, 30, audio.PCMU), at))
	path := filepath.Join(dir, audio.StreamFilename(callStart, types.In, "01077141436", "1427", "c1"))
	samples, rate, err := audio.ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.Len(t, samples, 30*160)
}

func TestManager_FinalizeWritesRemainder(t *testing.T) {
	m, _, _ := newManager(t)
	at := callStart
	for seq := uint16(1); seq <= 50; seq++ {
		require.NoError(t, m.Write(match("c1", types.In, seq, audio.PCMU), at))
		at = at.Add(20 * time.Millisecond)
	}

	path, err := m.Finalize(Key{CallID: "c1", Direction: types.In})
	require.NoError(t, err)
	samples, _, err := audio.ReadWAV(path)
	require.NoError(t, err)
	assert.Len(t, samples, 50*160)

	d, err := audio.Duration(path)
	require.NoError(t, err)
	assert.InDelta(t, 1000, d.Milliseconds(), 50)

	err = m.Write(match("c1", types.In, 51, audio.PCMU), at)
	assert.ErrorIs(t, err, ErrStreamSaved)

	_, err = m.Finalize(Key{CallID: "c1", Direction: types.In})
	assert.ErrorIs(t, err, ErrStreamSaved)
}

func TestManager_DuplicatesAndGaps(t *testing.T) {
	m, c, _ := newManager(t)
	for _, seq := range []uint16{1, 2, 2, 1, 3, 7} {
		require.NoError(t, m.Write(match("c1", types.Out, seq, audio.PCMA), callStart))
	}
	assert.Equal(t, uint64(2), c.Get(stats.RTPDuplicates))
	assert.Equal(t, uint64(3), c.Get(stats.RTPGaps))

	paths := m.FinalizeCall("c1")
	require.Contains(t, paths, types.Out)
	assert.NotContains(t, paths, types.In)

	samples, _, err := audio.ReadWAV(paths[types.Out])
	require.NoError(t, err)
	assert.Len(t, samples, 4*160)
	assert.Empty(t, m.Calls())
}

// A sender that restarts its sequence space keeps being recorded
func TestManager_SequenceRestart(t *testing.T) {
	m, c, _ := newManager(t)
	at := callStart
	write := func(from, to uint16) {
		for seq := from; seq <= to; seq++ {
			require.NoError(t, m.Write(match("c1", types.In, seq, audio.PCMU), at))
			at = at.Add(20 * time.Millisecond)
		}
	}
	write(100, 149)
	write(40000, 40249)

	assert.Equal(t, uint64(1), c.Get(stats.RTPRestarts))
	assert.Zero(t, c.Get(stats.RTPDuplicates))

	paths := m.FinalizeCall("c1")
	samples, _, err := audio.ReadWAV(paths[types.In])
	require.NoError(t, err)
	assert.Len(t, samples, 300*160)
}

// The first packet fixes the stream's codec
func TestManager_CodecSwitchIsDropped(t *testing.T) {
	m, c, _ := newManager(t)
	require.NoError(t, m.Write(match("c1", types.In, 1, audio.PCMU), callStart))
	require.NoError(t, m.Write(match("c1", types.In, 2, audio.PCMA), callStart))
	require.NoError(t, m.Write(match("c1", types.In, 3, audio.PCMU), callStart))

	assert.Equal(t, uint64(1), c.Get(stats.RTPCodecMismatch))

	paths := m.FinalizeCall("c1")
	samples, _, err := audio.ReadWAV(paths[types.In])
	require.NoError(t, err)
	assert.Len(t, samples, 2*160)
	for _, v := range samples {
		assert.Equal(t, samples[0], v, "only PCMU decodes reach the file")
	}
}

func TestManager_DecodeErrorClosesStream(t *testing.T) {
	m, c, _ := newManager(t)

	err := m.Write(match("c1", types.In, 1, audio.Codec(18)), callStart)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, uint64(1), c.Get(stats.DecodeErrors))

	err = m.Write(match("c1", types.In, 3, audio.PCMU), callStart)
	assert.ErrorIs(t, err, ErrStreamSaved)

	// the other direction is unaffected
	assert.NoError(t, m.Write(match("c1", types.Out, 1, audio.PCMU), callStart))
}

func TestManager_IOErrorClosesStream(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	c := stats.New()
	m := NewManager(Options{Dir: blocker, Stats: c})

	var err error
	at := callStart
	for seq := uint16(1); seq <= 30 && err == nil; seq++ {
		err = m.Write(match("c1", types.In, seq, audio.PCMU), at)
		at = at.Add(20 * time.Millisecond)
	}
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, uint64(1), c.Get(stats.IOErrors))
	assert.ErrorIs(t, m.Write(match("c1", types.In, 31, audio.PCMU), at), ErrStreamSaved)
}

func TestManager_IdleCalls(t *testing.T) {
	m, _, _ := newManager(t)
	require.NoError(t, m.Write(match("c1", types.In, 1, audio.PCMU), callStart))
	require.NoError(t, m.Write(match("c2", types.In, 1, audio.PCMU), callStart.Add(3*time.Second)))

	assert.Empty(t, m.IdleCalls(callStart.Add(4*time.Second), 5*time.Second))
	assert.Equal(t, []string{"c1"}, m.IdleCalls(callStart.Add(5*time.Second), 5*time.Second))
	assert.Empty(t, m.IdleCalls(callStart.Add(6*time.Second), 5*time.Second), "reported once")

	require.NoError(t, m.Write(match("c1", types.In, 2, audio.PCMU), callStart.Add(7*time.Second)))
	assert.Equal(t, []string{"c1", "c2"}, m.IdleCalls(callStart.Add(12*time.Second), 5*time.Second))

	last, ok := m.LastActivity("c1")
	require.True(t, ok)
	assert.Equal(t, callStart.Add(7*time.Second), last)
}

func TestManager_FlushAllKeepsStreamsOpen(t *testing.T) {
	m, _, dir := newManager(t)
	require.NoError(t, m.Write(match("c1", types.In, 1, audio.PCMU), callStart))
	m.FlushAll()

	path := filepath.Join(dir, audio.StreamFilename(callStart, types.In, "01077141436", "1427", "c1"))
	samples, _, err := audio.ReadWAV(path)
	require.NoError(t, err)
	assert.Len(t, samples, 160)

	require.NoError(t, m.Write(match("c1", types.In, 2, audio.PCMU), callStart))
	assert.Equal(t, []string{"c1"}, m.Calls())
}
