// Package stream accumulates decoded RTP audio per (call, direction) and
// flushes it to a growing WAV file.
package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/rtp"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

var (
	// ErrDecode means a payload could not be decoded; the stream is closed
	ErrDecode = errors.New("stream decode error")
	// ErrIO means the stream file could not be written; the stream is closed
	ErrIO = errors.New("stream io error")
	// ErrStreamSaved is returned for writes to a finalized or failed stream
	ErrStreamSaved = errors.New("stream already saved")
)

// DefaultSampleRate is the G.711 clock rate
const DefaultSampleRate = 8000

// Key identifies one stream
type Key struct {
	CallID    string
	Direction types.Direction
}

func (k Key) String() string {
	return k.CallID + "/" + k.Direction.String()
}

// Options configures a Manager
type Options struct {
	Dir        string
	SampleRate int
	Window     time.Duration
	Stats      *stats.Collector
}

// Stream is one direction of one call
type Stream struct {
	mu sync.Mutex

	key     Key
	path    string
	codec   audio.Codec // fixed by the first packet
	seq     SequenceTracker
	sizer   *BufferSizer
	buffer  []int
	saved   bool
	flushed bool
	packets uint64
}

// Path is the WAV file the stream writes to
func (s *Stream) Path() string {
	return s.path
}

type activity struct {
	last     time.Time
	reported bool
}

// Manager owns all live streams
type Manager struct {
	opts Options

	mu       sync.Mutex
	streams  map[Key]*Stream
	activity map[string]*activity
}

// NewManager returns a Manager writing under opts.Dir
func NewManager(opts Options) *Manager {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	return &Manager{
		opts:     opts,
		streams:  make(map[Key]*Stream),
		activity: make(map[string]*activity),
	}
}

// Write appends a classified packet to its stream, creating the stream on
// first use. Decode and IO failures close the stream; later writes to it
// return ErrStreamSaved.
func (m *Manager) Write(match rtp.Match, at time.Time) error {
	key := Key{CallID: match.CallID, Direction: match.Direction}
	s := m.acquire(key, match, at)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved {
		return ErrStreamSaved
	}

	if match.Packet.Codec != s.codec {
		m.opts.Stats.Inc(stats.RTPCodecMismatch)
		logger.Debug("Dropping packet with a different codec",
			"call_id", key.CallID,
			"direction", key.Direction.String(),
			"stream_codec", s.codec.String(),
			"packet_codec", match.Packet.Codec.String())
		return nil
	}

	expected, res := s.seq.Check(match.Packet.SequenceNumber)
	switch res {
	case SeqDuplicate:
		m.opts.Stats.Inc(stats.RTPDuplicates)
		return nil
	case SeqGap:
		m.opts.Stats.Add(stats.RTPGaps, uint64(uint16(match.Packet.SequenceNumber-expected)))
		logger.Debug("RTP sequence mismatch",
			"call_id", key.CallID,
			"direction", key.Direction.String(),
			"expected", expected,
			"actual", match.Packet.SequenceNumber)
	case SeqRestart:
		m.opts.Stats.Inc(stats.RTPRestarts)
		logger.Debug("RTP sequence restarted",
			"call_id", key.CallID,
			"direction", key.Direction.String(),
			"expected", expected,
			"actual", match.Packet.SequenceNumber)
	}

	samples, err := audio.Decode(match.Packet.Codec, match.Packet.Payload)
	if err != nil {
		s.saved = true
		m.opts.Stats.Inc(stats.DecodeErrors)
		logger.Warn("Closing stream after decode failure", "call_id", key.CallID, "direction", key.Direction.String(), "error", err)
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	s.packets++
	s.buffer = append(s.buffer, samples...)

	threshold := s.sizer.Observe(len(samples)*2, at)
	s.buffer = keepTail(s.buffer)
	if len(s.buffer)*2 >= threshold {
		if err := m.flushLocked(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) acquire(key Key, match rtp.Match, at time.Time) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.activity[key.CallID]
	if !ok {
		a = &activity{}
		m.activity[key.CallID] = a
	}
	a.last = at
	a.reported = false

	if s, ok := m.streams[key]; ok {
		return s
	}

	start := match.Dialog.StartTime
	if start.IsZero() {
		start = at
	}
	s := &Stream{
		key:   key,
		codec: match.Packet.Codec,
		sizer: NewBufferSizer(m.opts.SampleRate, m.opts.Window, match.Dialog.IntraExtension()),
	}
	name := audio.StreamFilename(start, key.Direction, match.Dialog.FromNumber, match.Dialog.ToNumber, key.CallID)
	path, err := audio.UniquePath(m.opts.Dir, name)
	if err != nil {
		s.saved = true
		m.opts.Stats.Inc(stats.IOErrors)
		logger.Error("Failed to allocate stream file", "call_id", key.CallID, "direction", key.Direction.String(), "error", err)
	}
	s.path = path
	m.streams[key] = s

	logger.Info("Stream opened", "call_id", key.CallID, "direction", key.Direction.String(), "path", path)
	return s
}

func (m *Manager) flushLocked(s *Stream) error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := audio.AppendWAV(s.path, s.buffer, m.opts.SampleRate); err != nil {
		s.saved = true
		m.opts.Stats.Inc(stats.IOErrors)
		logger.Error("Closing stream after write failure", "call_id", s.key.CallID, "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.buffer = s.buffer[:0]
	s.flushed = true
	return nil
}

// Finalize flushes the remaining buffer, refuses further writes and returns
// the stream's file. A stream that never reached disk yields an empty path.
func (m *Manager) Finalize(key Key) (string, error) {
	m.mu.Lock()
	s, ok := m.streams[key]
	m.mu.Unlock()
	if !ok {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved {
		return "", ErrStreamSaved
	}
	err := m.flushLocked(s)
	s.saved = true
	if err != nil {
		return "", err
	}
	if !s.flushed {
		return "", nil
	}
	logger.Info("Stream finalized", "call_id", key.CallID, "direction", key.Direction.String(), "path", s.path, "packets", s.packets)
	return s.path, nil
}

// FinalizeCall finalizes both directions of callID, forgets them and
// returns the files that were written.
func (m *Manager) FinalizeCall(callID string) map[types.Direction]string {
	out := make(map[types.Direction]string, 2)
	for _, dir := range []types.Direction{types.In, types.Out} {
		key := Key{CallID: callID, Direction: dir}
		path, err := m.Finalize(key)
		if err != nil && !errors.Is(err, ErrStreamSaved) {
			logger.Warn("Stream finalize failed", "call_id", callID, "direction", dir.String(), "error", err)
		}
		if path != "" {
			out[dir] = path
		}
	}

	m.mu.Lock()
	delete(m.streams, Key{CallID: callID, Direction: types.In})
	delete(m.streams, Key{CallID: callID, Direction: types.Out})
	delete(m.activity, callID)
	m.mu.Unlock()
	return out
}

// IdleCalls returns calls whose last packet is older than idle. Each idle
// period is reported once; a new packet re-arms it.
func (m *Manager) IdleCalls(now time.Time, idle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, a := range m.activity {
		if a.reported || now.Sub(a.last) < idle {
			continue
		}
		a.reported = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastActivity reports when callID last received a packet
func (m *Manager) LastActivity(callID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activity[callID]
	if !ok {
		return time.Time{}, false
	}
	return a.last, true
}

// Calls lists the calls with live streams
func (m *Manager) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var ids []string
	for k := range m.streams {
		if _, ok := seen[k.CallID]; ok {
			continue
		}
		seen[k.CallID] = struct{}{}
		ids = append(ids, k.CallID)
	}
	sort.Strings(ids)
	return ids
}

// FlushAll writes every pending buffer without closing streams
func (m *Manager) FlushAll() {
	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		if !s.saved {
			_ = m.flushLocked(s)
		}
		s.mu.Unlock()
	}
}
