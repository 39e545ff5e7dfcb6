package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
)

type flakySink struct {
	mu       sync.Mutex
	fail     bool
	failIDs  map[string]bool
	received []Record
}

func (s *flakySink) Insert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail || s.failIDs[rec.ID] {
		return errors.New("connection refused")
	}
	s.received = append(s.received, rec)
	return nil
}

func (s *flakySink) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

type blockingSink struct{}

func (blockingSink) Insert(ctx context.Context, rec Record) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func record(callID string) Record {
	rec := NewRecord(callID)
	rec.FromNumber = "01077141436"
	rec.ToNumber = "1427"
	rec.Result = "ok"
	return rec
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestNewRecord_UniqueIDs(t *testing.T) {
	a, b := NewRecord("c1"), NewRecord("c1")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "c1", a.CallID)
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Insert(context.Background(), record("c1")))
	require.NoError(t, sink.Insert(context.Background(), record("c2")))

	got := lines(t, path)
	require.Len(t, got, 2)
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(got[1]), &rec))
	assert.Equal(t, "c2", rec.CallID)
	assert.Equal(t, "1427", rec.ToNumber)
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)

	require.NoError(t, sink.Insert(context.Background(), record("c1")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("c1"), w.msgs[0].Key)

	var rec Record
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &rec))
	assert.Equal(t, "01077141436", rec.FromNumber)

	w.err = errors.New("leader not available")
	assert.Error(t, sink.Insert(context.Background(), record("c2")))

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestJournaled_FallbackAndReplay(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewFileSink(filepath.Join(dir, "pending.jsonl"))
	require.NoError(t, err)

	primary := &flakySink{fail: true}
	c := stats.New()
	j := &Journaled{Primary: primary, Journal: journal, Stats: c}

	err = j.Insert(context.Background(), record("c1"))
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	err = j.Insert(context.Background(), record("c2"))
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Len(t, lines(t, journal.Path()), 2)
	assert.Equal(t, uint64(2), c.Get(stats.CatalogUnavailable))

	// still down: nothing delivered, nothing lost
	n, err := j.Replay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, lines(t, journal.Path()), 2)

	primary.setFail(false)
	n, err = j.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, lines(t, journal.Path()))
	assert.Len(t, primary.received, 2)
	assert.Equal(t, uint64(2), c.Get(stats.CatalogInserted))

	require.NoError(t, j.Insert(context.Background(), record("c3")))
	assert.Len(t, primary.received, 3)
}

func TestJournaled_ReplayKeepsFailures(t *testing.T) {
	journal, err := NewFileSink(filepath.Join(t.TempDir(), "pending.jsonl"))
	require.NoError(t, err)

	stuck := record("stuck")
	ok := record("ok")
	require.NoError(t, journal.Insert(context.Background(), stuck))
	require.NoError(t, journal.Insert(context.Background(), ok))
	require.NoError(t, journal.Insert(context.Background(), ok)) // duplicate from an earlier crash

	primary := &flakySink{failIDs: map[string]bool{stuck.ID: true}}
	j := &Journaled{Primary: primary, Journal: journal}

	n, err := j.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, primary.received, 1)

	remaining := lines(t, journal.Path())
	require.Len(t, remaining, 1)
	assert.Contains(t, remaining[0], stuck.ID)
}

func TestJournaled_PrimaryTimeout(t *testing.T) {
	journal, err := NewFileSink(filepath.Join(t.TempDir(), "pending.jsonl"))
	require.NoError(t, err)
	j := &Journaled{Primary: blockingSink{}, Journal: journal, Timeout: 50 * time.Millisecond}

	start := time.Now()
	err = j.Insert(context.Background(), record("c1"))
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, lines(t, journal.Path()), 1)
}
