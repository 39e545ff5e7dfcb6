package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/kafkawriter"
)

// ErrCatalogUnavailable means the primary sink rejected a record; the
// record was journaled instead.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Sink accepts artifact records
type Sink interface {
	Insert(ctx context.Context, rec Record) error
}

// FileSink appends records as JSON lines
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates the parent directory of path
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Path is the JSON lines file
func (s *FileSink) Path() string {
	return s.path
}

// Insert implements Sink
func (s *FileSink) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- catalog path from config
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append record: %w", err)
	}
	return f.Close()
}

// KafkaSink produces each record as a JSON message keyed by Call-ID
type KafkaSink struct {
	writer kafkawriter.Writer
}

// NewKafkaSink wraps w
func NewKafkaSink(w kafkawriter.Writer) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Insert implements Sink
func (s *KafkaSink) Insert(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.CallID),
		Value: value,
		Time:  rec.EndTime,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes and closes the producer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
