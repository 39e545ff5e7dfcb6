// Package kafkawriter builds the synchronous Kafka producers used for
// artifact records and extension notifications.
package kafkawriter

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
)

const (
	defaultBatchTimeout = 50 * time.Millisecond
	defaultMaxAttempts  = 3
)

// ErrNotConfigured is returned when brokers or topic are missing
var ErrNotConfigured = errors.New("kafka brokers and topic are required")

// Writer is the subset of *kafka.Writer the sinks use; tests substitute it
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config for a producer
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	MaxAttempts  int
}

// New returns a synchronous, snappy-compressed writer keyed by message key
func New(cfg Config) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: compress.Snappy.Codec(),
		Async:            false,
	}), nil
}
