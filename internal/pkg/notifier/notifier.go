// Package notifier forwards newly registered local extensions to an
// external consumer. Delivery is at-most-once: a full queue drops.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/kafkawriter"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
)

const deliverTimeout = 3 * time.Second

// Backend delivers one extension
type Backend interface {
	Deliver(ctx context.Context, ext string) error
}

// Notifier is a bounded multi-producer queue drained by Run
type Notifier struct {
	queue   chan string
	backend Backend
	stats   *stats.Collector
}

// New returns a notifier with a queue of size entries
func New(backend Backend, size int, collector *stats.Collector) *Notifier {
	if size <= 0 {
		size = constants.NotifierQueueBuffer
	}
	return &Notifier{
		queue:   make(chan string, size),
		backend: backend,
		stats:   collector,
	}
}

// Publish enqueues ext without blocking
func (n *Notifier) Publish(ext string) {
	select {
	case n.queue <- ext:
	default:
		n.stats.Inc(stats.NotifierDropped)
		logger.Warn("Notifier queue full, dropping extension", "extension", ext)
	}
}

// Run delivers queued extensions until ctx ends
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ext := <-n.queue:
			dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
			err := n.backend.Deliver(dctx, ext)
			cancel()
			if err != nil {
				logger.Warn("Extension delivery failed", "extension", ext, "error", err)
				continue
			}
			n.stats.Inc(stats.ExtensionsPublished)
		}
	}
}

// LogBackend records extensions in the structured log
type LogBackend struct{}

// Deliver implements Backend
func (LogBackend) Deliver(_ context.Context, ext string) error {
	logger.Info("Extension registered", "extension", ext)
	return nil
}

// KafkaBackend produces {"extension": ..., "registered_at": ...} keyed by extension
type KafkaBackend struct {
	writer kafkawriter.Writer
	now    func() time.Time
}

// NewKafkaBackend wraps w
func NewKafkaBackend(w kafkawriter.Writer) *KafkaBackend {
	return &KafkaBackend{writer: w, now: time.Now}
}

type registration struct {
	Extension    string    `json:"extension"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Deliver implements Backend
func (b *KafkaBackend) Deliver(ctx context.Context, ext string) error {
	at := b.now()
	value, err := json.Marshal(registration{Extension: ext, RegisteredAt: at})
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ext), Value: value, Time: at}); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close closes the producer
func (b *KafkaBackend) Close() error {
	return b.writer.Close()
}
