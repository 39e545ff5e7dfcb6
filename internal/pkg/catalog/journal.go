package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
)

// DefaultTimeout bounds one primary insert
const DefaultTimeout = 3 * time.Second

// DefaultReplayInterval is how often the journal is retried
const DefaultReplayInterval = time.Minute

// Journaled sends to Primary and falls back to a local journal. Replay
// re-sends journaled records once the primary recovers.
type Journaled struct {
	Primary Sink
	Journal *FileSink
	Timeout time.Duration
	Stats   *stats.Collector

	mu sync.Mutex // serializes journal appends against replay rewrites
}

// Insert implements Sink. A primary failure is not fatal: the record is
// journaled and ErrCatalogUnavailable returned.
func (j *Journaled) Insert(ctx context.Context, rec Record) error {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	err := j.Primary.Insert(ictx, rec)
	cancel()
	if err == nil {
		j.Stats.Inc(stats.CatalogInserted)
		return nil
	}

	j.Stats.Inc(stats.CatalogUnavailable)
	j.mu.Lock()
	jerr := j.Journal.Insert(context.Background(), rec)
	j.mu.Unlock()
	if jerr != nil {
		return fmt.Errorf("%w: %v (journal: %v)", ErrCatalogUnavailable, err, jerr)
	}
	return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
}

// Replay re-sends journaled records and rewrites the journal with the ones
// that still fail. It returns how many were delivered.
func (j *Journaled) Replay(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := readJournal(j.Journal.Path())
	if err != nil || len(records) == 0 {
		return 0, err
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var pending []Record
	seen := make(map[string]struct{}, len(records))
	delivered := 0
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup && rec.ID != "" {
			continue
		}
		seen[rec.ID] = struct{}{}

		if ctx.Err() != nil {
			pending = append(pending, rec)
			continue
		}
		ictx, cancel := context.WithTimeout(ctx, timeout)
		err := j.Primary.Insert(ictx, rec)
		cancel()
		if err != nil {
			pending = append(pending, rec)
			continue
		}
		delivered++
		j.Stats.Inc(stats.CatalogInserted)
	}

	if err := writeJournal(j.Journal.Path(), pending); err != nil {
		return delivered, err
	}
	if delivered > 0 {
		logger.Info("Replayed catalog journal", "delivered", delivered, "pending", len(pending))
	}
	return delivered, nil
}

// RunReplay replays the journal every interval until ctx ends
func (j *Journaled) RunReplay(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	if _, err := j.Replay(ctx); err != nil {
		logger.Warn("Catalog journal replay failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.Replay(ctx); err != nil {
				logger.Warn("Catalog journal replay failed", "error", err)
			}
		}
	}
}

func readJournal(path string) ([]Record, error) {
	// #nosec G304 -- journal path from config
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			logger.Warn("Skipping corrupt journal line", "path", path, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return records, nil
}

func writeJournal(path string, records []Record) error {
	if len(records) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to clear journal: %w", err)
		}
		return nil
	}

	tmp := path + ".tmp"
	// #nosec G304 -- journal path from config
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to rewrite journal: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("failed to rewrite journal: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rewrite journal: %w", err)
	}
	return os.Rename(tmp, path)
}
