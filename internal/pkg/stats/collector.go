// Package stats is the top-level observer: every recoverable error kind and
// every traffic outcome increments a lock-free counter here instead of being
// surfaced to callers.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
)

// Kind names one counter.
type Kind int

const (
	PacketsReceived Kind = iota
	CaptureDrops
	SIPMessages
	NotSip
	MalformedSip
	UnsupportedSdp
	RTPClassified
	RTPUnmatched
	RTPUnsupportedPayload
	NotRTP
	RTPDuplicates
	RTPGaps
	RTPRestarts
	RTPCodecMismatch
	DecodeErrors
	IOErrors
	DialogsCreated
	DialogsTerminated
	FinalizeOK
	FinalizeFailed
	FinalizeSkipped
	MixFailures
	CatalogInserted
	CatalogUnavailable
	ExtensionsRegistered
	ExtensionsPublished
	NotifierDropped
	numKinds
)

var kindNames = [numKinds]string{
	PacketsReceived:       "packets_received",
	CaptureDrops:          "capture_drops",
	SIPMessages:           "sip_messages",
	NotSip:                "not_sip",
	MalformedSip:          "malformed_sip",
	UnsupportedSdp:        "unsupported_sdp",
	RTPClassified:         "rtp_classified",
	RTPUnmatched:          "rtp_unmatched",
	RTPUnsupportedPayload: "rtp_unsupported_payload",
	NotRTP:                "not_rtp",
	RTPDuplicates:         "rtp_duplicates",
	RTPGaps:               "rtp_gaps",
	RTPRestarts:           "rtp_restarts",
	RTPCodecMismatch:      "rtp_codec_mismatch",
	DecodeErrors:          "decode_errors",
	IOErrors:              "io_errors",
	DialogsCreated:        "dialogs_created",
	DialogsTerminated:     "dialogs_terminated",
	FinalizeOK:            "finalize_ok",
	FinalizeFailed:        "finalize_failed",
	FinalizeSkipped:       "finalize_skipped",
	MixFailures:           "mix_failures",
	CatalogInserted:       "catalog_inserted",
	CatalogUnavailable:    "catalog_unavailable",
	ExtensionsRegistered:  "extensions_registered",
	ExtensionsPublished:   "extensions_published",
	NotifierDropped:       "notifier_dropped",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Collector tracks recorder statistics with lock-free atomic operations
type Collector struct {
	counters [numKinds]atomic.Uint64
	started  time.Time
}

// New creates a new statistics collector
func New() *Collector {
	return &Collector{started: time.Now()}
}

// Inc increments the counter for kind by one. A nil collector is a no-op so
// components can be built without an observer in tests.
func (c *Collector) Inc(kind Kind) {
	c.Add(kind, 1)
}

// Add increments the counter for kind by n
func (c *Collector) Add(kind Kind, n uint64) {
	if c == nil || kind < 0 || kind >= numKinds {
		return
	}
	c.counters[kind].Add(n)
}

// Get returns the current value of a counter
func (c *Collector) Get(kind Kind) uint64 {
	if c == nil || kind < 0 || kind >= numKinds {
		return 0
	}
	return c.counters[kind].Load()
}

// Snapshot returns all non-zero counters keyed by name
func (c *Collector) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if c == nil {
		return out
	}
	for k := Kind(0); k < numKinds; k++ {
		if v := c.counters[k].Load(); v > 0 {
			out[k.String()] = v
		}
	}
	return out
}

// Log writes the current snapshot as a single structured line
func (c *Collector) Log() {
	if c == nil {
		return
	}
	args := []any{"uptime", time.Since(c.started).Round(time.Second).String()}
	for name, v := range c.Snapshot() {
		args = append(args, name, v)
	}
	logger.Info("Recorder statistics", args...)
}
