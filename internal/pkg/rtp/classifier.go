package rtp

import (
	"errors"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/registry"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// MediaIndex resolves endpoints to a live dialog; *registry.Registry implements it
type MediaIndex interface {
	ClassifyMedia(src, dst types.Endpoint) (registry.Snapshot, types.Direction, bool)
}

// Match is a classified RTP packet
type Match struct {
	CallID    string
	Direction types.Direction
	Dialog    registry.Snapshot
	Packet    *Packet
}

// Classifier turns UDP payloads into matched RTP packets
type Classifier struct {
	index MediaIndex
	stats *stats.Collector
}

// NewClassifier returns a classifier over index
func NewClassifier(index MediaIndex, collector *stats.Collector) *Classifier {
	return &Classifier{index: index, stats: collector}
}

// Classify validates payload as G.711 RTP and finds its call and direction.
// Every rejection is counted; none is reported to the caller.
func (c *Classifier) Classify(src, dst types.Endpoint, payload []byte) (Match, bool) {
	pkt, err := Parse(payload)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPayloadType) {
			c.stats.Inc(stats.RTPUnsupportedPayload)
		} else {
			c.stats.Inc(stats.NotRTP)
		}
		return Match{}, false
	}

	dialog, dir, ok := c.index.ClassifyMedia(src, dst)
	if !ok {
		c.stats.Inc(stats.RTPUnmatched)
		return Match{}, false
	}

	c.stats.Inc(stats.RTPClassified)
	return Match{
		CallID:    dialog.CallID,
		Direction: dir,
		Dialog:    dialog,
		Packet:    pkt,
	}, true
}
