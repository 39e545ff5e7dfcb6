// Package dispatcher is the single packet reader: it routes SIP to the
// registry and RTP through the classifier to the stream writer, drives the
// 1 Hz timers, and orders shutdown.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/registry"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/rtp"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/sip"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

const (
	DefaultStreamIdle     = 5 * time.Second
	DefaultNoMediaTimeout = 60 * time.Second
	DefaultRingTimeout    = 120 * time.Second
	DefaultStatsInterval  = time.Minute
)

// Source is the packet source surface the dispatcher drives
type Source interface {
	Packets(ctx context.Context) (<-chan capture.Packet, error)
	RotateIfNeeded() bool
}

// Registry is the dialog registry surface the dispatcher drives
type Registry interface {
	HandleMessage(msg *sip.Message, at time.Time)
	Get(callID string) (registry.Snapshot, bool)
	ActiveInCall() []registry.Snapshot
	ForceTerminate(callID string, result registry.Result, at time.Time) bool
	TerminateAll(result registry.Result, at time.Time) int
	Expire(now time.Time, ringTimeout time.Duration) []string
}

// Streams is the stream writer surface the dispatcher drives
type Streams interface {
	Write(match rtp.Match, at time.Time) error
	IdleCalls(now time.Time, idle time.Duration) []string
	LastActivity(callID string) (time.Time, bool)
	Calls() []string
	FinalizeCall(callID string) map[types.Direction]string
	FlushAll()
}

// Finalizer is drained last on shutdown
type Finalizer interface {
	Shutdown(timeout time.Duration) error
}

// Options configures a Dispatcher
type Options struct {
	Source     Source
	Registry   Registry
	Classifier *rtp.Classifier
	Streams    Streams
	Finalizer  Finalizer
	Stats      *stats.Collector

	SIPPorts        []uint16
	StreamIdle      time.Duration
	NoMediaTimeout  time.Duration
	RingTimeout     time.Duration
	ShutdownTimeout time.Duration
	StatsInterval   time.Duration

	// Now is the wall clock; tests replace it
	Now func() time.Time
}

// Dispatcher owns the reader loop
type Dispatcher struct {
	opts  Options
	clock *wireClock
}

// New returns a dispatcher; Run starts it
func New(opts Options) *Dispatcher {
	if len(opts.SIPPorts) == 0 {
		opts.SIPPorts = []uint16{constants.SIPPort}
	}
	if opts.StreamIdle <= 0 {
		opts.StreamIdle = DefaultStreamIdle
	}
	if opts.NoMediaTimeout <= 0 {
		opts.NoMediaTimeout = DefaultNoMediaTimeout
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = constants.GracefulShutdownTimeout
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	return &Dispatcher{opts: opts, clock: newWireClock(opts.Now)}
}

// Run reads packets until ctx ends or an offline source is exhausted, then
// shuts the pipeline down in order.
func (d *Dispatcher) Run(ctx context.Context) error {
	packets, err := d.opts.Source.Packets(ctx)
	if err != nil {
		return err
	}

	tick := time.NewTicker(constants.TickInterval)
	defer tick.Stop()
	statsTick := time.NewTicker(d.opts.StatsInterval)
	defer statsTick.Stop()

	logger.Info("Dispatcher running", "sip_ports", d.opts.SIPPorts)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case pkt, ok := <-packets:
			if !ok {
				logger.Info("Packet source exhausted")
				break loop
			}
			d.Handle(pkt)
		case <-tick.C:
			d.Tick(d.clock.now())
		case <-statsTick.C:
			d.opts.Stats.Log()
		}
	}

	return d.shutdown(packets)
}

// Handle routes one packet
func (d *Dispatcher) Handle(pkt capture.Packet) {
	d.clock.observe(pkt.Timestamp)
	at := pkt.Timestamp
	if at.IsZero() {
		at = d.clock.now()
	}

	p := Parse(pkt, d.opts.SIPPorts)
	switch p.Kind {
	case KindSIP:
		if p.Err != nil {
			d.opts.Stats.Inc(stats.UnsupportedSdp)
			logger.Debug("Ignoring unsupported SDP", "call_id", p.SIP.CallID, "error", p.Err)
		}
		d.opts.Registry.HandleMessage(p.SIP, at)
		return
	case KindOther:
		if errors.Is(p.Err, sip.ErrMalformedSip) {
			d.opts.Stats.Inc(stats.MalformedSip)
			logger.Debug("Dropping malformed SIP", "src", pkt.Src().String(), "error", p.Err)
		}
		return
	}

	if errors.Is(p.Err, sip.ErrNotSip) {
		d.opts.Stats.Inc(stats.NotSip)
	}
	match, ok := d.opts.Classifier.Classify(pkt.Src(), pkt.Dst(), pkt.Payload)
	if !ok {
		return
	}
	// decode and IO failures are counted and logged by the writer
	_ = d.opts.Streams.Write(match, at)
}

// Tick drives the timers: stream idle, unanswered ring, answered calls that
// never produced media, and capture rotation.
func (d *Dispatcher) Tick(now time.Time) {
	for _, callID := range d.opts.Streams.IdleCalls(now, d.opts.StreamIdle) {
		snap, ok := d.opts.Registry.Get(callID)
		if !ok || snap.State != registry.InCall {
			continue
		}
		if d.opts.Registry.ForceTerminate(callID, registry.ResultUnknown, now) {
			logger.Info("Media stopped, terminating call", "call_id", callID, "idle", d.opts.StreamIdle)
		}
	}

	for _, snap := range d.opts.Registry.ActiveInCall() {
		if now.Sub(snap.AnsweredAt) < d.opts.NoMediaTimeout {
			continue
		}
		if _, ok := d.opts.Streams.LastActivity(snap.CallID); ok {
			continue
		}
		if d.opts.Registry.ForceTerminate(snap.CallID, registry.ResultUnknown, now) {
			logger.Warn("No media since answer, terminating call", "call_id", snap.CallID, "timeout", d.opts.NoMediaTimeout)
		}
	}

	for _, callID := range d.opts.Registry.Expire(now, d.opts.RingTimeout) {
		logger.Info("Ring timeout, terminating call", "call_id", callID)
	}

	if d.opts.Source.RotateIfNeeded() {
		logger.Debug("Capture file rotated")
	}
}

// shutdown: drain what the source already delivered, terminate every live
// dialog, close streams whose dialog is gone, then drain the finalizer.
func (d *Dispatcher) shutdown(packets <-chan capture.Packet) error {
	logger.Info("Dispatcher shutting down")

	drainDeadline := time.NewTimer(constants.DrainTimeout)
	defer drainDeadline.Stop()
drain:
	for {
		select {
		case pkt, ok := <-packets:
			if !ok {
				break drain
			}
			d.Handle(pkt)
		case <-drainDeadline.C:
			logger.Warn("Drain deadline reached, discarding remaining packets")
			break drain
		}
	}

	now := d.clock.now()
	if n := d.opts.Registry.TerminateAll(registry.ResultUnknown, now); n > 0 {
		logger.Info("Terminated live dialogs", "count", n)
	}

	d.opts.Streams.FlushAll()
	for _, callID := range d.opts.Streams.Calls() {
		if _, ok := d.opts.Registry.Get(callID); ok {
			continue
		}
		paths := d.opts.Streams.FinalizeCall(callID)
		logger.Warn("Closed orphan streams", "call_id", callID, "files", len(paths))
	}

	d.opts.Stats.Log()
	return d.opts.Finalizer.Shutdown(d.opts.ShutdownTimeout)
}
