// Package recorder assembles the capture pipeline from a Config and runs it.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/catalog"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/config"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/dispatcher"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/finalizer"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/kafkawriter"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/mixer"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/notifier"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/registry"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/rtp"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/slicer"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stream"
)

// Recorder owns every component of one recording session
type Recorder struct {
	cfg     *config.Config
	stats   *stats.Collector
	source  *capture.Source
	reg     *registry.Registry
	streams *stream.Manager
	fin     *finalizer.Finalizer
	notify  *notifier.Notifier
	catalog *catalog.Journaled
	disp    *dispatcher.Dispatcher
	closers []io.Closer
}

// New opens the capture source and builds the pipeline. An unavailable
// interface or pcap file is returned as capture.ErrInterfaceUnavailable.
func New(cfg *config.Config) (*Recorder, error) {
	collector := stats.New()
	src, err := capture.Open(capture.Config{
		Interface:   cfg.Interface,
		ReadFile:    cfg.ReadFile,
		BPFFilter:   cfg.BPFFilter,
		Promiscuous: cfg.Promiscuous,
		BufferSize:  cfg.PcapBufferSize,
		Timeout:     cfg.PcapTimeout,
		Rotation: capture.RotatingConfig{
			Dir:      cfg.CaptureDir,
			MaxBytes: cfg.RotationBytes,
			MaxAge:   cfg.RotationAge,
			Retain:   constants.MaxRetainedCaptures,
		},
		Stats: collector,
	})
	if err != nil {
		return nil, err
	}

	r, err := build(cfg, src, collector)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return r, nil
}

// build wires everything around an already opened source
func build(cfg *config.Config, src *capture.Source, collector *stats.Collector) (*Recorder, error) {
	r := &Recorder{cfg: cfg, stats: collector, source: src}

	if err := r.buildCatalog(); err != nil {
		r.closeAll()
		return nil, err
	}
	if err := r.buildNotifier(); err != nil {
		r.closeAll()
		return nil, err
	}

	// The registry and the finalizer reference each other; the queue
	// adapter breaks the construction cycle.
	r.reg = registry.New(registry.Options{
		LocalPrefixes: cfg.LocalIPPrefixes,
		Queue:         registry.QueueFunc(func(job registry.Job) { r.fin.Enqueue(job) }),
		Notifier:      r.notify,
		Stats:         collector,
	})

	r.streams = stream.NewManager(stream.Options{
		Dir:        cfg.StreamDir,
		SampleRate: cfg.SampleRate,
		Window:     cfg.BufferWindow,
		Stats:      collector,
	})

	r.fin = finalizer.New(finalizer.Options{
		Dialogs:       r.reg,
		Capture:       src,
		Streams:       r.streams,
		Slicer:        newSlicer(cfg),
		Mixer:         mixer.FFmpeg{Path: cfg.MixerPath, Timeout: cfg.ToolTimeout, SampleRate: cfg.SampleRate},
		Catalog:       r.catalog,
		SaveRoot:      cfg.SavePath,
		SliceDir:      cfg.SliceDir,
		SampleRate:    cfg.SampleRate,
		Stabilization: cfg.Stabilization,
		Workers:       cfg.FinalizeWorkers,
		Stats:         collector,
	})

	r.disp = dispatcher.New(dispatcher.Options{
		Source:          src,
		Registry:        r.reg,
		Classifier:      rtp.NewClassifier(r.reg, collector),
		Streams:         r.streams,
		Finalizer:       r.fin,
		Stats:           collector,
		SIPPorts:        cfg.SIPPorts,
		StreamIdle:      cfg.StreamIdle,
		NoMediaTimeout:  cfg.NoMediaTimeout,
		RingTimeout:     cfg.RingTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		StatsInterval:   cfg.StatsInterval,
	})
	return r, nil
}

func newSlicer(cfg *config.Config) slicer.Slicer {
	if cfg.Slicer == "tshark" {
		return slicer.Tshark{Path: cfg.TsharkPath, Timeout: cfg.ToolTimeout}
	}
	return slicer.Native{}
}

func (r *Recorder) buildCatalog() error {
	journal, err := catalog.NewFileSink(r.cfg.Catalog.Journal)
	if err != nil {
		return fmt.Errorf("catalog journal: %w", err)
	}

	var primary catalog.Sink
	if kc := r.cfg.Catalog.Kafka; kc.Enabled() {
		w, err := kafkawriter.New(kafkawriter.Config{Brokers: kc.Brokers, Topic: kc.Topic})
		if err != nil {
			return fmt.Errorf("catalog kafka: %w", err)
		}
		sink := catalog.NewKafkaSink(w)
		r.closers = append(r.closers, sink)
		primary = sink
		logger.Info("Catalog sink: kafka", "brokers", kc.Brokers, "topic", kc.Topic)
	} else {
		sink, err := catalog.NewFileSink(r.cfg.Catalog.File)
		if err != nil {
			return fmt.Errorf("catalog file: %w", err)
		}
		primary = sink
		logger.Info("Catalog sink: file", "path", sink.Path())
	}

	r.catalog = &catalog.Journaled{
		Primary: primary,
		Journal: journal,
		Timeout: r.cfg.CatalogTimeout,
		Stats:   r.stats,
	}
	return nil
}

func (r *Recorder) buildNotifier() error {
	var backend notifier.Backend = notifier.LogBackend{}
	if kc := r.cfg.Notifier.Kafka; kc.Enabled() {
		w, err := kafkawriter.New(kafkawriter.Config{Brokers: kc.Brokers, Topic: kc.Topic})
		if err != nil {
			return fmt.Errorf("notifier kafka: %w", err)
		}
		kb := notifier.NewKafkaBackend(w)
		r.closers = append(r.closers, kb)
		backend = kb
		logger.Info("Extension notifier: kafka", "brokers", kc.Brokers, "topic", kc.Topic)
	}
	r.notify = notifier.New(backend, constants.NotifierQueueBuffer, r.stats)
	return nil
}

// Stats exposes the counters of this session
func (r *Recorder) Stats() *stats.Collector {
	return r.stats
}

// Run records until ctx is cancelled or an offline source is exhausted. The
// dispatcher's shutdown drains the finalizer before Run returns; the
// notifier and journal replay stop afterwards.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.closeAll()

	auxCtx, stopAux := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAux()

	r.fin.Start(ctx)

	g := new(errgroup.Group)
	g.Go(func() error {
		return r.notify.Run(auxCtx)
	})
	g.Go(func() error {
		return r.catalog.RunReplay(auxCtx, catalog.DefaultReplayInterval)
	})

	logger.Info("Recorder started",
		"source", r.source.Name(),
		"save_path", r.cfg.SavePath,
		"local_ip_prefixes", r.cfg.LocalIPPrefixes,
		"workers", r.cfg.FinalizeWorkers)

	runErr := r.disp.Run(ctx)
	stopAux()
	auxErr := g.Wait()

	if errors.Is(runErr, finalizer.ErrShutdownDeadline) {
		logger.Error("Shutdown finished with abandoned calls", "error", runErr)
	}
	logger.Info("Recorder stopped", "stats", r.stats.Snapshot())
	return errors.Join(runErr, auxErr)
}

func (r *Recorder) closeAll() {
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			logger.Warn("Closing capture source failed", "error", err)
		}
	}
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			logger.Warn("Closing sink failed", "error", err)
		}
	}
	r.closers = nil
}
