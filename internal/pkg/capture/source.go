// Package capture delivers timestamped UDP packets from a live interface or a
// pcap file and mirrors every frame into a bounded set of rotating pcap files.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture/pcaptypes"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
)

var (
	// ErrInterfaceUnavailable is startup-fatal: the interface or file could not be opened
	ErrInterfaceUnavailable = errors.New("capture interface unavailable")
	// ErrAlreadyRunning is returned when Packets is called while an iteration is active
	ErrAlreadyRunning = errors.New("capture source already running")
	// ErrClosed is returned by Packets after Close
	ErrClosed = errors.New("capture source closed")
)

// PacketReader is the part of *pcap.Handle (and *pcapgo.Reader) the source reads from
type PacketReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Config selects the capture origin and the rotating mirror
type Config struct {
	Interface   string
	ReadFile    string // offline replay instead of live capture
	BPFFilter   string
	Promiscuous bool
	BufferSize  int
	Timeout     time.Duration
	Rotation    RotatingConfig
	Stats       *stats.Collector
}

// Source is the single packet producer of the recorder
type Source struct {
	name    string
	reader  PacketReader
	closer  func()
	sink    *RotatingSink
	stats   *stats.Collector
	offline bool

	drops   atomic.Uint64
	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Open opens the configured interface (or file) and the rotating sink
func Open(cfg Config) (*Source, error) {
	var iface pcaptypes.PcapInterface
	offline := cfg.ReadFile != ""
	if offline {
		iface = pcaptypes.CreateOfflineInterface(cfg.ReadFile)
	} else {
		iface = pcaptypes.CreateLiveInterface(cfg.Interface, pcaptypes.LiveOptions{
			SnapLen:     constants.DefaultPCAPSnapLen,
			Promiscuous: cfg.Promiscuous,
			Timeout:     cfg.Timeout,
			BufferSize:  cfg.BufferSize,
		})
	}

	if err := iface.SetHandle(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceUnavailable, iface.Name(), err)
	}
	handle, err := iface.Handle()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceUnavailable, iface.Name(), err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", ErrInterfaceUnavailable, cfg.BPFFilter, err)
		}
	}

	sink, err := NewRotatingSink(cfg.Rotation)
	if err != nil {
		handle.Close()
		return nil, err
	}

	src := NewSource(iface.Name(), handle, sink, cfg.Stats)
	src.closer = handle.Close
	src.offline = offline

	logger.Info("Capture source opened",
		"interface", iface.Name(),
		"offline", offline,
		"bpf_filter", cfg.BPFFilter,
		"capture_dir", cfg.Rotation.Dir)
	return src, nil
}

// NewSource builds a source over any packet reader. Open uses it with a
// libpcap handle; tests use pcapgo readers.
func NewSource(name string, reader PacketReader, sink *RotatingSink, collector *stats.Collector) *Source {
	return &Source{
		name:   name,
		reader: reader,
		sink:   sink,
		stats:  collector,
	}
}

// SetOffline makes packet hand-off blocking: a file replay must not drop
// packets just because it reads faster than the dispatcher consumes.
func (s *Source) SetOffline(offline bool) {
	s.offline = offline
}

// Name is the interface or file being read
func (s *Source) Name() string {
	return s.name
}

// Packets starts the reader goroutine and returns the packet sequence. The
// channel is closed when ctx is cancelled, the source is closed, or an
// offline file reaches its end.
func (s *Source) Packets(ctx context.Context) (<-chan Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.running {
		return nil, ErrAlreadyRunning
	}
	s.running = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	out := make(chan Packet, constants.PacketChannelBuffer)
	go s.readLoop(ctx, out)
	return out, nil
}

func (s *Source) readLoop(ctx context.Context, out chan<- Packet) {
	defer close(s.done)
	defer close(out)

	linkType := s.reader.LinkType()
	for {
		if ctx.Err() != nil {
			return
		}

		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if errors.Is(err, io.EOF) {
				logger.Info("Capture source reached end of input", "interface", s.name)
				return
			}
			logger.Error("Capture read failed", "interface", s.name, "error", err)
			return
		}

		if s.sink != nil {
			if err := s.sink.WritePacket(ci, data, linkType); err != nil {
				s.stats.Inc(stats.IOErrors)
				logger.Warn("Failed to mirror packet to capture file", "error", err)
			}
		}

		pkt, ok := DecodeUDP(data, linkType, ci)
		if !ok {
			continue
		}
		s.stats.Inc(stats.PacketsReceived)

		if s.offline {
			select {
			case out <- pkt:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case out <- pkt:
		default:
			s.drops.Add(1)
			s.stats.Inc(stats.CaptureDrops)
		}
	}
}

// Drops returns the number of packets dropped at the hand-off
func (s *Source) Drops() uint64 {
	return s.drops.Load()
}

// CurrentCaptureFile returns the rotating file currently being written
func (s *Source) CurrentCaptureFile() string {
	if s.sink == nil {
		return ""
	}
	return s.sink.CurrentCaptureFile()
}

// CaptureFiles returns every retained capture file, oldest first
func (s *Source) CaptureFiles() []string {
	if s.sink == nil {
		return nil
	}
	return s.sink.CaptureFiles()
}

// RotateIfNeeded rotates the mirror when a threshold is exceeded and no hold is active
func (s *Source) RotateIfNeeded() bool {
	if s.sink == nil {
		return false
	}
	return s.sink.RotateIfNeeded()
}

// Hold suppresses rotation until Release
func (s *Source) Hold() {
	if s.sink != nil {
		s.sink.Hold()
	}
}

// Release undoes one Hold
func (s *Source) Release() {
	if s.sink != nil {
		s.sink.Release()
	}
}

// Flush makes buffered frames visible to readers of the capture files
func (s *Source) Flush() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Flush()
}

// Close stops the reader, closes the handle and the rotating sink
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if s.closer != nil {
		s.closer()
	}

	logger.Info("Capture source closed", "interface", s.name, "drops", s.Drops())
	if s.sink != nil {
		return s.sink.Close()
	}
	return nil
}
