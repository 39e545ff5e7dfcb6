// Package pcapwriter writes classic pcap files: per-call slices cut from the
// rotating capture, and synthetic fixtures.
package pcapwriter

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
)

// ErrClosed is returned when writing to a closed writer
var ErrClosed = errors.New("pcap writer is closed")

// Config for a pcap file writer
type Config struct {
	FilePath string          // Path to output file, overwritten if present
	LinkType layers.LinkType // Link layer type (usually Ethernet)
	Snaplen  uint32          // Snapshot length (usually 65536)
}

// Writer is a synchronous pcap writer without background goroutines
type Writer struct {
	config      Config
	file        *os.File
	writer      *pcapgo.Writer
	packetCount int
	mu          sync.Mutex
	closed      bool
}

// New creates (or truncates) the file and writes the pcap global header
func New(config Config) (*Writer, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if config.LinkType == 0 {
		config.LinkType = layers.LinkTypeEthernet
	}
	if config.Snaplen == 0 {
		config.Snaplen = constants.DefaultPCAPSnapLen
	}

	// #nosec G304 -- caller-controlled output path
	file, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}

	pcapWriter := pcapgo.NewWriter(file)
	if err := pcapWriter.WriteFileHeader(config.Snaplen, config.LinkType); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Failed to close file during error cleanup", "error", closeErr, "file", config.FilePath)
		}
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	return &Writer{
		config: config,
		file:   file,
		writer: pcapWriter,
	}, nil
}

// WritePacket appends one frame
func (w *Writer) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(data)
	}
	if ci.Length == 0 {
		ci.Length = ci.CaptureLength
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.packetCount++
	return nil
}

// Close syncs and closes the file. It is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		logger.Warn("Failed to sync pcap file", "error", err, "file", w.config.FilePath)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close pcap file: %w", err)
	}
	return nil
}

// PacketCount returns the number of packets written
func (w *Writer) PacketCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packetCount
}

// FilePath returns the path to the pcap file
func (w *Writer) FilePath() string {
	return w.config.FilePath
}
