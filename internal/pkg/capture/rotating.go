package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/constants"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
)

// RotatingConfig configures the on-disk mirror of the capture
type RotatingConfig struct {
	Dir      string
	MaxBytes int64         // rotate when the current file reaches this size (0 = unlimited)
	MaxAge   time.Duration // rotate when the current file is this old (0 = unlimited)
	Retain   int           // capture files kept on disk, including the current one
}

// RotatingSink writes every captured frame to temp_capture_*.pcap files,
// rotating on size or age and keeping at most Retain files. Rotation is
// suppressed while any holder has pinned the current file.
type RotatingSink struct {
	config RotatingConfig

	mu          sync.Mutex
	file        *os.File
	buf         *bufio.Writer
	writer      *pcapgo.Writer
	currentPath string
	retained    []string // oldest first, current file last
	size        int64
	packetCount int
	startTime   time.Time
	fileIndex   int
	linkType    layers.LinkType
	holds       int
	closed      bool

	now func() time.Time
}

// NewRotatingSink creates the capture directory and an idle sink. The first
// file is created on the first packet, when the link type is known.
func NewRotatingSink(config RotatingConfig) (*RotatingSink, error) {
	if config.Retain <= 0 {
		config.Retain = constants.MaxRetainedCaptures
	}
	if err := os.MkdirAll(config.Dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &RotatingSink{config: config, now: time.Now}, nil
}

// WritePacket appends a raw frame to the current capture file
func (w *RotatingSink) WritePacket(ci gopacket.CaptureInfo, data []byte, linkType layers.LinkType) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if w.linkType == 0 {
		w.linkType = linkType
	}
	if w.file == nil {
		if err := w.createNewFile(); err != nil {
			return err
		}
	}

	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(data)
	}
	if ci.Length == 0 {
		ci.Length = len(data)
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write packet to capture file: %w", err)
	}

	// 16-byte per-record header
	w.size += int64(16 + len(data))
	w.packetCount++
	return nil
}

// RotateIfNeeded rotates when the size or age threshold is exceeded and no
// holder pins the current file. Buffered frames are flushed either way.
func (w *RotatingSink) RotateIfNeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.closed {
		return false
	}
	if err := w.buf.Flush(); err != nil {
		logger.Warn("Failed to flush capture file", "file", w.currentPath, "error", err)
	}
	if w.holds > 0 || !w.shouldRotate() {
		return false
	}
	if err := w.rotateFile(); err != nil {
		logger.Error("Failed to rotate capture file", "error", err)
		return false
	}
	return true
}

func (w *RotatingSink) shouldRotate() bool {
	if w.config.MaxBytes > 0 && w.size >= w.config.MaxBytes {
		logger.Debug("Rotating capture file due to size",
			"current_size", w.size,
			"max_size", w.config.MaxBytes)
		return true
	}
	if w.config.MaxAge > 0 && w.now().Sub(w.startTime) >= w.config.MaxAge {
		logger.Debug("Rotating capture file due to age",
			"age", w.now().Sub(w.startTime),
			"max_age", w.config.MaxAge)
		return true
	}
	return false
}

func (w *RotatingSink) rotateFile() error {
	if err := w.closeCurrentFile(); err != nil {
		return err
	}
	w.fileIndex++
	if err := w.createNewFile(); err != nil {
		return err
	}
	w.prune()
	return nil
}

func (w *RotatingSink) createNewFile() error {
	filePath := filepath.Join(w.config.Dir, w.generateFilename(w.now()))

	// #nosec G304 -- Path is config Dir + generated name
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}

	linkType := w.linkType
	if linkType == 0 {
		linkType = layers.LinkTypeEthernet
	}
	buf := bufio.NewWriterSize(file, 64*1024)
	pcapWriter := pcapgo.NewWriter(buf)
	if err := pcapWriter.WriteFileHeader(constants.DefaultPCAPSnapLen, linkType); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Failed to close file during error cleanup", "error", closeErr, "file", filePath)
		}
		return fmt.Errorf("failed to write capture file header: %w", err)
	}

	w.file = file
	w.buf = buf
	w.writer = pcapWriter
	w.currentPath = filePath
	w.retained = append(w.retained, filePath)
	w.size = 24 // global header
	w.packetCount = 0
	w.startTime = w.now()

	logger.Info("Created capture file", "file", filePath, "link_type", linkType)
	return nil
}

func (w *RotatingSink) closeCurrentFile() error {
	if w.file == nil {
		return nil
	}
	duration := w.now().Sub(w.startTime)

	if err := w.buf.Flush(); err != nil {
		logger.Warn("Failed to flush capture file before rotation", "error", err)
	}
	if err := w.file.Sync(); err != nil {
		logger.Warn("Failed to sync capture file before rotation", "error", err)
	}
	err := w.file.Close()

	logger.Info("Closed capture file",
		"file", w.currentPath,
		"packets", w.packetCount,
		"size_bytes", w.size,
		"duration", duration)

	w.file = nil
	w.buf = nil
	w.writer = nil
	if err != nil {
		return fmt.Errorf("failed to close capture file: %w", err)
	}
	return nil
}

// prune deletes the oldest capture files beyond the retain limit
func (w *RotatingSink) prune() {
	for len(w.retained) > w.config.Retain {
		oldest := w.retained[0]
		w.retained = w.retained[1:]
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove old capture file", "file", oldest, "error", err)
			continue
		}
		logger.Debug("Removed old capture file", "file", oldest)
	}
}

// generateFilename yields temp_capture_{YYYYMMDD_HHMMSS}_{n}.pcap
func (w *RotatingSink) generateFilename(timestamp time.Time) string {
	return fmt.Sprintf("temp_capture_%s_%d.pcap", timestamp.Format("20060102_150405"), w.fileIndex)
}

// CurrentCaptureFile returns the path being written, empty before the first packet
func (w *RotatingSink) CurrentCaptureFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// CaptureFiles returns the retained capture files, oldest first
func (w *RotatingSink) CaptureFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.retained))
	copy(out, w.retained)
	return out
}

// Hold pins the current file: rotation is suppressed until the matching Release
func (w *RotatingSink) Hold() {
	w.mu.Lock()
	w.holds++
	w.mu.Unlock()
}

// Release drops one hold taken by Hold
func (w *RotatingSink) Release() {
	w.mu.Lock()
	if w.holds > 0 {
		w.holds--
	}
	w.mu.Unlock()
}

// Holds returns the number of outstanding holds
func (w *RotatingSink) Holds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holds
}

// Flush pushes buffered frames to the current file so readers see them
func (w *RotatingSink) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the current file. Retained files stay on disk.
func (w *RotatingSink) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeCurrentFile()
}
