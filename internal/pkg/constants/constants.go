// Package constants provides shared constants used across recorder components.
package constants

import "time"

// Shutdown and graceful termination timeouts
const (
	// GracefulShutdownTimeout bounds how long queued finalize jobs may run after shutdown starts
	GracefulShutdownTimeout = 30 * time.Second

	// DrainTimeout is the time the dispatcher spends draining in-flight packets on shutdown
	DrainTimeout = 2 * time.Second

	// TickInterval drives stream idle checks and pcap rotation
	TickInterval = 1 * time.Second
)

// Channel buffer sizes
//
// Buffer Sizing Strategy:
//
//  1. Single-item buffers (size = 1): OS signals, error channels.
//  2. Small buffers (size = 64): control plane, notifier queue.
//  3. Large buffers (size = 1000+): packet hand-off and the finalize queue.
//     Packet rates on a mirrored PBX segment reach several thousand pps during
//     busy hours; the large buffers absorb bursts during GC pauses.
const (
	// SignalChannelBuffer is the buffer size for OS signal channels
	SignalChannelBuffer = 1

	// NotifierQueueBuffer is the buffer size for the extension notifier queue
	NotifierQueueBuffer = 64

	// PacketChannelBuffer is the buffer between the capture reader and the dispatcher
	PacketChannelBuffer = 10000
)

// PCAP constants
const (
	// DefaultPCAPSnapLen is the snapshot length written into rotating and slice pcap headers
	DefaultPCAPSnapLen = 65536

	// DefaultPCAPBufferSize is the kernel buffer requested for live handles (16MB)
	DefaultPCAPBufferSize = 16 * 1024 * 1024

	// DefaultRotationBytes is the rotating capture size threshold (256MiB)
	DefaultRotationBytes = 256 * 1024 * 1024

	// DefaultRotationAge is the rotating capture age threshold
	DefaultRotationAge = 10 * time.Minute

	// MaxRetainedCaptures is the number of rotating capture files kept on disk
	MaxRetainedCaptures = 2
)

// SIP defaults
const (
	// SIPPort is the standard SIP port as defined in RFC 3261
	SIPPort = 5060
)
