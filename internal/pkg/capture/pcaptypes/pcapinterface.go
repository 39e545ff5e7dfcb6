// Package pcaptypes wraps libpcap handles for live interfaces and pcap files
// behind one interface so the capture source does not care where frames come from.
package pcaptypes

import (
	"time"

	"github.com/google/gopacket/pcap"
)

// PcapInterface is a capture origin whose handle is opened lazily
type PcapInterface interface {
	SetHandle() error
	Handle() (*pcap.Handle, error)
	Name() string
}

// LiveOptions tune a live handle before activation
type LiveOptions struct {
	SnapLen     int
	Promiscuous bool
	Timeout     time.Duration
	BufferSize  int
}

// CreateLiveInterface returns an unopened live interface
func CreateLiveInterface(device string, opts LiveOptions) PcapInterface {
	return &liveInterface{Device: device, opts: opts}
}

// CreateOfflineInterface returns an unopened pcap file reader
func CreateOfflineInterface(path string) PcapInterface {
	return &offlineInterface{path: path}
}
