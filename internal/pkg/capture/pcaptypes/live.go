package pcaptypes

import (
	"errors"
	"time"

	"github.com/google/gopacket/pcap"
)

// DefaultPcapBufferSize is the default kernel buffer size for packet capture.
// The default libpcap value (~2MB) causes kernel drops on a busy mirror port.
const DefaultPcapBufferSize = 16 * 1024 * 1024 // 16MB

// DefaultTimeout keeps ReadPacketData returning often enough for shutdown.
// BlockForever would leave the reader goroutine hanging on cancel.
const DefaultTimeout = 200 * time.Millisecond

type liveInterface struct {
	Device string
	opts   LiveOptions
	handle *pcap.Handle
}

func (iface *liveInterface) SetHandle() error {
	// Close existing handle if it exists to prevent leaks
	if iface.handle != nil {
		iface.handle.Close()
		iface.handle = nil
	}

	timeout := iface.opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	bufferSize := iface.opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultPcapBufferSize
	}
	snapLen := iface.opts.SnapLen
	if snapLen <= 0 {
		snapLen = 65536
	}

	// Use inactive handle to set buffer size before activation
	inactive, err := pcap.NewInactiveHandle(iface.Device)
	if err != nil {
		return err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return err
	}
	if err := inactive.SetPromisc(iface.opts.Promiscuous); err != nil {
		return err
	}
	if err := inactive.SetTimeout(timeout); err != nil {
		return err
	}
	if err := inactive.SetBufferSize(bufferSize); err != nil {
		return err
	}

	handle, err := inactive.Activate()
	if err != nil {
		return err
	}

	iface.handle = handle
	return nil
}

func (iface *liveInterface) Handle() (*pcap.Handle, error) {
	if iface.handle == nil {
		return nil, errors.New("interface has no handle")
	}
	return iface.handle, nil
}

func (iface *liveInterface) Name() string {
	return iface.Device
}
