package capture

import (
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// Packet is a captured UDP datagram. It is immutable once delivered.
type Packet struct {
	Timestamp time.Time // wire time from the capture header
	Received  time.Time // local monotonic receive time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Payload   []byte
}

// Src returns the source endpoint
func (p Packet) Src() types.Endpoint {
	return types.NewEndpoint(p.SrcIP, p.SrcPort)
}

// Dst returns the destination endpoint
func (p Packet) Dst() types.Endpoint {
	return types.NewEndpoint(p.DstIP, p.DstPort)
}

// DecodeUDP extracts an IPv4/IPv6 UDP datagram from a raw frame. Anything
// else (TCP, ARP, IP fragments past the first) reports ok=false.
func DecodeUDP(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (Packet, bool) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var src, dst netip.Addr
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(ip.SrcIP)
		dst, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		return Packet{}, false
	}

	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return Packet{}, false
	}

	return Packet{
		Timestamp: ci.Timestamp,
		Received:  time.Now(),
		SrcIP:     src.Unmap(),
		DstIP:     dst.Unmap(),
		SrcPort:   uint16(udp.SrcPort),
		DstPort:   uint16(udp.DstPort),
		Payload:   udp.Payload,
	}, true
}
