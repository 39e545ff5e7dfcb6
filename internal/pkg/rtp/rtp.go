// Package rtp validates RTP datagrams and assigns them to a live call and
// direction using the endpoints the call's SDP announced.
package rtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
)

const (
	headerLength = 12 // Fixed RTP header size (RFC 3550 §5.1)
	version      = 2

	rtcpPayloadTypeMin = 200
	rtcpPayloadTypeMax = 209
)

var (
	// ErrNotRTP means the datagram is not an RTP packet
	ErrNotRTP = errors.New("not an rtp packet")
	// ErrUnsupportedPayloadType is a valid RTP packet carrying something other than G.711
	ErrUnsupportedPayloadType = errors.New("unsupported rtp payload type")
)

// Packet is a validated G.711 RTP packet
type Packet struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Marker         bool
	PayloadType    uint8
	Codec          audio.Codec
	Payload        []byte
}

// Parse validates length, version and payload type. RTCP (PT 200-209) and
// non-G.711 payload types are rejected without decoding.
func Parse(data []byte) (*Packet, error) {
	if len(data) < headerLength {
		return nil, ErrNotRTP
	}
	if data[0]>>6 != version {
		return nil, ErrNotRTP
	}
	if data[1] >= rtcpPayloadTypeMin && data[1] <= rtcpPayloadTypeMax {
		return nil, ErrNotRTP
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRTP, err)
	}

	codec, ok := audio.CodecForPayloadType(pkt.PayloadType)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPayloadType, pkt.PayloadType)
	}

	return &Packet{
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		Marker:         pkt.Marker,
		PayloadType:    pkt.PayloadType,
		Codec:          codec,
		Payload:        pkt.Payload,
	}, nil
}
