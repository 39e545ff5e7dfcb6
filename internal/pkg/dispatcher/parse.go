package dispatcher

import (
	"errors"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/sip"
)

// Kind tags what a datagram turned out to be
type Kind int

const (
	KindOther Kind = iota
	KindSIP
	KindRTPCandidate
)

func (k Kind) String() string {
	switch k {
	case KindSIP:
		return "sip"
	case KindRTPCandidate:
		return "rtp_candidate"
	default:
		return "other"
	}
}

// Parsed is the tagged result of looking at one datagram. SIP is set for
// KindSIP. Err carries the non-fatal parse problem, if any: unsupported SDP
// on a SIP message, a malformed SIP message, or ErrNotSip for SIP-port
// traffic that fell through to RTP.
type Parsed struct {
	Kind   Kind
	Packet capture.Packet
	SIP    *sip.Message
	Err    error
}

// Parse classifies a datagram. Traffic on a SIP port is tried as SIP
// first; anything that is not SIP falls through to RTP.
func Parse(pkt capture.Packet, sipPorts []uint16) Parsed {
	out := Parsed{Packet: pkt}

	if sip.IsSIPPort(pkt.SrcPort, pkt.DstPort, sipPorts) {
		msg, err := sip.Parse(pkt.Payload)
		switch {
		case err == nil:
			out.Kind, out.SIP = KindSIP, msg
			return out
		case errors.Is(err, sip.ErrUnsupportedSdp) && msg != nil:
			out.Kind, out.SIP, out.Err = KindSIP, msg, err
			return out
		case errors.Is(err, sip.ErrMalformedSip):
			out.Kind, out.Err = KindOther, err
			return out
		}
		// NotSip: keepalives, STUN and the like fall through
		out.Err = err
	}

	if len(pkt.Payload) > 0 {
		out.Kind = KindRTPCandidate
	}
	return out
}
