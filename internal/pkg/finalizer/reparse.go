package finalizer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/rtp"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stream"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// MinStreamPackets is the packet count at which an SSRC counts as a stream
const MinStreamPackets = 10

// ssrcStream is one SSRC found in a slice
type ssrcStream struct {
	ssrc    uint32
	src     types.Endpoint
	dst     types.Endpoint
	packets []*rtp.Packet
}

// Legs are the per-direction streams recovered from a slice
type Legs struct {
	In  []int // decoded samples, nil when absent
	Out []int
	// Streams is how many SSRCs met MinStreamPackets
	Streams int
}

// ExtractLegs regroups the RTP in a slice by SSRC and assigns the first
// inbound and first outbound valid stream to IN and OUT. A lone stream
// whose direction cannot be decided is IN. own breaks ties between two
// local endpoints, see types.ClassifyDirection.
func ExtractLegs(path string, local, remote, own types.EndpointSet) (Legs, error) {
	streams, err := readStreams(path)
	if err != nil {
		return Legs{}, err
	}

	var valid []*ssrcStream
	for _, s := range streams {
		if len(s.packets) >= MinStreamPackets {
			valid = append(valid, s)
		}
	}

	legs := Legs{Streams: len(valid)}
	var in, out *ssrcStream
	for _, s := range valid {
		dir, ok := types.ClassifyDirection(s.src, s.dst, local, remote, own)
		if !ok {
			continue
		}
		if dir == types.In && in == nil {
			in = s
		}
		if dir == types.Out && out == nil {
			out = s
		}
	}
	if in == nil && out == nil && len(valid) == 1 {
		in = valid[0]
	}

	if in != nil {
		if legs.In, err = decodeStream(in); err != nil {
			return Legs{}, err
		}
	}
	if out != nil {
		if legs.Out, err = decodeStream(out); err != nil {
			return Legs{}, err
		}
	}
	return legs, nil
}

// readStreams returns SSRC groups in first-seen order
func readStreams(path string) ([]*ssrcStream, error) {
	// #nosec G304 -- slice files are produced by the recorder
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice header: %w", err)
	}

	bySSRC := make(map[uint32]*ssrcStream)
	var order []*ssrcStream
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read slice: %w", err)
		}

		udp, ok := capture.DecodeUDP(data, r.LinkType(), ci)
		if !ok {
			continue
		}
		pkt, err := rtp.Parse(udp.Payload)
		if err != nil {
			continue
		}
		s, ok := bySSRC[pkt.SSRC]
		if !ok {
			s = &ssrcStream{ssrc: pkt.SSRC, src: udp.Src(), dst: udp.Dst()}
			bySSRC[pkt.SSRC] = s
			order = append(order, s)
		}
		s.packets = append(s.packets, pkt)
	}
	return order, nil
}

// decodeStream applies the live stream contract in one pass: duplicates
// and packets in a codec other than the first one dropped, G.711 decoded
// with gain.
func decodeStream(s *ssrcStream) ([]int, error) {
	var seq stream.SequenceTracker
	var samples []int
	for _, pkt := range s.packets {
		if pkt.Codec != s.packets[0].Codec {
			continue
		}
		if _, res := seq.Check(pkt.SequenceNumber); res == stream.SeqDuplicate {
			continue
		}
		decoded, err := audio.Decode(pkt.Codec, pkt.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: ssrc %08x: %v", stream.ErrDecode, s.ssrc, err)
		}
		samples = append(samples, decoded...)
	}
	return samples, nil
}
