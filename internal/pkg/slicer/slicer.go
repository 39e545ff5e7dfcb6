// Package slicer cuts the packets of one call out of the rotating capture:
// its SIP messages by Call-ID and its RTP by media endpoint.
package slicer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// Slicer writes the packets matching spec from inputs into out, replacing
// any existing file, and returns how many packets were written.
type Slicer interface {
	Slice(ctx context.Context, inputs []string, spec FilterSpec, out string) (int, error)
}

// FilterSpec selects one call's packets
type FilterSpec struct {
	CallID    string
	Endpoints []types.Endpoint
}

// CallIDPrefix is the Call-ID up to its host part
func (f FilterSpec) CallIDPrefix() string {
	if i := strings.IndexByte(f.CallID, '@'); i > 0 {
		return f.CallID[:i]
	}
	return f.CallID
}

// DisplayFilter renders the wire-analyzer form:
//
//	sip.Call-ID contains "abc" || (ip.addr==192.168.0.21 && udp.port==16000)
func (f FilterSpec) DisplayFilter() string {
	prefix := strings.ReplaceAll(f.CallIDPrefix(), `\`, `\\`)
	prefix = strings.ReplaceAll(prefix, `"`, `\"`)

	var b strings.Builder
	fmt.Fprintf(&b, `sip.Call-ID contains "%s"`, prefix)
	for _, ep := range f.Endpoints {
		field := "ip.addr"
		if ep.IP.Is6() {
			field = "ipv6.addr"
		}
		fmt.Fprintf(&b, " || (%s==%s && udp.port==%d)", field, ep.IP, ep.Port)
	}
	return b.String()
}

// Match applies the filter to a decoded datagram
func (f FilterSpec) Match(pkt capture.Packet) bool {
	for _, ep := range f.Endpoints {
		if pkt.Src() == ep || pkt.Dst() == ep {
			return true
		}
	}
	prefix := f.CallIDPrefix()
	return prefix != "" && bytes.Contains(pkt.Payload, []byte(prefix))
}

// Path is {dir}/{sanitized_call_id}.pcap
func Path(dir, callID string) string {
	return filepath.Join(dir, audio.SanitizeCallID(callID)+".pcap")
}
