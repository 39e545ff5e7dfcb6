// Package types holds the small value types shared by the registry, the RTP
// classifier, the stream writer and the finalizer.
package types

import (
	"net/netip"
	"sort"
)

// Endpoint is an RTP media address
type Endpoint struct {
	IP   netip.Addr
	Port uint16
}

// NewEndpoint builds an endpoint, unmapping IPv4-in-IPv6 addresses so that
// SDP-derived and wire-derived endpoints compare equal.
func NewEndpoint(ip netip.Addr, port uint16) Endpoint {
	return Endpoint{IP: ip.Unmap(), Port: port}
}

// ParseEndpoint parses an address and port as found in SDP c= / m= lines
func ParseEndpoint(addr string, port int) (Endpoint, bool) {
	ip, err := netip.ParseAddr(addr)
	if err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, false
	}
	return NewEndpoint(ip, uint16(port)), true
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.IP, e.Port).String()
}

// EndpointSet is a set of endpoints. The zero value is not usable; use NewEndpointSet.
type EndpointSet map[Endpoint]struct{}

// NewEndpointSet returns a set holding eps
func NewEndpointSet(eps ...Endpoint) EndpointSet {
	s := make(EndpointSet, len(eps))
	for _, ep := range eps {
		s.Add(ep)
	}
	return s
}

// Add inserts ep and reports whether it was new
func (s EndpointSet) Add(ep Endpoint) bool {
	if _, ok := s[ep]; ok {
		return false
	}
	s[ep] = struct{}{}
	return true
}

// Contains reports set membership
func (s EndpointSet) Contains(ep Endpoint) bool {
	_, ok := s[ep]
	return ok
}

// Clone returns an independent copy
func (s EndpointSet) Clone() EndpointSet {
	out := make(EndpointSet, len(s))
	for ep := range s {
		out[ep] = struct{}{}
	}
	return out
}

// Sorted returns the members ordered by address then port
func (s EndpointSet) Sorted() []Endpoint {
	out := make([]Endpoint, 0, len(s))
	for ep := range s {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].IP.Compare(out[j].IP); c != 0 {
			return c < 0
		}
		return out[i].Port < out[j].Port
	})
	return out
}

// Direction is the audio leg relative to the local extension
type Direction int

const (
	// In is audio flowing toward the local extension
	In Direction = iota
	// Out is audio spoken by the local extension
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Label is the upper-case form used in final artifact filenames
func (d Direction) Label() string {
	if d == Out {
		return "OUT"
	}
	return "IN"
}

// ClassifyDirection applies the endpoint membership rule: a packet leaving a
// local endpoint or heading to a remote one is Out; a packet leaving a remote
// endpoint or heading to a local one is In. ok is false when nothing matches.
//
// When both ends are local (extension to extension) membership alone says
// Out for both legs, so own, the endpoints announced by the recorded
// extension's side of the dialog, decides instead.
func ClassifyDirection(src, dst Endpoint, local, remote, own EndpointSet) (dir Direction, ok bool) {
	if local.Contains(src) && local.Contains(dst) {
		switch {
		case own.Contains(src):
			return Out, true
		case own.Contains(dst):
			return In, true
		}
	}
	switch {
	case local.Contains(src) || remote.Contains(dst):
		return Out, true
	case remote.Contains(src) || local.Contains(dst):
		return In, true
	default:
		return In, false
	}
}
