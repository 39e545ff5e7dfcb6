package sip

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

// SDP is the subset of a session description the recorder interprets
type SDP struct {
	ConnectionAddress string // session-level c=
	Media             []MediaDescriptor
}

// MediaDescriptor is one m= section. Non-audio sections are kept for
// diagnostics and not interpreted.
type MediaDescriptor struct {
	Type       string
	Port       int
	Proto      string
	Formats    []string
	Connection string // media-level c=, empty when inherited
}

// Address returns the connection address that applies to this media section
func (m MediaDescriptor) Address(session string) string {
	if m.Connection != "" {
		return m.Connection
	}
	return session
}

// IsAudio reports whether the descriptor is an m=audio section
func (m MediaDescriptor) IsAudio() bool {
	return strings.EqualFold(m.Type, "audio")
}

// AudioEndpoints returns (connection address, port) for every audio section
// with a usable address and a non-zero port.
func (s *SDP) AudioEndpoints() []types.Endpoint {
	if s == nil {
		return nil
	}
	var out []types.Endpoint
	for _, m := range s.Media {
		if !m.IsAudio() || m.Port <= 0 {
			continue
		}
		if ep, ok := types.ParseEndpoint(m.Address(s.ConnectionAddress), m.Port); ok {
			out = append(out, ep)
		}
	}
	return out
}

// ParseSDP parses an SDP body. Strictly conformant bodies go through pion/sdp;
// PBX bodies that pion rejects (missing o=/s=/t=, odd ordering) are read with a
// tolerant line scanner that only looks at c= and m= lines.
func ParseSDP(body []byte) (*SDP, error) {
	var desc sdp.SessionDescription
	var out *SDP
	if err := desc.Unmarshal(body); err == nil {
		out = fromSessionDescription(&desc)
	} else {
		out = scanSDP(body)
	}

	if len(out.Media) == 0 {
		return nil, fmt.Errorf("%w: no media descriptions", ErrUnsupportedSdp)
	}
	for _, m := range out.Media {
		if m.IsAudio() && m.Port > 0 && m.Address(out.ConnectionAddress) == "" {
			return nil, fmt.Errorf("%w: audio media without connection address", ErrUnsupportedSdp)
		}
	}
	return out, nil
}

func fromSessionDescription(desc *sdp.SessionDescription) *SDP {
	out := &SDP{}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		out.ConnectionAddress = desc.ConnectionInformation.Address.Address
	}
	for _, md := range desc.MediaDescriptions {
		if md == nil {
			continue
		}
		m := MediaDescriptor{
			Type:    md.MediaName.Media,
			Port:    md.MediaName.Port.Value,
			Proto:   strings.Join(md.MediaName.Protos, "/"),
			Formats: append([]string(nil), md.MediaName.Formats...),
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			m.Connection = md.ConnectionInformation.Address.Address
		}
		out.Media = append(out.Media, m)
	}
	return out
}

func scanSDP(body []byte) *SDP {
	out := &SDP{}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	var current *MediaDescriptor

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		value := line[2:]
		switch line[0] {
		case 'c':
			addr := connectionAddress(value)
			if current != nil {
				current.Connection = addr
			} else {
				out.ConnectionAddress = addr
			}
		case 'm':
			fields := strings.Fields(value)
			if len(fields) < 3 {
				current = nil
				continue
			}
			// m=<media> <port>[/<count>] <proto> <fmt> ...
			port, err := strconv.Atoi(strings.SplitN(fields[1], "/", 2)[0])
			if err != nil {
				current = nil
				continue
			}
			out.Media = append(out.Media, MediaDescriptor{
				Type:    fields[0],
				Port:    port,
				Proto:   fields[2],
				Formats: append([]string(nil), fields[3:]...),
			})
			current = &out.Media[len(out.Media)-1]
		}
	}
	return out
}

// connectionAddress extracts the address from "IN IP4 192.168.0.10[/ttl]"
func connectionAddress(value string) string {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return ""
	}
	return strings.SplitN(fields[2], "/", 2)[0]
}
