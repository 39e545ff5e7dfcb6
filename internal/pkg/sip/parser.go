// Package sip parses SIP/2.0 messages carried in UDP payloads, including the
// SDP bodies that announce RTP media endpoints.
package sip

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/phone"
)

var (
	// ErrNotSip is a quiet reject: the payload may still be RTP
	ErrNotSip = errors.New("not a sip message")
	// ErrMalformedSip means the start line looked like SIP but the message is unusable
	ErrMalformedSip = errors.New("malformed sip message")
	// ErrUnsupportedSdp is ignorable: the message is returned without SDP
	ErrUnsupportedSdp = errors.New("unsupported sdp body")
)

const (
	// Protect against oversized datagrams; UDP SIP stays well below this
	maxMessageSize = 65536
	// Reasonable limit for SIP headers
	maxHeaders = 100
)

var mandatoryHeaders = []string{"call-id", "from", "to", "cseq"}

// Parse parses a UDP payload as a SIP message.
//
// It returns ErrNotSip when the first line is neither a request-line nor a
// status-line, and ErrMalformedSip when a mandatory header (Call-ID, From,
// To, CSeq) is missing or unparsable. When only the SDP body is unusable the
// parsed message is returned together with an error wrapping ErrUnsupportedSdp.
func Parse(payload []byte) (*Message, error) {
	if len(payload) < 8 {
		return nil, ErrNotSip
	}
	if len(payload) > maxMessageSize {
		payload = payload[:maxMessageSize]
	}

	head, body := splitHeadBody(payload)

	lines := splitLines(head)
	if len(lines) == 0 {
		return nil, ErrNotSip
	}

	msg := &Message{Headers: newHeaders()}
	if err := parseStartLine(strings.TrimSpace(lines[0]), msg); err != nil {
		return nil, err
	}

	parseHeaderLines(lines[1:], msg.Headers)

	for _, name := range mandatoryHeaders {
		if !msg.Headers.Has(name) || msg.Headers.Get(name) == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedSip, name)
		}
	}

	msg.CallID = msg.Headers.Get("call-id")
	msg.FromURI = phone.URIFromHeader(msg.Headers.Get("from"))
	msg.ToURI = phone.URIFromHeader(msg.Headers.Get("to"))
	msg.FromNumber = phone.Digits(msg.FromURI)
	msg.ToNumber = phone.Digits(msg.ToURI)

	num, method, err := parseCSeq(msg.Headers.Get("cseq"))
	if err != nil {
		return nil, err
	}
	msg.CSeqNum = num
	msg.CSeqMethod = method

	msg.Body = boundBody(body, msg.Headers.Get("content-length"))

	if hasSDP(msg) {
		sdp, err := ParseSDP(msg.Body)
		if err != nil {
			return msg, err
		}
		msg.SDP = sdp
	}

	return msg, nil
}

// IsSIPPort applies the SIP port policy to a UDP packet
func IsSIPPort(src, dst uint16, ports []uint16) bool {
	for _, p := range ports {
		if src == p || dst == p {
			return true
		}
	}
	return false
}

func splitHeadBody(payload []byte) (head, body []byte) {
	if idx := bytes.Index(payload, []byte("\r\n\r\n")); idx != -1 {
		return payload[:idx], payload[idx+4:]
	}
	if idx := bytes.Index(payload, []byte("\n\n")); idx != -1 {
		return payload[:idx], payload[idx+2:]
	}
	return payload, nil
}

func splitLines(head []byte) []string {
	raw := strings.Split(string(head), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		out = append(out, strings.TrimRight(line, "\r"))
	}
	return out
}

func parseStartLine(line string, msg *Message) error {
	if strings.HasPrefix(line, "SIP/2.0 ") {
		parts := strings.SplitN(line, " ", 3)
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 699 {
			return fmt.Errorf("%w: bad status line %q", ErrMalformedSip, line)
		}
		msg.StatusCode = code
		if len(parts) == 3 {
			msg.Reason = parts[2]
		}
		return nil
	}

	// Request-Line: METHOD SP Request-URI SP SIP/2.0
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[2] != "SIP/2.0" || !isMethodToken(fields[0]) {
		return ErrNotSip
	}
	msg.IsRequest = true
	msg.Method = fields[0]
	msg.RequestURI = fields[1]
	return nil
}

func isMethodToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && c != '-' {
			return false
		}
	}
	return true
}

func parseHeaderLines(lines []string, headers *Headers) {
	var name, value string
	flush := func() {
		if name != "" {
			headers.Add(name, strings.TrimSpace(value))
		}
		name, value = "", ""
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		// Header folding: lines starting with space/tab are continuations
		if (line[0] == ' ' || line[0] == '\t') && name != "" {
			value += " " + strings.TrimSpace(line)
			continue
		}
		flush()
		if headers.Len() >= maxHeaders {
			return
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name = strings.TrimSpace(line[:colon])
		value = line[colon+1:]
	}
	flush()
}

func parseCSeq(value string) (uint32, string, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("%w: bad cseq %q", ErrMalformedSip, value)
	}
	num, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad cseq number %q", ErrMalformedSip, fields[0])
	}
	return uint32(num), strings.ToUpper(fields[1]), nil
}

func boundBody(body []byte, contentLength string) []byte {
	if len(body) == 0 {
		return nil
	}
	if contentLength == "" {
		return body
	}
	n, err := strconv.Atoi(strings.TrimSpace(contentLength))
	if err != nil || n < 0 {
		return body
	}
	if n < len(body) {
		return body[:n]
	}
	return body
}

func hasSDP(msg *Message) bool {
	if len(msg.Body) == 0 {
		return false
	}
	if strings.Contains(strings.ToLower(msg.Headers.Get("content-type")), "application/sdp") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(msg.Body), []byte("v="))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
