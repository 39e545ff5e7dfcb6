package sip

import (
	"strings"
)

// Message is a parsed SIP request or response
type Message struct {
	IsRequest  bool
	Method     string // request only
	RequestURI string // request only
	StatusCode int    // response only
	Reason     string // response only

	CallID     string
	FromURI    string
	ToURI      string
	FromNumber string
	ToNumber   string
	CSeqNum    uint32
	CSeqMethod string

	Headers *Headers
	Body    []byte
	SDP     *SDP
}

// IsResponse reports whether the message is a status response
func (m *Message) IsResponse() bool {
	return !m.IsRequest
}

// ReferTo returns the Refer-To header value, empty when absent
func (m *Message) ReferTo() string {
	return m.Headers.Get("refer-to")
}

// String is a short form for logs: "INVITE sip:1427@pbx" or "200 OK (INVITE)"
func (m *Message) String() string {
	if m.IsRequest {
		return m.Method + " " + m.RequestURI
	}
	return itoa(m.StatusCode) + " " + m.Reason + " (" + m.CSeqMethod + ")"
}

// Header is one header line as it appeared on the wire
type Header struct {
	Name  string
	Value string
}

// Headers is a case-insensitive, multi-valued header map that keeps
// declaration order for diagnostics.
type Headers struct {
	entries []Header
	index   map[string][]int
}

func newHeaders() *Headers {
	return &Headers{index: make(map[string][]int)}
}

// Add appends a header occurrence
func (h *Headers) Add(name, value string) {
	key := canonicalName(name)
	h.index[key] = append(h.index[key], len(h.entries))
	h.entries = append(h.entries, Header{Name: name, Value: value})
}

// Get returns the first value for name (compact forms accepted)
func (h *Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	idx := h.index[canonicalName(name)]
	if len(idx) == 0 {
		return ""
	}
	return h.entries[idx[0]].Value
}

// Values returns every value for name in declaration order
func (h *Headers) Values(name string) []string {
	if h == nil {
		return nil
	}
	idx := h.index[canonicalName(name)]
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, h.entries[i].Value)
	}
	return out
}

// Has reports whether at least one occurrence of name exists
func (h *Headers) Has(name string) bool {
	return h != nil && len(h.index[canonicalName(name)]) > 0
}

// All returns the header lines in declaration order
func (h *Headers) All() []Header {
	if h == nil {
		return nil
	}
	out := make([]Header, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of header lines
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

var compactToFull = map[string]string{
	"i": "call-id",
	"f": "from",
	"t": "to",
	"v": "via",
	"m": "contact",
	"l": "content-length",
	"c": "content-type",
	"e": "content-encoding",
	"k": "supported",
	"s": "subject",
	"r": "refer-to",
	"b": "referred-by",
	"o": "event",
	"u": "allow-events",
	"x": "session-expires",
}

// canonicalName lower-cases a header name and expands RFC 3261 compact forms
func canonicalName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if full, ok := compactToFull[key]; ok {
		return full
	}
	return key
}

// Names returns distinct header names (canonical form) in first-seen order
func (h *Headers) Names() []string {
	if h == nil {
		return nil
	}
	seen := make(map[string]bool, len(h.index))
	var out []string
	for _, e := range h.entries {
		key := canonicalName(e.Name)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
