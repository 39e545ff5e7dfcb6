package sip

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\n" +
	"o=- 3344 3344 IN IP4 192.168.0.21\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.168.0.21\r\n" +
	"t=0 0\r\n" +
	"m=audio 16000 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n"

func buildMessage(startLine string, headers []string, body string) []byte {
	var b strings.Builder
	b.WriteString(startLine + "\r\n")
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func inviteHeaders(callID string) []string {
	return []string{
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK776",
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bK777",
		`From: "Caller" <sip:01077141436@10.0.0.1>;tag=abc`,
		"To: <sip:1427@192.168.0.21>",
		"Call-ID: " + callID,
		"CSeq: 1 INVITE",
		"Content-Type: application/sdp",
		"Content-Length: " + itoa(len(testSDP)),
	}
}

func TestParse_Invite(t *testing.T) {
	payload := buildMessage("INVITE sip:1427@192.168.0.21 SIP/2.0", inviteHeaders("a84b4c76e66710@pc33"), testSDP)

	msg, err := Parse(payload)
	require.NoError(t, err)

	assert.True(t, msg.IsRequest)
	assert.False(t, msg.IsResponse())
	assert.Equal(t, "INVITE", msg.Method)
	assert.Equal(t, "sip:1427@192.168.0.21", msg.RequestURI)
	assert.Equal(t, "a84b4c76e66710@pc33", msg.CallID)
	assert.Equal(t, "sip:01077141436@10.0.0.1", msg.FromURI)
	assert.Equal(t, "sip:1427@192.168.0.21", msg.ToURI)
	assert.Equal(t, "01077141436", msg.FromNumber)
	assert.Equal(t, "1427", msg.ToNumber)
	assert.Equal(t, uint32(1), msg.CSeqNum)
	assert.Equal(t, "INVITE", msg.CSeqMethod)

	require.NotNil(t, msg.SDP)
	eps := msg.SDP.AudioEndpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, "192.168.0.21:16000", eps[0].String())
}

func TestParse_Response(t *testing.T) {
	payload := buildMessage("SIP/2.0 183 Session Progress", []string{
		"From: <sip:1427@pbx>;tag=1",
		"To: <sip:01012345678@trunk>;tag=2",
		"Call-ID: resp-1",
		"CSeq: 102 invite",
	}, "")

	msg, err := Parse(payload)
	require.NoError(t, err)

	assert.False(t, msg.IsRequest)
	assert.Equal(t, 183, msg.StatusCode)
	assert.Equal(t, "Session Progress", msg.Reason)
	assert.Equal(t, uint32(102), msg.CSeqNum)
	assert.Equal(t, "INVITE", msg.CSeqMethod, "cseq method is upper-cased")
	assert.Nil(t, msg.SDP)
	assert.Equal(t, "183 Session Progress (INVITE)", msg.String())
}

func TestParse_CompactAndCaseInsensitiveHeaders(t *testing.T) {
	payload := buildMessage("BYE sip:1427@pbx SIP/2.0", []string{
		"v: SIP/2.0/UDP 10.0.0.1:5060",
		"f: <sip:109Q1427@pbx>;tag=1",
		"t: <sip:01077141436@trunk>;tag=2",
		"i: compact-1",
		"CSEQ: 3 BYE",
		"l: 0",
	}, "")

	msg, err := Parse(payload)
	require.NoError(t, err)

	assert.Equal(t, "compact-1", msg.CallID)
	assert.Equal(t, "1427", msg.FromNumber, "alphabetic routing prefix is stripped")
	assert.Equal(t, "01077141436", msg.ToNumber)
	assert.Equal(t, "compact-1", msg.Headers.Get("CALL-ID"))
	assert.Equal(t, "compact-1", msg.Headers.Get("i"))
	assert.Equal(t, "SIP/2.0/UDP 10.0.0.1:5060", msg.Headers.Get("Via"))
}

func TestParse_MultiValuedHeadersKeepOrder(t *testing.T) {
	payload := buildMessage("INVITE sip:1427@pbx SIP/2.0", inviteHeaders("order-1"), testSDP)

	msg, err := Parse(payload)
	require.NoError(t, err)

	vias := msg.Headers.Values("via")
	require.Len(t, vias, 2)
	assert.Contains(t, vias[0], "branch=z9hG4bK776")
	assert.Contains(t, vias[1], "branch=z9hG4bK777")

	names := msg.Headers.Names()
	assert.Equal(t, []string{"via", "from", "to", "call-id", "cseq", "content-type", "content-length"}, names)
	assert.Equal(t, 8, msg.Headers.Len())
	assert.Equal(t, "Via", msg.Headers.All()[0].Name, "original spelling is kept")
}

func TestParse_HeaderFolding(t *testing.T) {
	payload := buildMessage("REFER sip:01077141436@trunk SIP/2.0", []string{
		"From: <sip:1427@pbx>;tag=1",
		"To: <sip:01077141436@trunk>;tag=2",
		"Call-ID: fold-1",
		"CSeq: 5 REFER",
		"Refer-To:",
		"  <sip:1428@pbx>",
	}, "")

	msg, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "<sip:1428@pbx>", msg.ReferTo())
}

func TestParse_ContentLengthBoundsBody(t *testing.T) {
	headers := inviteHeaders("bound-1")
	payload := buildMessage("INVITE sip:1427@pbx SIP/2.0", headers, testSDP+"trailing-garbage")

	msg, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, testSDP, string(msg.Body))
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{
			name:    "too short",
			payload: []byte("SIP"),
			wantErr: ErrNotSip,
		},
		{
			name:    "rtp packet",
			payload: []byte{0x80, 0x08, 0x00, 0x01, 0x00, 0x00, 0x00, 0xa0, 0xde, 0xad, 0xbe, 0xef, 0xd5, 0xd5, 0xd5, 0xd5},
			wantErr: ErrNotSip,
		},
		{
			name:    "http request",
			payload: []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"),
			wantErr: ErrNotSip,
		},
		{
			name: "missing call-id",
			payload: buildMessage("BYE sip:1427@pbx SIP/2.0", []string{
				"From: <sip:1427@pbx>", "To: <sip:1428@pbx>", "CSeq: 1 BYE",
			}, ""),
			wantErr: ErrMalformedSip,
		},
		{
			name: "missing cseq",
			payload: buildMessage("SIP/2.0 200 OK", []string{
				"From: <sip:1427@pbx>", "To: <sip:1428@pbx>", "Call-ID: x",
			}, ""),
			wantErr: ErrMalformedSip,
		},
		{
			name: "bad cseq",
			payload: buildMessage("BYE sip:1427@pbx SIP/2.0", []string{
				"From: <sip:1427@pbx>", "To: <sip:1428@pbx>", "Call-ID: x", "CSeq: one BYE",
			}, ""),
			wantErr: ErrMalformedSip,
		},
		{
			name:    "bad status code",
			payload: buildMessage("SIP/2.0 2OO OK", []string{"Call-ID: x"}, ""),
			wantErr: ErrMalformedSip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(tt.payload)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestParse_UnsupportedSdpKeepsMessage(t *testing.T) {
	body := "v=0\r\ns=-\r\n"
	headers := []string{
		"From: <sip:1427@pbx>;tag=1",
		"To: <sip:1428@pbx>",
		"Call-ID: nosdp-1",
		"CSeq: 1 INVITE",
		"Content-Type: application/sdp",
	}
	msg, err := Parse(buildMessage("INVITE sip:1428@pbx SIP/2.0", headers, body))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedSdp)
	require.NotNil(t, msg)
	assert.Equal(t, "nosdp-1", msg.CallID)
	assert.Nil(t, msg.SDP)
}

func TestParse_LFOnlyLineEndings(t *testing.T) {
	payload := []byte("CANCEL sip:01012345678@trunk SIP/2.0\n" +
		"From: <sip:1427@pbx>;tag=1\n" +
		"To: <sip:01012345678@trunk>\n" +
		"Call-ID: lf-1\n" +
		"CSeq: 1 CANCEL\n\n")

	msg, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "CANCEL", msg.Method)
	assert.Equal(t, "lf-1", msg.CallID)
}

func TestIsSIPPort(t *testing.T) {
	ports := []uint16{5060, 5080}
	assert.True(t, IsSIPPort(5060, 40000, ports))
	assert.True(t, IsSIPPort(40000, 5080, ports))
	assert.False(t, IsSIPPort(16000, 16002, ports))
	assert.False(t, IsSIPPort(5060, 5060, nil))
}
