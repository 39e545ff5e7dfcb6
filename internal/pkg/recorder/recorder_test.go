package recorder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	pionrtp "github.com/pion/rtp"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/catalog"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/config"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/pcapwriter"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/stats"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func ep(addr string, port uint16) types.Endpoint {
	return types.NewEndpoint(netip.MustParseAddr(addr), port)
}

var (
	trunkSIP = ep("10.0.0.1", 5060)
	pbxSIP   = ep("192.168.0.10", 5060)
	trunkRTP = ep("10.0.0.1", 30000)
	extRTP   = ep("192.168.0.21", 16000)
)

type frame struct {
	src, dst types.Endpoint
	at       time.Time
	payload  []byte
}

func sipMessage(startLine, callID, cseq string, media *types.Endpoint) []byte {
	body := ""
	if media != nil {
		body = "v=0\r\n" +
			"o=- 1 1 IN IP4 " + media.IP.String() + "\r\n" +
			"s=-\r\n" +
			"c=IN IP4 " + media.IP.String() + "\r\n" +
			"t=0 0\r\n" +
			fmt.Sprintf("m=audio %d RTP/AVP 0\r\n", media.Port)
	}
	headers := []string{
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK1",
		"From: <sip:01077141436@10.0.0.1>;tag=a",
		"To: <sip:1427@192.168.0.10>",
		"Call-ID: " + callID,
		"CSeq: " + cseq,
	}
	if body != "" {
		headers = append(headers, "Content-Type: application/sdp")
	}
	headers = append(headers, fmt.Sprintf("Content-Length: %d", len(body)))
	return []byte(startLine + "\r\n" + strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

func rtpPayload(t *testing.T, seq uint16, ssrc uint32) []byte {
	t.Helper()
	p := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 160,
			SSRC:           ssrc,
		},
		Payload: bytes.Repeat([]byte{0xff}, 160),
	}
	raw, err := p.Marshal()
	require.NoError(t, err)
	return raw
}

func inboundCall(t *testing.T, callID string) []frame {
	frames := []frame{
		{trunkSIP, pbxSIP, t0, sipMessage("INVITE sip:1427@192.168.0.10 SIP/2.0", callID, "1 INVITE", &trunkRTP)},
		{pbxSIP, trunkSIP, t0.Add(time.Second), sipMessage("SIP/2.0 180 Ringing", callID, "1 INVITE", nil)},
		{pbxSIP, trunkSIP, t0.Add(3 * time.Second), sipMessage("SIP/2.0 200 OK", callID, "1 INVITE", &extRTP)},
	}
	at := t0.Add(4 * time.Second)
	for seq := uint16(1); seq <= 50; seq++ {
		frames = append(frames,
			frame{trunkRTP, extRTP, at, rtpPayload(t, seq, 111)},
			frame{extRTP, trunkRTP, at, rtpPayload(t, seq, 222)})
		at = at.Add(20 * time.Millisecond)
	}
	return append(frames, frame{trunkSIP, pbxSIP, at, sipMessage("BYE sip:1427@192.168.0.10 SIP/2.0", callID, "2 BYE", nil)})
}

func pcapReader(t *testing.T, frames []frame) *pcapgo.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, f := range frames {
		raw, err := pcapwriter.UDPFrame(f.src, f.dst, f.payload)
		require.NoError(t, err)
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp: f.at, CaptureLength: len(raw), Length: len(raw),
		}, raw))
	}
	r, err := pcapgo.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return r
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	v := viper.New()
	v.Set("save_path", filepath.Join(root, "PacketWaveRecord"))
	v.Set("capture_dir", filepath.Join(root, "temp_captures"))
	v.Set("slice_dir", filepath.Join(root, "temp_recordings"))
	v.Set("stream_dir", filepath.Join(root, "temp_recordings", "streams"))
	v.Set("stabilization_ms", 0)
	v.Set("mixer_path", "recapvoice-test-missing-mixer")
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func readCatalog(t *testing.T, path string) []catalog.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []catalog.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec catalog.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

// An offline replay of one answered call produces both legs and one
// catalog record, then Run returns on its own.
func TestRecorder_OfflineReplay(t *testing.T) {
	cfg := testConfig(t)
	collector := stats.New()

	sink, err := capture.NewRotatingSink(capture.RotatingConfig{Dir: cfg.CaptureDir, Retain: 2})
	require.NoError(t, err)
	src := capture.NewSource("replay", pcapReader(t, inboundCall(t, "e2e@trunk")), sink, collector)
	src.SetOffline(true)

	r, err := build(cfg, src, collector)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	records := readCatalog(t, cfg.Catalog.File)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "e2e@trunk", rec.CallID)
	assert.Equal(t, "01077141436", rec.FromNumber)
	assert.Equal(t, "1427", rec.ToNumber)
	assert.Equal(t, "inbound", rec.Direction)
	assert.Equal(t, "ok", rec.Result)
	assert.Empty(t, rec.MergePath, "mixer binary is missing")
	require.NotEmpty(t, rec.InPath)
	require.NotEmpty(t, rec.OutPath)
	assert.FileExists(t, rec.InPath)
	assert.FileExists(t, rec.OutPath)
	assert.Contains(t, filepath.Base(rec.InPath), "_IN_01077141436_1427_")
	assert.InDelta(t, 1.0, rec.DurationSeconds, 0.05)

	assert.Equal(t, uint64(1), collector.Get(stats.FinalizeOK))
	assert.Equal(t, uint64(1), collector.Get(stats.MixFailures))
	assert.Equal(t, uint64(100), collector.Get(stats.RTPClassified))

	slices, err := filepath.Glob(filepath.Join(cfg.SliceDir, "*.pcap"))
	require.NoError(t, err)
	assert.Empty(t, slices, "slice removed after finalize")
}

func TestRecorder_CatalogBackendSelection(t *testing.T) {
	cfg := testConfig(t)
	src := capture.NewSource("none", pcapReader(t, nil), nil, nil)

	r, err := build(cfg, src, stats.New())
	require.NoError(t, err)
	fs, ok := r.catalog.Primary.(*catalog.FileSink)
	require.True(t, ok)
	assert.Equal(t, cfg.Catalog.File, fs.Path())
	assert.Empty(t, r.closers)

	cfg.Catalog.Kafka = config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "recordings"}
	cfg.Notifier.Kafka = config.KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "extensions"}
	r, err = build(cfg, capture.NewSource("none", pcapReader(t, nil), nil, nil), stats.New())
	require.NoError(t, err)
	_, ok = r.catalog.Primary.(*catalog.KafkaSink)
	assert.True(t, ok)
	assert.Len(t, r.closers, 2)
	r.closeAll()
}
