package finalizer

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/types"
)

func TestExtractLegs(t *testing.T) {
	local := types.NewEndpointSet(localEP)
	remote := types.NewEndpointSet(remoteEP)
	unknownA, unknownB := ep("172.16.0.1", 4000), ep("172.16.0.2", 4002)

	tests := []struct {
		name        string
		frames      [][]frame
		wantIn      int // packets
		wantOut     int
		wantStreams int
	}{
		{
			name: "both directions",
			frames: [][]frame{
				rtpFrames(t, remoteEP, localEP, 1, 12),
				rtpFrames(t, localEP, remoteEP, 2, 11),
			},
			wantIn: 12, wantOut: 11, wantStreams: 2,
		},
		{
			name: "short streams are ignored",
			frames: [][]frame{
				rtpFrames(t, remoteEP, localEP, 1, 9),
				rtpFrames(t, localEP, remoteEP, 2, 10),
			},
			wantOut: 10, wantStreams: 1,
		},
		{
			name: "first stream per direction wins",
			frames: [][]frame{
				rtpFrames(t, remoteEP, localEP, 1, 10),
				rtpFrames(t, remoteEP, localEP, 3, 20),
			},
			wantIn: 10, wantStreams: 2,
		},
		{
			name:        "single ambiguous stream is IN",
			frames:      [][]frame{rtpFrames(t, unknownA, unknownB, 7, 14)},
			wantIn:      14,
			wantStreams: 1,
		},
		{
			name: "several ambiguous streams are dropped",
			frames: [][]frame{
				rtpFrames(t, unknownA, unknownB, 7, 14),
				rtpFrames(t, unknownB, unknownA, 8, 14),
			},
			wantStreams: 2,
		},
		{
			name:   "no rtp",
			frames: [][]frame{{sipFrame("x@pbx")}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "slice.pcap")
			writeCapture(t, path, tt.frames...)

			legs, err := ExtractLegs(path, local, remote, local)
			require.NoError(t, err)
			assert.Len(t, legs.In, tt.wantIn*160)
			assert.Len(t, legs.Out, tt.wantOut*160)
			assert.Equal(t, tt.wantStreams, legs.Streams)
		})
	}
}

func TestExtractLegs_ExtensionToExtension(t *testing.T) {
	caller := ep("192.168.0.21", 16000)
	callee := ep("192.168.0.22", 17000)

	path := filepath.Join(t.TempDir(), "slice.pcap")
	writeCapture(t, path,
		rtpFrames(t, caller, callee, 0x1427, 12),
		rtpFrames(t, callee, caller, 0x1428, 15),
	)

	// inbound dialog: the callee's answer is the recorded side
	legs, err := ExtractLegs(path, types.NewEndpointSet(caller, callee), types.NewEndpointSet(), types.NewEndpointSet(callee))
	require.NoError(t, err)
	assert.Len(t, legs.In, 12*160)
	assert.Len(t, legs.Out, 15*160)
	assert.Equal(t, 2, legs.Streams)
}

func TestExtractLegs_DropsDuplicates(t *testing.T) {
	frames := rtpFrames(t, remoteEP, localEP, 1, 10)
	frames = append(frames, frames[3], frames[4])

	path := filepath.Join(t.TempDir(), "slice.pcap")
	writeCapture(t, path, frames)

	legs, err := ExtractLegs(path, types.NewEndpointSet(localEP), types.NewEndpointSet(remoteEP), nil)
	require.NoError(t, err)
	assert.Len(t, legs.In, 10*160)
}

func TestExtractLegs_SequenceRestart(t *testing.T) {
	first := rtpFrames(t, remoteEP, localEP, 1, 50)
	second := rtpFrames(t, remoteEP, localEP, 1, 250)
	for i := range second {
		binary.BigEndian.PutUint16(second[i].payload[2:4], uint16(40000+i))
	}

	path := filepath.Join(t.TempDir(), "slice.pcap")
	writeCapture(t, path, first, second)

	legs, err := ExtractLegs(path, types.NewEndpointSet(localEP), types.NewEndpointSet(remoteEP), nil)
	require.NoError(t, err)
	assert.Len(t, legs.In, 300*160)
}

func TestExtractLegs_MissingFile(t *testing.T) {
	_, err := ExtractLegs(filepath.Join(t.TempDir(), "nope.pcap"), nil, nil, nil)
	assert.Error(t, err)
}
