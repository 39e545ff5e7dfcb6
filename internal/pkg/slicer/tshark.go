package slicer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/toolexec"
)

// Tshark slices with the wire analyzer's display filter engine:
// tshark -r IN -Y FILTER -w OUT, once per input, then concatenates the
// partial slices.
type Tshark struct {
	Path    string
	Timeout time.Duration
}

// Slice implements Slicer
func (t Tshark) Slice(ctx context.Context, inputs []string, spec FilterSpec, out string) (int, error) {
	path := t.Path
	if path == "" {
		path = "tshark"
	}
	runner := toolexec.Runner{Path: path, Timeout: t.Timeout}
	filter := spec.DisplayFilter()

	var parts []string
	defer func() {
		for _, p := range parts {
			_ = os.Remove(p)
		}
	}()

	for i, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			logger.Warn("Capture file vanished before slicing", "path", in)
			continue
		}
		part := fmt.Sprintf("%s.part%d", out, i)
		if _, err := runner.Run(ctx, "-r", in, "-Y", filter, "-F", "pcap", "-w", part); err != nil {
			return 0, fmt.Errorf("slice %s: %w", in, err)
		}
		parts = append(parts, part)
	}

	return copyMatching(ctx, parts, out, func(capture.Packet) bool { return true })
}
