package slicer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/capture"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/logger"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/pcapwriter"
)

// Native slices in-process with pcapgo. Inputs are read in order, so
// passing the retained capture files oldest first keeps the slice
// chronological.
type Native struct{}

// Slice implements Slicer
func (Native) Slice(ctx context.Context, inputs []string, spec FilterSpec, out string) (int, error) {
	return copyMatching(ctx, inputs, out, spec.Match)
}

// copyMatching streams every frame of inputs through keep into out. Missing
// inputs are skipped: a capture file may rotate away between listing and
// reading. A truncated final record ends that input.
func copyMatching(ctx context.Context, inputs []string, out string, keep func(capture.Packet) bool) (int, error) {
	var w *pcapwriter.Writer
	defer func() {
		if w != nil {
			_ = w.Close()
		}
	}()

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		// #nosec G304 -- capture files are produced by the recorder
		f, err := os.Open(in)
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Capture file vanished before slicing", "path", in)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to open capture: %w", err)
		}

		r, err := pcapgo.NewReader(f)
		if err != nil {
			_ = f.Close()
			if errors.Is(err, io.EOF) {
				continue // header not flushed yet
			}
			return 0, fmt.Errorf("failed to read capture header %s: %w", in, err)
		}

		if w == nil {
			w, err = pcapwriter.New(pcapwriter.Config{FilePath: out, LinkType: r.LinkType()})
			if err != nil {
				_ = f.Close()
				return 0, err
			}
		}

		err = copyFrames(r, r.LinkType(), w, keep)
		_ = f.Close()
		if err != nil {
			return 0, err
		}
	}

	if w == nil {
		// no readable input; still leave an empty, valid slice behind
		var err error
		w, err = pcapwriter.New(pcapwriter.Config{FilePath: out})
		if err != nil {
			return 0, err
		}
	}
	n := w.PacketCount()
	if err := w.Close(); err != nil {
		return 0, err
	}
	w = nil
	return n, nil
}

func copyFrames(r *pcapgo.Reader, linkType layers.LinkType, w *pcapwriter.Writer, keep func(capture.Packet) bool) error {
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}

		pkt, ok := capture.DecodeUDP(data, linkType, ci)
		if !ok || !keep(pkt) {
			continue
		}
		if err := w.WritePacket(ci, data); err != nil {
			return err
		}
	}
}
