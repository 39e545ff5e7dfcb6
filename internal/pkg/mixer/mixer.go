// Package mixer produces the MERGE artifact from the IN and OUT legs of a
// call using an external audio tool.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/audio"
	"github.com/Romeobluesky/recapvoice-server-sub000/internal/pkg/toolexec"
)

// FilterChain mixes both legs to the longest, band-limits to the telephone
// band and normalises loudness.
const FilterChain = "amix=inputs=2:duration=longest,highpass=300,lowpass=3400,volume=2.0,dynaudnorm"

// ErrNoInput is returned when neither leg exists
var ErrNoInput = errors.New("no input legs to mix")

// Mixer writes dst from the in and out legs. Either leg may be empty, in
// which case dst is a copy of the other.
type Mixer interface {
	Mix(ctx context.Context, in, out, dst string) error
}

// FFmpeg mixes with ffmpeg
type FFmpeg struct {
	Path       string
	Timeout    time.Duration
	SampleRate int
}

// Mix implements Mixer
func (f FFmpeg) Mix(ctx context.Context, in, out, dst string) error {
	hasIn, hasOut := present(in), present(out)
	switch {
	case !hasIn && !hasOut:
		return ErrNoInput
	case !hasOut:
		return audio.CopyFile(in, dst)
	case !hasIn:
		return audio.CopyFile(out, dst)
	}

	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	rate := f.SampleRate
	if rate <= 0 {
		rate = 8000
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-i", out,
		"-filter_complex", FilterChain,
		"-ac", "1",
		"-ar", fmt.Sprint(rate),
		"-acodec", "pcm_s16le",
		dst,
	}
	if _, err := (toolexec.Runner{Path: path, Timeout: f.Timeout}).Run(ctx, args...); err != nil {
		return fmt.Errorf("mix %s: %w", dst, err)
	}
	return nil
}

func present(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
