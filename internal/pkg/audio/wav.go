package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth    = 16
	numChannels = 1
	pcmFormat   = 1
)

// ErrInvalidWAV is returned for files that are not RIFF/WAVE PCM
var ErrInvalidWAV = errors.New("invalid wav file")

// WriteWAV writes samples as a mono 16-bit PCM WAV. The file is written to a
// temporary sibling and renamed into place.
func WriteWAV(path string, samples []int, sampleRate int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create wav directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp wav: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	enc := wav.NewEncoder(tmp, sampleRate, bitDepth, numChannels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	// Write is called even for zero samples so the header is always emitted
	if err := enc.Write(buf); err != nil {
		cleanup()
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to finalize wav header: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp wav: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move wav into place: %w", err)
	}
	return nil
}

// AppendWAV appends samples to the WAV at path by read-modify-write: existing
// frames are decoded, the new ones added, and the whole file rewritten and
// atomically renamed. A missing file is created.
func AppendWAV(path string, samples []int, sampleRate int) error {
	existing, _, err := ReadWAV(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	combined := make([]int, 0, len(existing)+len(samples))
	combined = append(combined, existing...)
	combined = append(combined, samples...)
	return WriteWAV(path, combined, sampleRate)
}

// ReadWAV returns the samples and sample rate of a PCM WAV
func ReadWAV(path string) ([]int, int, error) {
	// #nosec G304 -- paths are produced by the recorder
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	dec = wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}
	return buf.Data, int(dec.SampleRate), nil
}

// Duration returns the playback length of a WAV
func Duration(path string) (time.Duration, error) {
	// #nosec G304 -- paths are produced by the recorder
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidWAV, path, err)
	}
	return d, nil
}

// CopyFile copies src to dst through a temporary file and rename
func CopyFile(src, dst string) error {
	// #nosec G304 -- paths are produced by the recorder
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
