package stream

import "time"

// Buffer bounds in bytes of 16-bit PCM
const (
	MinBufferSize = 4000
	MaxBufferSize = 16000

	// Overflow beyond this truncates the buffer to its newest MaxBufferSize bytes
	overflowSize = 2 * MaxBufferSize

	emaAlpha             = 0.3
	intraExtensionFactor = 0.8
	externalFactor       = 1.2

	DefaultWindow = 500 * time.Millisecond
)

// BufferSizer adapts the flush threshold to the observed PCM byte rate
type BufferSizer struct {
	rate   float64 // bytes per second, EMA
	window time.Duration
	factor float64
	last   time.Time
	size   int
}

// NewBufferSizer seeds the rate with the nominal rate for sampleRate
func NewBufferSizer(sampleRate int, window time.Duration, intraExtension bool) *BufferSizer {
	if window <= 0 {
		window = DefaultWindow
	}
	factor := externalFactor
	if intraExtension {
		factor = intraExtensionFactor
	}
	b := &BufferSizer{
		rate:   float64(sampleRate * 2),
		window: window,
		factor: factor,
	}
	b.size = b.target()
	return b
}

// Observe records n bytes arriving at at and returns the updated threshold
func (b *BufferSizer) Observe(n int, at time.Time) int {
	if !b.last.IsZero() {
		if dt := at.Sub(b.last).Seconds(); dt > 0 {
			instant := float64(n) / dt
			b.rate = emaAlpha*instant + (1-emaAlpha)*b.rate
			b.size = b.target()
		}
	}
	b.last = at
	return b.size
}

// Size is the current flush threshold
func (b *BufferSizer) Size() int {
	return b.size
}

func (b *BufferSizer) target() int {
	t := int(b.rate * b.window.Seconds() * b.factor)
	switch {
	case t < MinBufferSize:
		return MinBufferSize
	case t > MaxBufferSize:
		return MaxBufferSize
	default:
		return t
	}
}

// keepTail drops the head of a buffer that grew past the overflow size,
// keeping the newest MaxBufferSize bytes of samples.
func keepTail(samples []int) []int {
	if len(samples)*2 <= overflowSize {
		return samples
	}
	return append(samples[:0:0], samples[len(samples)-MaxBufferSize/2:]...)
}
