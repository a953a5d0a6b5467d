// Package visualizer turns audio segments into the level signal and waveform
// data that drive the voice-reactive avatar.
package visualizer

import (
	"math"
	"math/rand"
	"sync"

	"github.com/lexiqai/interviewer/internal/audio"
	"github.com/lexiqai/interviewer/internal/observability"
)

const (
	// Weight of the previous level in the low-pass filter
	smoothingPrevious = 0.3
	// Weight of the newest sample in the low-pass filter
	smoothingCurrent = 0.7

	// PlaceholderSize is the length of the waveform synthesized when playback
	// starts without real audio data
	PlaceholderSize = 128
)

// Feed holds the smoothed audio level and the latest waveform buffer.
// It is safe for concurrent use.
type Feed struct {
	mu       sync.RWMutex
	level    float64
	primed   bool
	waveform []byte
	intn     func(n int) int
}

// NewFeed creates an empty visualization feed
func NewFeed() *Feed {
	return &Feed{intn: rand.Intn}
}

// Ingest consumes one completed audio buffer. An empty buffer clears the feed.
// Otherwise the level is smoothed toward the buffer's mean byte value and the
// buffer becomes the waveform. The WAV data URL of the buffer is returned for
// the transcription fallback path.
func (f *Feed) Ingest(buf []byte) string {
	if len(buf) == 0 {
		f.Reset()
		return ""
	}

	sample := MeanLevel(buf)
	waveform := make([]byte, len(buf))
	copy(waveform, buf)

	f.mu.Lock()
	if f.primed {
		f.level = f.level*smoothingPrevious + sample*smoothingCurrent
	} else {
		f.level = sample
		f.primed = true
	}
	f.waveform = waveform
	level := f.level
	f.mu.Unlock()

	observability.SetAudioLevel(level)

	return audio.EncodeDataURL(buf)
}

// Level returns the smoothed level in [0,1]
func (f *Feed) Level() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

// Waveform returns a copy of the current waveform, or nil when absent
func (f *Feed) Waveform() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.waveform == nil {
		return nil
	}
	out := make([]byte, len(f.waveform))
	copy(out, f.waveform)
	return out
}

// HasWaveform reports whether waveform data is present
func (f *Feed) HasWaveform() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.waveform != nil
}

// EnsurePlaceholder installs n random bytes in [0,128) as the waveform when
// none is present. It reports whether a placeholder was installed.
func (f *Feed) EnsurePlaceholder(n int) bool {
	if n <= 0 {
		n = PlaceholderSize
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.waveform != nil {
		return false
	}

	placeholder := make([]byte, n)
	for i := range placeholder {
		placeholder[i] = byte(f.intn(128))
	}
	f.waveform = placeholder
	return true
}

// ClearWaveform drops the waveform but keeps the level
func (f *Feed) ClearWaveform() {
	f.mu.Lock()
	f.waveform = nil
	f.mu.Unlock()
}

// Reset sets the level to 0 and drops the waveform
func (f *Feed) Reset() {
	f.mu.Lock()
	f.level = 0
	f.primed = false
	f.waveform = nil
	f.mu.Unlock()

	observability.SetAudioLevel(0)
}

// MeanLevel returns the mean byte value of buf normalized to [0,1]
func MeanLevel(buf []byte) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum uint64
	for _, b := range buf {
		sum += uint64(b)
	}
	return float64(sum) / float64(len(buf)) / 255
}

// WavePoint is one dot of the circular waveform
type WavePoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Amplitude float64 `json:"amplitude"`
}

// WavePoints lays out total points evenly on a circle of the given radius.
// Every point shares the amplitude derived from the current level.
func (f *Feed) WavePoints(total int, radius float64) []WavePoint {
	if total <= 0 {
		return nil
	}

	amplitude := Amplitude(f.Level())
	points := make([]WavePoint, total)
	for i := range points {
		angle := float64(i) / float64(total) * math.Pi * 2
		points[i] = WavePoint{
			X:         math.Cos(angle) * radius,
			Y:         math.Sin(angle) * radius,
			Amplitude: amplitude,
		}
	}
	return points
}

// Amplitude maps a level to the animation scale of the wave points
func Amplitude(level float64) float64 {
	if level > 0 {
		return 0.5 + level*1.5
	}
	return 0.5
}
