// Package audiofeature derives smoothed, bounded feature vectors (volume,
// band energies, waveform samples) from live audio streams on a fixed
// cadence, for real-time visual feedback.
package audiofeature

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"go.parley.dev/parley/internal/types"
)

const (
	// DefaultWindowSize is the analysis window in samples.
	DefaultWindowSize = 1024
	// DefaultWaveformSize is the fixed length of the subsampled waveform.
	DefaultWaveformSize = 64

	// Volume weights, tuned so moderate speech reliably crosses a 0.1-0.3
	// activity threshold.
	rmsWeight  = 2.0
	peakWeight = 0.25

	// Exponential smoothing constants. Smoothing damps jitter while letting
	// values decay naturally to zero when silence arrives.
	smoothingDecay = 0.7
	smoothingAlpha = 0.35

	// Band split over the magnitude spectrum: lowest 10% is bass, the next
	// 40% mid, the remainder treble.
	bassFraction = 0.10
	midFraction  = 0.50
)

// Extractor turns raw audio windows into AudioFeatureFrames. One extractor
// serves exactly one audio source; its smoothing state is per stream.
type Extractor struct {
	source       string
	windowSize   int
	waveformSize int

	// Smoothed state, always within [0,1].
	volume float64
	bass   float64
	mid    float64
	treble float64
}

// NewExtractor creates an extractor for the named source ("local"/"remote").
func NewExtractor(source string) *Extractor {
	return &Extractor{
		source:       source,
		windowSize:   DefaultWindowSize,
		waveformSize: DefaultWaveformSize,
	}
}

// Process analyzes one window of normalized samples and returns the next
// feature frame. Every scalar is clamped to [0,1] after smoothing; waveform
// samples are clamped to [-1,1]. Passing an empty or short window decays the
// features toward silence.
func (e *Extractor) Process(samples []float32) types.AudioFeatureFrame {
	window := e.window(samples)

	var peak, sumSquares float64
	for _, s := range window {
		abs := math.Abs(s)
		if abs > peak {
			peak = abs
		}
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(len(window)))

	rawVolume := clamp01(rmsWeight*rms + peakWeight*peak)
	rawBass, rawMid, rawTreble := e.bands(window)

	e.volume = smooth(e.volume, rawVolume)
	e.bass = smooth(e.bass, rawBass)
	e.mid = smooth(e.mid, rawMid)
	e.treble = smooth(e.treble, rawTreble)

	return types.AudioFeatureFrame{
		Volume:   e.volume,
		Bass:     e.bass,
		Mid:      e.mid,
		Treble:   e.treble,
		Waveform: waveform(samples, e.waveformSize),
		Source:   e.source,
	}
}

// window converts to float64 and fits the input to the analysis window,
// taking the most recent samples and zero-padding short input.
func (e *Extractor) window(samples []float32) []float64 {
	window := make([]float64, e.windowSize)
	start := 0
	if len(samples) > e.windowSize {
		start = len(samples) - e.windowSize
	}
	offset := e.windowSize - (len(samples) - start)
	for i := start; i < len(samples); i++ {
		window[offset+i-start] = float64(samples[i])
	}
	return window
}

// bands returns the mean normalized magnitude in each of the three
// contiguous spectrum ranges, each clamped to [0,1].
func (e *Extractor) bands(window []float64) (bass, mid, treble float64) {
	spectrum := fft.FFTReal(window)
	half := len(spectrum) / 2
	if half == 0 {
		return 0, 0, 0
	}

	// 2/N scaling maps a full-scale sine to a bin magnitude of 1.
	scale := 2.0 / float64(len(window))
	magnitudes := make([]float64, half)
	for i := 0; i < half; i++ {
		magnitudes[i] = cmplx.Abs(spectrum[i]) * scale
	}

	bassEnd := int(float64(half) * bassFraction)
	midEnd := int(float64(half) * midFraction)

	bass = clamp01(mean(magnitudes[:bassEnd]))
	mid = clamp01(mean(magnitudes[bassEnd:midEnd]))
	treble = clamp01(mean(magnitudes[midEnd:]))
	return bass, mid, treble
}

// waveform uniformly subsamples the time-domain buffer to a fixed size.
func waveform(samples []float32, size int) []float32 {
	out := make([]float32, size)
	if len(samples) == 0 {
		return out
	}
	step := float64(len(samples)) / float64(size)
	for i := 0; i < size; i++ {
		s := samples[int(float64(i)*step)]
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = s
	}
	return out
}

// smooth applies exponential smoothing with decay, then clamps.
func smooth(smoothed, raw float64) float64 {
	return clamp01(smoothed*smoothingDecay + (raw-smoothed*smoothingDecay)*smoothingAlpha)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
