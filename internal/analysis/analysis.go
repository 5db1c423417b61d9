// Package analysis measures the harmonic content of single-cycle waveforms.
package analysis

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/cbegin/additive-go/internal/spectrum"
)

// Magnitudes returns the amplitude of every harmonic in one period of a
// waveform. Index h holds harmonic h; index 0 is the DC offset. A pure sine
// of amplitude a reports a at its harmonic.
func Magnitudes(period []float64) []float64 {
	n := len(period)
	if n == 0 {
		return nil
	}
	bins := fft.FFTReal(period)
	out := make([]float64, n/2+1)
	for h := range out {
		scale := 2 / float64(n)
		if h == 0 || (n%2 == 0 && h == n/2) {
			scale = 1 / float64(n)
		}
		out[h] = cmplx.Abs(bins[h]) * scale
	}
	return out
}

// HighestHarmonic returns the highest harmonic whose amplitude exceeds
// threshold, or 0 when nothing does.
func HighestHarmonic(period []float64, threshold float64) int {
	mags := Magnitudes(period)
	for h := len(mags) - 1; h >= 1; h-- {
		if mags[h] > threshold {
			return h
		}
	}
	return 0
}

// FromWaveform derives a spectrum from one cycle of any waveform. Gains and
// phases are chosen so that building tables from the result reproduces the
// waveform's harmonics up to spectrum.MaxHarmonics or the Nyquist bin of the
// input, whichever is lower. The DC component is dropped.
func FromWaveform(period []float64) (*spectrum.Spectrum, error) {
	n := len(period)
	if n < 4 {
		return nil, errors.New("analysis: waveform needs at least 4 samples")
	}
	bins := fft.FFTReal(period)
	s := spectrum.New()
	limit := min(spectrum.MaxHarmonics, n/2-1)
	for h := 1; h <= limit; h++ {
		gain := cmplx.Abs(bins[h]) * 2 / float64(n)
		if gain < 1e-9 {
			continue
		}
		// X[h] = (n/2)·g·(-i)·e^{iφ} for g·sin(hx + φ), so φ = arg(X[h]) + π/2.
		phase := (cmplx.Phase(bins[h]) + math.Pi/2) / (2 * math.Pi)
		phase -= math.Floor(phase)
		if err := s.Set(h, gain, phase); err != nil {
			return nil, err
		}
	}
	if s.Highest() == 0 {
		return nil, errors.New("analysis: waveform has no harmonic content")
	}
	return s, nil
}
