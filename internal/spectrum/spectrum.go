// Package spectrum holds the harmonic description that additive tables are
// built from.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// MaxHarmonics is the number of harmonics a spectrum can describe.
const MaxHarmonics = 100

// ErrUnknownPreset is returned by Preset for names it does not know.
var ErrUnknownPreset = errors.New("spectrum: unknown preset")

// Harmonic is the gain and phase offset of one partial. Phase is in cycles,
// so 0.5 inverts the partial.
type Harmonic struct {
	Gain  float64
	Phase float64
}

// Spectrum is a fixed bank of harmonics. Index 0 is the fundamental.
type Spectrum struct {
	Harmonics [MaxHarmonics]Harmonic
}

// New returns a silent spectrum.
func New() *Spectrum {
	return &Spectrum{}
}

// Set assigns harmonic h (1-indexed).
func (s *Spectrum) Set(h int, gain, phase float64) error {
	if h < 1 || h > MaxHarmonics {
		return fmt.Errorf("spectrum: harmonic %d out of range 1..%d", h, MaxHarmonics)
	}
	if math.IsNaN(gain) || math.IsInf(gain, 0) || math.IsNaN(phase) || math.IsInf(phase, 0) {
		return fmt.Errorf("spectrum: harmonic %d has non-finite value", h)
	}
	s.Harmonics[h-1] = Harmonic{Gain: gain, Phase: phase}
	return nil
}

// Harmonic returns harmonic h (1-indexed). Out of range returns a zero value.
func (s *Spectrum) Harmonic(h int) Harmonic {
	if h < 1 || h > MaxHarmonics {
		return Harmonic{}
	}
	return s.Harmonics[h-1]
}

// Highest returns the highest harmonic number with a non-zero gain, or 0 for
// a silent spectrum.
func (s *Spectrum) Highest() int {
	for i := MaxHarmonics - 1; i >= 0; i-- {
		if s.Harmonics[i].Gain != 0 {
			return i + 1
		}
	}
	return 0
}

// Clone returns an independent copy.
func (s *Spectrum) Clone() *Spectrum {
	cp := *s
	return &cp
}

// Normalize scales the gains so their absolute values sum to one, which
// bounds every table built from the spectrum to [-1, 1].
func (s *Spectrum) Normalize() {
	var sum float64
	for _, h := range s.Harmonics {
		sum += math.Abs(h.Gain)
	}
	if sum == 0 {
		return
	}
	for i := range s.Harmonics {
		s.Harmonics[i].Gain /= sum
	}
}

// Sine is the fundamental alone.
func Sine() *Spectrum {
	s := New()
	s.Harmonics[0].Gain = 1
	return s
}

// Saw has every harmonic at 1/h with alternating sign.
func Saw() *Spectrum {
	s := New()
	for h := 1; h <= MaxHarmonics; h++ {
		phase := 0.0
		if h%2 == 0 {
			phase = 0.5
		}
		s.Harmonics[h-1] = Harmonic{Gain: 1 / float64(h), Phase: phase}
	}
	return s
}

// Square has odd harmonics at 1/h.
func Square() *Spectrum {
	s := New()
	for h := 1; h <= MaxHarmonics; h += 2 {
		s.Harmonics[h-1].Gain = 1 / float64(h)
	}
	return s
}

// Triangle has odd harmonics at 1/h² with alternating sign.
func Triangle() *Spectrum {
	s := New()
	for h := 1; h <= MaxHarmonics; h += 2 {
		phase := 0.0
		if (h/2)%2 == 1 {
			phase = 0.5
		}
		s.Harmonics[h-1] = Harmonic{Gain: 1 / float64(h*h), Phase: phase}
	}
	return s
}

// Organ approximates a drawbar registration.
func Organ() *Spectrum {
	s := New()
	for h, g := range map[int]float64{1: 1, 2: 0.5, 3: 0.5, 4: 0.25, 6: 0.2, 8: 0.15, 10: 0.1, 16: 0.05} {
		s.Harmonics[h-1].Gain = g
	}
	return s
}

var presets = map[string]func() *Spectrum{
	"sine":     Sine,
	"saw":      Saw,
	"square":   Square,
	"triangle": Triangle,
	"organ":    Organ,
}

// Preset returns a fresh spectrum for a named preset.
func Preset(name string) (*Spectrum, error) {
	fn, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPreset, name)
	}
	return fn(), nil
}

// Names lists the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse reads a comma separated list of "harmonic:gain" or
// "harmonic:gain@phase" entries, e.g. "1:1, 2:0.5@0.25, 3:0.33".
func Parse(text string) (*Spectrum, error) {
	s := New()
	for _, field := range strings.Split(text, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		hStr, rest, ok := strings.Cut(field, ":")
		if !ok {
			return nil, fmt.Errorf("spectrum: entry %q: expected harmonic:gain", field)
		}
		h, err := strconv.Atoi(strings.TrimSpace(hStr))
		if err != nil {
			return nil, fmt.Errorf("spectrum: entry %q: %w", field, err)
		}
		gainStr, phaseStr, hasPhase := strings.Cut(rest, "@")
		gain, err := strconv.ParseFloat(strings.TrimSpace(gainStr), 64)
		if err != nil {
			return nil, fmt.Errorf("spectrum: entry %q: %w", field, err)
		}
		var phase float64
		if hasPhase {
			phase, err = strconv.ParseFloat(strings.TrimSpace(phaseStr), 64)
			if err != nil {
				return nil, fmt.Errorf("spectrum: entry %q: %w", field, err)
			}
		}
		if err := s.Set(h, gain, phase); err != nil {
			return nil, err
		}
	}
	if s.Highest() == 0 {
		return nil, errors.New("spectrum: no harmonics with non-zero gain")
	}
	return s, nil
}
