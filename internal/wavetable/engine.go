package wavetable

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/cbegin/additive-go/internal/spectrum"
)

const twoPi = math.Pi * 2

const (
	// MipLevels is the highest mip index. Level MipLevels is always
	// fundamental-only since MaxHarmonics < 2^MipLevels.
	MipLevels = 7

	// DefaultResolution is the number of samples per table period.
	DefaultResolution = 2048

	minResolution = 4
)

// Family is an immutable set of band-limited single-cycle tables built from
// one spectrum. Level 0 holds the most harmonics; each following level holds
// half as many.
type Family struct {
	resolution int
	tables     [MipLevels + 1][]float64
	harmonics  [MipLevels + 1]int
}

// HarmonicLimit is the number of harmonics level may hold before any
// clipping to the populated part of the spectrum: floor(H / 2^level), never
// less than one.
func HarmonicLimit(level int) int {
	if level < 0 {
		level = 0
	}
	if level > MipLevels {
		level = MipLevels
	}
	k := spectrum.MaxHarmonics >> level
	if k < 1 {
		k = 1
	}
	return k
}

// SelectLevel picks the first level whose top harmonic stays strictly below
// Nyquist for a voice whose highest generated frequency is highest. Levels
// are tested with the unfloored ratio H/2^level so the choice is never less
// safe than the table content. Past the last level it clamps to MipLevels.
// A non-positive sample rate or frequency yields -1: no table is safe.
func SelectLevel(highest, sampleRate float64) int {
	if !(sampleRate > 0) || !(highest > 0) || math.IsInf(highest, 0) {
		return -1
	}
	nyquist := sampleRate / 2
	level := 0
	for level < MipLevels && highest*(spectrum.MaxHarmonics/math.Exp2(float64(level))) >= nyquist {
		level++
	}
	return level
}

// Build sums every mip level of s into a new family. The levels are
// independent and are built concurrently. s is only read.
func Build(s *spectrum.Spectrum, resolution int) (*Family, error) {
	return BuildContext(context.Background(), s, resolution)
}

// BuildContext is Build with cancellation between levels.
func BuildContext(ctx context.Context, s *spectrum.Spectrum, resolution int) (*Family, error) {
	if s == nil {
		return nil, errors.New("wavetable: nil spectrum")
	}
	if resolution < minResolution {
		return nil, fmt.Errorf("wavetable: resolution %d below minimum %d", resolution, minResolution)
	}
	// Snapshot the harmonics so a concurrent edit of s cannot tear a build.
	src := s.Harmonics
	populated := s.Highest()
	if populated < 1 {
		populated = 1
	}

	f := &Family{resolution: resolution}
	g, ctx := errgroup.WithContext(ctx)
	for level := 0; level <= MipLevels; level++ {
		k := min(HarmonicLimit(level), populated)
		f.harmonics[level] = k
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.tables[level] = sumHarmonics(src[:k], resolution)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// sumHarmonics renders one period plus a guard sample equal to the first, so
// interpolation at the last index never wraps.
func sumHarmonics(hs []spectrum.Harmonic, resolution int) []float64 {
	table := make([]float64, resolution+1)
	for i, h := range hs {
		if h.Gain == 0 {
			continue
		}
		n := float64(i + 1)
		offset := twoPi * h.Phase
		for j := 0; j < resolution; j++ {
			table[j] += h.Gain * math.Sin(twoPi*n*float64(j)/float64(resolution)+offset)
		}
	}
	table[resolution] = table[0]
	return table
}

// Levels returns the number of tables.
func (f *Family) Levels() int { return MipLevels + 1 }

// Resolution returns the samples per period.
func (f *Family) Resolution() int { return f.resolution }

// Harmonics returns how many harmonics were summed into level, after
// clamping level into range.
func (f *Family) Harmonics(level int) int {
	return f.harmonics[clampLevel(level)]
}

// Table returns one period of level, without the guard sample. The slice is
// shared and must not be modified.
func (f *Family) Table(level int) []float64 {
	return f.tables[clampLevel(level)][:f.resolution]
}

// Sample reads level at phase (radians, expected in [0, 2π)) with linear
// interpolation. Levels past the end clamp to the last table; a negative
// level reads silence.
func (f *Family) Sample(level int, phase float64) float64 {
	if level < 0 {
		return 0
	}
	table := f.tables[clampLevel(level)]
	pos := phase * float64(f.resolution) / twoPi
	i0 := int(pos)
	if i0 < 0 {
		i0, pos = 0, 0
	}
	if i0 >= f.resolution {
		i0 = f.resolution - 1
		pos = float64(f.resolution)
	}
	frac := pos - float64(i0)
	return table[i0] + (table[i0+1]-table[i0])*frac
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MipLevels {
		return MipLevels
	}
	return level
}

// ParseWAVB converts a hex string (pairs of hex digits representing signed 8-bit
// values) into a slice of float64 samples normalized to the range [-1, 1].
func ParseWAVB(h string) []float64 {
	data, err := hex.DecodeString(h)
	if err != nil {
		return nil
	}
	out := make([]float64, len(data))
	for i, b := range data {
		out[i] = float64(int8(b)) / 127.0
	}
	return out
}
