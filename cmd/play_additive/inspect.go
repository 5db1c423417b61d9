package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/cbegin/additive-go/internal/analysis"
	"github.com/cbegin/additive-go/internal/spectrum"
	"github.com/cbegin/additive-go/internal/wavetable"
)

// measureFloor is the amplitude below which an FFT bin counts as empty.
const measureFloor = 1e-6

// inspectFamily prints, per mip level, the harmonic budget, how many
// harmonics were summed, the highest one the FFT finds and the fundamental
// range the level serves at sampleRate.
func inspectFamily(w io.Writer, spec *spectrum.Spectrum, resolution, sampleRate int) error {
	family, err := wavetable.Build(spec, resolution)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "level\tlimit\tsummed\tmeasured\tmax fundamental (Hz)")
	nyquist := float64(sampleRate) / 2
	for level := 0; level < family.Levels(); level++ {
		measured := analysis.HighestHarmonic(family.Table(level), measureFloor)
		limit := wavetable.HarmonicLimit(level)
		maxFreq := "-"
		if level < wavetable.MipLevels {
			maxFreq = fmt.Sprintf("%.1f", maxFundamental(level, nyquist))
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", level, limit, family.Harmonics(level), measured, maxFreq)
	}
	return tw.Flush()
}

// maxFundamental is the highest frequency SelectLevel still accepts for level.
func maxFundamental(level int, nyquist float64) float64 {
	return nyquist / (spectrum.MaxHarmonics / math.Exp2(float64(level)))
}
