// Package voice renders one sounding note of the additive synthesizer.
//
// A voice reads two shared snapshots, the current table family and the
// current parameters, and owns everything else: phase accumulators for the
// fundamental and up to ten unison oscillators on each stereo channel, the
// derived frequencies, the selected mip level and an ADSR. Render never
// allocates, locks or logs.
package voice

import (
	"math"
	"math/rand/v2"

	"github.com/cbegin/additive-go/internal/envelope"
	"github.com/cbegin/additive-go/internal/params"
	"github.com/cbegin/additive-go/internal/snapshot"
	"github.com/cbegin/additive-go/internal/wavetable"
)

const twoPi = math.Pi * 2

const (
	maxUnisonOscs = 2 * params.MaxUnisonPairs

	// WheelCenter is the pitch wheel position with no bend.
	WheelCenter = 8192
	// WheelMax is the largest 14-bit pitch wheel position.
	WheelMax = 16383
)

// Buffer is a stereo pair of sample slices owned by the caller.
type Buffer [2][]float32

// Note is a decoded note-on event.
type Note struct {
	Key      int     // 0..127
	Velocity float64 // 0..1
	Wheel    int     // 0..16383
}

// Valid reports whether every field is in range.
func (n Note) Valid() bool {
	return n.Key >= 0 && n.Key <= 127 &&
		n.Velocity >= 0 && n.Velocity <= 1 &&
		n.Wheel >= 0 && n.Wheel <= WheelMax
}

// Voice is the contract a voice pool drives.
type Voice interface {
	CanStart(n Note) bool
	Start(key int, velocity float64, wheel int)
	Stop(velocity float64, allowTailOff bool)
	PitchWheel(position int)
	Render(out Buffer, start, n int)
	Active() bool
}

// Shared are the snapshots every voice of a synth reads.
type Shared struct {
	Tables *snapshot.Cell[wavetable.Family]
	Params *snapshot.Cell[params.Params]
}

// Additive is the band-limited additive voice.
type Additive struct {
	sampleRate float64
	shared     Shared
	fallback   params.Params
	rng        *rand.Rand

	active   bool
	key      int
	velocity float64
	wheel    float64

	pairs      int
	unisonGain float64

	freq        float64
	unisonMul   [maxUnisonOscs]float64
	delta       float64
	unisonDelta [maxUnisonOscs]float64
	level       int

	phase       [2]float64
	unisonPhase [2][maxUnisonOscs]float64

	env envelope.ADSR
}

var _ Voice = (*Additive)(nil)

// NewAdditive returns an idle voice. seed fixes the random start phases so a
// render can be reproduced exactly.
func NewAdditive(sampleRate float64, shared Shared, seed uint64) *Additive {
	v := &Additive{
		sampleRate: sampleRate,
		shared:     shared,
		fallback:   params.DefaultParams(),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		level:      -1,
	}
	v.env.SetSampleRate(sampleRate)
	return v
}

// CanStart accepts any well-formed note.
func (v *Additive) CanStart(n Note) bool {
	return n.Valid()
}

// Start begins a note, stealing the voice if it is already sounding.
// Out-of-range input is clamped.
func (v *Additive) Start(key int, velocity float64, wheel int) {
	p := v.params()

	v.key = max(0, min(key, 127))
	if !(velocity > 0) {
		velocity = 0
	}
	v.velocity = math.Min(velocity, 1)
	v.wheel = wheelOffset(wheel)

	for ch := range v.phase {
		v.phase[ch] = v.startPhase(p)
		for i := range v.unisonPhase[ch] {
			v.unisonPhase[ch][i] = v.startPhase(p)
		}
	}

	v.env.Reset()
	v.recompute(p)
	v.env.NoteOn()
	v.active = true
}

// Stop releases the note. Without a tail, or when the envelope has already
// finished, the voice is cleared at once. Note-off velocity is ignored.
func (v *Additive) Stop(_ float64, allowTailOff bool) {
	if allowTailOff && v.env.Active() {
		v.env.NoteOff()
		if v.env.Active() {
			return
		}
	}
	v.clear()
}

// PitchWheel re-tunes a sounding note without touching phase or envelope.
func (v *Additive) PitchWheel(position int) {
	v.wheel = wheelOffset(position)
	if v.active {
		v.recompute(v.params())
	}
}

// Active reports whether the voice is sounding, including its release tail.
func (v *Additive) Active() bool { return v.active }

// Key returns the MIDI key of the current note.
func (v *Additive) Key() int { return v.key }

// Releasing reports whether the note has been let go but is still audible.
func (v *Additive) Releasing() bool {
	return v.active && v.env.Stage() == envelope.StageRelease
}

// Level returns the current envelope gain.
func (v *Additive) Level() float64 { return v.env.Level() }

// Frequency returns the tuned fundamental in Hz.
func (v *Additive) Frequency() float64 { return v.freq }

// AngleDelta returns the fundamental's phase increment per sample.
func (v *Additive) AngleDelta() float64 { return v.delta }

// TableLevel returns the selected mip level, or -1 when nothing can play.
func (v *Additive) TableLevel() int { return v.level }

// Render adds n samples starting at start into both channels of out. The
// region is clipped to the buffer; nothing outside it is written.
func (v *Additive) Render(out Buffer, start, n int) {
	if !v.active {
		return
	}
	end := min(start+n, len(out[0]), len(out[1]))
	if start < 0 {
		start = 0
	}

	var family *wavetable.Family
	if v.shared.Tables != nil {
		family = v.shared.Tables.Load()
	}
	level := v.level
	if family == nil {
		level = -1
	}
	oscs := 2 * v.pairs
	gain := v.velocity
	unisonGain := v.velocity * v.unisonGain

	for s := start; s < end; s++ {
		env := v.env.Next()
		for ch := 0; ch < 2; ch++ {
			phase := &v.phase[ch]
			*phase = wrap(*phase)
			var sample float64
			if level >= 0 {
				sample = family.Sample(level, *phase) * gain
			}
			uphase := &v.unisonPhase[ch]
			for i := 0; i < oscs; i++ {
				uphase[i] = wrap(uphase[i])
				if level >= 0 {
					sample += family.Sample(level, uphase[i]) * unisonGain
				}
			}
			out[ch][s] += float32(sample * env)

			*phase += v.delta
			for i := 0; i < oscs; i++ {
				uphase[i] += v.unisonDelta[i]
			}
		}
	}

	v.recompute(v.params())
	if !v.env.Active() {
		v.clear()
	}
}

// recompute derives frequencies, deltas, mip level and envelope shape from
// p. Called once per block, after generation.
func (v *Additive) recompute(p *params.Params) {
	v.env.SetParams(p.Envelope())
	v.pairs = max(0, min(p.UnisonPairs, params.MaxUnisonPairs))
	v.unisonGain = p.UnisonGain

	v.freq = 440 * math.Exp2(float64(v.key-69)/12) * p.TuningMultiplier(v.wheel)
	highest := v.freq
	if v.pairs > 0 {
		highest *= p.UnisonRange()
	}
	for k := 1; k <= v.pairs; k++ {
		off := p.UnisonOffset(k)
		v.unisonMul[2*(k-1)] = off
		v.unisonMul[2*(k-1)+1] = 1 / off
	}

	v.level = wavetable.SelectLevel(highest, v.sampleRate)
	if v.level < 0 {
		v.delta = 0
		v.unisonDelta = [maxUnisonOscs]float64{}
		return
	}
	v.delta = twoPi * v.freq / v.sampleRate
	for i := 0; i < 2*v.pairs; i++ {
		v.unisonDelta[i] = v.delta * v.unisonMul[i]
	}
}

func (v *Additive) params() *params.Params {
	if v.shared.Params != nil {
		if p := v.shared.Params.Load(); p != nil {
			return p
		}
	}
	return &v.fallback
}

func (v *Additive) startPhase(p *params.Params) float64 {
	return wrap(math.Mod((v.rng.Float64()*p.RandomPhase+p.PhaseStart)*twoPi, twoPi))
}

// clear zeroes all per-note state and marks the voice idle.
func (v *Additive) clear() {
	v.active = false
	v.key = 0
	v.velocity = 0
	v.wheel = 0
	v.pairs = 0
	v.freq = 0
	v.delta = 0
	v.level = -1
	v.unisonMul = [maxUnisonOscs]float64{}
	v.unisonDelta = [maxUnisonOscs]float64{}
	v.phase = [2]float64{}
	v.unisonPhase = [2][maxUnisonOscs]float64{}
	v.env.Reset()
}

func wheelOffset(position int) float64 {
	position = max(0, min(position, WheelMax))
	return float64(position-WheelCenter) / WheelCenter
}

// wrap folds a phase into [0, 2π).
func wrap(phase float64) float64 {
	if phase >= twoPi {
		phase -= twoPi
		if phase >= twoPi {
			phase = math.Mod(phase, twoPi)
		}
	}
	if phase < 0 {
		phase += twoPi
		if phase < 0 || phase >= twoPi {
			phase = 0
		}
	}
	return phase
}
