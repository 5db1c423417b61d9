// Package params defines the tuning, unison and envelope settings shared by
// every voice.
package params

import (
	"errors"
	"fmt"
	"math"

	"github.com/cbegin/additive-go/internal/envelope"
)

// MaxUnisonPairs bounds the unison oscillators a voice carries.
const MaxUnisonPairs = 5

// Params is published as an immutable snapshot; never modify one after
// handing it to a synth.
type Params struct {
	Octave          float64 // octaves
	Semitone        float64 // semitones
	FineCents       float64 // cents
	PitchWheelRange float64 // semitones at full wheel deflection

	UnisonPairs       int     // 0..MaxUnisonPairs
	UnisonDetuneCents float64 // spread of the outermost pair
	UnisonGain        float64

	PhaseStart  float64 // cycles
	RandomPhase float64 // cycles of random spread added to PhaseStart

	Attack  float64 // seconds
	Decay   float64 // seconds
	Sustain float64 // 0..1
	Release float64 // seconds
}

// DefaultParams returns a plain, untuned patch.
func DefaultParams() Params {
	return Params{
		PitchWheelRange:   2,
		UnisonPairs:       0,
		UnisonDetuneCents: 12,
		UnisonGain:        0.5,
		PhaseStart:        0,
		RandomPhase:       1,
		Attack:            0.005,
		Decay:             0.12,
		Sustain:           0.75,
		Release:           0.2,
	}
}

// Validate reports the first out-of-range field.
func (p Params) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"octave", p.Octave}, {"semitone", p.Semitone}, {"fine cents", p.FineCents},
		{"pitch wheel range", p.PitchWheelRange}, {"unison detune", p.UnisonDetuneCents},
		{"unison gain", p.UnisonGain}, {"phase start", p.PhaseStart},
		{"random phase", p.RandomPhase}, {"attack", p.Attack}, {"decay", p.Decay},
		{"sustain", p.Sustain}, {"release", p.Release},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("params: %s is not finite", f.name)
		}
	}
	if p.UnisonPairs < 0 || p.UnisonPairs > MaxUnisonPairs {
		return fmt.Errorf("params: unison pairs %d out of range 0..%d", p.UnisonPairs, MaxUnisonPairs)
	}
	if p.UnisonDetuneCents < 0 {
		return errors.New("params: unison detune must not be negative")
	}
	if p.Attack < 0 || p.Decay < 0 || p.Release < 0 {
		return errors.New("params: envelope times must not be negative")
	}
	if p.Sustain < 0 || p.Sustain > 1 {
		return fmt.Errorf("params: sustain %v out of range 0..1", p.Sustain)
	}
	return nil
}

// Clamp returns a copy with every bounded field forced into range and
// non-finite values replaced by the defaults.
func (p Params) Clamp() Params {
	d := DefaultParams()
	fix := func(v *float64, def float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = def
		}
	}
	fix(&p.Octave, d.Octave)
	fix(&p.Semitone, d.Semitone)
	fix(&p.FineCents, d.FineCents)
	fix(&p.PitchWheelRange, d.PitchWheelRange)
	fix(&p.UnisonDetuneCents, d.UnisonDetuneCents)
	fix(&p.UnisonGain, d.UnisonGain)
	fix(&p.PhaseStart, d.PhaseStart)
	fix(&p.RandomPhase, d.RandomPhase)
	fix(&p.Attack, d.Attack)
	fix(&p.Decay, d.Decay)
	fix(&p.Sustain, d.Sustain)
	fix(&p.Release, d.Release)

	p.UnisonPairs = max(0, min(p.UnisonPairs, MaxUnisonPairs))
	p.UnisonDetuneCents = math.Max(0, p.UnisonDetuneCents)
	p.Attack = math.Max(0, p.Attack)
	p.Decay = math.Max(0, p.Decay)
	p.Release = math.Max(0, p.Release)
	p.Sustain = math.Max(0, math.Min(1, p.Sustain))
	return p
}

// Envelope extracts the ADSR settings.
func (p Params) Envelope() envelope.Params {
	return envelope.Params{Attack: p.Attack, Decay: p.Decay, Sustain: p.Sustain, Release: p.Release}
}

// TuningMultiplier folds the octave, semitone, cent and pitch wheel offsets
// into one frequency ratio. wheel is the normalized wheel offset in [-1, 1].
func (p Params) TuningMultiplier(wheel float64) float64 {
	return math.Exp2(p.Octave + p.Semitone/12 + p.FineCents/1200 + p.PitchWheelRange*wheel/12)
}

// UnisonRange is the ratio between the outermost unison oscillator and the
// fundamental.
func (p Params) UnisonRange() float64 {
	return math.Exp2(p.UnisonDetuneCents / 1200)
}

// UnisonOffset is the frequency ratio of pair k (1-indexed). The upper
// oscillator of the pair plays f·offset, the lower one f/offset.
func (p Params) UnisonOffset(k int) float64 {
	if p.UnisonPairs <= 0 {
		return 1
	}
	step := (p.UnisonRange() - 1) / float64(p.UnisonPairs)
	return 1 + step*float64(k)
}
