// Package envelope implements the linear ADSR amplitude generator used by the
// additive voices.
package envelope

// Stage is the current segment of an ADSR.
type Stage int

const (
	StageIdle Stage = iota
	StageAttack
	StageDecay
	StageSustain
	StageRelease
)

func (s Stage) String() string {
	switch s {
	case StageAttack:
		return "attack"
	case StageDecay:
		return "decay"
	case StageSustain:
		return "sustain"
	case StageRelease:
		return "release"
	default:
		return "idle"
	}
}

// Params are segment times in seconds and a sustain level in [0, 1].
type Params struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

// ADSR advances one value per sample. The zero value is an idle envelope
// that outputs silence until SetSampleRate and NoteOn are called.
type ADSR struct {
	sampleRate  float64
	params      Params
	stage       Stage
	level       float64
	attackRate  float64
	decayRate   float64
	releaseRate float64
}

// New returns an idle envelope for sampleRate.
func New(sampleRate float64, p Params) ADSR {
	e := ADSR{sampleRate: sampleRate}
	e.SetParams(p)
	return e
}

// SetSampleRate changes the rate segment times are measured against.
func (e *ADSR) SetSampleRate(sampleRate float64) {
	e.sampleRate = sampleRate
	e.recalculate()
}

// SetParams changes the segment shape. A release already in progress keeps
// its slope.
func (e *ADSR) SetParams(p Params) {
	if p.Sustain < 0 {
		p.Sustain = 0
	}
	if p.Sustain > 1 {
		p.Sustain = 1
	}
	e.params = p
	e.recalculate()
}

func (e *ADSR) recalculate() {
	e.attackRate = rate(1, e.params.Attack, e.sampleRate)
	e.decayRate = rate(1-e.params.Sustain, e.params.Decay, e.sampleRate)
	if e.stage == StageRelease {
		return
	}
	e.releaseRate = rate(e.params.Sustain, e.params.Release, e.sampleRate)
}

// rate is the per-sample step covering distance in seconds; 0 means the
// segment is skipped.
func rate(distance, seconds, sampleRate float64) float64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return distance / (seconds * sampleRate)
}

// NoteOn starts the attack from the current level. Segments with zero time
// are skipped.
func (e *ADSR) NoteOn() {
	switch {
	case e.attackRate > 0:
		e.stage = StageAttack
	case e.decayRate > 0:
		e.level = 1
		e.stage = StageDecay
	default:
		e.level = e.params.Sustain
		e.stage = StageSustain
	}
}

// NoteOff moves an active envelope into release. With no release time the
// envelope stops at once.
func (e *ADSR) NoteOff() {
	if e.stage == StageIdle {
		return
	}
	if e.params.Release > 0 && e.sampleRate > 0 {
		e.releaseRate = e.level / (e.params.Release * e.sampleRate)
		e.stage = StageRelease
		return
	}
	e.Reset()
}

// Reset silences the envelope immediately.
func (e *ADSR) Reset() {
	e.level = 0
	e.stage = StageIdle
}

// Active reports whether the envelope is in any stage but idle.
func (e *ADSR) Active() bool { return e.stage != StageIdle }

// Stage returns the current segment.
func (e *ADSR) Stage() Stage { return e.stage }

// Level returns the last value produced.
func (e *ADSR) Level() float64 { return e.level }

// Next advances one sample and returns the gain for it.
func (e *ADSR) Next() float64 {
	switch e.stage {
	case StageIdle:
		return 0
	case StageAttack:
		e.level += e.attackRate
		if e.level >= 1 {
			e.level = 1
			e.enterDecay()
		}
	case StageDecay:
		e.level -= e.decayRate
		if e.level <= e.params.Sustain {
			e.level = e.params.Sustain
			e.stage = StageSustain
		}
	case StageSustain:
		e.level = e.params.Sustain
	case StageRelease:
		e.level -= e.releaseRate
		if e.level <= 0 || e.releaseRate <= 0 {
			e.Reset()
		}
	}
	return e.level
}

func (e *ADSR) enterDecay() {
	if e.decayRate > 0 {
		e.stage = StageDecay
		return
	}
	e.level = e.params.Sustain
	e.stage = StageSustain
}
