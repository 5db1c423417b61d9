// Package synth owns a fixed pool of additive voices, routes note events to
// them and mixes their output.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/additive-go/internal/params"
	"github.com/cbegin/additive-go/internal/snapshot"
	"github.com/cbegin/additive-go/internal/spectrum"
	"github.com/cbegin/additive-go/internal/voice"
	"github.com/cbegin/additive-go/internal/wavetable"
)

const maxVoices = 64

// Config sizes a synth. Fields left at zero take the DefaultConfig value.
type Config struct {
	Polyphony       int
	SampleRate      int
	TableResolution int
	BlockSize       int // frames rendered per voice pass
	MasterGain      float64
	EventQueue      int    // capacity of the control-to-audio event queue
	Seed            uint64 // start-phase seed of voice 0; voice i uses Seed+i
	Logger          *slog.Logger
}

// DefaultConfig returns sensible defaults for live playback.
func DefaultConfig() Config {
	return Config{
		Polyphony:       16,
		SampleRate:      48000,
		TableResolution: wavetable.DefaultResolution,
		BlockSize:       256,
		MasterGain:      0.3,
		EventQueue:      256,
		Seed:            1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Polyphony <= 0 {
		c.Polyphony = d.Polyphony
	}
	if c.Polyphony > maxVoices {
		c.Polyphony = maxVoices
	}
	if c.TableResolution <= 0 {
		c.TableResolution = d.TableResolution
	}
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.EventQueue <= 0 {
		c.EventQueue = d.EventQueue
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

type eventKind int

const (
	eventNoteOn eventKind = iota
	eventNoteOff
	eventPitchWheel
	eventAllNotesOff
)

type event struct {
	kind     eventKind
	key      int
	velocity float64
	wheel    int
	tail     bool
}

// Synth is safe for one goroutine calling Process while any number of others
// send notes and publish parameters or spectra.
type Synth struct {
	sampleRate int
	blockSize  int
	logger     *slog.Logger

	tables *snapshot.Cell[wavetable.Family]
	params *snapshot.Cell[params.Params]
	res    int

	events     chan event
	dropped    atomic.Uint64
	masterGain uint64
	sounding   atomic.Int32

	rebuildMu sync.Mutex

	// Owned by the goroutine calling Process.
	voices  []*voice.Additive
	ages    []uint64
	clock   uint64
	wheel   int
	scratch voice.Buffer
}

// New builds the first table family from spec and returns a silent synth.
func New(cfg Config, spec *spectrum.Spectrum, p params.Params) (*Synth, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("synth: sample rate must be positive")
	}
	cfg = cfg.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	family, err := wavetable.Build(spec, cfg.TableResolution)
	if err != nil {
		return nil, fmt.Errorf("synth: build tables: %w", err)
	}
	clamped := p.Clamp()

	s := &Synth{
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		logger:     cfg.Logger,
		tables:     snapshot.New(family),
		params:     snapshot.New(&clamped),
		res:        cfg.TableResolution,
		events:     make(chan event, cfg.EventQueue),
		masterGain: math.Float64bits(cfg.MasterGain),
		voices:     make([]*voice.Additive, cfg.Polyphony),
		ages:       make([]uint64, cfg.Polyphony),
		wheel:      voice.WheelCenter,
		scratch:    voice.Buffer{make([]float32, cfg.BlockSize), make([]float32, cfg.BlockSize)},
	}
	shared := voice.Shared{Tables: s.tables, Params: s.params}
	for i := range s.voices {
		s.voices[i] = voice.NewAdditive(float64(cfg.SampleRate), shared, cfg.Seed+uint64(i))
	}
	return s, nil
}

// SampleRate returns the rate the synth renders at.
func (s *Synth) SampleRate() int { return s.sampleRate }

// Polyphony returns the number of voices in the pool.
func (s *Synth) Polyphony() int { return len(s.voices) }

// NoteOn queues a note start. It reports false if the event was malformed
// or the queue was full.
func (s *Synth) NoteOn(key int, velocity float64) bool {
	if !(voice.Note{Key: key, Velocity: velocity, Wheel: voice.WheelCenter}).Valid() {
		return false
	}
	return s.send(event{kind: eventNoteOn, key: key, velocity: velocity})
}

// NoteOff queues the release of every voice holding key. With allowTailOff
// false the voices stop at once.
func (s *Synth) NoteOff(key int, allowTailOff bool) bool {
	return s.send(event{kind: eventNoteOff, key: key, tail: allowTailOff})
}

// PitchWheel queues a 14-bit wheel position for all voices.
func (s *Synth) PitchWheel(position int) bool {
	return s.send(event{kind: eventPitchWheel, wheel: position})
}

// AllNotesOff queues the release of every voice.
func (s *Synth) AllNotesOff(allowTailOff bool) bool {
	return s.send(event{kind: eventAllNotesOff, tail: allowTailOff})
}

func (s *Synth) send(ev event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped returns how many events were lost to a full queue.
func (s *Synth) Dropped() uint64 { return s.dropped.Load() }

// SetParams validates p and publishes it. Voices pick it up at their next
// block boundary.
func (s *Synth) SetParams(p params.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	clamped := p.Clamp()
	s.params.Publish(&clamped)
	return nil
}

// Params returns the current parameter snapshot.
func (s *Synth) Params() params.Params { return *s.params.Load() }

// SetSpectrum rebuilds the table family on the calling goroutine and
// publishes it. Renders already in progress finish on the old family.
func (s *Synth) SetSpectrum(ctx context.Context, spec *spectrum.Spectrum) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()
	family, err := wavetable.BuildContext(ctx, spec, s.res)
	if err != nil {
		s.logger.Warn("table rebuild failed", "err", err)
		return fmt.Errorf("synth: build tables: %w", err)
	}
	s.tables.Publish(family)
	s.logger.Debug("tables rebuilt",
		"harmonics", spec.Highest(),
		"levels", family.Levels(),
		"resolution", family.Resolution(),
		"elapsed", time.Since(start))
	return nil
}

// Family returns the current table family.
func (s *Synth) Family() *wavetable.Family { return s.tables.Load() }

// SetMasterGain sets the master gain atomically.
func (s *Synth) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&s.masterGain, math.Float64bits(gain))
}

// MasterGain returns the current master gain.
func (s *Synth) MasterGain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.masterGain))
}

// ActiveVoiceCount returns the number of voices that were sounding at the end
// of the last Process call.
func (s *Synth) ActiveVoiceCount() int { return int(s.sounding.Load()) }

// Process renders len(dst)/2 interleaved stereo frames into dst, replacing
// its contents. Queued events take effect at the start of the call.
func (s *Synth) Process(dst []float32) {
	s.drain()
	frames := len(dst) / 2
	gain := float32(s.MasterGain())
	for off := 0; off < frames; off += s.blockSize {
		n := min(s.blockSize, frames-off)
		left, right := s.scratch[0][:n], s.scratch[1][:n]
		clear(left)
		clear(right)
		for _, v := range s.voices {
			if v.Active() {
				v.Render(s.scratch, 0, n)
			}
		}
		out := dst[2*off : 2*(off+n)]
		for i := 0; i < n; i++ {
			out[2*i] = left[i] * gain
			out[2*i+1] = right[i] * gain
		}
	}
	if len(dst)%2 == 1 {
		dst[len(dst)-1] = 0
	}

	var n int32
	for _, v := range s.voices {
		if v.Active() {
			n++
		}
	}
	s.sounding.Store(n)
}

func (s *Synth) drain() {
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		default:
			return
		}
	}
}

func (s *Synth) apply(ev event) {
	switch ev.kind {
	case eventNoteOn:
		n := voice.Note{Key: ev.key, Velocity: ev.velocity, Wheel: s.wheel}
		i := s.allocate()
		v := s.voices[i]
		if !v.CanStart(n) {
			return
		}
		v.Start(n.Key, n.Velocity, n.Wheel)
		s.clock++
		s.ages[i] = s.clock
	case eventNoteOff:
		for _, v := range s.voices {
			if v.Active() && v.Key() == ev.key && (!ev.tail || !v.Releasing()) {
				v.Stop(0, ev.tail)
			}
		}
	case eventPitchWheel:
		s.wheel = max(0, min(ev.wheel, voice.WheelMax))
		for _, v := range s.voices {
			if v.Active() {
				v.PitchWheel(s.wheel)
			}
		}
	case eventAllNotesOff:
		for _, v := range s.voices {
			v.Stop(0, ev.tail)
		}
	}
}

// allocate picks an idle voice, else the quietest releasing voice, else the
// oldest one.
func (s *Synth) allocate() int {
	for i, v := range s.voices {
		if !v.Active() {
			return i
		}
	}
	quiet := -1
	for i, v := range s.voices {
		if v.Releasing() && (quiet < 0 || v.Level() < s.voices[quiet].Level()) {
			quiet = i
		}
	}
	if quiet >= 0 {
		return quiet
	}
	oldest := 0
	for i := 1; i < len(s.voices); i++ {
		if s.ages[i] < s.ages[oldest] {
			oldest = i
		}
	}
	return oldest
}
