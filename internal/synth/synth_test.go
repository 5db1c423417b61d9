package synth

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/cbegin/additive-go/internal/params"
	"github.com/cbegin/additive-go/internal/spectrum"
)

func newSynth(t testing.TB, mutate func(*Config, *params.Params)) *Synth {
	t.Helper()
	cfg := DefaultConfig()
	p := params.DefaultParams()
	if mutate != nil {
		mutate(&cfg, &p)
	}
	s, err := New(cfg, spectrum.Saw(), p)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	return s
}

func peak(buf []float32) float64 {
	var m float64
	for _, v := range buf {
		if a := math.Abs(float64(v)); a > m {
			m = a
		}
	}
	return m
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}, spectrum.Saw(), params.DefaultParams()); err == nil {
		t.Fatalf("zero sample rate should fail")
	}
	bad := params.DefaultParams()
	bad.UnisonPairs = 9
	if _, err := New(DefaultConfig(), spectrum.Saw(), bad); err == nil {
		t.Fatalf("invalid params should fail")
	}
	if _, err := New(DefaultConfig(), nil, params.DefaultParams()); err == nil {
		t.Fatalf("nil spectrum should fail")
	}
	s, err := New(Config{SampleRate: 44100, Polyphony: 1000}, spectrum.Sine(), params.DefaultParams())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Polyphony() != maxVoices {
		t.Fatalf("polyphony = %d, want clamp to %d", s.Polyphony(), maxVoices)
	}
}

func TestNoteOnProducesSignalAndNoteOffEnds(t *testing.T) {
	s := newSynth(t, nil)
	buf := make([]float32, 2048)
	s.Process(buf)
	if peak(buf) != 0 {
		t.Fatalf("idle synth made sound")
	}
	if !s.NoteOn(60, 1) {
		t.Fatalf("note on rejected")
	}
	s.Process(buf)
	if peak(buf) == 0 {
		t.Fatalf("expected signal after note on")
	}
	if got := s.ActiveVoiceCount(); got != 1 {
		t.Fatalf("active voices = %d, want 1", got)
	}
	s.NoteOff(60, true)
	for i := 0; i < 100 && s.ActiveVoiceCount() > 0; i++ {
		s.Process(buf)
	}
	if s.ActiveVoiceCount() != 0 {
		t.Fatalf("voice never finished its release")
	}
	s.Process(buf)
	if peak(buf) != 0 {
		t.Fatalf("released synth still sounding")
	}
}

func TestNoteOnRejectsMalformed(t *testing.T) {
	s := newSynth(t, nil)
	for _, tc := range []struct {
		key int
		vel float64
	}{{-1, 1}, {128, 1}, {60, -0.5}, {60, 2}, {60, math.NaN()}} {
		if s.NoteOn(tc.key, tc.vel) {
			t.Errorf("NoteOn(%d, %v) accepted", tc.key, tc.vel)
		}
	}
}

func TestVoiceStealing(t *testing.T) {
	s := newSynth(t, func(c *Config, _ *params.Params) { c.Polyphony = 2 })
	buf := make([]float32, 512)
	s.NoteOn(60, 1)
	s.Process(buf)
	s.NoteOn(64, 1)
	s.Process(buf)
	s.NoteOn(67, 1)
	s.Process(buf)
	keys := map[int]bool{}
	for _, v := range s.voices {
		if v.Active() {
			keys[v.Key()] = true
		}
	}
	if keys[60] || !keys[64] || !keys[67] {
		t.Fatalf("oldest note should be stolen, sounding keys %v", keys)
	}

	// A releasing voice is preferred over the oldest held one.
	s.NoteOff(67, true)
	s.Process(buf)
	s.NoteOn(72, 1)
	s.Process(buf)
	keys = map[int]bool{}
	for _, v := range s.voices {
		if v.Active() {
			keys[v.Key()] = true
		}
	}
	if !keys[64] || !keys[72] {
		t.Fatalf("releasing voice should be stolen first, sounding keys %v", keys)
	}
}

func TestForceNoteOffSilencesNextBlock(t *testing.T) {
	s := newSynth(t, nil)
	buf := make([]float32, 1024)
	s.NoteOn(60, 1)
	s.NoteOn(64, 1)
	s.Process(buf)
	s.AllNotesOff(false)
	s.Process(buf)
	if peak(buf) != 0 || s.ActiveVoiceCount() != 0 {
		t.Fatalf("all-notes-off without tail should silence at once")
	}
}

func TestForceNoteOffCutsReleaseTail(t *testing.T) {
	s := newSynth(t, func(_ *Config, p *params.Params) { p.Release = 2 })
	buf := make([]float32, 512)
	s.NoteOn(60, 1)
	s.Process(buf)
	s.NoteOff(60, true)
	s.Process(buf)
	if s.ActiveVoiceCount() != 1 {
		t.Fatalf("voice should still be releasing")
	}
	s.NoteOff(60, false)
	s.Process(buf)
	if got := s.ActiveVoiceCount(); got != 0 {
		t.Fatalf("active voices after force note off = %d, want 0", got)
	}
	if peak(buf) != 0 {
		t.Fatalf("force note off left the release tail sounding, peak %v", peak(buf))
	}
}

func TestPitchWheelRetunesSoundingVoices(t *testing.T) {
	s := newSynth(t, nil)
	buf := make([]float32, 256)
	s.NoteOn(69, 1)
	s.Process(buf)
	s.PitchWheel(16383)
	s.Process(buf)
	v := s.voices[0]
	want := 440 * math.Pow(2, 2*(8191.0/8192)/12)
	if math.Abs(v.Frequency()-want) > 1e-9 {
		t.Fatalf("frequency = %v, want %v", v.Frequency(), want)
	}
	// Later notes start at the current wheel position.
	s.NoteOn(57, 1)
	s.Process(buf)
	if got := s.voices[1].Frequency(); math.Abs(got-want/2) > 1e-9 {
		t.Fatalf("new note frequency = %v, want %v", got, want/2)
	}
}

func TestMasterGain(t *testing.T) {
	s := newSynth(t, nil)
	s.SetMasterGain(-1)
	if s.MasterGain() != 0 {
		t.Fatalf("negative gain should clamp to 0")
	}
	buf := make([]float32, 1024)
	s.NoteOn(60, 1)
	s.Process(buf)
	if peak(buf) != 0 {
		t.Fatalf("zero master gain should be silent")
	}
}

func TestQueueOverflowDrops(t *testing.T) {
	s := newSynth(t, func(c *Config, _ *params.Params) { c.EventQueue = 2 })
	s.NoteOn(60, 1)
	s.NoteOn(61, 1)
	if s.NoteOn(62, 1) {
		t.Fatalf("third event should not fit")
	}
	if s.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", s.Dropped())
	}
}

func TestSetParamsValidatesAndPublishes(t *testing.T) {
	s := newSynth(t, nil)
	bad := params.DefaultParams()
	bad.Sustain = 3
	if err := s.SetParams(bad); err == nil {
		t.Fatalf("bad params accepted")
	}
	good := params.DefaultParams()
	good.Octave = 1
	if err := s.SetParams(good); err != nil {
		t.Fatalf("set params: %v", err)
	}
	if s.Params().Octave != 1 {
		t.Fatalf("params not published")
	}
	buf := make([]float32, 512)
	s.NoteOn(69, 1)
	s.Process(buf)
	if got := s.voices[0].Frequency(); got != 880 {
		t.Fatalf("frequency = %v, want 880", got)
	}
}

func TestSetSpectrumSwapsTables(t *testing.T) {
	s := newSynth(t, nil)
	before := s.Family()
	if err := s.SetSpectrum(context.Background(), spectrum.Sine()); err != nil {
		t.Fatalf("set spectrum: %v", err)
	}
	after := s.Family()
	if before == after {
		t.Fatalf("family was not replaced")
	}
	if after.Harmonics(0) != 1 {
		t.Fatalf("new family level 0 holds %d harmonics, want 1", after.Harmonics(0))
	}
	if err := s.SetSpectrum(context.Background(), nil); err == nil {
		t.Fatalf("nil spectrum accepted")
	}
	if s.Family() != after {
		t.Fatalf("failed rebuild replaced the family")
	}
}

func TestConcurrentEditsWhileRendering(t *testing.T) {
	s := newSynth(t, nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		presets := []*spectrum.Spectrum{spectrum.Sine(), spectrum.Square(), spectrum.Saw()}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			p := params.DefaultParams()
			p.UnisonPairs = i % (params.MaxUnisonPairs + 1)
			_ = s.SetParams(p)
			_ = s.SetSpectrum(context.Background(), presets[i%len(presets)])
			s.NoteOn(48+i%24, 0.8)
			s.NoteOff(48+(i+12)%24, true)
		}
	}()
	buf := make([]float32, 512)
	for i := 0; i < 200; i++ {
		s.Process(buf)
		for _, v := range buf {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("non-finite sample during concurrent edits")
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestProcessDoesNotAllocate(t *testing.T) {
	s := newSynth(t, func(_ *Config, p *params.Params) {
		p.UnisonPairs = params.MaxUnisonPairs
		p.Sustain = 1
	})
	buf := make([]float32, 1024)
	for k := 60; k < 68; k++ {
		s.NoteOn(k, 1)
	}
	s.Process(buf)
	allocs := testing.AllocsPerRun(50, func() {
		s.NoteOn(72, 1)
		s.NoteOff(72, true)
		s.Process(buf)
	})
	if allocs != 0 {
		t.Fatalf("Process allocated %v times per call", allocs)
	}
}

func TestOddLengthBufferZeroesTail(t *testing.T) {
	s := newSynth(t, nil)
	buf := []float32{9, 9, 9}
	s.Process(buf)
	if buf[2] != 0 {
		t.Fatalf("trailing half frame = %v, want 0", buf[2])
	}
}

func BenchmarkSynthProcess(b *testing.B) {
	s := newSynth(b, func(_ *Config, p *params.Params) {
		p.UnisonPairs = 3
		p.Sustain = 1
	})
	for k := 48; k < 64; k++ {
		s.NoteOn(k, 0.8)
	}
	buf := make([]float32, 2048*2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Process(buf)
	}
}
