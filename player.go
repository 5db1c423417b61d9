// Package additive is a polyphonic band-limited additive synthesizer. A
// Player renders scores or live notes to the sound card; RenderScore and
// WriteWAV render offline.
package additive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	intaudio "github.com/cbegin/additive-go/internal/audio"
	intparams "github.com/cbegin/additive-go/internal/params"
	intseq "github.com/cbegin/additive-go/internal/sequencer"
	intspec "github.com/cbegin/additive-go/internal/spectrum"
	intsynth "github.com/cbegin/additive-go/internal/synth"
)

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind int // EventLoopCompleted or EventPlaybackEnded
}

const (
	EventLoopCompleted int = iota
	EventPlaybackEnded
)

// Backend selects the audio output library.
type Backend string

const (
	BackendEbiten Backend = "ebiten"
	BackendOto    Backend = "oto"
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	synth        intsynth.Config
	spectrum     *intspec.Spectrum
	params       intparams.Params
	backend      Backend
	loopPlayback bool
	sampleTap    func([]float32)
}

func defaultPlayerConfig(sampleRate int) playerConfig {
	cfg := intsynth.DefaultConfig()
	cfg.SampleRate = sampleRate
	return playerConfig{
		synth:    cfg,
		spectrum: intspec.Saw(),
		params:   intparams.DefaultParams(),
		backend:  BackendEbiten,
	}
}

func WithPolyphony(voices int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.synth.Polyphony = voices
	}
}

// WithSpectrum sets the harmonic recipe the first table family is built from.
func WithSpectrum(spec *intspec.Spectrum) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.spectrum = spec
	}
}

func WithParams(p intparams.Params) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.params = p
	}
}

func WithBackend(b Backend) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.backend = b
	}
}

// WithSeed fixes the voices' random start phases.
func WithSeed(seed uint64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.synth.Seed = seed
	}
}

func WithLogger(logger *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.synth.Logger = logger
	}
}

func WithLoopPlayback(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loopPlayback = enabled
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

type Player struct {
	mu           sync.Mutex
	sampleRate   int
	synth        *intsynth.Synth
	backendKind  intaudio.Kind
	audio        intaudio.Backend
	current      *source
	baseGain     float64
	volume       float64
	transpose    int
	loopPlayback bool
	sampleTap    func([]float32)
	logger       *slog.Logger
	done         chan struct{}
	eventCh      chan PlaybackEvent
	eventChMu    sync.Mutex
}

// source feeds the audio backend: a sequencer when a score is playing,
// otherwise the bare synth for live notes.
type source struct {
	synth    *intsynth.Synth
	seq      *intseq.Sequencer
	finished atomic.Bool
}

func (s *source) Process(dst []float32) {
	if s.seq != nil {
		s.seq.Process(dst)
		return
	}
	s.synth.Process(dst)
}

func (s *source) Finished() bool {
	return s.finished.Load()
}

// NewPlayer builds the synth; no audio device is opened until PlayScore or
// Start.
func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig(sampleRate)
	for _, opt := range opts {
		opt(&cfg)
	}
	kind, err := intaudio.ParseKind(string(cfg.backend))
	if err != nil {
		return nil, err
	}
	if cfg.synth.Logger == nil {
		cfg.synth.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	synth, err := intsynth.New(cfg.synth, cfg.spectrum, cfg.params)
	if err != nil {
		return nil, err
	}
	return &Player{
		sampleRate:   sampleRate,
		synth:        synth,
		backendKind:  kind,
		baseGain:     synth.MasterGain(),
		volume:       1,
		loopPlayback: cfg.loopPlayback,
		sampleTap:    cfg.sampleTap,
		logger:       cfg.synth.Logger,
	}, nil
}

// Compile parses score text without playing it.
func Compile(text string) (*intseq.Score, error) {
	return intseq.Parse(text)
}

// SampleRate returns the output rate.
func (p *Player) SampleRate() int { return p.sampleRate }

func (p *Player) PlayScore(text string) error {
	score, err := intseq.Parse(text)
	if err != nil {
		return err
	}
	return p.Play(score)
}

// Play starts score from the beginning, replacing whatever was playing.
func (p *Player) Play(score *intseq.Score) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Signal any existing Wait() that the previous playback was replaced
	if p.done != nil {
		close(p.done)
	}
	p.done = make(chan struct{})
	p.synth.AllNotesOff(false)

	src := p.newScoreSource(score)
	p.logger.Info("playing score",
		"notes", len(score.Notes),
		"duration", score.Duration,
		"loop", p.loopPlayback,
		"backend", p.backendKind)
	return p.open(src)
}

// Start opens the audio device with no score so notes can be played live
// through NoteOn and NoteOff.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.seq == nil {
		return nil
	}
	return p.open(&source{synth: p.synth})
}

func (p *Player) newScoreSource(score *intseq.Score) *source {
	src := &source{synth: p.synth}
	onEvent := func(kind intseq.EventKind) {
		if kind == intseq.EventPlaybackEnded {
			src.finished.Store(true)
		}
		p.sendEvent(PlaybackEvent{Kind: int(kind)})
		if kind == intseq.EventPlaybackEnded {
			p.signalDone()
		}
	}
	src.seq = intseq.NewWithOptions(score, p.synth, p.sampleRate, intseq.Options{
		LoopWholeScore: p.loopPlayback,
		OnEvent:        onEvent,
		Transpose:      p.transpose,
	})
	return src
}

func (p *Player) open(src *source) error {
	reader := intaudio.NewStreamReader(src)
	if p.sampleTap != nil {
		reader.SetTap(p.sampleTap)
	}
	backend, err := intaudio.Open(p.backendKind, p.sampleRate, reader)
	if err != nil {
		return err
	}
	if p.audio != nil {
		_ = p.audio.Stop()
	}
	p.audio = backend
	p.current = src
	p.audio.Play()
	p.logger.Debug("audio started", "backend", p.backendKind, "sample_rate", p.sampleRate)
	return nil
}

// NoteOn starts key at velocity 0..1. It reports false when the note was
// rejected or the event queue was full.
func (p *Player) NoteOn(key int, velocity float64) bool {
	return p.synth.NoteOn(key, velocity)
}

// NoteOff releases key, or cuts it when allowTailOff is false.
func (p *Player) NoteOff(key int, allowTailOff bool) bool {
	return p.synth.NoteOff(key, allowTailOff)
}

// PitchWheel bends every sounding note; 8192 is centered.
func (p *Player) PitchWheel(position int) bool {
	return p.synth.PitchWheel(position)
}

// SetSpectrum rebuilds the wavetables from spec and swaps them in while
// audio keeps running.
func (p *Player) SetSpectrum(ctx context.Context, spec *intspec.Spectrum) error {
	return p.synth.SetSpectrum(ctx, spec)
}

// SetParams publishes new tuning, unison and envelope settings.
func (p *Player) SetParams(params intparams.Params) error {
	return p.synth.SetParams(params)
}

func (p *Player) Params() intparams.Params {
	return p.synth.Params()
}

// ActiveVoices returns the number of voices sounding after the last buffer.
func (p *Player) ActiveVoices() int {
	return p.synth.ActiveVoiceCount()
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full or closed; drop event
		}
	}
}

func (p *Player) signalDone() {
	p.mu.Lock()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

func (p *Player) Stop() error {
	p.mu.Lock()
	if p.audio == nil {
		p.mu.Unlock()
		return nil
	}
	err := p.audio.Stop()
	if err != nil {
		p.logger.Warn("audio stop failed", "err", err)
	}
	p.audio = nil
	p.current = nil
	p.synth.AllNotesOff(false)
	done := p.done
	p.done = nil
	p.mu.Unlock()
	p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
	if done != nil {
		close(done)
	}
	return err
}

// Wait blocks until the current playback ends. When loop playback is enabled,
// Wait blocks indefinitely (use Watch for loop-counting instead).
// Wait returns immediately if no playback is active or if it was stopped.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel that receives playback events. Events are sent when:
//   - EventLoopCompleted: a whole-score loop iteration finished (when looping)
//   - EventPlaybackEnded: playback finished (when not looping)
//
// The channel is buffered (cap 8); receive in a goroutine to avoid blocking the sequencer.
// Only the most recent Watch() channel receives events; call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	p.synth.SetMasterGain(p.baseGain * p.volume)
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetTranspose sets a semitone shift applied to every score note.
// Takes effect on the next Play/PlayScore call.
func (p *Player) SetTranspose(semitones int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transpose = semitones
}

// Transpose returns the current semitone shift.
func (p *Player) Transpose() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transpose
}
