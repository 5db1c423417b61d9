// Package sequencer plays a Score through a synth with sample-accurate note
// timing.
package sequencer

import (
	"math"
	"sort"
	"sync/atomic"
)

// Target is what the sequencer drives; *synth.Synth satisfies it.
type Target interface {
	NoteOn(key int, velocity float64) bool
	NoteOff(key int, allowTailOff bool) bool
	AllNotesOff(allowTailOff bool) bool
	Process(dst []float32)
	// ActiveVoiceCount returns the number of voices still sounding, release
	// tails included. Used to detect when playback has fully ended.
	ActiveVoiceCount() int
}

// EventKind identifies sequencer lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventPlaybackEnded
)

type Options struct {
	LoopWholeScore    bool
	OnEvent           func(EventKind)
	ReleaseTailFrames int // extra frames to render after last voice ends (0 = 0.1s default)
	Transpose         int // semitones added to every key
}

type timed struct {
	frame    int64
	on       bool
	key      int
	velocity float64
}

type Sequencer struct {
	target            Target
	events            []timed
	index             int
	frame             int64
	endFrame          int64
	loopWholeScore    bool
	onEvent           func(EventKind)
	releaseTailFrames int
	tailLeft          int
	finished          atomic.Bool
}

func New(score *Score, target Target, sampleRate int) *Sequencer {
	return NewWithOptions(score, target, sampleRate, Options{})
}

func NewWithOptions(score *Score, target Target, sampleRate int, opts Options) *Sequencer {
	tailFrames := opts.ReleaseTailFrames
	if tailFrames <= 0 {
		tailFrames = sampleRate / 10
	}
	s := &Sequencer{
		target:            target,
		loopWholeScore:    opts.LoopWholeScore,
		onEvent:           opts.OnEvent,
		releaseTailFrames: tailFrames,
		tailLeft:          tailFrames,
	}
	toFrame := func(sec float64) int64 {
		return int64(math.Round(sec * float64(sampleRate)))
	}
	for _, n := range score.Notes {
		key := n.Key + opts.Transpose
		if key < 0 || key > 127 {
			continue
		}
		on := toFrame(n.Start)
		off := max(toFrame(n.Start+n.Length), on+1)
		s.events = append(s.events,
			timed{frame: on, on: true, key: key, velocity: n.Velocity},
			timed{frame: off, key: key})
		s.endFrame = max(s.endFrame, off)
	}
	s.endFrame = max(s.endFrame, toFrame(score.Duration))
	// Releases sort ahead of starts on the same frame so a repeated key is
	// let go before it is struck again.
	sort.SliceStable(s.events, func(i, j int) bool {
		a, b := s.events[i], s.events[j]
		if a.frame != b.frame {
			return a.frame < b.frame
		}
		return !a.on && b.on
	})
	return s
}

// Finished reports whether non-looping playback and its release tail are
// complete.
func (s *Sequencer) Finished() bool { return s.finished.Load() }

// Process renders len(dst)/2 stereo frames, splitting the target's blocks at
// note boundaries.
func (s *Sequencer) Process(dst []float32) {
	frames := int64(len(dst) / 2)
	var pos int64
	for pos < frames {
		s.fire()
		if s.loopWholeScore && s.endFrame > 0 && s.frame >= s.endFrame {
			s.frame = 0
			s.index = 0
			if s.onEvent != nil {
				s.onEvent(EventLoopCompleted)
			}
			continue
		}
		n := frames - pos
		if s.index < len(s.events) {
			n = min(n, s.events[s.index].frame-s.frame)
		}
		if s.loopWholeScore && s.endFrame > 0 {
			n = min(n, s.endFrame-s.frame)
		}
		s.target.Process(dst[2*pos : 2*(pos+n)])
		pos += n
		s.frame += n
	}
	if len(dst)%2 == 1 {
		dst[len(dst)-1] = 0
	}
	s.checkEnded(int(frames))
}

func (s *Sequencer) fire() {
	for s.index < len(s.events) && s.events[s.index].frame <= s.frame {
		ev := s.events[s.index]
		if ev.on {
			s.target.NoteOn(ev.key, ev.velocity)
		} else {
			s.target.NoteOff(ev.key, true)
		}
		s.index++
	}
}

func (s *Sequencer) checkEnded(frames int) {
	if s.loopWholeScore || s.finished.Load() {
		return
	}
	if s.index < len(s.events) || s.frame < s.endFrame || s.target.ActiveVoiceCount() > 0 {
		return
	}
	s.tailLeft -= frames
	if s.tailLeft > 0 {
		return
	}
	s.finished.Store(true)
	if s.onEvent != nil {
		s.onEvent(EventPlaybackEnded)
	}
}

// Stop releases every sounding note.
func (s *Sequencer) Stop() {
	s.index = len(s.events)
	s.target.AllNotesOff(true)
}
