package sequencer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadScore wraps every parse failure.
var ErrBadScore = errors.New("sequencer: bad score")

const (
	defaultBPM      = 120.0
	defaultVelocity = 0.8
)

// Note is one scheduled key, in seconds from the start of the score.
type Note struct {
	Key      int
	Velocity float64
	Start    float64
	Length   float64
}

// Score is a flat list of notes.
type Score struct {
	Notes    []Note
	Duration float64 // seconds, including trailing rests
}

// Parse reads a whitespace separated score. Tokens:
//
//	t<bpm>        tempo for following tokens (default 120)
//	v<0..1>       velocity for following notes (default 0.8)
//	l<beats>      default length (default 1)
//	r[/beats]     rest
//	<note>[/beats] a note; <note> is a MIDI number or a name such as c4, f#3, bb2
//	<note>+<note>  a chord, e.g. c4+e4+g4/2
func Parse(text string) (*Score, error) {
	bpm := defaultBPM
	velocity := defaultVelocity
	length := 1.0
	var now float64
	sc := &Score{}

	for _, tok := range strings.Fields(text) {
		lower := strings.ToLower(tok)
		switch {
		case lower[0] == 't' && len(lower) > 1:
			v, err := parsePositive(lower[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: tempo %q: %v", ErrBadScore, tok, err)
			}
			bpm = v
			continue
		case lower[0] == 'v' && len(lower) > 1:
			v, err := strconv.ParseFloat(lower[1:], 64)
			if err != nil || v < 0 || v > 1 {
				return nil, fmt.Errorf("%w: velocity %q", ErrBadScore, tok)
			}
			velocity = v
			continue
		case lower[0] == 'l' && len(lower) > 1:
			v, err := parsePositive(lower[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: length %q: %v", ErrBadScore, tok, err)
			}
			length = v
			continue
		}

		body, lenStr, hasLen := strings.Cut(lower, "/")
		beats := length
		if hasLen {
			v, err := parsePositive(lenStr)
			if err != nil {
				return nil, fmt.Errorf("%w: length in %q: %v", ErrBadScore, tok, err)
			}
			beats = v
		}
		seconds := beats * 60 / bpm

		if body != "r" {
			for _, name := range strings.Split(body, "+") {
				key, err := ParseKey(name)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrBadScore, err)
				}
				sc.Notes = append(sc.Notes, Note{Key: key, Velocity: velocity, Start: now, Length: seconds})
			}
		}
		now += seconds
	}
	if len(sc.Notes) == 0 {
		return nil, fmt.Errorf("%w: no notes", ErrBadScore)
	}
	sc.Duration = now
	return sc, nil
}

var semitones = map[byte]int{'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11}

// ParseKey turns "60", "c4", "f#3" or "bb2" into a MIDI key. C4 is 60.
func ParseKey(name string) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, errors.New("empty note")
	}
	key, err := strconv.Atoi(name)
	if err != nil {
		base, ok := semitones[name[0]]
		if !ok {
			return 0, fmt.Errorf("note %q: unknown name", name)
		}
		i := 1
		for ; i < len(name) && (name[i] == '#' || name[i] == 'b'); i++ {
			if name[i] == '#' {
				base++
			} else {
				base--
			}
		}
		octave, err := strconv.Atoi(name[i:])
		if err != nil {
			return 0, fmt.Errorf("note %q: bad octave", name)
		}
		key = (octave+1)*12 + base
	}
	if key < 0 || key > 127 {
		return 0, fmt.Errorf("note %q: key %d out of range 0..127", name, key)
	}
	return key, nil
}

func parsePositive(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, errors.New("must be positive and finite")
	}
	return v, nil
}
