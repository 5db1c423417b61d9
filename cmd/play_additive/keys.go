package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/cbegin/additive-go"
	"github.com/cbegin/additive-go/internal/spectrum"
)

// keyOffsets maps a two-row piano layout to semitones above the base C.
var keyOffsets = map[byte]int{
	'a': 0, 'w': 1, 's': 2, 'e': 3, 'd': 4, 'f': 5, 't': 6,
	'g': 7, 'y': 8, 'h': 9, 'u': 10, 'j': 11, 'k': 12, 'o': 13, 'l': 14,
}

// keyboard turns key presses into timed notes. Raw terminals report no key
// releases, so every note is released after hold.
type keyboard struct {
	pl     *additive.Player
	hold   time.Duration
	base   int
	mu     sync.Mutex
	timers map[int]*time.Timer
}

func newKeyboard(pl *additive.Player, hold time.Duration) *keyboard {
	return &keyboard{pl: pl, hold: hold, base: 60, timers: map[int]*time.Timer{}}
}

// press handles one byte of input and reports whether the session should end.
func (k *keyboard) press(b byte) (quit bool, err error) {
	switch b {
	case 'q', 3, 27: // q, ctrl-c, esc
		return true, nil
	case 'z':
		k.base = max(k.base-12, 0)
		return false, nil
	case 'x':
		k.base = min(k.base+12, 108)
		return false, nil
	case ',':
		k.pl.PitchWheel(0)
		return false, nil
	case '.':
		k.pl.PitchWheel(8192)
		return false, nil
	case '/':
		k.pl.PitchWheel(16383)
		return false, nil
	}
	if b >= '1' && b <= '9' {
		names := spectrum.Names()
		if i := int(b - '1'); i < len(names) {
			return false, rebuild(k.pl, names[i])
		}
		return false, nil
	}
	offset, ok := keyOffsets[b]
	if !ok {
		return false, nil
	}
	k.strike(k.base + offset)
	return false, nil
}

func (k *keyboard) strike(key int) {
	if key > 127 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if t, ok := k.timers[key]; ok {
		t.Stop()
		k.pl.NoteOff(key, false)
	}
	k.pl.NoteOn(key, 0.8)
	k.timers[key] = time.AfterFunc(k.hold, func() {
		k.mu.Lock()
		delete(k.timers, key)
		k.mu.Unlock()
		k.pl.NoteOff(key, true)
	})
}

func (k *keyboard) stop() {
	k.mu.Lock()
	for key, t := range k.timers {
		t.Stop()
		delete(k.timers, key)
	}
	k.mu.Unlock()
}

func playKeys(pl *additive.Player, hold time.Duration) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("-keys needs an interactive terminal")
	}
	if err := pl.Start(); err != nil {
		return err
	}
	defer pl.Stop()

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, oldState)

	fmt.Print("a-l play, w e t y u o sharps, z/x octave, , . / bend, 1-9 preset, q quit\r\n")
	kb := newKeyboard(pl, hold)
	defer kb.stop()
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return err
		}
		quit, err := kb.press(buf[0])
		if err != nil {
			fmt.Printf("%v\r\n", err)
		}
		if quit {
			return nil
		}
	}
}

// rebuild swaps the preset while notes are sounding.
func rebuild(pl *additive.Player, name string) error {
	spec, err := spectrum.Preset(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return pl.SetSpectrum(ctx, spec)
}
