package additive

import (
	"context"
	"testing"
	"time"

	intspec "github.com/cbegin/additive-go/internal/spectrum"
)

func TestPlayerMasterVolumeRuntimeAPI(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	if got := pl.MasterVolume(); got != 1 {
		t.Fatalf("default master volume = %v, want 1", got)
	}
	pl.SetMasterVolume(0.35)
	if got := pl.MasterVolume(); got != 0.35 {
		t.Fatalf("master volume = %v, want 0.35", got)
	}
	if got, want := pl.synth.MasterGain(), pl.baseGain*0.35; got != want {
		t.Fatalf("synth gain = %v, want %v", got, want)
	}
	pl.SetMasterVolume(-2)
	if got := pl.MasterVolume(); got != 0 {
		t.Fatalf("master volume should clamp to 0, got %v", got)
	}
}

func TestNewPlayerRejects(t *testing.T) {
	if _, err := NewPlayer(0); err == nil {
		t.Fatalf("zero sample rate accepted")
	}
	if _, err := NewPlayer(48000, WithBackend("alsa")); err == nil {
		t.Fatalf("unknown backend accepted")
	}
	if _, err := NewPlayer(48000, WithSpectrum(nil)); err == nil {
		t.Fatalf("nil spectrum accepted")
	}
}

func TestPlayerLiveControls(t *testing.T) {
	pl, err := NewPlayer(44100, WithPolyphony(4), WithSpectrum(intspec.Sine()))
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	p := pl.Params()
	p.UnisonPairs = 2
	if err := pl.SetParams(p); err != nil {
		t.Fatalf("set params: %v", err)
	}
	if pl.Params().UnisonPairs != 2 {
		t.Fatalf("params not applied")
	}
	if err := pl.SetSpectrum(context.Background(), intspec.Square()); err != nil {
		t.Fatalf("set spectrum: %v", err)
	}
	if !pl.NoteOn(60, 0.9) {
		t.Fatalf("note on rejected")
	}
	src := &source{synth: pl.synth}
	buf := make([]float32, 512)
	src.Process(buf)
	if pl.ActiveVoices() != 1 {
		t.Fatalf("active voices = %d, want 1", pl.ActiveVoices())
	}
	pl.NoteOff(60, false)
	src.Process(buf)
	if pl.ActiveVoices() != 0 {
		t.Fatalf("voice still active after cut")
	}
}

func TestScoreSourceSignalsEnd(t *testing.T) {
	pl, err := NewPlayer(8000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	score, err := Compile("t480 c4 e4")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	events := pl.Watch()
	pl.done = make(chan struct{})
	done := pl.done
	src := pl.newScoreSource(score)

	buf := make([]float32, 512)
	for i := 0; i < 200 && !src.Finished(); i++ {
		src.Process(buf)
	}
	if !src.Finished() {
		t.Fatalf("score never finished")
	}
	select {
	case ev := <-events:
		if ev.Kind != EventPlaybackEnded {
			t.Fatalf("event kind = %d, want EventPlaybackEnded", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("no playback event")
	}
	select {
	case <-done:
	default:
		t.Fatalf("Wait would still block")
	}
	pl.Wait()
}

func TestTransposeSetting(t *testing.T) {
	pl, err := NewPlayer(48000)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	pl.SetTranspose(-12)
	if pl.Transpose() != -12 {
		t.Fatalf("transpose = %d", pl.Transpose())
	}
}
