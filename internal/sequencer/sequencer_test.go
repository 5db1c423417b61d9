package sequencer

import (
	"testing"
)

type call struct {
	frame int
	on    bool
	key   int
}

// recorder stands in for a synth and logs when each event arrives relative
// to the frames it has rendered.
type recorder struct {
	frames  int
	calls   []call
	active  map[int]bool
	allOffs int
}

func newRecorder() *recorder { return &recorder{active: map[int]bool{}} }

func (r *recorder) NoteOn(key int, _ float64) bool {
	r.calls = append(r.calls, call{frame: r.frames, on: true, key: key})
	r.active[key] = true
	return true
}

func (r *recorder) NoteOff(key int, _ bool) bool {
	r.calls = append(r.calls, call{frame: r.frames, key: key})
	delete(r.active, key)
	return true
}

func (r *recorder) AllNotesOff(bool) bool {
	r.allOffs++
	clear(r.active)
	return true
}

func (r *recorder) Process(dst []float32) {
	for i := range dst {
		dst[i] = 1
	}
	r.frames += len(dst) / 2
}

func (r *recorder) ActiveVoiceCount() int { return len(r.active) }

func mustParse(t *testing.T, text string) *Score {
	t.Helper()
	sc, err := Parse(text)
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	return sc
}

func TestEventsLandOnExactFrames(t *testing.T) {
	// At 60 bpm and 100 Hz one beat is 100 frames.
	sc := mustParse(t, "t60 c4/0.5 r/0.25 d4")
	rec := newRecorder()
	seq := New(sc, rec, 100)
	buf := make([]float32, 2*64)
	for i := 0; i < 6; i++ {
		seq.Process(buf)
	}
	want := []call{
		{0, true, 60},
		{50, false, 60},
		{75, true, 62},
		{175, false, 62},
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %+v", rec.calls)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, rec.calls[i], want[i])
		}
	}
	if rec.frames != 6*64 {
		t.Fatalf("rendered %d frames, want %d", rec.frames, 6*64)
	}
}

func TestRepeatedKeyReleasesBeforeRestrike(t *testing.T) {
	sc := mustParse(t, "t60 c4 c4")
	rec := newRecorder()
	seq := New(sc, rec, 10)
	seq.Process(make([]float32, 2*30))
	want := []call{{0, true, 60}, {10, false, 60}, {10, true, 60}, {20, false, 60}}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %+v", rec.calls)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, rec.calls[i], want[i])
		}
	}
}

func TestPlaybackEndsAfterTail(t *testing.T) {
	sc := mustParse(t, "t60 c4")
	rec := newRecorder()
	var ended int
	seq := NewWithOptions(sc, rec, 100, Options{
		ReleaseTailFrames: 50,
		OnEvent: func(k EventKind) {
			if k == EventPlaybackEnded {
				ended++
			}
		},
	})
	buf := make([]float32, 2*40)
	for i := 0; i < 3; i++ {
		seq.Process(buf)
	}
	if seq.Finished() {
		t.Fatalf("finished before the score ended")
	}
	// The tail countdown starts once the score is over and voices are silent.
	for i := 0; i < 4; i++ {
		seq.Process(buf)
	}
	if !seq.Finished() || ended != 1 {
		t.Fatalf("finished = %v, ended = %d", seq.Finished(), ended)
	}
	seq.Process(buf)
	if ended != 1 {
		t.Fatalf("playback ended fired %d times", ended)
	}
}

func TestLoopWholeScore(t *testing.T) {
	sc := mustParse(t, "t60 c4 r")
	rec := newRecorder()
	var loops int
	seq := NewWithOptions(sc, rec, 10, Options{
		LoopWholeScore: true,
		OnEvent: func(k EventKind) {
			if k == EventLoopCompleted {
				loops++
			}
		},
	})
	seq.Process(make([]float32, 2*50))
	if loops != 2 {
		t.Fatalf("loops = %d, want 2", loops)
	}
	var ons []int
	for _, c := range rec.calls {
		if c.on {
			ons = append(ons, c.frame)
		}
	}
	if len(ons) != 3 || ons[0] != 0 || ons[1] != 20 || ons[2] != 40 {
		t.Fatalf("note-on frames = %v, want [0 20 40]", ons)
	}
	if seq.Finished() {
		t.Fatalf("looping playback should never finish")
	}
}

func TestTransposeDropsOutOfRangeKeys(t *testing.T) {
	sc := mustParse(t, "c4 g9")
	rec := newRecorder()
	seq := NewWithOptions(sc, rec, 100, Options{Transpose: 12})
	seq.Process(make([]float32, 2*200))
	for _, c := range rec.calls {
		if c.key != 72 {
			t.Fatalf("unexpected key %d", c.key)
		}
	}
	if len(rec.calls) != 2 {
		t.Fatalf("calls = %+v", rec.calls)
	}
}

func TestStopReleasesEverything(t *testing.T) {
	sc := mustParse(t, "c4 d4 e4")
	rec := newRecorder()
	seq := New(sc, rec, 100)
	seq.Process(make([]float32, 20))
	seq.Stop()
	n := len(rec.calls)
	seq.Process(make([]float32, 2*1000))
	if rec.allOffs != 1 || len(rec.calls) != n {
		t.Fatalf("stop should release and skip the rest, allOffs=%d calls=%+v", rec.allOffs, rec.calls)
	}
}
