// Package audio streams a SampleSource to the sound card through ebiten or
// oto.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

type SampleSource interface {
	Process(dst []float32)
}

// FinishingSource is a SampleSource that can signal when playback has ended.
// When Finished returns true, the stream will return io.EOF on the next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// Backend is an output device playing one stream.
type Backend interface {
	Play()
	Pause()
	IsPlaying() bool
	Stop() error
}

// StreamReader adapts a SampleSource to an io.Reader of interleaved stereo
// float32 little-endian frames.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
	tap    func([]float32)
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

// SetTap installs fn to observe every rendered buffer. fn runs on the audio
// goroutine and must not retain the slice.
func (r *StreamReader) SetTap(fn func([]float32)) {
	r.mu.Lock()
	r.tap = fn
	r.mu.Unlock()
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	if r.tap != nil {
		r.tap(r.buf)
	}
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

func (r *StreamReader) Close() error { return nil }

// Kind names an output backend.
type Kind string

const (
	KindEbiten Kind = "ebiten"
	KindOto    Kind = "oto"
)

// ParseKind accepts "ebiten" or "oto"; empty means ebiten.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindEbiten:
		return KindEbiten, nil
	case KindOto:
		return KindOto, nil
	}
	return "", fmt.Errorf("audio: unknown backend %q", s)
}

// Open starts no sound yet; call Play on the result.
func Open(kind Kind, sampleRate int, reader *StreamReader) (Backend, error) {
	switch kind {
	case "", KindEbiten:
		return newEbitenPlayer(sampleRate, reader)
	case KindOto:
		return newOtoPlayer(sampleRate, reader)
	}
	return nil, fmt.Errorf("audio: unknown backend %q", kind)
}

// Player plays through ebiten's audio context.
type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

func NewPlayer(sampleRate int, source SampleSource) (*Player, error) {
	return newEbitenPlayer(sampleRate, NewStreamReader(source))
}

func newEbitenPlayer(sampleRate int, reader *StreamReader) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{
		player: pl,
		reader: reader,
	}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

func (p *Player) Stop() error {
	p.player.Pause()
	p.player.Close()
	return p.reader.Close()
}

// OtoPlayer plays through an oto context directly.
type OtoPlayer struct {
	mu     sync.Mutex
	player *oto.Player
	reader io.ReadCloser
}

var (
	otoContextOnce sync.Once
	otoContext     *oto.Context
	otoContextErr  error
	otoSampleRate  int
)

func sharedOtoContext(sampleRate int) (*oto.Context, error) {
	otoContextOnce.Do(func() {
		otoSampleRate = sampleRate
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			otoContextErr = err
			return
		}
		<-ready
		otoContext = ctx
	})
	if otoContextErr != nil {
		return nil, otoContextErr
	}
	if otoSampleRate != sampleRate {
		return nil, fmt.Errorf("oto context already initialized at %d Hz (requested %d Hz)", otoSampleRate, sampleRate)
	}
	return otoContext, nil
}

// NewOtoPlayer opens source on the shared oto context.
func NewOtoPlayer(sampleRate int, source SampleSource) (*OtoPlayer, error) {
	return newOtoPlayer(sampleRate, NewStreamReader(source))
}

func newOtoPlayer(sampleRate int, reader *StreamReader) (*OtoPlayer, error) {
	ctx, err := sharedOtoContext(sampleRate)
	if err != nil {
		return nil, err
	}
	return &OtoPlayer{player: ctx.NewPlayer(reader), reader: reader}, nil
}

func (p *OtoPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		p.player.Play()
	}
}

func (p *OtoPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player != nil {
		p.player.Pause()
	}
}

func (p *OtoPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player != nil && p.player.IsPlaying()
}

func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return nil
	}
	p.player.Pause()
	err := p.player.Close()
	p.player = nil
	if cerr := p.reader.Close(); err == nil {
		err = cerr
	}
	return err
}
