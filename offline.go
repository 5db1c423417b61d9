package additive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	intparams "github.com/cbegin/additive-go/internal/params"
	intseq "github.com/cbegin/additive-go/internal/sequencer"
	intspec "github.com/cbegin/additive-go/internal/spectrum"
	intsynth "github.com/cbegin/additive-go/internal/synth"
)

// maxTailSeconds bounds an open-ended render waiting for release tails.
const maxTailSeconds = 30

// RenderConfig describes an offline render. Zero fields take defaults: a
// 48 kHz saw with default params and the synth's default pool.
type RenderConfig struct {
	SampleRate int
	Seconds    float64 // <= 0 renders until every note has rung out
	Spectrum   *intspec.Spectrum
	Params     *intparams.Params
	Polyphony  int
	Seed       uint64
	Transpose  int
}

// RenderScore renders score to interleaved stereo float32 samples.
func RenderScore(score *intseq.Score, rc RenderConfig) ([]float32, error) {
	if score == nil {
		return nil, errors.New("nil score")
	}
	cfg := intsynth.DefaultConfig()
	if rc.SampleRate > 0 {
		cfg.SampleRate = rc.SampleRate
	}
	if rc.Polyphony > 0 {
		cfg.Polyphony = rc.Polyphony
	}
	if rc.Seed != 0 {
		cfg.Seed = rc.Seed
	}
	spec := rc.Spectrum
	if spec == nil {
		spec = intspec.Saw()
	}
	p := intparams.DefaultParams()
	if rc.Params != nil {
		p = *rc.Params
	}
	// Events sharing a frame are all queued before the synth drains them.
	cfg.EventQueue = max(cfg.EventQueue, 2*len(score.Notes))
	synth, err := intsynth.New(cfg, spec, p)
	if err != nil {
		return nil, err
	}
	seq := intseq.NewWithOptions(score, synth, cfg.SampleRate, intseq.Options{Transpose: rc.Transpose})

	if rc.Seconds > 0 {
		out := make([]float32, int(float64(cfg.SampleRate)*rc.Seconds)*2)
		seq.Process(out)
		return out, nil
	}

	limit := int((score.Duration + maxTailSeconds) * float64(cfg.SampleRate))
	chunk := cfg.BlockSize
	var out []float32
	for frames := 0; frames < limit && !seq.Finished(); frames += chunk {
		n := len(out)
		out = append(out, make([]float32, 2*chunk)...)
		seq.Process(out[n:])
	}
	return out, nil
}

// WriteWAV encodes interleaved stereo samples as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("sampleRate must be positive")
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 2, 1)
	data := make([]int, len(samples)&^1)
	for i := range data {
		v := float64(samples[i])
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(-1, math.Min(1, v))
		data[i] = int(math.Round(v * math.MaxInt16))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
