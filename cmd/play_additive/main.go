package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cbegin/additive-go"
	"github.com/cbegin/additive-go/internal/analysis"
	"github.com/cbegin/additive-go/internal/params"
	"github.com/cbegin/additive-go/internal/spectrum"
	"github.com/cbegin/additive-go/internal/wavetable"
)

const defaultScore = "t96 l0.5 a2+e3+a3/2 c4 e4 a4 g4+b3/2 e4 d4 c4+a3/2"

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		preset     = flag.String("preset", "saw", "harmonic preset: "+strings.Join(spectrum.Names(), "|"))
		specText   = flag.String("spectrum", "", `explicit harmonics, e.g. "1:1, 2:0.5@0.25" (overrides -preset)`)
		wavb       = flag.String("wavb", "", "hex signed 8-bit single-cycle waveform to analyse into harmonics (overrides -preset)")
		scoreText  = flag.String("score", "", "inline score")
		scorePath  = flag.String("file", "", "path to a score file")
		outPath    = flag.String("out", "", "render to this WAV file instead of playing")
		seconds    = flag.Float64("seconds", 0, "render length for -out (0 = until the last note rings out)")
		unison     = flag.Int("unison", 0, fmt.Sprintf("unison pairs (0..%d)", params.MaxUnisonPairs))
		detune     = flag.Float64("detune", 12, "unison spread in cents")
		octave     = flag.Float64("octave", 0, "octave shift")
		backend    = flag.String("backend", "ebiten", "audio backend: ebiten|oto")
		polyphony  = flag.Int("polyphony", 16, "voice count")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		loop       = flag.Bool("loop", false, "loop playback; use with -loops to count then stop")
		loops      = flag.Int("loops", 3, "when -loop, stop after N loops (0 = loop forever)")
		keys       = flag.Bool("keys", false, "play live from the computer keyboard")
		hold       = flag.Duration("hold", 400*time.Millisecond, "note length for -keys")
		inspect    = flag.Bool("inspect", false, "print the table family's measured harmonic content and exit")
		logLevel   = flag.String("log-level", "info", "log level: debug|info|warn|error")
	)
	flag.Parse()

	logger, err := newLogger(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(logger)

	spec, err := resolveSpectrum(*preset, *specText, *wavb)
	if err != nil {
		log.Fatal(err)
	}
	if *inspect {
		if err := inspectFamily(os.Stdout, spec, wavetable.DefaultResolution, *sampleRate); err != nil {
			log.Fatal(err)
		}
		return
	}

	p := params.DefaultParams()
	p.UnisonPairs = *unison
	p.UnisonDetuneCents = *detune
	p.Octave = *octave
	if err := p.Validate(); err != nil {
		log.Fatal(err)
	}

	if *keys {
		pl, err := additive.NewPlayer(*sampleRate,
			additive.WithSpectrum(spec),
			additive.WithParams(p),
			additive.WithPolyphony(*polyphony),
			additive.WithBackend(additive.Backend(*backend)),
			additive.WithLogger(logger))
		if err != nil {
			log.Fatal(err)
		}
		pl.SetMasterVolume(*volume)
		if err := playKeys(pl, *hold); err != nil {
			log.Fatal(err)
		}
		return
	}

	text, err := resolveScoreInput(*scorePath, *scoreText)
	if err != nil {
		log.Fatal(err)
	}
	score, err := additive.Compile(text)
	if err != nil {
		log.Fatal(err)
	}

	if *outPath != "" {
		start := time.Now()
		samples, err := additive.RenderScore(score, additive.RenderConfig{
			SampleRate: *sampleRate,
			Seconds:    *seconds,
			Spectrum:   spec,
			Params:     &p,
			Polyphony:  *polyphony,
		})
		if err != nil {
			log.Fatal(err)
		}
		if err := writeFile(*outPath, samples, *sampleRate, *volume); err != nil {
			log.Fatal(err)
		}
		logger.Info("rendered",
			"path", *outPath,
			"frames", len(samples)/2,
			"elapsed", time.Since(start))
		return
	}

	pl, err := additive.NewPlayer(*sampleRate,
		additive.WithSpectrum(spec),
		additive.WithParams(p),
		additive.WithPolyphony(*polyphony),
		additive.WithBackend(additive.Backend(*backend)),
		additive.WithLoopPlayback(*loop),
		additive.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)
	ch := pl.Watch()
	if err := pl.Play(score); err != nil {
		log.Fatal(err)
	}
	loopCount := 0
	for event := range ch {
		switch event.Kind {
		case additive.EventPlaybackEnded:
			fmt.Println("playback completed")
			goto done
		case additive.EventLoopCompleted:
			loopCount++
			fmt.Printf("loop %d completed\n", loopCount)
			if *loop && *loops > 0 && loopCount >= *loops {
				pl.Stop()
			}
		}
	}
done:
	pl.Wait()
}

func resolveScoreInput(path string, inline string) (string, error) {
	if strings.TrimSpace(inline) != "" {
		return inline, nil
	}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return defaultScore, nil
}

func resolveSpectrum(preset, text, wavb string) (*spectrum.Spectrum, error) {
	switch {
	case strings.TrimSpace(text) != "":
		return spectrum.Parse(text)
	case strings.TrimSpace(wavb) != "":
		wave := wavetable.ParseWAVB(strings.TrimSpace(wavb))
		if wave == nil {
			return nil, fmt.Errorf("invalid -wavb hex %q", wavb)
		}
		spec, err := analysis.FromWaveform(wave)
		if err != nil {
			return nil, err
		}
		spec.Normalize()
		return spec, nil
	}
	return spectrum.Preset(preset)
}

func writeFile(path string, samples []float32, sampleRate int, volume float64) error {
	if volume != 1 {
		for i := range samples {
			samples[i] *= float32(volume)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := additive.WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
