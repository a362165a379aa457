package main

// Builds a prototype model from a directory of labelled WAV recordings:
//
//	samples/
//	  noise/*.wav
//	  drone/*.wav
//
// Each recording is cut into non-overlapping spectrogram tensors matching
// the live pipeline (hop-stepped mel rows, timeFrames per tensor) and every
// tensor becomes one labelled prototype.

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"drone-sentry/capture"
	"drone-sentry/dsp"
	"drone-sentry/infer"
	"drone-sentry/sentry"
)

func main() {
	_ = godotenv.Load()

	samplesDir := flag.String("samples", "samples", "Directory of per-label WAV folders")
	outPath := flag.String("out", filepath.Join("storage", "prototypes.json"), "Output prototype file")
	flag.Parse()

	cfg := sentry.ConfigFromEnv()

	entries, err := os.ReadDir(*samplesDir)
	if err != nil {
		log.Fatalf("failed to read samples directory: %v", err)
	}

	engine, err := infer.NewEmptyPrototypeEngine(*outPath, 5, cfg.Classes)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	total := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()
		if !isKnownClass(cfg.Classes, label) {
			log.Printf("skipping folder %s: not a configured class", label)
			continue
		}

		labelDir := filepath.Join(*samplesDir, label)
		files, err := os.ReadDir(labelDir)
		if err != nil {
			log.Fatalf("failed to read %s: %v", labelDir, err)
		}

		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(strings.ToLower(file.Name()), ".wav") {
				continue
			}
			wavPath := filepath.Join(labelDir, file.Name())

			tensors, err := tensorsFromWAV(wavPath, cfg)
			if err != nil {
				log.Printf("skipping %s: %v", wavPath, err)
				continue
			}

			for _, tensor := range tensors {
				proto := infer.Prototype{
					ID:       uuid.NewString(),
					Label:    label,
					Source:   file.Name(),
					Features: tensor,
				}
				if err := engine.AddPrototype(proto); err != nil {
					log.Fatalf("failed to add prototype from %s: %v", wavPath, err)
				}
				total++
			}
			fmt.Printf("%s: %d tensors\n", wavPath, len(tensors))
		}
	}

	if total == 0 {
		log.Fatal("no prototypes built; check the samples directory layout")
	}

	if err := engine.SaveToFile(); err != nil {
		log.Fatalf("failed to save prototypes: %v", err)
	}

	stats := engine.Stats()
	fmt.Printf("Saved %d prototypes (%d labels) to %s\n", stats.PrototypeCount, stats.LabelCount, *outPath)
}

func isKnownClass(classes []string, label string) bool {
	for _, c := range classes {
		if c == label {
			return true
		}
	}
	return false
}

// tensorsFromWAV runs the live DSP chain over a recording and groups the mel
// rows into inference tensors.
func tensorsFromWAV(path string, cfg sentry.Config) ([][]float64, error) {
	wav, err := capture.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	if wav.SampleRate != cfg.SampleRate {
		return nil, fmt.Errorf("sample rate %d does not match configured %d", wav.SampleRate, cfg.SampleRate)
	}

	proc, err := dsp.NewProcessor(cfg.SampleRate, cfg.FFTSize, cfg.MelBins)
	if err != nil {
		return nil, err
	}

	samples := wav.Samples[0]
	melRow := make([]float64, cfg.MelBins)

	var tensors [][]float64
	tensor := make([]float64, 0, cfg.TensorSize())

	for start := 0; start+cfg.FFTSize <= len(samples); start += cfg.HopSize {
		window := dsp.Preprocess(samples[start:start+cfg.FFTSize], cfg.SampleRate, cfg.Preprocess)
		if err := proc.ComputeMelSpectrogram(window, melRow); err != nil {
			return nil, err
		}
		for _, v := range melRow {
			tensor = append(tensor, dsp.NormalizeDb(v))
		}
		if len(tensor) == cfg.TensorSize() {
			tensors = append(tensors, tensor)
			tensor = make([]float64, 0, cfg.TensorSize())
		}
	}

	return tensors, nil
}
