package main

// Runs the detection pipeline over a WAV recording as fast as possible and
// prints every alert, for offline evaluation of a prototype model.

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/joho/godotenv"

	"drone-sentry/alert"
	"drone-sentry/capture"
	"drone-sentry/infer"
	"drone-sentry/models"
	"drone-sentry/sentry"
	"drone-sentry/utils"
)

type nullLine struct{}

func (nullLine) Set(active bool) {}

// printSink writes detection events to stdout as they fire.
type printSink struct {
	count int
}

func (s *printSink) PublishDetection(d models.Detection) {
	s.count++
	fmt.Printf("ALERT #%d  t=%s  confidence=%.3f  bearing=%.1f° (conf %.2f)  snr=%.1fdB  latency=%.2fms\n",
		s.count, d.Timestamp.Format("15:04:05.000"), d.Confidence,
		d.BearingDeg, d.BearingConfidence, d.SNRDb, d.LatencyMs)
}

func main() {
	_ = godotenv.Load()

	wavPath := flag.String("wav", "", "Recording to replay (required)")
	modelPath := flag.String("model", "", "Prototype file (defaults to PROTOTYPE_PATH)")
	flag.Parse()

	if *wavPath == "" {
		log.Fatal("usage: replay -wav recording.wav [-model prototypes.json]")
	}

	cfg := sentry.ConfigFromEnv()

	if *modelPath == "" {
		*modelPath = utils.GetEnv("PROTOTYPE_PATH", filepath.Join("storage", "prototypes.json"))
	}
	engine, err := infer.NewPrototypeEngineFromFile(*modelPath, utils.GetEnvInt("MODEL_K", 5), cfg.Classes)
	if err != nil {
		log.Fatalf("failed to load prototype model: %v", err)
	}

	source, err := capture.NewWAVSource(*wavPath, cfg.HopSize)
	if err != nil {
		log.Fatalf("failed to open recording: %v", err)
	}
	if source.SampleRate() != cfg.SampleRate {
		log.Printf("WARNING: recording sample rate %d does not match configured %d",
			source.SampleRate(), cfg.SampleRate)
	}

	sink := &printSink{}
	detector, err := sentry.NewDetector(cfg, sentry.Deps{
		Source:   source,
		Engine:   engine,
		Actuator: alert.NewActuator(nullLine{}, nullLine{}),
		Sink:     sink,
	})
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}

	ctx := context.Background()
	cycles := 0
	for {
		err := detector.Step(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("cycle %d failed: %v", cycles, err)
		}
		cycles++
	}

	status := detector.Snapshot()
	fmt.Printf("\nReplayed %d hops (%.1fs of audio): %d alerts, final state %s, last confidence %.3f\n",
		cycles, float64(cycles)*cfg.HopInterval().Seconds(), sink.count, status.State, status.Confidence)
}
