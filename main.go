package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"drone-sentry/alert"
	"drone-sentry/capture"
	"drone-sentry/db"
	"drone-sentry/infer"
	"drone-sentry/sentry"
	"drone-sentry/utils"
)

// logLine stands in for a GPIO output on host builds, logging transitions.
type logLine struct {
	name string
	last bool
}

func (l *logLine) Set(active bool) {
	if active != l.last {
		log.Printf("[%s] active=%v", l.name, active)
		l.last = active
	}
}

// logTones prints tone patterns instead of driving a buzzer.
type logTones struct{}

func (logTones) PlayTone(frequencyHz int, duration time.Duration) {
	log.Printf("[tone] %dHz for %s", frequencyHz, duration)
}

// fixedBattery reports a constant supply voltage, for exercising the battery
// state machine without hardware.
type fixedBattery struct {
	voltage float64
}

func (b fixedBattery) Voltage() float64 { return b.voltage }

// nullEngine satisfies the engine dependency for flows that never run
// inference, like standalone calibration.
type nullEngine struct {
	classes []string
}

func (e nullEngine) Infer(tensor []float64) ([]float64, error) {
	return make([]float64, len(e.classes)), nil
}

func (e nullEngine) Classes() []string { return e.classes }

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Expected 'run' or 'calibrate' subcommand")
		os.Exit(1)
	}
	_ = godotenv.Load()

	switch os.Args[1] {
	case "run":
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		port := runCmd.String("p", "5000", "Port for the monitor endpoint")
		wavPath := runCmd.String("wav", "", "Replay a WAV file instead of the synthetic source")
		runCmd.Parse(os.Args[2:])
		run(*port, *wavPath)
	case "calibrate":
		calCmd := flag.NewFlagSet("calibrate", flag.ExitOnError)
		duration := calCmd.Duration("duration", 30*time.Second, "Calibration duration")
		wavPath := calCmd.String("wav", "", "Calibrate from a WAV file instead of the synthetic source")
		calCmd.Parse(os.Args[2:])
		calibrate(*duration, *wavPath)
	default:
		fmt.Println("Expected 'run' or 'calibrate' subcommand")
		os.Exit(1)
	}
}

// buildEngine selects the inference backend. The second return value is
// non-nil only for the prototype engine, which supports hot reload.
func buildEngine(cfg sentry.Config) (infer.Engine, *infer.PrototypeEngine) {
	engineType := utils.GetEnv("INFER_ENGINE", "prototype")

	switch engineType {
	case "remote":
		serviceURL := utils.GetEnv("INFERENCE_SERVICE_URL", "http://localhost:5002")
		remote := infer.NewRemoteEngine(serviceURL, cfg.TimeFrames, cfg.MelBins, cfg.Classes)
		if err := remote.HealthCheck(); err != nil {
			log.Fatalf("inference service unavailable: %v", err)
		}
		log.Printf("Using remote inference service at %s", serviceURL)
		return remote, nil
	case "prototype":
		modelPath := utils.GetEnv("PROTOTYPE_PATH", filepath.Join("storage", "prototypes.json"))
		k := utils.GetEnvInt("MODEL_K", 5)

		engine, err := infer.NewPrototypeEngineFromFile(modelPath, k, cfg.Classes)
		if err != nil {
			log.Fatalf("failed to load prototype model: %v", err)
		}
		stats := engine.Stats()
		log.Printf("Loaded %d prototypes (%d labels) from %s", stats.PrototypeCount, stats.LabelCount, engine.ModelPath())
		return engine, engine
	default:
		log.Fatalf("unsupported inference engine type: %s", engineType)
		return nil, nil
	}
}

func buildSource(cfg sentry.Config, wavPath string) sentry.FrameSource {
	if wavPath != "" {
		source, err := capture.NewWAVSource(wavPath, cfg.HopSize)
		if err != nil {
			log.Fatalf("failed to open replay file: %v", err)
		}
		if source.SampleRate() != cfg.SampleRate {
			log.Printf("WARNING: replay file sample rate %d does not match configured %d",
				source.SampleRate(), cfg.SampleRate)
		}
		log.Printf("Replaying %s (fourChannel=%v)", wavPath, source.FourChannel())
		return source
	}

	log.Println("No capture input configured, using synthetic source")
	return capture.NewSyntheticSource(cfg.SampleRate, cfg.HopSize, time.Now().UnixNano())
}

func buildBattery() sentry.BatteryMonitor {
	if v := utils.GetEnvFloat("BATTERY_VOLTAGE", 0); v > 0 {
		return fixedBattery{voltage: v}
	}
	return nil
}

func run(port, wavPath string) {
	logger := utils.GetLogger()
	cfg := sentry.ConfigFromEnv()

	store, err := db.NewDBClient()
	if err != nil {
		log.Fatalf("failed to open detection store: %v", err)
	}
	defer store.Close()

	engine, protoEngine := buildEngine(cfg)
	source := buildSource(cfg, wavPath)
	actuator := alert.NewActuator(&logLine{name: "buzzer"}, &logLine{name: "vibration"})

	controller := newSocketController(nil, store)

	detector, err := sentry.NewDetector(cfg, sentry.Deps{
		Source:   source,
		Engine:   engine,
		Actuator: actuator,
		Tones:    logTones{},
		Battery:  buildBattery(),
		Store:    store,
		Sink:     controller,
	})
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}
	controller.detector = detector

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if protoEngine != nil {
		go func() {
			if err := infer.WatchPrototypes(ctx, protoEngine); err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "prototype watcher stopped", slog.Any("error", xerrors.New(err)))
			}
		}()
	}

	go serve(ctx, port, controller)

	if err := detector.Run(ctx); err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "detector stopped", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

func calibrate(duration time.Duration, wavPath string) {
	cfg := sentry.ConfigFromEnv()

	store, err := db.NewDBClient()
	if err != nil {
		log.Fatalf("failed to open detection store: %v", err)
	}
	defer store.Close()

	source := buildSource(cfg, wavPath)
	actuator := alert.NewActuator(&logLine{name: "buzzer"}, &logLine{name: "vibration"})

	detector, err := sentry.NewDetector(cfg, sentry.Deps{
		Source:   source,
		Engine:   nullEngine{classes: cfg.Classes},
		Actuator: actuator,
		Tones:    logTones{},
		Store:    store,
	})
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := detector.Calibrate(ctx, duration); err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
	log.Println("Calibration complete, noise profile stored")
}
