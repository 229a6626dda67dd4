package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"character-insights-go/internal/analysis"
	"character-insights-go/internal/audio"
	"character-insights-go/internal/config"
	"character-insights-go/internal/emotion"
	"character-insights-go/internal/logger"
	"character-insights-go/internal/pipeline"
	"character-insights-go/internal/profile"
	"character-insights-go/internal/report"
	"character-insights-go/internal/transcription"
)

func main() {
	_ = godotenv.Load() // loads .env

	var (
		configPath = flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
		input      = flag.String("in", "-", "WAV file to stream, or - for raw s16le PCM on stdin")
		sessionID  = flag.String("session", "", "session id (generated when empty)")
		bindSpec   = flag.String("bind", "", "speaker bindings, e.g. speaker_1=kara,speaker_2=elias")
		realtime   = flag.Bool("realtime", false, "pace playback at recording speed")
	)
	flag.Parse()

	log := logger.New().WithField("service", "character-insights-go")
	log.Info("starting session")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	samples, sampleRate, err := readInput(*input, cfg.Audio.SampleRate)
	if err != nil {
		log.WithError(err).Fatal("failed to read input")
	}
	cfg.Audio.SampleRate = sampleRate

	store, err := profile.NewFileStore(cfg.Store.Dir)
	if err != nil {
		log.WithError(err).Fatal("failed to open profile store")
	}

	llm := analysis.NewClient(cfg.Analysis)
	pipe := pipeline.New(cfg, *sessionID, pipeline.Deps{
		Transcriber: transcription.NewClient(cfg.Transcription),
		Emotions:    emotion.NewClient(cfg.Emotion),
		Analyzer:    llm,
		Repairer:    llm,
		Store:       store,
	})
	log = log.WithField("session_id", pipe.SessionID())

	if cfg.Speaker.ProfilePath != "" {
		if err := pipe.Pool().Load(cfg.Speaker.ProfilePath); err != nil {
			log.WithError(err).Warn("could not load speaker pool, starting fresh")
		}
	}
	if err := applyBindings(pipe, *bindSpec); err != nil {
		log.WithError(err).Fatal("invalid -bind value")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go feed(ctx, pipe, samples, sampleRate, *realtime, log)

	if err := pipe.Run(ctx); err != nil {
		log.WithError(err).Warn("session ended early")
	}

	if cfg.Speaker.ProfilePath != "" {
		if err := pipe.Pool().Save(cfg.Speaker.ProfilePath); err != nil {
			log.WithError(err).Error("failed to save speaker pool")
		}
	}

	records := pipe.Records()
	stats := report.Summarize(records)
	if err := report.NewExporter().Export(cfg.Report.Path, stats, records, pipe.Pool().Speakers()); err != nil {
		log.WithError(err).Error("failed to write session report")
	}

	log.WithFields(map[string]interface{}{
		"observations": stats.Observations,
		"merged":       stats.Merged,
		"failed":       stats.Failed,
		"skipped":      stats.Skipped,
		"speakers":     len(stats.Speakers),
		"drops":        pipe.Drops(),
	}).Info("session finished")
}

// feed pushes the capture in 100ms chunks and closes the input when
// the source is exhausted or the session is cancelled.
func feed(ctx context.Context, pipe *pipeline.Pipeline, samples []int16, sampleRate int, realtime bool, log *logrus.Entry) {
	chunk := sampleRate / 10
	if chunk < 1 {
		chunk = 1
	}
	pace := time.Duration(0)
	if realtime {
		pace = 100 * time.Millisecond
	}

	for len(samples) > 0 {
		n := chunk
		if n > len(samples) {
			n = len(samples)
		}
		if err := pipe.PushAudio(ctx, samples[:n]); err != nil {
			log.WithError(err).Warn("stopped feeding audio")
			break
		}
		samples = samples[n:]
		if pace > 0 {
			select {
			case <-ctx.Done():
				samples = nil
			case <-time.After(pace):
			}
		}
	}
	if err := pipe.CloseInput(ctx); err != nil {
		log.WithError(err).Warn("failed to flush input")
	}
}

// readInput loads the whole source up front. WAV files carry their own
// rate; stdin is raw s16le PCM at the configured rate.
func readInput(path string, fallbackRate int) ([]int16, int, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, 0, fmt.Errorf("read stdin: %w", err)
		}
		return bytesToSamples(raw), fallbackRate, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, rate, err := audio.DecodeWAV(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("decode %s: %w", path, err)
		}
		return samples, rate, nil
	}
	return bytesToSamples(raw), fallbackRate, nil
}

func bytesToSamples(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out
}

func applyBindings(pipe *pipeline.Pipeline, spec string) error {
	if spec == "" {
		return nil
	}
	for _, pair := range strings.Split(spec, ",") {
		speakerID, characterID, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || speakerID == "" || characterID == "" {
			return fmt.Errorf("malformed binding %q", pair)
		}
		pipe.Bindings().Bind(speakerID, characterID)
	}
	return nil
}
