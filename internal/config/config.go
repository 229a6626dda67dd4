package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Audio         AudioConfig      `yaml:"audio"`
	Segmenter     SegmenterConfig  `yaml:"segmenter"`
	Buffer        BufferConfig     `yaml:"buffer"`
	Speaker       SpeakerConfig    `yaml:"speaker"`
	Fusion        FusionConfig     `yaml:"fusion"`
	Transcription CapabilityConfig `yaml:"transcription"`
	Emotion       CapabilityConfig `yaml:"emotion"`
	Analysis      AnalysisConfig   `yaml:"analysis"`
	Store         StoreConfig      `yaml:"store"`
	Report        ReportConfig     `yaml:"report"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameMS    int `yaml:"frame_ms"`
}

type SegmenterConfig struct {
	EnergyThresholdDB float64 `yaml:"energy_threshold_db"`
	SilenceHoldMS     int     `yaml:"silence_hold_ms"`
	MaxUtteranceMS    int     `yaml:"max_utterance_ms"`
	OverlapMS         int     `yaml:"overlap_ms"`
	MinUtteranceMS    int     `yaml:"min_utterance_ms"`
}

type BufferConfig struct {
	Capacity   int  `yaml:"capacity"`
	LowLatency bool `yaml:"low_latency"`
}

type SpeakerConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	CentroidWeightCap   int     `yaml:"centroid_weight_cap"`
	ProfilePath         string  `yaml:"profile_path"`
}

type FusionConfig struct {
	HistoryTurns   int      `yaml:"history_turns"`
	PromptTemplate string   `yaml:"prompt_template"`
	JunkPhrases    []string `yaml:"junk_phrases"`
}

// CapabilityConfig covers the plain HTTP capabilities (transcription, emotion).
type CapabilityConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type AnalysisConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSec     int     `yaml:"timeout_sec"`
	MaxElapsedSec  int     `yaml:"max_elapsed_sec"`
	MaxConcurrency int     `yaml:"max_concurrency"`
}

type StoreConfig struct {
	Dir         string `yaml:"dir"`
	MaxAttempts int    `yaml:"max_merge_attempts"`
}

type ReportConfig struct {
	Path string `yaml:"path"`
}

// Default returns the compiled-in configuration. Values mirror the
// production deployment: 16kHz mono s16le, 30ms VAD frames, 3s max
// utterance, 0.85 speaker similarity.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameMS:    30,
		},
		Segmenter: SegmenterConfig{
			EnergyThresholdDB: -40.0,
			SilenceHoldMS:     600,
			MaxUtteranceMS:    3000,
			OverlapMS:         300,
			MinUtteranceMS:    500,
		},
		Buffer: BufferConfig{
			Capacity:   32,
			LowLatency: false,
		},
		Speaker: SpeakerConfig{
			SimilarityThreshold: 0.85,
			CentroidWeightCap:   50,
		},
		Fusion: FusionConfig{
			HistoryTurns: 5,
			JunkPhrases: []string{
				"thanks for watching",
				"thank you for watching",
				"please subscribe",
			},
		},
		Transcription: CapabilityConfig{TimeoutSec: 30},
		Emotion:       CapabilityConfig{TimeoutSec: 15},
		Analysis: AnalysisConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Temperature:    0.4,
			TimeoutSec:     60,
			MaxElapsedSec:  90,
			MaxConcurrency: 2,
		},
		Store: StoreConfig{
			Dir:         "data/profiles",
			MaxAttempts: 5,
		},
		Report: ReportConfig{
			Path: "data/session_report.xlsx",
		},
	}
}

// Load reads an optional YAML file over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Analysis.APIKey = envOr("LLM_API_KEY", c.Analysis.APIKey)
	c.Analysis.BaseURL = envOr("LLM_BASE_URL", c.Analysis.BaseURL)
	c.Analysis.Model = envOr("LLM_MODEL", c.Analysis.Model)
	c.Transcription.URL = envOr("TRANSCRIBE_URL", c.Transcription.URL)
	c.Emotion.URL = envOr("EMOTION_URL", c.Emotion.URL)
	c.Store.Dir = envOr("STORE_DIR", c.Store.Dir)
	c.Speaker.ProfilePath = envOr("SPEAKER_PROFILE_PATH", c.Speaker.ProfilePath)
	c.Report.Path = envOr("REPORT_PATH", c.Report.Path)
}

func (a AudioConfig) FrameSamples() int {
	return a.SampleRate * a.FrameMS / 1000
}

func (s SegmenterConfig) SilenceHold() time.Duration {
	return time.Duration(s.SilenceHoldMS) * time.Millisecond
}

func (s SegmenterConfig) MaxUtterance() time.Duration {
	return time.Duration(s.MaxUtteranceMS) * time.Millisecond
}

func (s SegmenterConfig) Overlap() time.Duration {
	return time.Duration(s.OverlapMS) * time.Millisecond
}

func (s SegmenterConfig) MinUtterance() time.Duration {
	return time.Duration(s.MinUtteranceMS) * time.Millisecond
}

func (c CapabilityConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

func (a AnalysisConfig) MaxElapsed() time.Duration {
	return time.Duration(a.MaxElapsedSec) * time.Second
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
