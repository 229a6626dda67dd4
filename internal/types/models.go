package types

import "time"

// Utterance is one contiguous span of voiced audio cut by the
// segmenter. Samples are ephemeral and dropped after feature
// extraction; Start/End are offsets from stream start.
type Utterance struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Seq        uint64        `json:"seq"`
	Start      time.Duration `json:"start_ts"`
	End        time.Duration `json:"end_ts"`
	SampleRate int           `json:"sample_rate"`
	Overlap    bool          `json:"overlap,omitempty"`
	Samples    []int16       `json:"-"`
}

func (u Utterance) Duration() time.Duration {
	return u.End - u.Start
}

// AcousticFeatures is the paralinguistic summary of one utterance.
// Confidence 0 marks a below-minimum-window utterance whose MFCC set
// could not be computed.
type AcousticFeatures struct {
	MFCC       []float64 `json:"mfcc,omitempty"`
	PitchHz    float64   `json:"pitch_hz"`
	EnergyDB   float64   `json:"energy_db"`
	DurationMS float64   `json:"duration_ms"`
	SpeechRate float64   `json:"speech_rate"`
	Confidence float64   `json:"confidence"`
}

type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Emotion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Observation is the fused per-utterance record handed to the analysis
// capability. Degraded marks observations whose transcription or
// emotion capability failed hard; they are kept, not dropped.
type Observation struct {
	ID                   string           `json:"id"`
	SessionID            string           `json:"session_id"`
	SpeakerID            string           `json:"speaker_id"`
	SpeakerName          string           `json:"speaker_name"`
	CharacterID          string           `json:"character_id,omitempty"`
	Transcript           string           `json:"transcript"`
	TranscriptConfidence float64          `json:"transcript_confidence"`
	EmotionLabel         string           `json:"emotion_label"`
	EmotionConfidence    float64          `json:"emotion_confidence"`
	Features             AcousticFeatures `json:"features"`
	Start                time.Duration    `json:"start_ts"`
	End                  time.Duration    `json:"end_ts"`
	CapturedAt           time.Time        `json:"captured_at"`
	Degraded             bool             `json:"degraded,omitempty"`
}
