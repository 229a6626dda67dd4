// Package fusion combines transcript, vocal emotion, acoustics and
// anchor profile context into observations and analysis requests.
package fusion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"character-insights-go/internal/analysis"
	"character-insights-go/internal/config"
	"character-insights-go/internal/logger"
	"character-insights-go/internal/profile"
	"character-insights-go/internal/speaker"
	"character-insights-go/internal/types"
)

type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (types.Transcript, error)
}

type EmotionRecognizer interface {
	Recognize(ctx context.Context, samples []int16, sampleRate int) (types.Emotion, error)
}

// ProfileFetcher is the read side of the profile store, used for
// anchor context in analysis requests.
type ProfileFetcher interface {
	GetLatest(ctx context.Context, characterID string) (profile.CharacterProfile, error)
}

// DefaultSystem frames every analysis call.
const DefaultSystem = `You are a character analyst observing live speech. From the observation you receive, infer character traits across these dimensions: basic_attributes, surface_behavior, emotional_traits, cognitive_decision, personality_traits, core_essence, character_arc.

Write a short prose assessment, then return a JSON object keyed by those dimensions containing only what this observation supports. Notable concrete acts go into a top-level "character_deeds" array of {"summary", "intent", "strategy"} records. Leave out anything the observation does not support.`

// DefaultTemplate is the analysis user payload. Placeholders are
// replaced verbatim, so deployments can reshape the payload through
// configuration alone.
const DefaultTemplate = `Speaker: {{speaker}}
Utterance: {{transcript}}
Vocal emotion: {{emotion}}
Acoustics: {{features}}

Recent conversation:
{{history}}

Current profile of this character:
{{anchor}}`

type historyTurn struct {
	name string
	text string
}

// Assembler produces one Observation per utterance and builds the
// analysis request for it. Safe for concurrent use; the rolling
// history is shared across speakers in arrival order.
type Assembler struct {
	transcriber Transcriber
	emotions    EmotionRecognizer
	bindings    *speaker.Bindings
	profiles    ProfileFetcher
	cfg         config.FusionConfig
	log         *logrus.Entry

	mu      sync.Mutex
	history []historyTurn
}

func NewAssembler(t Transcriber, e EmotionRecognizer, b *speaker.Bindings, p ProfileFetcher, cfg config.FusionConfig) *Assembler {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 5
	}
	return &Assembler{
		transcriber: t,
		emotions:    e,
		bindings:    b,
		profiles:    p,
		cfg:         cfg,
		log:         logger.New().WithField("component", "fusion"),
	}
}

// Observe runs both capabilities for the utterance and fuses the
// outcome. A capability that fails after its internal retries leaves
// its field empty and marks the observation degraded; the observation
// itself is never dropped.
func (a *Assembler) Observe(ctx context.Context, u types.Utterance, match speaker.Match, feats types.AcousticFeatures) types.Observation {
	obs := types.Observation{
		ID:          u.ID,
		SessionID:   u.SessionID,
		SpeakerID:   match.SpeakerID,
		SpeakerName: match.Name,
		Features:    feats,
		Start:       u.Start,
		End:         u.End,
		CapturedAt:  time.Now().UTC(),
	}

	tr, err := a.transcriber.Transcribe(ctx, u.Samples, u.SampleRate)
	if err != nil {
		a.log.WithError(err).WithField("utterance_id", u.ID).Warn("transcription failed, observation degraded")
		obs.Degraded = true
	} else {
		obs.Transcript = a.cleanTranscript(tr.Text)
		obs.TranscriptConfidence = tr.Confidence
	}

	em, err := a.emotions.Recognize(ctx, u.Samples, u.SampleRate)
	if err != nil {
		a.log.WithError(err).WithField("utterance_id", u.ID).Warn("emotion recognition failed, observation degraded")
		obs.Degraded = true
	} else {
		obs.EmotionLabel = em.Label
		obs.EmotionConfidence = em.Confidence
	}

	if a.bindings != nil {
		if characterID, ok := a.bindings.Resolve(match.SpeakerID); ok {
			obs.CharacterID = characterID
		}
	}

	if obs.Transcript != "" {
		a.remember(obs.SpeakerName, obs.Transcript)
	}
	return obs
}

// cleanTranscript drops utterances that are exactly a known junk
// phrase the transcription model hallucinates on near-silence.
func (a *Assembler) cleanTranscript(text string) string {
	trimmed := strings.TrimSpace(text)
	probe := strings.ToLower(strings.Trim(trimmed, " .!?,"))
	for _, junk := range a.cfg.JunkPhrases {
		if probe == strings.ToLower(strings.TrimSpace(junk)) {
			a.log.WithField("text", trimmed).Debug("junk transcript filtered")
			return ""
		}
	}
	return trimmed
}

func (a *Assembler) remember(name, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, historyTurn{name: name, text: text})
	if over := len(a.history) - a.cfg.HistoryTurns; over > 0 {
		a.history = a.history[over:]
	}
}

// History renders the rolling conversation context, most recent last.
func (a *Assembler) History() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return "(none)"
	}
	lines := make([]string, len(a.history))
	for i, h := range a.history {
		lines[i] = h.name + ": " + h.text
	}
	return strings.Join(lines, "\n")
}

// BuildRequest fills the analysis template for the observation. A
// missing or unreadable anchor profile downgrades to an empty anchor
// rather than failing the request.
func (a *Assembler) BuildRequest(ctx context.Context, obs types.Observation) analysis.Request {
	anchor := "(no anchor profile)"
	if obs.CharacterID != "" && a.profiles != nil {
		p, err := a.profiles.GetLatest(ctx, obs.CharacterID)
		if err != nil {
			a.log.WithError(err).WithField("character_id", obs.CharacterID).Warn("anchor profile unavailable")
			anchor = "(anchor unavailable)"
		} else if !p.Dynamic.IsEmpty() {
			anchor = fmt.Sprintf("version %d\n%s", p.Version, p.Dynamic.String())
		}
	}

	emotion := obs.EmotionLabel
	if emotion == "" {
		emotion = "unknown"
	} else {
		emotion = fmt.Sprintf("%s (%.2f)", obs.EmotionLabel, obs.EmotionConfidence)
	}

	featsJSON, err := json.Marshal(obs.Features)
	if err != nil {
		featsJSON = []byte("{}")
	}

	template := a.cfg.PromptTemplate
	if template == "" {
		template = DefaultTemplate
	}
	user := strings.NewReplacer(
		"{{speaker}}", obs.SpeakerName,
		"{{transcript}}", obs.Transcript,
		"{{emotion}}", emotion,
		"{{features}}", string(featsJSON),
		"{{history}}", a.History(),
		"{{anchor}}", anchor,
	).Replace(template)

	return analysis.Request{System: DefaultSystem, User: user}
}
