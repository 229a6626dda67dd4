// Package analysis drives the character-analysis language model and
// recovers structured updates from its output.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"character-insights-go/internal/config"
	"character-insights-go/internal/logger"
)

// Request is one analysis call: a fully assembled user payload plus
// the system framing.
type Request struct {
	System string
	User   string
}

type Client struct {
	api  openai.Client
	cfg  config.AnalysisConfig
	log  *logrus.Entry
	mock bool
}

func NewClient(cfg config.AnalysisConfig) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		api:  openai.NewClient(opts...),
		cfg:  cfg,
		log:  logger.New().WithField("component", "analysis"),
		mock: os.Getenv("USE_MOCK_ANALYSIS") == "true",
	}
}

// Analyze runs one chat completion for the assembled observation
// payload and returns the raw model output. Transport and 5xx errors
// are retried until the elapsed window closes; 4xx are permanent.
func (c *Client) Analyze(ctx context.Context, req Request) (string, error) {
	if c.mock {
		return mockAnalysis, nil
	}
	return c.complete(ctx, req.System, req.User, c.cfg.Temperature)
}

const repairSystem = "You repair malformed JSON. Return only the corrected JSON object, nothing else. Preserve every key and value from the input."

// Repair asks the model to fix a malformed analysis payload. The
// gateway calls this at most once per observation.
func (c *Client) Repair(ctx context.Context, broken string) (string, error) {
	if c.mock {
		return broken, nil
	}
	user := "Fix this JSON so it parses:\n\n" + broken
	return c.complete(ctx, repairSystem, user, 0)
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.MaxElapsed()

	var out string
	var lastErr error
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
		defer cancel()

		resp, err := c.api.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(c.cfg.Model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Temperature: openai.Float(temperature),
		})
		if err != nil {
			lastErr = err
			var apierr *openai.Error
			if errors.As(err, &apierr) && apierr.StatusCode >= 400 && apierr.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			c.log.WithError(err).Warn("completion failed, will retry")
			return err
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("completion returned no choices")
			return lastErr
		}
		out = resp.Choices[0].Message.Content
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			err = lastErr
		}
		return "", fmt.Errorf("analysis completion: %w", err)
	}
	return out, nil
}

// mockAnalysis keeps the full pipeline runnable without a model
// endpoint.
const mockAnalysis = `Observed a guarded, deliberate speaker.

{
  "basic_attributes": {"speech_tempo": "measured"},
  "surface_behavior": {"tone": "flat", "habits": ["short answers"]},
  "emotional_traits": {"baseline": "contained"},
  "cognitive_decision": {"style": "cautious"},
  "personality_traits": ["reserved"],
  "core_essence": {},
  "character_arc": {"stage": "introduction"},
  "character_deeds": [
    {"summary": "deflected a direct question", "intent": "avoid exposure", "strategy": "deflection"}
  ]
}`
