// Package emotion calls the vocal emotion recognition capability over
// plain HTTP.
package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"character-insights-go/internal/audio"
	"character-insights-go/internal/config"
	"character-insights-go/internal/logger"
	"character-insights-go/internal/types"
)

type response struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type Client struct {
	url    string
	client *http.Client
	log    *logrus.Entry
}

func NewClient(cfg config.CapabilityConfig) *Client {
	return &Client{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout()},
		log:    logger.New().WithField("component", "emotion"),
	}
}

// Recognize posts the utterance as a WAV upload and returns the
// dominant vocal emotion label. Retry policy matches the
// transcription client: transport and 5xx retried, 4xx permanent.
// Mock mode via env USE_MOCK_EMOTION=true.
func (c *Client) Recognize(ctx context.Context, samples []int16, sampleRate int) (types.Emotion, error) {
	if os.Getenv("USE_MOCK_EMOTION") == "true" {
		return types.Emotion{Label: "neutral", Confidence: 0.9}, nil
	}
	if c.url == "" {
		return types.Emotion{}, fmt.Errorf("emotion url not configured")
	}

	wav := audio.EncodeWAV(samples, sampleRate)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return types.Emotion{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return types.Emotion{}, fmt.Errorf("build upload: %w", err)
	}
	w.WriteField("sample_rate", strconv.Itoa(sampleRate))
	if err := w.Close(); err != nil {
		return types.Emotion{}, fmt.Errorf("build upload: %w", err)
	}

	var out response
	if err := c.doJSON(ctx, c.url, body.Bytes(), w.FormDataContentType(), &out); err != nil {
		return types.Emotion{}, err
	}
	c.log.WithField("label", out.Label).Debug("emotion received")
	return types.Emotion{Label: out.Label, Confidence: out.Confidence}, nil
}

func (c *Client) doJSON(ctx context.Context, url string, payload []byte, contentType string, target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.client.Timeout
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(body))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("request rejected %d: %s", resp.StatusCode, truncate(body))
			return backoff.Permanent(lastErr)
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("decode response: %w", err)
			return lastErr
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
