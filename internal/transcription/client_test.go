package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"character-insights-go/internal/audio"
	"character-insights-go/internal/config"
)

func TestTranscribeSuccess(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 100)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("audio")
		require.NoError(t, err)
		blob, err := io.ReadAll(file)
		require.NoError(t, err)

		decoded, rate, err := audio.DecodeWAV(blob)
		require.NoError(t, err)
		assert.Equal(t, 16000, rate)
		assert.Equal(t, samples, decoded)
		assert.Equal(t, "16000", r.FormValue("sample_rate"))

		json.NewEncoder(w).Encode(map[string]any{"text": "hello there", "confidence": 0.93})
	}))
	defer srv.Close()

	c := NewClient(config.CapabilityConfig{URL: srv.URL, TimeoutSec: 5})
	tr, err := c.Transcribe(context.Background(), samples, 16000)
	require.NoError(t, err)
	assert.Equal(t, "hello there", tr.Text)
	assert.InDelta(t, 0.93, tr.Confidence, 1e-9)
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "second try", "confidence": 0.8})
	}))
	defer srv.Close()

	c := NewClient(config.CapabilityConfig{URL: srv.URL, TimeoutSec: 5})
	tr, err := c.Transcribe(context.Background(), make([]int16, 160), 16000)
	require.NoError(t, err)
	assert.Equal(t, "second try", tr.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTranscribeClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(config.CapabilityConfig{URL: srv.URL, TimeoutSec: 5})
	_, err := c.Transcribe(context.Background(), make([]int16, 160), 16000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestTranscribeMockMode(t *testing.T) {
	t.Setenv("USE_MOCK_TRANSCRIBE", "true")
	c := NewClient(config.CapabilityConfig{})
	tr, err := c.Transcribe(context.Background(), make([]int16, 320), 16000)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Text)
}

func TestTranscribeMissingURL(t *testing.T) {
	c := NewClient(config.CapabilityConfig{})
	_, err := c.Transcribe(context.Background(), make([]int16, 160), 16000)
	assert.Error(t, err)
}
