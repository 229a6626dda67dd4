package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"character-insights-go/internal/config"
	"character-insights-go/internal/types"
)

func testSegmenter() *Segmenter {
	audioCfg := config.AudioConfig{SampleRate: 16000, FrameMS: 30}
	segCfg := config.SegmenterConfig{
		EnergyThresholdDB: -40,
		SilenceHoldMS:     600,
		MaxUtteranceMS:    3000,
		OverlapMS:         300,
		MinUtteranceMS:    300,
	}
	return NewSegmenter(audioCfg, segCfg, "sess-test")
}

func TestSegmenterSplitsOnSilence(t *testing.T) {
	s := testSegmenter()

	var stream []int16
	stream = append(stream, sine(220, 0.3, 1000, 16000)...)
	stream = append(stream, silence(1000, 16000)...)
	stream = append(stream, sine(220, 0.3, 1000, 16000)...)

	out := s.Push(stream)
	require.Len(t, out, 1, "first utterance closes after the silence hold")
	first := out[0]
	assert.InDelta(t, 0, first.Start.Seconds(), 0.01)
	assert.InDelta(t, 1.6, first.End.Seconds(), 0.2)
	assert.False(t, first.Overlap)
	assert.Equal(t, "sess-test", first.SessionID)

	second, ok := s.Flush()
	require.True(t, ok, "second utterance still open at end of stream")
	assert.InDelta(t, 2.0, second.Start.Seconds(), 0.05)
	assert.InDelta(t, 3.0, second.End.Seconds(), 0.05)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestSegmenterForceCutsWithOverlap(t *testing.T) {
	s := testSegmenter()

	// 8s of continuous speech, pushed in uneven chunks
	tone := sine(220, 0.3, 8000, 16000)
	var out []types.Utterance
	for i := 0; i < len(tone); i += 1000 {
		end := i + 1000
		if end > len(tone) {
			end = len(tone)
		}
		out = append(out, s.Push(tone[i:end])...)
	}
	if u, ok := s.Flush(); ok {
		out = append(out, u)
	}

	require.Len(t, out, 3)

	assert.False(t, out[0].Overlap)
	assert.InDelta(t, 0.0, out[0].Start.Seconds(), 0.01)
	assert.InDelta(t, 3.0, out[0].End.Seconds(), 0.01)

	assert.True(t, out[1].Overlap)
	assert.InDelta(t, 2.7, out[1].Start.Seconds(), 0.01)
	assert.InDelta(t, 5.7, out[1].End.Seconds(), 0.01)

	assert.True(t, out[2].Overlap)
	assert.InDelta(t, 5.4, out[2].Start.Seconds(), 0.01)
	assert.InDelta(t, 8.0, out[2].End.Seconds(), 0.05)

	for i, u := range out {
		assert.Equal(t, uint64(i), u.Seq)
		assert.NotEmpty(t, u.ID)
	}
}

func TestSegmenterKeepsBlipPaddedBySilenceHold(t *testing.T) {
	s := testSegmenter()

	var stream []int16
	stream = append(stream, sine(220, 0.3, 100, 16000)...)
	stream = append(stream, silence(1000, 16000)...)

	out := s.Push(stream)
	require.Len(t, out, 1, "blip plus silence hold clears the 500ms minimum")
	assert.InDelta(t, 0, out[0].Start.Seconds(), 0.01)
	assert.InDelta(t, 0.72, out[0].End.Seconds(), 0.05)
	_, ok := s.Flush()
	assert.False(t, ok)
}

func TestSegmenterDropsShortBlips(t *testing.T) {
	audioCfg := config.AudioConfig{SampleRate: 16000, FrameMS: 30}
	segCfg := config.SegmenterConfig{
		EnergyThresholdDB: -40,
		SilenceHoldMS:     600,
		MaxUtteranceMS:    3000,
		OverlapMS:         300,
		MinUtteranceMS:    800,
	}
	s := NewSegmenter(audioCfg, segCfg, "sess-test")

	var stream []int16
	stream = append(stream, sine(220, 0.3, 100, 16000)...)
	stream = append(stream, silence(1000, 16000)...)

	out := s.Push(stream)
	assert.Empty(t, out, "100ms blip plus hold stays under the 800ms minimum")
	_, ok := s.Flush()
	assert.False(t, ok)
}

func TestSegmenterFlushKeepsShortPartial(t *testing.T) {
	s := testSegmenter()

	out := s.Push(sine(220, 0.3, 100, 16000))
	assert.Empty(t, out)

	u, ok := s.Flush()
	require.True(t, ok, "flush emits the open partial even below min duration")
	assert.Greater(t, len(u.Samples), 0)
}

func TestSegmenterIgnoresLeadingSilence(t *testing.T) {
	s := testSegmenter()

	var stream []int16
	stream = append(stream, silence(2000, 16000)...)
	stream = append(stream, sine(220, 0.3, 1000, 16000)...)

	out := s.Push(stream)
	assert.Empty(t, out)
	u, ok := s.Flush()
	require.True(t, ok)
	assert.InDelta(t, 2.0, u.Start.Seconds(), 0.05)
}

func TestSegmenterDeterministicSamples(t *testing.T) {
	stream := append(sine(220, 0.3, 1000, 16000), silence(1000, 16000)...)

	a := testSegmenter().Push(stream)
	b := testSegmenter().Push(stream)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].Samples, b[0].Samples)
	assert.Equal(t, a[0].Start, b[0].Start)
	assert.Equal(t, a[0].End, b[0].End)
}
