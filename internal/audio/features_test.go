package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"character-insights-go/internal/types"
)

func sine(freqHz, amp float64, ms, sampleRate int) []int16 {
	n := sampleRate * ms / 1000
	out := make([]int16, n)
	for i := range out {
		v := amp * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		out[i] = int16(v * 32767)
	}
	return out
}

func silence(ms, sampleRate int) []int16 {
	return make([]int16, sampleRate*ms/1000)
}

func utt(samples []int16, sampleRate int) types.Utterance {
	return types.Utterance{ID: "u-test", SampleRate: sampleRate, Samples: samples}
}

func TestFeaturesOnSine(t *testing.T) {
	e := NewExtractor()
	f := e.Features(utt(sine(220, 0.3, 2000, 16000), 16000))

	assert.InDelta(t, 220, f.PitchHz, 8)
	assert.Greater(t, f.Confidence, 0.8)
	assert.InDelta(t, -13.5, f.EnergyDB, 1.5)
	assert.InDelta(t, 2000, f.DurationMS, 1)
	require.Len(t, f.MFCC, 13)
}

func TestFeaturesOnSilence(t *testing.T) {
	e := NewExtractor()
	f := e.Features(utt(silence(1000, 16000), 16000))

	assert.Equal(t, 0.0, f.PitchHz)
	assert.Equal(t, 0.0, f.Confidence)
	assert.Equal(t, -120.0, f.EnergyDB)
	assert.Equal(t, 0.0, f.SpeechRate)
}

func TestFeaturesEmptyUtterance(t *testing.T) {
	e := NewExtractor()
	f := e.Features(utt(nil, 16000))
	assert.Equal(t, 0.0, f.DurationMS)
	assert.Nil(t, f.MFCC)
}

func TestSpeechRateOnModulatedTone(t *testing.T) {
	// amplitude bursts at 4 per second approximate syllables
	const rate = 16000
	n := rate * 2
	samples := make([]int16, n)
	for i := range samples {
		tSec := float64(i) / rate
		env := math.Sin(2 * math.Pi * 2 * tSec)
		if env < 0 {
			env = -env
		}
		v := 0.4 * env * math.Sin(2*math.Pi*220*tSec)
		samples[i] = int16(v * 32767)
	}

	e := NewExtractor()
	f := e.Features(utt(samples, rate))
	assert.InDelta(t, 4, f.SpeechRate, 2)
}

func TestFingerprintTooShortIsNil(t *testing.T) {
	e := NewExtractor()
	assert.Nil(t, e.Fingerprint(utt(sine(220, 0.3, 100, 16000), 16000)))
	assert.Nil(t, e.Fingerprint(utt(nil, 16000)))
}

func TestFingerprintShapeAndDeterminism(t *testing.T) {
	e := NewExtractor()
	u := utt(sine(220, 0.3, 500, 16000), 16000)

	fp1 := e.Fingerprint(u)
	fp2 := e.Fingerprint(u)
	require.Len(t, fp1, 39)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintSeparatesTones(t *testing.T) {
	e := NewExtractor()
	low := e.Fingerprint(utt(sine(140, 0.3, 500, 16000), 16000))
	high := e.Fingerprint(utt(sine(880, 0.3, 500, 16000), 16000))
	require.Len(t, low, 39)
	require.Len(t, high, 39)
	assert.NotEqual(t, low, high)
}
