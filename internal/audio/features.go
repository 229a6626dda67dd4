package audio

import (
	"math"
	"sync"

	"character-insights-go/internal/types"
)

const (
	numCoeffs      = 13
	numMels        = 26
	fingerprintLen = 3 * numCoeffs
	minFingerprint = 2048

	pitchFloorHz = 50
	pitchCeilHz  = 400
	voicedMin    = 0.3
)

type frameSetup struct {
	frameLen int
	hop      int
	nfft     int
	window   []float64
	bank     [][]float64
}

// Extractor derives acoustic features and voice fingerprints from
// segmented utterances. Methods are deterministic over the samples
// and safe for concurrent use.
type Extractor struct {
	mu     sync.Mutex
	setups map[int]*frameSetup
}

func NewExtractor() *Extractor {
	return &Extractor{setups: make(map[int]*frameSetup)}
}

func (e *Extractor) setup(sampleRate int) *frameSetup {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.setups[sampleRate]; ok {
		return s
	}
	frameLen := sampleRate * 25 / 1000
	nfft := 1
	for nfft < frameLen {
		nfft <<= 1
	}
	s := &frameSetup{
		frameLen: frameLen,
		hop:      sampleRate * 10 / 1000,
		nfft:     nfft,
		window:   hannWindow(frameLen),
		bank:     melFilterbank(numMels, nfft, sampleRate),
	}
	e.setups[sampleRate] = s
	return s
}

// Features computes the per-utterance acoustic summary: mean MFCCs,
// average voiced pitch, overall energy, duration, an energy-peak
// speech rate proxy and the voiced-frame ratio as confidence.
func (e *Extractor) Features(u types.Utterance) types.AcousticFeatures {
	f := types.AcousticFeatures{
		DurationMS: 1000 * float64(len(u.Samples)) / float64(u.SampleRate),
		EnergyDB:   rmsDB(u.Samples),
	}
	if len(u.Samples) == 0 {
		return f
	}
	floats := toFloat(u.Samples)

	coeffs := e.mfccFrames(floats, u.SampleRate)
	if len(coeffs) > 0 {
		f.MFCC = meanColumns(coeffs)
	}

	pitch, voiced := pitchTrack(floats, u.SampleRate)
	f.PitchHz = pitch
	f.Confidence = voiced
	f.SpeechRate = speechRate(floats, u.SampleRate)
	return f
}

// Fingerprint returns the 39-dim voice embedding (MFCC, delta and
// delta-delta means) or nil when the utterance is too short to
// characterize a voice.
func (e *Extractor) Fingerprint(u types.Utterance) []float64 {
	if len(u.Samples) < minFingerprint {
		return nil
	}
	coeffs := e.mfccFrames(toFloat(u.Samples), u.SampleRate)
	if len(coeffs) < 3 {
		return nil
	}
	deltas := deltaFrames(coeffs)
	deltas2 := deltaFrames(deltas)

	out := make([]float64, 0, fingerprintLen)
	out = append(out, meanColumns(coeffs)...)
	out = append(out, meanColumns(deltas)...)
	out = append(out, meanColumns(deltas2)...)
	return out
}

func (e *Extractor) mfccFrames(samples []float64, sampleRate int) [][]float64 {
	s := e.setup(sampleRate)
	if len(samples) < s.frameLen {
		return nil
	}
	n := 1 + (len(samples)-s.frameLen)/s.hop
	frames := make([][]float64, 0, n)
	for i := 0; i+s.frameLen <= len(samples); i += s.hop {
		power := powerSpectrum(samples[i:i+s.frameLen], s.window, s.nfft)
		logMel := make([]float64, numMels)
		for m, filter := range s.bank {
			var acc float64
			for k, w := range filter {
				if w != 0 {
					acc += w * power[k]
				}
			}
			logMel[m] = math.Log(acc + 1e-10)
		}
		frames = append(frames, dctII(logMel, numCoeffs))
	}
	return frames
}

// deltaFrames is a width-2 regression over the frame axis with edge
// clamping.
func deltaFrames(frames [][]float64) [][]float64 {
	n := len(frames)
	if n == 0 {
		return nil
	}
	width := len(frames[0])
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	out := make([][]float64, n)
	for t := 0; t < n; t++ {
		row := make([]float64, width)
		for k := 0; k < width; k++ {
			var num float64
			for d := 1; d <= 2; d++ {
				num += float64(d) * (frames[clamp(t+d)][k] - frames[clamp(t-d)][k])
			}
			row[k] = num / 10
		}
		out[t] = row
	}
	return out
}

func meanColumns(frames [][]float64) []float64 {
	if len(frames) == 0 {
		return nil
	}
	width := len(frames[0])
	out := make([]float64, width)
	for _, row := range frames {
		for k, v := range row {
			out[k] += v
		}
	}
	for k := range out {
		out[k] /= float64(len(frames))
	}
	return out
}

// pitchTrack estimates fundamental frequency per 1024-sample frame by
// normalized autocorrelation and returns the voiced mean plus the
// voiced-frame ratio.
func pitchTrack(samples []float64, sampleRate int) (float64, float64) {
	const frameLen = 1024
	const hop = 512
	if len(samples) < frameLen {
		return 0, 0
	}
	minLag := sampleRate / pitchCeilHz
	maxLag := sampleRate / pitchFloorHz
	if maxLag >= frameLen {
		maxLag = frameLen - 1
	}

	var sum float64
	voiced, total := 0, 0
	for i := 0; i+frameLen <= len(samples); i += hop {
		total++
		frame := samples[i : i+frameLen]

		var mean float64
		for _, v := range frame {
			mean += v
		}
		mean /= frameLen

		var r0 float64
		for _, v := range frame {
			d := v - mean
			r0 += d * d
		}
		if r0 < 1e-9 {
			continue
		}

		bestLag, bestCorr := 0, 0.0
		for lag := minLag; lag <= maxLag; lag++ {
			var r float64
			for j := 0; j+lag < frameLen; j++ {
				r += (frame[j] - mean) * (frame[j+lag] - mean)
			}
			if corr := r / r0; corr > bestCorr {
				bestCorr = corr
				bestLag = lag
			}
		}
		if bestLag > 0 && bestCorr >= voicedMin {
			sum += float64(sampleRate) / float64(bestLag)
			voiced++
		}
	}
	if voiced == 0 {
		return 0, 0
	}
	return sum / float64(voiced), float64(voiced) / float64(total)
}

// speechRate counts smoothed energy-envelope peaks per second, a rough
// syllable-rate proxy.
func speechRate(samples []float64, sampleRate int) float64 {
	hop := sampleRate * 10 / 1000
	if hop == 0 || len(samples) < hop {
		return 0
	}
	var env []float64
	for i := 0; i+hop <= len(samples); i += hop {
		var acc float64
		for _, v := range samples[i : i+hop] {
			acc += v * v
		}
		env = append(env, math.Sqrt(acc/float64(hop)))
	}
	env = movingAverage(env, 5)

	var peak float64
	for _, v := range env {
		if v > peak {
			peak = v
		}
	}
	if peak < 1e-6 {
		return 0
	}
	threshold := peak * 0.3

	peaks, lastPeak := 0, -5
	for i := 1; i < len(env)-1; i++ {
		if env[i] > threshold && env[i] > env[i-1] && env[i] >= env[i+1] && i-lastPeak >= 5 {
			peaks++
			lastPeak = i
		}
	}
	durationSec := float64(len(samples)) / float64(sampleRate)
	return float64(peaks) / durationSec
}

func movingAverage(x []float64, window int) []float64 {
	if len(x) == 0 {
		return x
	}
	out := make([]float64, len(x))
	half := window / 2
	for i := range x {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi >= len(x) {
			hi = len(x) - 1
		}
		var acc float64
		for j := lo; j <= hi; j++ {
			acc += x[j]
		}
		out[i] = acc / float64(hi-lo+1)
	}
	return out
}
