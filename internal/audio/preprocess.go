package audio

import "math"

// biquad is a direct form I second order IIR section.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func newHighpass(freq, sampleRate float64) *biquad {
	w0 := 2 * math.Pi * freq / sampleRate
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * math.Sqrt2 / 2)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func newLowpass(freq, sampleRate float64) *biquad {
	w0 := 2 * math.Pi * freq / sampleRate
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * math.Sqrt2 / 2)
	a0 := 1 + alpha
	return &biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

const (
	bandLowHz   = 80
	bandHighHz  = 7000
	targetPeak  = 0.9
	maxGain     = 5.0
	minPeakGate = 1e-4
)

// Preprocess band-limits an utterance to the speech range and
// normalizes its peak toward 90% full scale with a bounded gain, over
// the whole segment at once.
func Preprocess(samples []int16, sampleRate int) []int16 {
	if len(samples) == 0 {
		return samples
	}
	floats := toFloat(samples)

	hp := newHighpass(bandLowHz, float64(sampleRate))
	nyquist := float64(sampleRate) / 2
	var lp *biquad
	if bandHighHz < nyquist {
		lp = newLowpass(bandHighHz, float64(sampleRate))
	}
	for i, v := range floats {
		v = hp.process(v)
		if lp != nil {
			v = lp.process(v)
		}
		floats[i] = v
	}

	var peak float64
	for _, v := range floats {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak > minPeakGate {
		gain := targetPeak / peak
		if gain > maxGain {
			gain = maxGain
		}
		for i := range floats {
			floats[i] *= gain
		}
	}
	return toInt16(floats)
}
