package audio

import (
	"math"
	"math/cmplx"
)

// fft is an in-place iterative radix-2 transform. len(x) must be a
// power of two.
func fft(x []complex128) {
	n := len(x)
	if n < 2 {
		return
	}
	// bit reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := cmplx.Exp(complex(0, ang))
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			half := length / 2
			for j := 0; j < half; j++ {
				u := x[i+j]
				v := x[i+j+half] * w
				x[i+j] = u + v
				x[i+j+half] = u - v
				w *= wl
			}
		}
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// powerSpectrum windows the frame, zero-pads to nfft and returns the
// one-sided power spectrum (nfft/2+1 bins).
func powerSpectrum(frame, window []float64, nfft int) []float64 {
	buf := make([]complex128, nfft)
	for i := range frame {
		buf[i] = complex(frame[i]*window[i], 0)
	}
	fft(buf)
	bins := nfft/2 + 1
	power := make([]float64, bins)
	scale := 1 / float64(nfft)
	for i := 0; i < bins; i++ {
		re := real(buf[i])
		im := imag(buf[i])
		power[i] = (re*re + im*im) * scale
	}
	return power
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds nMels triangular filters over the one-sided
// spectrum of an nfft transform at the given sample rate.
func melFilterbank(nMels, nfft, sampleRate int) [][]float64 {
	bins := nfft/2 + 1
	low := hzToMel(0)
	high := hzToMel(float64(sampleRate) / 2)

	points := make([]int, nMels+2)
	for i := range points {
		mel := low + (high-low)*float64(i)/float64(nMels+1)
		points[i] = int(math.Floor((float64(nfft) + 1) * melToHz(mel) / float64(sampleRate)))
		if points[i] >= bins {
			points[i] = bins - 1
		}
	}

	bank := make([][]float64, nMels)
	for m := 1; m <= nMels; m++ {
		filter := make([]float64, bins)
		left, center, right := points[m-1], points[m], points[m+1]
		for k := left; k < center; k++ {
			if center > left {
				filter[k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k < right; k++ {
			if right > center {
				filter[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m-1] = filter
	}
	return bank
}

// dctII returns the first nCoeffs orthonormal DCT-II coefficients.
func dctII(x []float64, nCoeffs int) []float64 {
	n := len(x)
	out := make([]float64, nCoeffs)
	for k := 0; k < nCoeffs; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += x[i] * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n)))
		}
		scale := math.Sqrt(2 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1 / float64(n))
		}
		out[k] = sum * scale
	}
	return out
}

// rmsDB is the frame energy in dBFS for int16 samples, floored at
// -120 for silence.
func rmsDB(samples []int16) float64 {
	if len(samples) == 0 {
		return -120
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-6 {
		return -120
	}
	return 20 * math.Log10(rms)
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768
	}
	return out
}

func toInt16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, f := range samples {
		v := f * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
