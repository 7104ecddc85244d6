package linelength

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// resampledLength is the output length when resampling n samples from rate
// in to rate out.
func resampledLength(n int, in, out float64) int {
	return int(math.Round(float64(n) * out / in))
}

// fourierResample resamples x to m samples using the Fourier method:
// forward real FFT, spectrum truncation (or zero padding), inverse FFT.
// The interior bins carry over unchanged; Nyquist bins are folded when
// truncating to an even length and split when padding from an even length,
// so real input stays real and a pure tone below both Nyquist rates is
// preserved. The implied lowpass can ring below zero on non-negative
// input, which is why callers clamp afterwards.
func fourierResample(x []float64, m int) []float64 {
	n := len(x)
	if m == n {
		out := make([]float64, n)
		copy(out, x)
		return out
	}

	fwd := fourier.NewFFT(n)
	coeff := fwd.Coefficients(nil, x)

	resized := make([]complex128, m/2+1)
	keep := n/2 + 1
	if len(resized) < keep {
		keep = len(resized)
	}
	copy(resized, coeff[:keep])

	switch {
	case m < n && m%2 == 0:
		// Truncating to an even length: the new Nyquist bin absorbs its
		// conjugate mirror from the old spectrum.
		resized[m/2] = complex(2*real(coeff[m/2]), 0)
	case m > n && n%2 == 0:
		// Padding from an even length: the old Nyquist bin becomes an
		// interior bin and is shared with its mirror.
		resized[n/2] = complex(real(coeff[n/2])/2, 0)
	}

	inv := fourier.NewFFT(m)
	out := inv.Sequence(nil, resized)

	// Sequence is unnormalized; 1/m for the inverse transform and m/n for
	// the amplitude change collapse to 1/n.
	scale := 1 / float64(n)
	for i := range out {
		out[i] *= scale
	}
	return out
}
