package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// InverseDFT returns seq[j] = sum_k coeff[k] * exp(+2*pi*i*j*k/n), the
// inverse discrete Fourier transform multiplied by n.
func InverseDFT(coeff []complex128) []complex128 {
	if len(coeff) == 0 {
		return []complex128{}
	}
	return fourier.NewCmplxFFT(len(coeff)).Sequence(nil, coeff)
}

// ForwardDFT returns coeff[k] = sum_j seq[j] * exp(-2*pi*i*j*k/n).
func ForwardDFT(seq []complex128) []complex128 {
	if len(seq) == 0 {
		return []complex128{}
	}
	return fourier.NewCmplxFFT(len(seq)).Coefficients(nil, seq)
}

// DCT1 returns the type-I discrete cosine transform of src:
//
//	dst[k] = src[0] + (-1)^k src[n-1] + 2 sum_{j=1}^{n-2} src[j] cos(pi*j*k/(n-1))
func DCT1(src []float64) []float64 {
	if len(src) < 2 {
		return append([]float64(nil), src...)
	}
	return fourier.NewDCT(len(src)).Transform(nil, src)
}
