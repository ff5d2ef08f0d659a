// Package cosmology converts observed 21cm frequencies into comoving
// distances for a flat or curved Lambda-CDM background.
package cosmology

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

const (
	// Nu21 is the rest frequency of the 21cm hyperfine line in MHz.
	Nu21 = 1420.40575177

	// SpeedOfLight in km/s.
	SpeedOfLight = 299792.458

	quadPoints = 128
)

// Cosmology holds the background parameters. Distances are in Mpc.
type Cosmology struct {
	H0     float64 // km/s/Mpc
	OmegaM float64
	OmegaL float64
	OmegaK float64
	OmegaR float64
}

// Default returns the Planck 2015 parameters.
func Default() Cosmology {
	return Cosmology{
		H0:     67.74,
		OmegaM: 0.3089,
		OmegaL: 0.6911,
	}
}

// E returns H(z)/H0.
func (c Cosmology) E(z float64) float64 {
	a := 1 + z
	return math.Sqrt(c.OmegaR*a*a*a*a + c.OmegaM*a*a*a + c.OmegaK*a*a + c.OmegaL)
}

// HubbleDistance returns c/H0.
func (c Cosmology) HubbleDistance() float64 { return SpeedOfLight / c.H0 }

// ComovingDistance returns the line-of-sight comoving distance to redshift z.
func (c Cosmology) ComovingDistance(z float64) float64 {
	if z <= 0 {
		return 0
	}
	integrand := func(zp float64) float64 { return 1 / c.E(zp) }
	return c.HubbleDistance() * quad.Fixed(integrand, 0, z, quadPoints, quad.Legendre{}, 0)
}

// RedshiftOfFrequency returns the 21cm redshift of an observed frequency in MHz.
func RedshiftOfFrequency(freqMHz float64) (float64, error) {
	if freqMHz <= 0 {
		return 0, fmt.Errorf("frequency must be positive, got %g MHz", freqMHz)
	}
	return Nu21/freqMHz - 1, nil
}

// FrequencyDistances returns the comoving distance of each 21cm frequency.
func (c Cosmology) FrequencyDistances(freqs []float64) ([]float64, error) {
	out := make([]float64, len(freqs))
	for i, f := range freqs {
		z, err := RedshiftOfFrequency(f)
		if err != nil {
			return nil, err
		}
		out[i] = c.ComovingDistance(z)
	}
	return out, nil
}
