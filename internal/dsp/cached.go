package dsp

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// PlanCache keeps one complex FFT plan per transform length so that repeated
// transforms of the same length (one per baseline and frequency) reuse the
// twiddle factors. It is safe for use by every worker of a group.
type PlanCache struct {
	mu    sync.Mutex
	plans map[int]*cachedPlan
}

type cachedPlan struct {
	mu  sync.Mutex
	fft *fourier.CmplxFFT
}

// NewPlanCache creates an empty cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[int]*cachedPlan)}
}

func (c *PlanCache) plan(n int) *cachedPlan {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[n]
	if !ok {
		p = &cachedPlan{fft: fourier.NewCmplxFFT(n)}
		c.plans[n] = p
	}
	return p
}

// InverseDFT is the cached equivalent of the package level InverseDFT. dst
// may alias coeff; when dst is nil a new slice is allocated.
func (c *PlanCache) InverseDFT(dst, coeff []complex128) []complex128 {
	if len(coeff) == 0 {
		return []complex128{}
	}
	p := c.plan(len(coeff))
	// gonum plans keep internal work buffers.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fft.Sequence(dst, coeff)
}

// Size returns the number of cached plans.
func (c *PlanCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.plans)
}
