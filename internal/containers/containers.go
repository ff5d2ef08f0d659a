// Package containers holds the distributed datasets passed between simulation
// tasks together with the axis descriptors that label them.
package containers

import (
	"context"
	"fmt"
	"maps"

	"github.com/rjboer/GoMSim/internal/mpiarray"
)

// FreqChannel is one entry of the frequency axis, in MHz.
type FreqChannel struct {
	Centre float64
	Width  float64
}

// Prod is a pair of feed indices.
type Prod struct {
	InputA int
	InputB int
}

// StackEntry maps a stacked baseline to a representative product.
type StackEntry struct {
	Prod      uint32
	Conjugate bool
}

// ReverseStackEntry maps a product to the stack it was collated into.
type ReverseStackEntry struct {
	Stack     uint32
	Conjugate bool
}

// Input describes one feed.
type Input struct {
	ChanID          int
	CorrelatorInput string
}

// TimeSample is a correlator frame-count timestamp.
type TimeSample struct {
	FPGACount uint64
	CTime     float64
}

// Attrs are free-form container attributes.
type Attrs map[string]any

// Axis indices of the visibility datasets.
const (
	AxisFreq = 0
	AxisProd = 1
	AxisTime = 2
)

// DefaultInputs returns n anonymous feeds.
func DefaultInputs(n int) []Input {
	out := make([]Input, n)
	for i := range out {
		out[i] = Input{ChanID: i}
	}
	return out
}

// FreqChannels pairs channel centres with a common width.
func FreqChannels(centres []float64, width float64) []FreqChannel {
	out := make([]FreqChannel, len(centres))
	for i, c := range centres {
		out[i] = FreqChannel{Centre: c, Width: width}
	}
	return out
}

// Centres returns the channel centres of a frequency axis.
func Centres(freq []FreqChannel) []float64 {
	out := make([]float64, len(freq))
	for i, f := range freq {
		out[i] = f.Centre
	}
	return out
}

// RAAxis returns n right-ascension bin centres in degrees, 360*i/n.
func RAAxis(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 360 * float64(i) / float64(n)
	}
	return out
}

// Map is a sky map with data[freq, pol, pixel] distributed over frequency.
// Pixels follow the ring-major ordering of the grid it was made on.
type Map struct {
	Freq   []FreqChannel
	NPol   int
	NTheta int
	NPhi   int
	Data   *mpiarray.Array[float64]
	Attrs  Attrs
}

// NewMap allocates an empty map distributed over frequency.
func NewMap(comm *mpiarray.Comm, freq []FreqChannel, npol, ntheta, nphi int) (*Map, error) {
	data, err := mpiarray.New[float64](comm, []int{len(freq), npol, ntheta * nphi}, AxisFreq)
	if err != nil {
		return nil, fmt.Errorf("allocate map: %w", err)
	}
	return &Map{Freq: freq, NPol: npol, NTheta: ntheta, NPhi: nphi, Data: data, Attrs: Attrs{}}, nil
}

// Pixels returns the local pixel slice of (local frequency, pol).
func (m *Map) Pixels(lf, pol int) []float64 {
	npix := m.NTheta * m.NPhi
	start := m.Data.Index(lf, pol, 0)
	return m.Data.Local()[start : start+npix]
}

// SiderealStream holds vis[freq, prod, ra] and weight[freq, prod, ra]. When
// Stack is set the prod axis of the datasets runs over stacks and Prod lists
// the full set of products they were collated from.
type SiderealStream struct {
	Freq         []FreqChannel
	RA           []float64
	Input        []Input
	Prod         []Prod
	Stack        []StackEntry
	ReverseStack []ReverseStackEntry

	Vis    *mpiarray.Array[complex128]
	Weight *mpiarray.Array[float64]
	Attrs  Attrs
}

// StreamAxes carries the index maps of a new stream.
type StreamAxes struct {
	Freq         []FreqChannel
	RA           []float64
	Input        []Input
	Prod         []Prod
	Stack        []StackEntry
	ReverseStack []ReverseStackEntry
}

// NVis returns the length of the baseline axis of the datasets.
func (a StreamAxes) NVis() int {
	if a.Stack != nil {
		return len(a.Stack)
	}
	return len(a.Prod)
}

func (a StreamAxes) validate() error {
	for _, p := range a.Prod {
		if p.InputA < 0 || p.InputB < 0 || p.InputA >= len(a.Input) || p.InputB >= len(a.Input) {
			return fmt.Errorf("product %v references inputs outside [0,%d)", p, len(a.Input))
		}
	}
	if a.Stack == nil {
		if a.ReverseStack != nil {
			return fmt.Errorf("reverse stack map without stack map")
		}
		return nil
	}
	for _, s := range a.Stack {
		if int(s.Prod) >= len(a.Prod) {
			return fmt.Errorf("stack references product %d of %d", s.Prod, len(a.Prod))
		}
	}
	if a.ReverseStack != nil && len(a.ReverseStack) != len(a.Prod) {
		return fmt.Errorf("reverse stack map has %d entries for %d products", len(a.ReverseStack), len(a.Prod))
	}
	return nil
}

// NewSiderealStream allocates zeroed vis and weight datasets distributed over
// frequency.
func NewSiderealStream(comm *mpiarray.Comm, axes StreamAxes) (*SiderealStream, error) {
	if err := axes.validate(); err != nil {
		return nil, err
	}
	shape := []int{len(axes.Freq), axes.NVis(), len(axes.RA)}
	vis, err := mpiarray.New[complex128](comm, shape, AxisFreq)
	if err != nil {
		return nil, fmt.Errorf("allocate vis: %w", err)
	}
	weight, err := mpiarray.New[float64](comm, shape, AxisFreq)
	if err != nil {
		return nil, fmt.Errorf("allocate weight: %w", err)
	}
	return &SiderealStream{
		Freq:         axes.Freq,
		RA:           axes.RA,
		Input:        axes.Input,
		Prod:         axes.Prod,
		Stack:        axes.Stack,
		ReverseStack: axes.ReverseStack,
		Vis:          vis,
		Weight:       weight,
		Attrs:        Attrs{},
	}, nil
}

// Axes returns the stream's index maps.
func (s *SiderealStream) Axes() StreamAxes {
	return StreamAxes{
		Freq:         s.Freq,
		RA:           s.RA,
		Input:        s.Input,
		Prod:         s.Prod,
		Stack:        s.Stack,
		ReverseStack: s.ReverseStack,
	}
}

// Copy returns a deep copy. Datasets named in shared ("vis", "weight") are
// referenced rather than copied.
func (s *SiderealStream) Copy(shared ...string) *SiderealStream {
	keep := make(map[string]bool, len(shared))
	for _, name := range shared {
		keep[name] = true
	}
	out := &SiderealStream{
		Freq:         append([]FreqChannel(nil), s.Freq...),
		RA:           append([]float64(nil), s.RA...),
		Input:        append([]Input(nil), s.Input...),
		Prod:         append([]Prod(nil), s.Prod...),
		Stack:        cloneNil(s.Stack),
		ReverseStack: cloneNil(s.ReverseStack),
		Vis:          s.Vis,
		Weight:       s.Weight,
		Attrs:        maps.Clone(s.Attrs),
	}
	if !keep["vis"] {
		out.Vis = s.Vis.Copy()
	}
	if !keep["weight"] {
		out.Weight = s.Weight.Copy()
	}
	if out.Attrs == nil {
		out.Attrs = Attrs{}
	}
	return out
}

// Redistribute moves both datasets onto axis. It is a collective.
func (s *SiderealStream) Redistribute(ctx context.Context, axis int) error {
	vis, err := s.Vis.Redistribute(ctx, axis)
	if err != nil {
		return fmt.Errorf("redistribute vis: %w", err)
	}
	weight, err := s.Weight.Redistribute(ctx, axis)
	if err != nil {
		return fmt.Errorf("redistribute weight: %w", err)
	}
	s.Vis, s.Weight = vis, weight
	return nil
}

// TimeStream holds vis[freq, prod, time] and weight[freq, prod, time]. The
// time axis is either plain UNIX timestamps or frame-count samples.
type TimeStream struct {
	Freq         []FreqChannel
	Input        []Input
	Prod         []Prod
	Stack        []StackEntry
	ReverseStack []ReverseStackEntry
	Time         []float64
	Samples      []TimeSample

	Vis    *mpiarray.Array[complex128]
	Weight *mpiarray.Array[float64]
	Attrs  Attrs
}

// NewTimeStreamFrom allocates an empty time stream taking every axis except
// time, and the attributes, from src. Exactly one of times and samples must be
// non-nil.
func NewTimeStreamFrom(src *SiderealStream, times []float64, samples []TimeSample) (*TimeStream, error) {
	if (times == nil) == (samples == nil) {
		return nil, fmt.Errorf("time stream needs either timestamps or frame samples")
	}
	ntime := len(times) + len(samples)
	axes := src.Axes()
	shape := []int{len(axes.Freq), axes.NVis(), ntime}
	comm := src.Vis.Comm()
	vis, err := mpiarray.New[complex128](comm, shape, src.Vis.Axis())
	if err != nil {
		return nil, fmt.Errorf("allocate vis: %w", err)
	}
	weight, err := mpiarray.New[float64](comm, shape, src.Vis.Axis())
	if err != nil {
		return nil, fmt.Errorf("allocate weight: %w", err)
	}
	attrs := maps.Clone(src.Attrs)
	if attrs == nil {
		attrs = Attrs{}
	}
	return &TimeStream{
		Freq:         axes.Freq,
		Input:        axes.Input,
		Prod:         axes.Prod,
		Stack:        axes.Stack,
		ReverseStack: axes.ReverseStack,
		Time:         times,
		Samples:      samples,
		Vis:          vis,
		Weight:       weight,
		Attrs:        attrs,
	}, nil
}

// Timestamps returns the UNIX time of every sample.
func (ts *TimeStream) Timestamps() []float64 {
	if ts.Time != nil {
		return ts.Time
	}
	out := make([]float64, len(ts.Samples))
	for i, s := range ts.Samples {
		out[i] = s.CTime
	}
	return out
}

func cloneNil[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T{}, s...)
}
