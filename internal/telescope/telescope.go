// Package telescope describes the interferometer geometry the simulator
// projects onto: feeds, the unique baselines they form, the frequency band and
// the harmonic resolution, plus the site used to convert UTC into sidereal
// coordinates.
package telescope

import (
	"github.com/rjboer/GoMSim/internal/containers"
)

// Telescope is the geometry contract the simulation tasks rely on.
type Telescope interface {
	Observer

	LMax() int
	MMax() int
	NFreq() int
	NumPolSky() int
	NFeed() int
	// NPairs is the number of unique baselines; the beam operator emits
	// 2*NPairs telescope elements per frequency.
	NPairs() int
	// Frequencies returns the channel centres in MHz.
	Frequencies() []float64
	// UniquePairs returns the representative feed pair of every unique
	// baseline.
	UniquePairs() []containers.Prod
	// FeedMap returns the unique baseline index of feeds (i, j), or a
	// negative value when the pair is masked.
	FeedMap(i, j int) int
	// FeedConj reports whether (i, j) is the conjugate of its unique baseline.
	FeedConj(i, j int) bool
}

// InputIndexer is implemented by telescopes that can describe their feeds.
type InputIndexer interface {
	InputIndex() []containers.Input
}

// Stacker is implemented by telescopes whose unique baselines are formed by
// collating the full triangle of products.
type Stacker interface {
	IndexMapProd() []containers.Prod
	IndexMapStack() []containers.StackEntry
	ReverseMapStack() []containers.ReverseStackEntry
}

// Baseliner is implemented by telescopes that know the east-west length, in
// metres, of each unique baseline.
type Baseliner interface {
	Baselines() []float64
}

// FeedIndex returns the input axis of a telescope, falling back to anonymous
// feeds numbered 0..NFeed-1.
func FeedIndex(t Telescope) []containers.Input {
	if ii, ok := t.(InputIndexer); ok {
		return ii.InputIndex()
	}
	return containers.DefaultInputs(t.NFeed())
}

// IsFullTriangle reports whether every feed pair i <= j is its own baseline.
func IsFullTriangle(t Telescope) bool {
	n := t.NFeed()
	return t.NPairs() == n*(n+1)/2
}
