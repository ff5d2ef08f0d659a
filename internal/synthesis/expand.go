package synthesis

import (
	"context"
	"fmt"
	"math/cmplx"

	"github.com/rjboer/GoMSim/internal/containers"
	"github.com/rjboer/GoMSim/internal/pipeline"
	"github.com/rjboer/GoMSim/internal/telemetry"
	"github.com/rjboer/GoMSim/internal/telescope"
)

// ExpandProducts unwraps a stream of unique baselines into the full upper
// triangle of feed products.
type ExpandProducts struct {
	tel  telescope.Telescope
	opts Options
}

// NewExpandProducts returns an expander using tel's feed map.
func NewExpandProducts(tel telescope.Telescope, opts Options) *ExpandProducts {
	return &ExpandProducts{tel: tel, opts: opts.withDefaults()}
}

// Process returns a new stream over every product (i, j) with i <= j of the
// source's inputs. Products the telescope masks keep zero visibility and
// weight; all others copy their unique baseline, conjugated where the feed
// map says so, with unit weight. The stack and reverse maps are identities.
// Axes are taken from the source; attributes are not.
func (e *ExpandProducts) Process(ctx context.Context, src *containers.SiderealStream) (*containers.SiderealStream, error) {
	if err := src.Redistribute(ctx, containers.AxisFreq); err != nil {
		return nil, err
	}
	ninput := len(src.Input)
	if ninput > e.tel.NFeed() {
		return nil, fmt.Errorf("%w: stream has %d inputs, telescope has %d feeds", pipeline.ErrConfig, ninput, e.tel.NFeed())
	}

	prod := make([]containers.Prod, 0, ninput*(ninput+1)/2)
	for i := 0; i < ninput; i++ {
		for j := i; j < ninput; j++ {
			prod = append(prod, containers.Prod{InputA: i, InputB: j})
		}
	}
	stack := make([]containers.StackEntry, len(prod))
	rev := make([]containers.ReverseStackEntry, len(prod))
	for i := range prod {
		stack[i] = containers.StackEntry{Prod: uint32(i)}
		rev[i] = containers.ReverseStackEntry{Stack: uint32(i)}
	}

	out, err := containers.NewSiderealStream(src.Vis.Comm(), containers.StreamAxes{
		Freq:         src.Freq,
		RA:           src.RA,
		Input:        src.Input,
		Prod:         prod,
		Stack:        stack,
		ReverseStack: rev,
	})
	if err != nil {
		return nil, err
	}

	nvis := src.Vis.Shape()[1]
	nra := len(src.RA)
	lfreq := src.Vis.LocalShape()[0]
	for pi, p := range prod {
		u := e.tel.FeedMap(p.InputA, p.InputB)
		if u < 0 {
			continue
		}
		if u >= nvis {
			return nil, fmt.Errorf("%w: feed map sends (%d,%d) to baseline %d of %d", pipeline.ErrRange, p.InputA, p.InputB, u, nvis)
		}
		conj := e.tel.FeedConj(p.InputA, p.InputB)
		for lf := 0; lf < lfreq; lf++ {
			srcRow := src.Vis.Local()[src.Vis.Index(lf, u, 0):][:nra]
			dstOff := out.Vis.Index(lf, pi, 0)
			dstRow := out.Vis.Local()[dstOff:][:nra]
			weight := out.Weight.Local()[dstOff:][:nra]
			for r, v := range srcRow {
				if conj {
					v = cmplx.Conj(v)
				}
				dstRow[r] = v
				weight[r] = 1
			}
		}
	}
	e.opts.emitted(src.Vis.Comm(), telemetry.Progress{Task: "expand_products", Kind: KindExpanded, Samples: len(prod)})
	return out, nil
}
