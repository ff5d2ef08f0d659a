package telescope

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/rjboer/GoMSim/internal/containers"
)

// Config describes a regular east-west line of identical feeds.
type Config struct {
	Feeds     int     `json:"feeds"`
	Spacing   float64 `json:"spacing"` // metres
	FreqStart float64 `json:"freqStart"`
	FreqEnd   float64 `json:"freqEnd"`
	Channels  int     `json:"channels"`
	LMax      int     `json:"lmax"`
	MMax      int     `json:"mmax"`
	NumPol    int     `json:"numPol"`
	// Redundant collates baselines of equal separation into one.
	Redundant bool       `json:"redundant"`
	Masked    [][2]int   `json:"masked,omitempty"`
	Longitude float64    `json:"longitude"`
	Epoch     *time.Time `json:"epoch,omitempty"`
}

// Regular is a Telescope built from a Config.
type Regular struct {
	Site

	cfg     Config
	freqs   []float64
	pairs   []containers.Prod
	feedMap [][]int
	conj    [][]bool
}

// NewRegular validates cfg and precomputes the baseline maps.
func NewRegular(cfg Config) (*Regular, error) {
	if cfg.Feeds < 1 {
		return nil, fmt.Errorf("telescope needs at least one feed, got %d", cfg.Feeds)
	}
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("telescope needs at least one channel, got %d", cfg.Channels)
	}
	if cfg.FreqStart <= 0 || cfg.FreqEnd <= 0 {
		return nil, fmt.Errorf("frequencies must be positive, got %g..%g MHz", cfg.FreqStart, cfg.FreqEnd)
	}
	if cfg.LMax < 0 || cfg.MMax < 0 || cfg.MMax > cfg.LMax {
		return nil, fmt.Errorf("need 0 <= mmax <= lmax, got lmax=%d mmax=%d", cfg.LMax, cfg.MMax)
	}
	if cfg.NumPol == 0 {
		cfg.NumPol = 1
	}
	masked := make(map[[2]int]bool, len(cfg.Masked))
	for _, p := range cfg.Masked {
		a, b := min(p[0], p[1]), max(p[0], p[1])
		if a < 0 || b >= cfg.Feeds {
			return nil, fmt.Errorf("masked pair %v outside %d feeds", p, cfg.Feeds)
		}
		masked[[2]int{a, b}] = true
	}
	epoch := DefaultLSDEpoch
	if cfg.Epoch != nil {
		epoch = *cfg.Epoch
	}

	t := &Regular{Site: NewSite(cfg.Longitude, epoch), cfg: cfg}

	t.freqs = make([]float64, cfg.Channels)
	if cfg.Channels == 1 {
		t.freqs[0] = cfg.FreqStart
	} else {
		floats.Span(t.freqs, cfg.FreqStart, cfg.FreqEnd)
	}

	n := cfg.Feeds
	t.feedMap = make([][]int, n)
	t.conj = make([][]bool, n)
	for i := range t.feedMap {
		t.feedMap[i] = make([]int, n)
		t.conj[i] = make([]bool, n)
	}
	seen := make(map[[2]int]int)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if masked[[2]int{i, j}] {
				t.feedMap[i][j], t.feedMap[j][i] = -1, -1
				continue
			}
			key := [2]int{i, j}
			if cfg.Redundant {
				key = [2]int{0, j - i}
			}
			idx, ok := seen[key]
			if !ok {
				idx = len(t.pairs)
				seen[key] = idx
				t.pairs = append(t.pairs, containers.Prod{InputA: i, InputB: j})
			}
			t.feedMap[i][j], t.feedMap[j][i] = idx, idx
			t.conj[j][i] = i != j
		}
	}
	return t, nil
}

// Config returns the configuration the telescope was built from.
func (t *Regular) Config() Config { return t.cfg }

func (t *Regular) LMax() int                      { return t.cfg.LMax }
func (t *Regular) MMax() int                      { return t.cfg.MMax }
func (t *Regular) NFreq() int                     { return len(t.freqs) }
func (t *Regular) NumPolSky() int                 { return t.cfg.NumPol }
func (t *Regular) NFeed() int                     { return t.cfg.Feeds }
func (t *Regular) NPairs() int                    { return len(t.pairs) }
func (t *Regular) Frequencies() []float64         { return append([]float64(nil), t.freqs...) }
func (t *Regular) UniquePairs() []containers.Prod { return append([]containers.Prod(nil), t.pairs...) }
func (t *Regular) FeedMap(i, j int) int           { return t.feedMap[i][j] }
func (t *Regular) FeedConj(i, j int) bool         { return t.conj[i][j] }

// Baselines implements Baseliner.
func (t *Regular) Baselines() []float64 {
	out := make([]float64, len(t.pairs))
	for i, p := range t.pairs {
		out[i] = float64(p.InputB-p.InputA) * t.cfg.Spacing
	}
	return out
}

// InputIndex implements InputIndexer.
func (t *Regular) InputIndex() []containers.Input {
	out := make([]containers.Input, t.cfg.Feeds)
	for i := range out {
		out[i] = containers.Input{ChanID: i, CorrelatorInput: fmt.Sprintf("EW%04d", i)}
	}
	return out
}

// IndexMapProd implements Stacker: the full upper triangle of feed pairs.
func (t *Regular) IndexMapProd() []containers.Prod {
	n := t.cfg.Feeds
	out := make([]containers.Prod, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out = append(out, containers.Prod{InputA: i, InputB: j})
		}
	}
	return out
}

// IndexMapStack implements Stacker. Each stack points at the first product
// of the triangle that contributes to it.
func (t *Regular) IndexMapStack() []containers.StackEntry {
	out := make([]containers.StackEntry, len(t.pairs))
	filled := make([]bool, len(t.pairs))
	for pi, p := range t.IndexMapProd() {
		s := t.feedMap[p.InputA][p.InputB]
		if s < 0 || filled[s] {
			continue
		}
		filled[s] = true
		out[s] = containers.StackEntry{Prod: uint32(pi), Conjugate: t.conj[p.InputA][p.InputB]}
	}
	return out
}

// ReverseMapStack implements Stacker. Masked products point one past the
// last stack.
func (t *Regular) ReverseMapStack() []containers.ReverseStackEntry {
	prods := t.IndexMapProd()
	out := make([]containers.ReverseStackEntry, len(prods))
	for pi, p := range prods {
		s := t.feedMap[p.InputA][p.InputB]
		if s < 0 {
			out[pi] = containers.ReverseStackEntry{Stack: uint32(len(t.pairs))}
			continue
		}
		out[pi] = containers.ReverseStackEntry{Stack: uint32(s), Conjugate: t.conj[p.InputA][p.InputB]}
	}
	return out
}

// ChannelWidth returns the spacing of the band, or zero for a single channel.
func ChannelWidth(freqs []float64) float64 {
	if len(freqs) < 2 {
		return 0
	}
	return math.Abs(freqs[1] - freqs[0])
}
