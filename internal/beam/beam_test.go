package beam

import (
	"errors"
	"math/cmplx"
	"testing"

	"github.com/rjboer/GoMSim/internal/telescope"
)

func newTelescope(t *testing.T) *telescope.Regular {
	t.Helper()
	tel, err := telescope.NewRegular(telescope.Config{
		Feeds: 3, Spacing: 8, FreqStart: 800, FreqEnd: 700, Channels: 2, LMax: 4, MMax: 3,
	})
	if err != nil {
		t.Fatalf("telescope: %v", err)
	}
	return tel
}

func block(nfreq, npol, nl int) [][][]complex128 {
	out := make([][][]complex128, nfreq)
	for f := range out {
		out[f] = make([][]complex128, npol)
		for p := range out[f] {
			out[f][p] = make([]complex128, nl)
		}
	}
	return out
}

func TestSyntheticProjectShapeAndDeterminism(t *testing.T) {
	op, err := NewSynthetic(newTelescope(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if op.NTel() != 12 {
		t.Fatalf("ntel = %d, want 12", op.NTel())
	}
	alm := block(2, 1, 5)
	alm[0][0][2] = 1
	alm[1][0][3] = 0.5i

	a, err := op.Project(2, alm)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	b, _ := op.Project(2, alm)
	if len(a) != 2 || len(a[0]) != 12 {
		t.Fatalf("output shape %dx%d", len(a), len(a[0]))
	}
	for f := range a {
		for i := range a[f] {
			if a[f][i] != b[f][i] {
				t.Fatalf("projection is not deterministic")
			}
		}
	}
	if a[0][0] == 0 {
		t.Fatalf("auto-correlation should respond to l=2, m=2")
	}
}

func TestSyntheticIgnoresDegreesBelowOrder(t *testing.T) {
	op, _ := NewSynthetic(newTelescope(t))
	alm := block(2, 1, 5)
	alm[0][0][1] = 1
	vis, err := op.Project(2, alm)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	for _, row := range vis {
		for _, v := range row {
			if cmplx.Abs(v) != 0 {
				t.Fatalf("l < m must not contribute, got %v", v)
			}
		}
	}
}

func TestSyntheticOrderZeroBlocksAgree(t *testing.T) {
	op, _ := NewSynthetic(newTelescope(t))
	alm := block(2, 1, 5)
	alm[1][0][0] = 2
	alm[1][0][4] = 1 - 1i
	vis, _ := op.Project(0, alm)
	half := op.NTel() / 2
	for p := 0; p < half; p++ {
		if vis[1][p] != vis[1][half+p] {
			t.Fatalf("m=0 positive and negative blocks differ at %d", p)
		}
	}
}

func TestSyntheticRejectsBadInput(t *testing.T) {
	op, _ := NewSynthetic(newTelescope(t))
	if _, err := op.Project(4, block(2, 1, 5)); err == nil {
		t.Fatalf("expected error for m > mmax")
	}
	if _, err := op.Project(1, block(1, 1, 5)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected shape error, got %v", err)
	}
	if _, err := op.Project(1, block(2, 1, 3)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected shape error, got %v", err)
	}
}
