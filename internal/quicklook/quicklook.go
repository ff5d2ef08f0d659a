// Package quicklook renders single-baseline diagnostic plots of simulated
// streams.
package quicklook

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"math/cmplx"
	"os"

	"gonum.org/v1/plot"
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/rjboer/GoMSim/internal/containers"
)

// ErrNotLocal is returned when the requested frequency lives on another
// worker.
var ErrNotLocal = errors.New("quicklook: frequency not held by this worker")

const dpi = 96

// Size is the output image size in pixels.
type Size struct {
	Width  int
	Height int
}

// DefaultSize is used when a zero Size is passed.
var DefaultSize = Size{Width: 900, Height: 600}

// SiderealSeries returns vis[freq, prod, :] of a stream distributed over
// frequency.
func SiderealSeries(ss *containers.SiderealStream, freq, prod int) ([]complex128, error) {
	if ss.Vis.Axis() != containers.AxisFreq {
		return nil, fmt.Errorf("quicklook: stream is distributed over axis %d", ss.Vis.Axis())
	}
	shape := ss.Vis.Shape()
	if freq < 0 || freq >= shape[0] || prod < 0 || prod >= shape[1] {
		return nil, fmt.Errorf("quicklook: (freq %d, prod %d) outside %v", freq, prod, shape)
	}
	lf := freq - ss.Vis.LocalOffset()
	if lf < 0 || lf >= ss.Vis.LocalShape()[0] {
		return nil, ErrNotLocal
	}
	start := ss.Vis.Index(lf, prod, 0)
	return append([]complex128(nil), ss.Vis.Local()[start:start+shape[2]]...), nil
}

// PlotSidereal writes a PNG of amplitude and phase against RA for one
// (freq, prod) of ss. Only the worker that holds freq draws; the others get
// ErrNotLocal.
func PlotSidereal(path string, ss *containers.SiderealStream, freq, prod int, size Size) error {
	vis, err := SiderealSeries(ss, freq, prod)
	if err != nil {
		return err
	}
	p := ss.Prod[prod]
	if ss.Stack != nil {
		p = ss.Prod[ss.Stack[prod].Prod]
	}
	title := fmt.Sprintf("%.2f MHz, inputs %d-%d", ss.Freq[freq].Centre, p.InputA, p.InputB)
	return PlotSeries(path, title, "RA (deg)", ss.RA, vis, size)
}

// PlotSeries writes a two-panel PNG of |v| and arg(v) in degrees against x.
func PlotSeries(path, title, xlabel string, x []float64, v []complex128, size Size) error {
	if len(x) != len(v) {
		return fmt.Errorf("quicklook: %d abscissae for %d values", len(x), len(v))
	}
	if len(v) == 0 {
		return fmt.Errorf("quicklook: empty series")
	}
	if size.Width <= 0 || size.Height <= 0 {
		size = DefaultSize
	}

	amp := make(plotter.XYs, len(v))
	phase := make(plotter.XYs, len(v))
	for i, z := range v {
		amp[i] = plotter.XY{X: x[i], Y: cmplx.Abs(z)}
		phase[i] = plotter.XY{X: x[i], Y: cmplx.Phase(z) * 180 / math.Pi}
	}

	top, err := panel(amp, title, "", "|V|", color.RGBA{B: 255, A: 255})
	if err != nil {
		return err
	}
	bottom, err := panel(phase, "", xlabel, "arg V (deg)", color.RGBA{R: 200, A: 255})
	if err != nil {
		return err
	}
	bottom.Y.Min, bottom.Y.Max = -180, 180

	width := vg.Length(size.Width) * vg.Inch / dpi
	height := vg.Length(size.Height) * vg.Inch / dpi
	img := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadTop: vg.Points(4), PadBottom: vg.Points(4), PadY: vg.Points(8), PadX: vg.Points(4)}
	canvases := plot.Align([][]*plot.Plot{{top}, {bottom}}, tiles, dc)
	top.Draw(canvases[0][0])
	bottom.Draw(canvases[1][0])

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("quicklook: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("quicklook: write %s: %w", path, err)
	}
	return f.Close()
}

func panel(pts plotter.XYs, title, xlabel, ylabel string, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, fmt.Errorf("quicklook: %w", err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(1.5)
	points.Color = c
	p.Add(line, points)
	return p, nil
}
