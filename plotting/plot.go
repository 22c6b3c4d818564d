// Package plotting renders the diagnostic plots of a modeling block:
// ranked variable importance and faceted partial dependence curves.
// The output format follows the file extension (png, svg, pdf, eps, ...).
package plotting

import (
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/crashforest/inspection"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// flatPad is added above and below a flat curve so its facet has a y range.
const flatPad = 0.5

// Options sets the canvas size and facet layout.
type Options struct {
	Width   vg.Length
	Height  vg.Length
	Columns int
}

// DefaultOptions returns a 10x8 inch canvas with three facets per row.
func DefaultOptions() Options {
	return Options{Width: 10 * vg.Inch, Height: 8 * vg.Inch, Columns: 3}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Width <= 0 {
		o.Width = def.Width
	}
	if o.Height <= 0 {
		o.Height = def.Height
	}
	if o.Columns <= 0 {
		o.Columns = def.Columns
	}
	return o
}

// ImportancePlot draws a horizontal bar per feature with the most important
// feature on top.
func ImportancePlot(title string, ranked []inspection.Importance, path string, opts Options) error {
	if len(ranked) == 0 {
		return errors.NewValueError("plotting.ImportancePlot", "no importances to plot")
	}
	opts = opts.withDefaults()

	// 下から上へ描かれるので重要度の低い順に並べる
	n := len(ranked)
	values := make(plotter.Values, n)
	names := make([]string, n)
	for i, imp := range ranked {
		values[n-1-i] = imp.Value
		names[n-1-i] = imp.Name
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "IncNodePurity"

	bars, err := plotter.NewBarChart(values, vg.Points(8))
	if err != nil {
		return errors.Wrap(err, "plotting.ImportancePlot")
	}
	bars.Horizontal = true
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalY(names...)

	if err := ensureDir(path); err != nil {
		return err
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return errors.Wrapf(err, "plotting.ImportancePlot: %s", path)
	}
	return nil
}

// PartialDependencePanel draws one facet per curve in a grid of
// opts.Columns columns. Each facet has its own y range.
func PartialDependencePanel(title string, curves []*inspection.PDResult, path string, opts Options) error {
	if len(curves) == 0 {
		return errors.NewValueError("plotting.PartialDependencePanel", "no curves to plot")
	}
	opts = opts.withDefaults()

	cols := opts.Columns
	if len(curves) < cols {
		cols = len(curves)
	}
	rows := (len(curves) + cols - 1) / cols

	plots := make([][]*plot.Plot, rows)
	for r := range plots {
		plots[r] = make([]*plot.Plot, cols)
	}
	for i, c := range curves {
		p, err := facet(c)
		if err != nil {
			return errors.Wrapf(err, "plotting.PartialDependencePanel: %s", c.Name)
		}
		plots[i/cols][i%cols] = p
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	canvas, err := draw.NewFormattedCanvas(opts.Width, opts.Height, format)
	if err != nil {
		return errors.Wrapf(err, "plotting.PartialDependencePanel: %s", path)
	}
	dc := draw.New(canvas)

	titlePad := vg.Length(0)
	if title != "" {
		sty := plot.New().Title.TextStyle
		sty.YAlign = draw.YTop
		titlePad = sty.Height(title) + vg.Points(6)
		dc.FillText(sty, vg.Point{X: dc.Center().X, Y: dc.Max.Y - vg.Points(3)}, title)
	}

	tiles := draw.Tiles{
		Rows:   rows,
		Cols:   cols,
		PadTop: titlePad,
		PadX:   vg.Millimeter * 2,
		PadY:   vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		for c, p := range plots[r] {
			if p != nil {
				p.Draw(canvases[r][c])
			}
		}
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "plotting.PartialDependencePanel: %s", path)
	}
	if _, err := canvas.WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "plotting.PartialDependencePanel: %s", path)
	}
	return errors.Wrap(f.Close(), "plotting.PartialDependencePanel")
}

func facet(c *inspection.PDResult) (*plot.Plot, error) {
	if len(c.Grid) == 0 || len(c.Grid) != len(c.Average) {
		return nil, errors.NewDimensionError("plotting.facet", len(c.Grid), len(c.Average), 0)
	}
	p := plot.New()
	p.Title.Text = c.Name
	p.X.Label.Text = c.Name
	p.Y.Label.Text = "partial dependence"

	xys := make(plotter.XYs, len(c.Grid))
	for i := range c.Grid {
		xys[i].X = c.Grid[i]
		xys[i].Y = c.Average[i]
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return nil, err
	}
	points.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(line, points)

	if lo, hi := c.Range(); hi-lo == 0 {
		p.Y.Min, p.Y.Max = lo-flatPad, hi+flatPad
	}
	if c.Grid[0] == c.Grid[len(c.Grid)-1] {
		p.X.Min, p.X.Max = c.Grid[0]-flatPad, c.Grid[0]+flatPad
	}
	return p, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "plotting: create %s", dir)
	}
	return nil
}
