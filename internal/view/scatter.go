package view

import (
	"image/color"

	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/selection"
	"github.com/worldlens/dashboard/pkg/colormap"
)

const (
	scatterWidth   = 420
	scatterHeight  = 320
	scatterRadius  = 4.2
	scatterOpacity = 0.55
)

var (
	scatterMargin = Margin{Top: 36, Right: 16, Bottom: 42, Left: 52}
	scatterColor  = color.RGBA{99, 102, 241, 255}
)

// Scatter plots one field against another and brushes rectangles.
type Scatter struct {
	base

	x, y   Linear
	points []gesture.Positioned
	ready  bool
}

// NewScatter returns an unrendered scatter view.
func NewScatter(name string, b Binding) *Scatter {
	return &Scatter{base: base{name: name, kind: KindScatter, binding: b}}
}

// SetFields rebinds both axes.
func (p *Scatter) SetFields(xField, xLabel, yField, yLabel string) {
	p.binding.Field, p.binding.XLabel = xField, xLabel
	p.binding.YField, p.binding.YLabel = yField, yLabel
}

// Render draws one point per entity with finite values on both axes.
func (p *Scatter) Render(ds *dataset.Dataset) error {
	if ds == nil {
		return ErrNoDataset
	}
	b := p.binding
	s := newScene(orDefault(b.Width, scatterWidth), orDefault(b.Height, scatterHeight), scatterMargin)
	w, h := s.PlotWidth(), s.PlotHeight()

	type pt struct {
		id   string
		x, y float64
	}
	var pts []pt
	var xs, ys []float64
	for _, e := range ds.Entities() {
		xv, okx := e.Value(b.Field)
		yv, oky := e.Value(b.YField)
		if !okx || !oky {
			continue
		}
		pts = append(pts, pt{e.ID, xv, yv})
		xs = append(xs, xv)
		ys = append(ys, yv)
	}

	x0, x1, ok := extent(xs)
	if !ok {
		x0, x1 = 0, 1
	}
	y0, y1, _ := extent(ys)
	if !ok {
		y0, y1 = 0, 1
	}
	p.x = NewLinear(x0, x1, 0, w, true, 8)
	p.y = NewLinear(y0, y1, h, 0, true, 6)
	p.ready = true

	fill := scatterColor
	if c, err := colormap.ParseHex(b.Color); err == nil {
		fill = c
	}

	title(s, b.heading(""))
	p.points = p.points[:0]
	for _, q := range pts {
		cx, cy := p.x.Map(q.x), p.y.Map(q.y)
		p.points = append(p.points, gesture.Positioned{ID: q.id, X: cx, Y: cy})
		s.Marks = append(s.Marks, Mark{
			Shape:       ShapeCircle,
			IDs:         []string{q.id},
			X:           cx,
			Y:           cy,
			R:           scatterRadius,
			Fill:        fill,
			Stroke:      colormap.Darker(fill, 0.6),
			StrokeWidth: 0.6,
			BaseOpacity: scatterOpacity,
		})
	}
	if !ok {
		s.Texts = append(s.Texts, Text{X: w / 2, Y: h / 2, S: "No data", Anchor: "middle", Size: 12})
	}
	bottomAxis(s, p.x, b.XLabel)
	leftAxis(s, p.y, b.YLabel)

	p.commit(s)
	return nil
}

// ApplySelection dims every point outside sel.
func (p *Scatter) ApplySelection(sel selection.Selection) {
	p.restyle(sel)
}

// Translate selects the points inside the brushed rectangle.
func (p *Scatter) Translate(r gesture.Region) selection.Selection {
	if !p.ready {
		return selection.Unselected()
	}
	return gesture.PlanarSelect(r, p.points)
}
