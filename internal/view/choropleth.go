package view

import (
	"image/color"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/selection"
	"github.com/worldlens/dashboard/pkg/colormap"
)

const (
	choroplethWidth  = 720
	choroplethHeight = 420
	legendStops      = 51
	legendWidth      = 240
)

var (
	choroplethMargin = Margin{Top: 36, Right: 8, Bottom: 56, Left: 8}
	noDataFill       = color.RGBA{226, 232, 240, 255}
	shapeStroke      = color.RGBA{255, 255, 255, 255}
)

// Choropleth colours entity shapes by one field and brushes by bounding
// box overlap.
type Choropleth struct {
	base

	shapes []gesture.Shaped
	ready  bool
}

// NewChoropleth returns an unrendered choropleth view.
func NewChoropleth(name string, b Binding) *Choropleth {
	return &Choropleth{base: base{name: name, kind: KindChoropleth, binding: b}}
}

// SetField rebinds the colour field and its legend title.
func (c *Choropleth) SetField(field, label string) {
	c.binding.Field = field
	c.binding.LegendTitle = label
}

func (c *Choropleth) colormap() colormap.Colormap {
	if cm, ok := colormap.Lookup(c.binding.Colormap); ok {
		return cm
	}
	return colormap.YlGnBu
}

// Render draws every entity with geometry. Entities without a finite value
// are drawn as no-data shapes and stay brushable.
func (c *Choropleth) Render(ds *dataset.Dataset) error {
	if ds == nil {
		return ErrNoDataset
	}
	b := c.binding
	s := newScene(orDefault(b.Width, choroplethWidth), orDefault(b.Height, choroplethHeight), choroplethMargin)
	w, h := s.PlotWidth(), s.PlotHeight()
	cm := c.colormap()

	ids := ds.WithGeometry()
	geoms := make([]orb.Geometry, len(ids))
	var world orb.Bound
	for i, id := range ids {
		g, _ := ds.Geometry(id)
		geoms[i] = project.Geometry(orb.Clone(g), equirectangular)
		if i == 0 {
			world = geoms[i].Bound()
		} else {
			world = world.Union(geoms[i].Bound())
		}
	}
	proj := fit(world, w, h)

	lo, hi, hasValues := ds.Extent(b.Field)
	title(s, b.heading(b.LegendTitle))

	c.shapes = c.shapes[:0]
	for i, id := range ids {
		m := Mark{
			Shape:       ShapePath,
			IDs:         []string{id},
			Rings:       screenRings(geoms[i], proj),
			Stroke:      shapeStroke,
			StrokeWidth: 0.5,
			BaseOpacity: 1,
		}
		if v, ok := ds.Value(id, b.Field); ok && hasValues {
			t := 0.5
			if hi > lo {
				t = (v - lo) / (hi - lo)
			}
			m.Fill = color.RGBAModel.Convert(cm.At(t)).(color.RGBA)
		} else {
			m.Fill = noDataFill
			m.NoData = true
		}
		s.Marks = append(s.Marks, m)
		c.shapes = append(c.shapes, gesture.Shaped{ID: id, Bound: m.Bound()})
	}
	c.legend(s, cm, lo, hi, hasValues)
	c.ready = true

	c.commit(s)
	return nil
}

func (c *Choropleth) legend(s *Scene, cm colormap.Colormap, lo, hi float64, ok bool) {
	h := s.PlotHeight()
	lg := &Legend{X: 0, Y: h + 24, W: legendWidth, H: 10}
	for i := 0; i < legendStops; i++ {
		t := float64(i) / float64(legendStops-1)
		lg.Stops = append(lg.Stops, Stop{Offset: t, Color: color.RGBAModel.Convert(cm.At(t)).(color.RGBA)})
	}
	s.Legend = lg

	label := c.binding.LegendTitle
	if label == "" {
		label = c.binding.Field
	}
	s.Texts = append(s.Texts, Text{X: 0, Y: h + 18, S: label, Anchor: "start", Size: 11})
	if ok {
		s.Texts = append(s.Texts,
			Text{X: 0, Y: h + 48, S: formatTick(lo), Anchor: "start", Size: 10},
			Text{X: legendWidth, Y: h + 48, S: formatTick(hi), Anchor: "end", Size: 10},
		)
	}
	s.Texts = append(s.Texts, Text{X: legendWidth + 16, Y: h + 33, S: "No data", Anchor: "start", Size: 10})
}

// ApplySelection dims every shape outside sel.
func (c *Choropleth) ApplySelection(sel selection.Selection) {
	c.restyle(sel)
}

// Translate selects the shapes whose screen bounding box overlaps the
// brushed rectangle.
func (c *Choropleth) Translate(r gesture.Region) selection.Selection {
	if !c.ready {
		return selection.Unselected()
	}
	return gesture.SpatialSelect(r, c.shapes)
}
