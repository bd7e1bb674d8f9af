// Package view implements the linked views: each renders a scene from the
// dataset, restyles it for a selection and translates brush regions into
// selections using its own scales.
package view

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/paulmach/orb"

	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/selection"
)

// ErrNoDataset is returned when Render is called without a dataset.
var ErrNoDataset = errors.New("view: nil dataset")

// Kind names a view variant.
type Kind string

const (
	KindHistogram  Kind = "histogram"
	KindScatter    Kind = "scatter"
	KindChoropleth Kind = "choropleth"
)

// View is the contract every chart satisfies. The broadcaster only sees the
// embedded selection.Target.
type View interface {
	selection.Target

	Name() string
	Kind() Kind
	Binding() Binding
	SetBinding(b Binding)

	// Render rebuilds the scene from scratch. Calling it twice with the same
	// dataset and binding yields the same scene.
	Render(ds *dataset.Dataset) error

	// Scene returns the last rendered scene, or nil before the first Render.
	Scene() *Scene

	// Highlighted reports whether the entity is drawn and, if so, whether it
	// is styled as in the selection.
	Highlighted(id string) (in, drawn bool)
}

// Translator is implemented by views that accept brush gestures.
type Translator interface {
	Translate(r gesture.Region) selection.Selection
}

// Binding is the per-view configuration: what it shows and how.
type Binding struct {
	Field       string `json:"field"`
	YField      string `json:"y_field,omitempty"`
	Title       string `json:"title,omitempty"`
	XLabel      string `json:"x_label,omitempty"`
	YLabel      string `json:"y_label,omitempty"`
	LegendTitle string `json:"legend_title,omitempty"`
	Year        int    `json:"year,omitempty"`
	Color       string `json:"color,omitempty"`
	Colormap    string `json:"colormap,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Bins        int    `json:"bins,omitempty"`
}

// New constructs a view of the given kind.
func New(kind Kind, name string, b Binding) (View, error) {
	switch kind {
	case KindHistogram:
		return NewHistogram(name, b), nil
	case KindScatter:
		return NewScatter(name, b), nil
	case KindChoropleth:
		return NewChoropleth(name, b), nil
	default:
		return nil, fmt.Errorf("unknown view kind %q", kind)
	}
}

// Margin is the space between the scene border and the plot area.
type Margin struct {
	Top, Right, Bottom, Left float64
}

// Shape is a mark geometry type.
type Shape int

const (
	ShapeRect Shape = iota
	ShapeCircle
	ShapePath
)

// Opacity applied to marks outside the active selection.
const dimFactor = 0.2

// Mark is one drawable element bound to one or more entities. Coordinates
// are plot-area pixels.
type Mark struct {
	Shape Shape
	IDs   []string

	X, Y, W, H float64 // rect; X,Y is the circle centre
	R          float64 // circle
	Rings      []orb.Ring

	Fill        color.RGBA
	Stroke      color.RGBA
	StrokeWidth float64

	// NoData marks an entity drawn without a value (hatched fill).
	NoData bool

	BaseOpacity float64
	Opacity     float64
	Interactive bool

	// Overlay is the height of the highlighted portion of a bar, measured
	// up from its bottom edge.
	Overlay float64
}

// Bound returns the mark's bounding box in plot-area pixels.
func (m Mark) Bound() orb.Bound {
	switch m.Shape {
	case ShapeCircle:
		return orb.Bound{Min: orb.Point{m.X - m.R, m.Y - m.R}, Max: orb.Point{m.X + m.R, m.Y + m.R}}
	case ShapePath:
		var b orb.Bound
		for i, r := range m.Rings {
			if i == 0 {
				b = r.Bound()
				continue
			}
			b = b.Union(r.Bound())
		}
		return b
	default:
		return orb.Bound{Min: orb.Point{m.X, m.Y}, Max: orb.Point{m.X + m.W, m.Y + m.H}}
	}
}

// Text is a label in plot-area pixels.
type Text struct {
	X, Y   float64
	S      string
	Anchor string // start, middle, end
	Size   float64
	Bold   bool
}

// Line is an axis or grid segment in plot-area pixels.
type Line struct {
	X0, Y0, X1, Y1 float64
	Color          color.RGBA
}

// Stop is one legend gradient stop.
type Stop struct {
	Offset float64
	Color  color.RGBA
}

// Legend is a horizontal gradient bar in plot-area pixels.
type Legend struct {
	X, Y, W, H float64
	Stops      []Stop
}

// Scene is everything a renderer needs to draw one view.
type Scene struct {
	Width, Height float64
	Margin        Margin
	Background    color.RGBA
	PlotFill      color.RGBA
	Marks         []Mark
	Lines         []Line
	Texts         []Text
	Legend        *Legend
}

// PlotWidth is the width of the plot area.
func (s *Scene) PlotWidth() float64 { return s.Width - s.Margin.Left - s.Margin.Right }

// PlotHeight is the height of the plot area.
func (s *Scene) PlotHeight() float64 { return s.Height - s.Margin.Top - s.Margin.Bottom }

// base carries the state every view shares: binding, scene and the
// per-entity membership computed by the last ApplySelection.
type base struct {
	name    string
	kind    Kind
	binding Binding
	scene   *Scene
	sel     selection.Selection
	member  map[string]bool
}

func (b *base) Name() string         { return b.name }
func (b *base) Kind() Kind           { return b.kind }
func (b *base) Binding() Binding     { return b.binding }
func (b *base) SetBinding(n Binding) { b.binding = n }
func (b *base) Scene() *Scene        { return b.scene }

func (b *base) Highlighted(id string) (in, drawn bool) {
	in, drawn = b.member[id]
	return in, drawn
}

// restyle applies sel to every mark. A mark is in the selection when any
// of its entities is.
func (b *base) restyle(sel selection.Selection) {
	b.sel = sel
	if b.scene == nil {
		return
	}
	for i := range b.scene.Marks {
		m := &b.scene.Marks[i]
		in := false
		for _, id := range m.IDs {
			ok := sel.Contains(id)
			b.member[id] = ok
			in = in || ok
		}
		if in {
			m.Opacity = m.BaseOpacity
		} else {
			m.Opacity = m.BaseOpacity * dimFactor
		}
		m.Interactive = in
	}
}

// commit installs a freshly built scene and re-derives membership from the
// last selection the view was given.
func (b *base) commit(s *Scene) {
	b.scene = s
	b.member = make(map[string]bool)
	b.restyle(b.sel)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
