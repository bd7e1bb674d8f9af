package view

import (
	"image/color"

	"github.com/aclements/go-moremath/stats"

	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/selection"
	"github.com/worldlens/dashboard/pkg/colormap"
)

const (
	histogramWidth  = 420
	histogramHeight = 260

	// Base bar opacity while another selection is active; the selected
	// share of each bar is drawn on top at full opacity.
	histogramBackdrop = 0.35
)

var (
	histogramMargin = Margin{Top: 36, Right: 16, Bottom: 42, Left: 48}
	histogramColor  = color.RGBA{14, 165, 233, 255}
)

// Histogram bins one field and brushes along x.
type Histogram struct {
	base

	x      Linear
	values []gesture.Valued
	ready  bool
}

// NewHistogram returns an unrendered histogram view.
func NewHistogram(name string, b Binding) *Histogram {
	return &Histogram{base: base{name: name, kind: KindHistogram, binding: b}}
}

// SetField rebinds the histogram to another field.
func (h *Histogram) SetField(field, label string) {
	h.binding.Field = field
	h.binding.XLabel = label
}

// Render bins every entity with a finite value for the bound field.
// Entities without one are not drawn and can never be brushed.
func (h *Histogram) Render(ds *dataset.Dataset) error {
	if ds == nil {
		return ErrNoDataset
	}
	b := h.binding
	s := newScene(orDefault(b.Width, histogramWidth), orDefault(b.Height, histogramHeight), histogramMargin)
	w, ph := s.PlotWidth(), s.PlotHeight()

	h.values = h.values[:0]
	var xs []float64
	var ids []string
	for _, e := range ds.Entities() {
		v, ok := e.Value(b.Field)
		h.values = append(h.values, gesture.Valued{ID: e.ID, Value: v, OK: ok})
		if ok {
			xs = append(xs, v)
			ids = append(ids, e.ID)
		}
	}

	lo, hi, ok := extent(xs)
	if !ok {
		lo, hi = 0, 1
	}
	h.x = NewLinear(lo, hi, 0, w, true, 10)
	h.ready = true

	fill := histogramColor
	if c, err := colormap.ParseHex(b.Color); err == nil {
		fill = c
	}

	title(s, b.heading(""))
	if ok {
		h.bars(s, xs, ids, fill)
	} else {
		s.Texts = append(s.Texts, Text{X: w / 2, Y: ph / 2, S: "No data", Anchor: "middle", Size: 12})
	}
	bottomAxis(s, h.x, b.XLabel)

	h.commit(s)
	h.ApplySelection(h.sel)
	return nil
}

func (h *Histogram) bars(s *Scene, xs []float64, ids []string, fill color.RGBA) {
	n := h.binding.Bins
	if n <= 0 {
		n = thresholdCount(len(xs))
	}
	lo, hi := h.x.Domain()

	hist := stats.NewLinearHist(lo, hi, n)
	members := make([][]string, n)
	delta := float64(n) / (hi - lo)
	for i, v := range xs {
		hist.Add(v)
		bin := int(delta * (v - lo))
		if bin >= n {
			bin = n - 1
		}
		if bin < 0 {
			bin = 0
		}
		members[bin] = append(members[bin], ids[i])
	}
	// The top edge of the domain is inclusive.
	_, counts, over := hist.Counts()
	counts[n-1] += over

	var maxCount uint
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	ph := s.PlotHeight()
	y := NewLinear(0, float64(maxCount), ph, 0, true, 5)

	for i, c := range counts {
		if c == 0 {
			continue
		}
		x0 := h.x.Map(hist.BinToValue(float64(i)))
		x1 := h.x.Map(hist.BinToValue(float64(i + 1)))
		top := y.Map(float64(c))
		w := x1 - x0 - 1
		if w < 0 {
			w = 0
		}
		s.Marks = append(s.Marks, Mark{
			Shape:       ShapeRect,
			IDs:         members[i],
			X:           x0 + 0.5,
			Y:           top,
			W:           w,
			H:           ph - top,
			Fill:        fill,
			Stroke:      colormap.Darker(fill, 0.8),
			StrokeWidth: 0.5,
			BaseOpacity: 1,
		})
	}
	leftAxis(s, y, "count")
}

// ApplySelection highlights the selected share of every bar. A bar holding
// selected entities is drawn as a lighter backdrop under an overlay sized to
// that share; a bar holding none keeps the plain dim.
func (h *Histogram) ApplySelection(sel selection.Selection) {
	h.restyle(sel)
	if h.scene == nil {
		return
	}
	for i := range h.scene.Marks {
		m := &h.scene.Marks[i]
		m.Overlay = 0
		if sel.IsUnselected() || len(m.IDs) == 0 {
			continue
		}
		k := 0
		for _, id := range m.IDs {
			if sel.Contains(id) {
				k++
			}
		}
		if k == 0 {
			continue
		}
		m.Overlay = m.H * float64(k) / float64(len(m.IDs))
		m.Opacity = m.BaseOpacity * histogramBackdrop
	}
}

// Translate inverts the brushed x span into a value interval.
func (h *Histogram) Translate(r gesture.Region) selection.Selection {
	if !h.ready {
		return selection.Unselected()
	}
	return gesture.RangeSelect(r, h.x.Invert, h.values)
}
