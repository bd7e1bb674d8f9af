package gesture

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/worldlens/dashboard/internal/selection"
)

// Valued is one entity's value on a range view's axis. OK is false when the
// value is missing or non-finite.
type Valued struct {
	ID    string
	Value float64
	OK    bool
}

// Positioned is one entity's rendered position on a planar view.
type Positioned struct {
	ID   string
	X, Y float64
}

// Shaped is one entity's rendered bounding box on a spatial view, in screen
// coordinates (Min is the top-left corner).
type Shaped struct {
	ID    string
	Bound orb.Bound
}

// SelectRange selects every item whose value lies in [lo, hi]. Items without
// a finite value are never selected.
func SelectRange(items []Valued, lo, hi float64) selection.Selection {
	if lo > hi {
		lo, hi = hi, lo
	}
	var ids []string
	for _, it := range items {
		if !it.OK || math.IsNaN(it.Value) || math.IsInf(it.Value, 0) {
			continue
		}
		if it.Value >= lo && it.Value <= hi {
			ids = append(ids, it.ID)
		}
	}
	return selection.Of(ids...)
}

// RangeSelect inverts the x extent of r through invert and selects the
// matching items. A zero-length span clears the selection.
func RangeSelect(r Region, invert func(px float64) float64, items []Valued) selection.Selection {
	if !r.Valid() || r.DegenerateX() {
		return selection.Unselected()
	}
	r = r.Normalize()
	return SelectRange(items, invert(r.X0), invert(r.X1))
}

// PlanarSelect selects every point inside r, inclusive on all four edges. A
// zero-area rectangle clears the selection.
func PlanarSelect(r Region, points []Positioned) selection.Selection {
	if !r.Valid() || r.Degenerate() {
		return selection.Unselected()
	}
	r = r.Normalize()
	var ids []string
	for _, p := range points {
		if p.X >= r.X0 && p.X <= r.X1 && p.Y >= r.Y0 && p.Y <= r.Y1 {
			ids = append(ids, p.ID)
		}
	}
	return selection.Of(ids...)
}

// SpatialSelect selects every shape whose bounding box overlaps r. This is a
// bounding-box test, not polygon intersection. A zero-area rectangle clears
// the selection.
func SpatialSelect(r Region, shapes []Shaped) selection.Selection {
	if !r.Valid() || r.Degenerate() {
		return selection.Unselected()
	}
	r = r.Normalize()
	brush := orb.Bound{Min: orb.Point{r.X0, r.Y0}, Max: orb.Point{r.X1, r.Y1}}
	var ids []string
	for _, s := range shapes {
		if s.Bound.IsEmpty() {
			continue
		}
		if s.Bound.Intersects(brush) {
			ids = append(ids, s.ID)
		}
	}
	return selection.Of(ids...)
}
