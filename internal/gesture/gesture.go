// Package gesture turns brush geometry into entity selections.
//
// Regions are expressed in a view's plot-area pixels: the origin is the
// top-left corner of the plotting area and y grows downward, the same space
// the view renders its marks into.
package gesture

import (
	"fmt"
	"math"
	"strings"
)

// Phase is where a gesture is in its lifecycle.
type Phase string

const (
	// PhaseMove is an intermediate update while the pointer is still down.
	PhaseMove Phase = "move"
	// PhaseEnd is the drag-release that completes the gesture.
	PhaseEnd Phase = "end"
)

// ParsePhase accepts "move"/"brush" and "end"/"release"; empty means end.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "end", "release":
		return PhaseEnd, nil
	case "move", "brush":
		return PhaseMove, nil
	default:
		return "", fmt.Errorf("unknown gesture phase %q", s)
	}
}

// Region is a brush extent. Its corners may arrive in any order.
type Region struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Rect builds a region from two corners.
func Rect(x0, y0, x1, y1 float64) Region {
	return Region{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

// Span builds a one-dimensional region along x.
func Span(x0, x1 float64) Region {
	return Region{X0: x0, X1: x1}
}

// Normalize orders the corners so X0 <= X1 and Y0 <= Y1.
func (r Region) Normalize() Region {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// Width is the absolute x extent.
func (r Region) Width() float64 { return math.Abs(r.X1 - r.X0) }

// Height is the absolute y extent.
func (r Region) Height() float64 { return math.Abs(r.Y1 - r.Y0) }

// Valid reports whether every coordinate is finite.
func (r Region) Valid() bool {
	for _, v := range [...]float64{r.X0, r.Y0, r.X1, r.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Degenerate reports a zero-area rectangle: a click, or a drag collapsed to a
// line.
func (r Region) Degenerate() bool {
	return r.Width() == 0 || r.Height() == 0
}

// DegenerateX reports a zero-length span along x.
func (r Region) DegenerateX() bool {
	return r.Width() == 0
}

// Event is one brush notification from a view.
//
// UserInput must be true only for events that came from direct user input.
// Restyling caused by a broadcast can move a brush programmatically; those
// events carry UserInput == false and are never translated.
type Event struct {
	View      string `json:"view"`
	Phase     Phase  `json:"phase"`
	UserInput bool   `json:"user_input"`
	Region    Region `json:"region"`
}
