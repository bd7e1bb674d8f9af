package view

import (
	"math"
	"strconv"

	"github.com/aclements/go-moremath/scale"
	"github.com/aclements/go-moremath/stats"
)

// Linear maps a data domain onto a pixel range. r0 may exceed r1 for
// y axes, where larger values sit higher on screen.
type Linear struct {
	s      scale.Linear
	r0, r1 float64
}

// NewLinear builds a scale over [lo, hi]. With nice set the domain is
// widened to round tick values, keeping at most maxTicks ticks.
func NewLinear(lo, hi, r0, r1 float64, nice bool, maxTicks int) Linear {
	s := scale.Linear{Min: lo, Max: hi}
	if s.Min == s.Max {
		s.Min -= 0.5
		s.Max += 0.5
	}
	if nice {
		s.Nice(scale.TickOptions{Max: maxTicks})
	}
	return Linear{s: s, r0: r0, r1: r1}
}

// Map returns the pixel position of v.
func (l Linear) Map(v float64) float64 {
	return l.r0 + l.s.Map(v)*(l.r1-l.r0)
}

// Invert returns the data value at pixel px.
func (l Linear) Invert(px float64) float64 {
	if l.r1 == l.r0 {
		return l.s.Min
	}
	return l.s.Unmap((px - l.r0) / (l.r1 - l.r0))
}

// Domain returns the (possibly niced) data domain.
func (l Linear) Domain() (lo, hi float64) { return l.s.Min, l.s.Max }

// Ticks returns at most max major tick values inside the domain.
func (l Linear) Ticks(max int) []float64 {
	major, _ := l.s.Ticks(scale.TickOptions{Max: max})
	return major
}

// extent returns the bounds of the finite values in xs.
func extent(xs []float64) (lo, hi float64, ok bool) {
	if len(xs) == 0 {
		return 0, 0, false
	}
	lo, hi = stats.Sample{Xs: xs}.Bounds()
	return lo, hi, true
}

var siPrefixes = []struct {
	exp    float64
	suffix string
}{
	{1e12, "T"},
	{1e9, "G"},
	{1e6, "M"},
	{1e3, "k"},
}

// formatTick renders an axis value with an SI suffix: 40000 -> "40k".
func formatTick(v float64) string {
	a := math.Abs(v)
	for _, p := range siPrefixes {
		if a >= p.exp {
			return trimFloat(v/p.exp) + p.suffix
		}
	}
	return trimFloat(v)
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

// thresholdCount is the default number of histogram bins for n values.
func thresholdCount(n int) int {
	t := int(math.Round(math.Sqrt(float64(n))))
	if t < 12 {
		return 12
	}
	if t > 28 {
		return 28
	}
	return t
}
