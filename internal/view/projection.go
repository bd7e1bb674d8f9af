package view

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// equirectangular maps lon/lat degrees to a plane with y growing south.
func equirectangular(p orb.Point) orb.Point {
	return orb.Point{p[0], -p[1]}
}

// fit returns a projection that scales and centres b into a w x h box.
func fit(b orb.Bound, w, h float64) orb.Projection {
	bw := b.Max[0] - b.Min[0]
	bh := b.Max[1] - b.Min[1]
	k := math.Inf(1)
	if bw > 0 {
		k = w / bw
	}
	if bh > 0 {
		k = math.Min(k, h/bh)
	}
	if math.IsInf(k, 1) {
		k = 1
	}
	tx := (w - bw*k) / 2
	ty := (h - bh*k) / 2
	return func(p orb.Point) orb.Point {
		return orb.Point{(p[0]-b.Min[0])*k + tx, (p[1]-b.Min[1])*k + ty}
	}
}

// screenRings projects g and returns its rings in screen pixels. Only
// polygonal geometry contributes.
func screenRings(g orb.Geometry, proj orb.Projection) []orb.Ring {
	switch t := project.Geometry(orb.Clone(g), proj).(type) {
	case orb.Polygon:
		return append([]orb.Ring(nil), t...)
	case orb.MultiPolygon:
		var rings []orb.Ring
		for _, p := range t {
			rings = append(rings, p...)
		}
		return rings
	}
	return nil
}
