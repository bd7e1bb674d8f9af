// Package render draws view scenes to PNG using fogleman/gg and to SVG
// using ajstarks/svgo.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/worldlens/dashboard/internal/view"
)

// Config contains renderer configuration.
type Config struct {
	// Scale multiplies the scene size for PNG output (device pixel ratio).
	Scale float64
}

// Renderer turns scenes into images. It is safe for concurrent use.
type Renderer struct {
	config Config

	mu         sync.Mutex
	contexts   map[[2]int]*sync.Pool
	bufferPool sync.Pool
}

// NewRenderer creates a new scene renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	return &Renderer{
		config:   cfg,
		contexts: make(map[[2]int]*sync.Pool),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

func (r *Renderer) contextPool(w, h int) *sync.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]int{w, h}
	p, ok := r.contexts[key]
	if !ok {
		p = &sync.Pool{New: func() interface{} { return gg.NewContext(w, h) }}
		r.contexts[key] = p
	}
	return p
}

// PNG renders the scene as a PNG image.
func (r *Renderer) PNG(s *view.Scene) ([]byte, error) {
	k := r.config.Scale
	w := int(math.Ceil(s.Width * k))
	h := int(math.Ceil(s.Height * k))

	pool := r.contextPool(w, h)
	dc := pool.Get().(*gg.Context)
	defer pool.Put(dc)

	dc.Identity()
	dc.ResetClip()
	setColor(dc, s.Background, 1)
	dc.Clear()

	dc.Scale(k, k)
	dc.Translate(s.Margin.Left, s.Margin.Top)

	setColor(dc, s.PlotFill, 1)
	dc.DrawRectangle(0, 0, s.PlotWidth(), s.PlotHeight())
	dc.Fill()

	for _, m := range s.Marks {
		drawMark(dc, m)
	}
	for _, l := range s.Lines {
		setColor(dc, l.Color, 1)
		dc.SetLineWidth(1)
		dc.DrawLine(l.X0, l.Y0, l.X1, l.Y1)
		dc.Stroke()
	}
	if s.Legend != nil {
		drawLegend(dc, s.Legend)
	}
	for _, t := range s.Texts {
		drawText(dc, t)
	}

	return r.encodeContext(dc)
}

func drawMark(dc *gg.Context, m view.Mark) {
	switch m.Shape {
	case view.ShapeRect:
		setColor(dc, m.Fill, m.Opacity)
		dc.DrawRectangle(m.X, m.Y, m.W, m.H)
		dc.Fill()
		if m.Overlay > 0 {
			setColor(dc, m.Fill, m.BaseOpacity)
			dc.DrawRectangle(m.X, m.Y+m.H-m.Overlay, m.W, m.Overlay)
			dc.Fill()
		}
		stroke(dc, m)
		dc.DrawRectangle(m.X, m.Y, m.W, m.H)
		dc.Stroke()
	case view.ShapeCircle:
		setColor(dc, m.Fill, m.Opacity)
		dc.DrawCircle(m.X, m.Y, m.R)
		dc.FillPreserve()
		stroke(dc, m)
		dc.Stroke()
	case view.ShapePath:
		dc.SetFillRuleEvenOdd()
		ringsPath(dc, m)
		setColor(dc, m.Fill, m.Opacity)
		if m.NoData {
			dc.FillPreserve()
			dc.Clip()
			hatch(dc, m)
			dc.ResetClip()
			ringsPath(dc, m)
		} else {
			dc.FillPreserve()
		}
		stroke(dc, m)
		dc.Stroke()
		dc.SetFillRuleWinding()
	}
}

func ringsPath(dc *gg.Context, m view.Mark) {
	for _, ring := range m.Rings {
		if len(ring) == 0 {
			continue
		}
		dc.NewSubPath()
		dc.MoveTo(ring[0][0], ring[0][1])
		for _, p := range ring[1:] {
			dc.LineTo(p[0], p[1])
		}
		dc.ClosePath()
	}
}

// hatch strokes diagonal stripes across the mark's bounding box.
func hatch(dc *gg.Context, m view.Mark) {
	b := m.Bound()
	setColor(dc, color.RGBA{148, 163, 184, 255}, m.Opacity)
	dc.SetLineWidth(1)
	span := (b.Max[0] - b.Min[0]) + (b.Max[1] - b.Min[1])
	for d := 0.0; d <= span; d += 4 {
		dc.DrawLine(b.Min[0]+d, b.Min[1], b.Min[0], b.Min[1]+d)
	}
	dc.Stroke()
}

func stroke(dc *gg.Context, m view.Mark) {
	w := m.StrokeWidth
	if w <= 0 {
		w = 1
	}
	setColor(dc, m.Stroke, m.Opacity)
	dc.SetLineWidth(w)
}

func drawLegend(dc *gg.Context, lg *view.Legend) {
	grad := gg.NewLinearGradient(lg.X, 0, lg.X+lg.W, 0)
	for _, st := range lg.Stops {
		grad.AddColorStop(st.Offset, st.Color)
	}
	dc.SetFillStyle(grad)
	dc.DrawRectangle(lg.X, lg.Y, lg.W, lg.H)
	dc.Fill()

	// No-data swatch.
	sw := view.Mark{Shape: view.ShapePath, Opacity: 1}
	x := lg.X + lg.W + 4
	sw.Rings = append(sw.Rings, rectRing(x, lg.Y, 10, lg.H))
	dc.SetFillRuleEvenOdd()
	ringsPath(dc, sw)
	setColor(dc, color.RGBA{226, 232, 240, 255}, 1)
	dc.FillPreserve()
	dc.Clip()
	hatch(dc, sw)
	dc.ResetClip()
	dc.SetFillRuleWinding()
}

func drawText(dc *gg.Context, t view.Text) {
	ax := 0.0
	switch t.Anchor {
	case "middle":
		ax = 0.5
	case "end":
		ax = 1
	}
	setColor(dc, color.RGBA{51, 65, 85, 255}, 1)
	dc.DrawStringAnchored(t.S, t.X, t.Y, ax, 0)
}

func setColor(dc *gg.Context, c color.RGBA, opacity float64) {
	dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(math.Round(float64(c.A)*clamp01(opacity))))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
