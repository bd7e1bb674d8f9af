package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	svg "github.com/ajstarks/svgo"
	"github.com/paulmach/orb"

	"github.com/worldlens/dashboard/internal/view"
	"github.com/worldlens/dashboard/pkg/colormap"
)

const (
	legendGradientID = "legend-gradient"
	noDataPatternID  = "no-data"
)

// SVG renders the scene as a standalone SVG document. Marks carry their
// entity ids in a data-ids attribute.
func (r *Renderer) SVG(s *view.Scene) ([]byte, error) {
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(px(s.Width), px(s.Height), `font-family="sans-serif"`)

	canvas.Def()
	canvas.Pattern(noDataPatternID, 0, 0, 4, 4, "user", `patternTransform="rotate(45)"`)
	canvas.Rect(0, 0, 4, 4, fill(color.RGBA{226, 232, 240, 255}, 1))
	canvas.Line(0, 0, 0, 4, `stroke="#94a3b8"`, `stroke-width="1"`)
	canvas.PatternEnd()
	if s.Legend != nil {
		stops := make([]svg.Offcolor, 0, len(s.Legend.Stops))
		for _, st := range s.Legend.Stops {
			stops = append(stops, svg.Offcolor{
				Offset:  uint8(math.Round(st.Offset * 100)),
				Color:   colormap.Hex(st.Color),
				Opacity: 1,
			})
		}
		canvas.LinearGradient(legendGradientID, 0, 0, 100, 0, stops)
	}
	canvas.DefEnd()

	canvas.Rect(0, 0, px(s.Width), px(s.Height), fill(s.Background, 1))
	canvas.Translate(px(s.Margin.Left), px(s.Margin.Top))
	canvas.Rect(0, 0, px(s.PlotWidth()), px(s.PlotHeight()), fill(s.PlotFill, 1))

	canvas.Gid("marks")
	for _, m := range s.Marks {
		writeMark(canvas, m)
	}
	canvas.Gend()

	for _, l := range s.Lines {
		canvas.Line(px(l.X0), px(l.Y0), px(l.X1), px(l.Y1), attr("stroke", colormap.Hex(l.Color)))
	}
	if lg := s.Legend; lg != nil {
		canvas.Rect(px(lg.X), px(lg.Y), px(lg.W), px(lg.H), fmt.Sprintf(`fill="url(#%s)"`, legendGradientID))
		canvas.Rect(px(lg.X+lg.W+4), px(lg.Y), 10, px(lg.H), fmt.Sprintf(`fill="url(#%s)"`, noDataPatternID))
	}
	for _, t := range s.Texts {
		attrs := []string{attr("font-size", trim(t.Size)), attr("fill", "#334155")}
		if t.Anchor != "" && t.Anchor != "start" {
			attrs = append(attrs, attr("text-anchor", t.Anchor))
		}
		if t.Bold {
			attrs = append(attrs, attr("font-weight", "bold"))
		}
		canvas.Text(px(t.X), px(t.Y), t.S, attrs...)
	}

	canvas.Gend()
	canvas.End()
	return buf.Bytes(), nil
}

func writeMark(canvas *svg.SVG, m view.Mark) {
	attrs := []string{
		attr("data-ids", strings.Join(m.IDs, " ")),
		attr("stroke", colormap.Hex(m.Stroke)),
		attr("stroke-width", trim(m.StrokeWidth)),
		attr("opacity", trim(m.Opacity)),
	}
	if !m.Interactive {
		attrs = append(attrs, attr("pointer-events", "none"))
	}

	switch m.Shape {
	case view.ShapeRect:
		attrs = append(attrs, attr("fill", colormap.Hex(m.Fill)))
		canvas.Rect(px(m.X), px(m.Y), px(m.W), px(m.H), attrs...)
		if m.Overlay > 0 {
			canvas.Rect(px(m.X), px(m.Y+m.H-m.Overlay), px(m.W), px(m.Overlay),
				attr("fill", colormap.Hex(m.Fill)), attr("opacity", trim(m.BaseOpacity)), attr("pointer-events", "none"))
		}
	case view.ShapeCircle:
		attrs = append(attrs, attr("fill", colormap.Hex(m.Fill)))
		canvas.Circle(px(m.X), px(m.Y), int(math.Max(1, math.Round(m.R))), attrs...)
	case view.ShapePath:
		if m.NoData {
			attrs = append(attrs, fmt.Sprintf(`fill="url(#%s)"`, noDataPatternID))
		} else {
			attrs = append(attrs, attr("fill", colormap.Hex(m.Fill)))
		}
		attrs = append(attrs, attr("fill-rule", "evenodd"))
		canvas.Path(pathData(m.Rings), attrs...)
	}
}

func pathData(rings []orb.Ring) string {
	var sb strings.Builder
	for _, ring := range rings {
		for i, p := range ring {
			if i == 0 {
				sb.WriteByte('M')
			} else {
				sb.WriteByte('L')
			}
			sb.WriteString(trim(p[0]))
			sb.WriteByte(',')
			sb.WriteString(trim(p[1]))
		}
		if len(ring) > 0 {
			sb.WriteByte('Z')
		}
	}
	return sb.String()
}

func rectRing(x, y, w, h float64) orb.Ring {
	return orb.Ring{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}, {x, y}}
}

func fill(c color.RGBA, opacity float64) string {
	return attr("fill", colormap.Hex(c)) + " " + attr("fill-opacity", trim(opacity*float64(c.A)/255))
}

// attr formats an XML attribute. Values such as entity ids come from input
// data and are escaped.
func attr(name, value string) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString(`="`)
	xml.EscapeText(&sb, []byte(value))
	sb.WriteByte('"')
	return sb.String()
}

func px(v float64) int {
	return int(math.Round(v))
}

func trim(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
