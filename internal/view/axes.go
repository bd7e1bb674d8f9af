package view

import (
	"fmt"
	"image/color"
)

var (
	axisColor  = color.RGBA{100, 116, 139, 255}
	background = color.RGBA{255, 255, 255, 255}
	plotFill   = color.RGBA{248, 250, 252, 255}
)

func newScene(width, height int, m Margin) *Scene {
	return &Scene{
		Width:      float64(width),
		Height:     float64(height),
		Margin:     m,
		Background: background,
		PlotFill:   plotFill,
	}
}

// heading is the view title, suffixed with the data year when one is set.
func (b Binding) heading(fallback string) string {
	t := b.Title
	if t == "" {
		t = fallback
	}
	if t != "" && b.Year != 0 {
		t = fmt.Sprintf("%s, %d", t, b.Year)
	}
	return t
}

func title(s *Scene, text string) {
	if text == "" {
		return
	}
	s.Texts = append(s.Texts, Text{X: 0, Y: -s.Margin.Top + 16, S: text, Anchor: "start", Size: 13, Bold: true})
}

func bottomAxis(s *Scene, x Linear, label string) {
	w, h := s.PlotWidth(), s.PlotHeight()
	s.Lines = append(s.Lines, Line{X0: 0, Y0: h, X1: w, Y1: h, Color: axisColor})
	for _, t := range x.Ticks(6) {
		px := x.Map(t)
		s.Lines = append(s.Lines, Line{X0: px, Y0: h, X1: px, Y1: h + 5, Color: axisColor})
		s.Texts = append(s.Texts, Text{X: px, Y: h + 17, S: formatTick(t), Anchor: "middle", Size: 10})
	}
	if label != "" {
		s.Texts = append(s.Texts, Text{X: w / 2, Y: h + 34, S: label, Anchor: "middle", Size: 11})
	}
}

func leftAxis(s *Scene, y Linear, label string) {
	h := s.PlotHeight()
	s.Lines = append(s.Lines, Line{X0: 0, Y0: 0, X1: 0, Y1: h, Color: axisColor})
	for _, t := range y.Ticks(5) {
		py := y.Map(t)
		s.Lines = append(s.Lines, Line{X0: -5, Y0: py, X1: 0, Y1: py, Color: axisColor})
		s.Texts = append(s.Texts, Text{X: -8, Y: py + 3, S: formatTick(t), Anchor: "end", Size: 10})
	}
	if label != "" {
		s.Texts = append(s.Texts, Text{X: -s.Margin.Left + 4, Y: -4, S: label, Anchor: "start", Size: 10})
	}
}
