package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/render"
	"github.com/worldlens/dashboard/internal/service"
)

var (
	renderOut     string
	renderFormats []string
	renderBrushes []string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render every view to image files",
	Long: `Loads the dataset, applies the given brushes in order and writes each
view as <out>/<view>.<format>.

A brush is view:x0,x1 for a histogram or view:x0,y0,x1,y1 for the scatter
plot and the map, in plot-area pixels.

Example:
  dashboard render --out ./out --format png,svg --brush scatter:10,10,200,120`,
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderOut, "out", "out", "Output directory")
	renderCmd.Flags().StringSliceVar(&renderFormats, "format", []string{"png"}, "Image formats (png, svg)")
	renderCmd.Flags().StringArrayVar(&renderBrushes, "brush", nil, "Brush to apply before rendering (repeatable)")
}

func runRender(cmd *cobra.Command, args []string) error {
	for _, f := range renderFormats {
		if f != "png" && f != "svg" {
			return fmt.Errorf("%w: %s", service.ErrUnknownFormat, f)
		}
	}
	events := make([]gesture.Event, 0, len(renderBrushes))
	for _, b := range renderBrushes {
		ev, err := parseBrush(b)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}

	ds, err := loadDataset(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	dash, err := service.New(dashboardConfig(cfg), ds, service.Deps{
		Renderer: render.NewRenderer(render.Config{Scale: cfg.Render.Scale}),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build dashboard: %w", err)
	}

	for _, ev := range events {
		if _, err := dash.HandleGesture(ev); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(renderOut, 0o755); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, name := range dash.Views() {
		for _, format := range renderFormats {
			name, format := name, format
			g.Go(func() error {
				data, err := dash.Image(name, format)
				if err != nil {
					return err
				}
				path := filepath.Join(renderOut, name+"."+format)
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				logger.Info("wrote view", zap.String("path", path), zap.Int("bytes", len(data)))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sel := dash.Selection()
	logger.Info("render complete", zap.String("selection", sel.Kind), zap.Int("size", sel.Size))
	return nil
}

// parseBrush parses view:x0,x1 or view:x0,y0,x1,y1.
func parseBrush(s string) (gesture.Event, error) {
	name, coords, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return gesture.Event{}, fmt.Errorf("invalid brush %q: want view:coords", s)
	}
	parts := strings.Split(coords, ",")
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return gesture.Event{}, fmt.Errorf("invalid brush %q: %w", s, err)
		}
		vals[i] = v
	}

	var r gesture.Region
	switch len(vals) {
	case 2:
		r = gesture.Span(vals[0], vals[1])
	case 4:
		r = gesture.Rect(vals[0], vals[1], vals[2], vals[3])
	default:
		return gesture.Event{}, fmt.Errorf("invalid brush %q: want 2 or 4 coordinates", s)
	}
	if !r.Valid() {
		return gesture.Event{}, fmt.Errorf("invalid brush %q: coordinates must be finite", s)
	}
	return gesture.Event{View: name, Phase: gesture.PhaseEnd, UserInput: true, Region: r}, nil
}
