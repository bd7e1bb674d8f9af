// Package main is the entry point for the dashboard server.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/worldlens/dashboard/internal/config"
	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/service"
	"github.com/worldlens/dashboard/internal/view"
)

var (
	configPath string
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Linked-view dashboard server",
	Long: `Serves a dashboard of linked views (histograms, a scatter plot and a
choropleth map) over one dataset. Brushing any view selects entities and
every view highlights the same selection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(envFile)
		_ = godotenv.Load(filepath.Join("data", "env", ".env"))

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err = newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/server.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with DASH_* overrides")

	rootCmd.AddCommand(serveCmd, renderCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func datasetSource(c *config.Config) dataset.Source {
	src := dataset.Source{
		CSVPath:        c.Data.CSVPath,
		GeoJSONPath:    c.Data.GeoJSONPath,
		IDColumn:       c.Data.IDColumn,
		NameColumn:     c.Data.NameColumn,
		YearColumn:     c.Data.YearColumn,
		Year:           c.Data.Year,
		DropIncomplete: c.Data.DropIncomplete,
	}
	for _, f := range c.Data.Fields {
		src.Fields = append(src.Fields, dataset.FieldColumn{Name: f.Name, Column: f.Column})
	}
	return src
}

func loadDataset(ctx context.Context, c *config.Config, log *zap.Logger) (*dataset.Dataset, error) {
	ds, stats, err := dataset.Load(ctx, datasetSource(c))
	if err != nil {
		return nil, err
	}
	log.Info("dataset loaded",
		zap.String("csv", c.Data.CSVPath),
		zap.String("geojson", c.Data.GeoJSONPath),
		zap.Int("rows", stats.Rows),
		zap.Int("features", stats.Features),
		zap.Int("entities", stats.Entities),
		zap.Int("matched", stats.Matched),
		zap.Int("tabular_only", stats.TabularOnly),
		zap.Int("geometry_only", stats.GeometryOnly),
		zap.Int("skipped_rows", stats.SkippedRows),
	)
	return ds, nil
}

// dashboardConfig turns the view declarations into bindings with labels
// resolved from the field list.
func dashboardConfig(c *config.Config) service.Config {
	sc := service.Config{
		Title:     c.Dashboard.Title,
		LiveBrush: c.Dashboard.LiveBrush,
	}
	for _, f := range c.Data.Fields {
		sc.Fields = append(sc.Fields, service.Field{Name: f.Name, Label: f.Label})
	}
	for _, v := range c.Dashboard.Views {
		b := view.Binding{
			Field:    v.Field,
			YField:   v.YField,
			Title:    v.Title,
			Year:     c.Data.Year,
			Color:    v.Color,
			Colormap: v.Colormap,
			Width:    v.Width,
			Height:   v.Height,
			Bins:     v.Bins,
		}
		switch view.Kind(v.Kind) {
		case view.KindScatter:
			b.XLabel = c.FieldLabel(v.Field)
			b.YLabel = c.FieldLabel(v.YField)
		case view.KindChoropleth:
			b.LegendTitle = c.FieldLabel(v.Field)
		default:
			b.XLabel = c.FieldLabel(v.Field)
		}
		sc.Views = append(sc.Views, service.ViewSpec{Name: v.Name, Kind: view.Kind(v.Kind), Binding: b})
	}
	return sc
}
