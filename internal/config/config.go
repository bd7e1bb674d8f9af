// Package config handles configuration loading for the dashboard server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig describes the tabular metrics and the geometry they join to.
type DataConfig struct {
	CSVPath     string `yaml:"csv_path"`
	GeoJSONPath string `yaml:"geojson_path"`

	IDColumn   string `yaml:"id_column"`
	NameColumn string `yaml:"name_column"`
	YearColumn string `yaml:"year_column"`
	// Year 0 keeps every row.
	Year           int  `yaml:"year"`
	DropIncomplete bool `yaml:"drop_incomplete"`

	Fields []FieldConfig `yaml:"fields"`
}

// FieldConfig maps a CSV column onto a named numeric field.
type FieldConfig struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
	Label  string `yaml:"label"`
}

// DashboardConfig declares the views.
type DashboardConfig struct {
	Title     string       `yaml:"title"`
	LiveBrush bool         `yaml:"live_brush"`
	Views     []ViewConfig `yaml:"views"`
}

// ViewConfig declares one view. YField is only used by scatter plots.
type ViewConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Field    string `yaml:"field"`
	YField   string `yaml:"y_field"`
	Title    string `yaml:"title"`
	Color    string `yaml:"color"`
	Colormap string `yaml:"colormap"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Bins     int    `yaml:"bins"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB      int `yaml:"image_size_mb"`
	ImageTTLMinutes  int `yaml:"image_ttl_minutes"`
	SummaryCacheSize int `yaml:"summary_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Scale float64 `yaml:"scale"`
}

// HistoryConfig contains selection history settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// WatchConfig controls reloading the dataset when its files change.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// Load reads configuration from a YAML file and applies DASH_* environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		cfg := DefaultConfig()
		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			CSVPath:     "./data/world_indicators.csv",
			GeoJSONPath: "./data/countries.geojson",
			IDColumn:    "iso3",
			NameColumn:  "country",
			Fields: []FieldConfig{
				{Name: "gdp", Column: "gdp_per_capita", Label: "GDP per capita"},
				{Name: "lifeExpectancy", Column: "life_expectancy", Label: "Life expectancy"},
			},
		},
		Dashboard: DashboardConfig{
			Title: "World indicators",
			Views: defaultViews(),
		},
		Cache: CacheConfig{
			ImageSizeMB:      64,
			ImageTTLMinutes:  10,
			SummaryCacheSize: 64,
		},
		Render: RenderConfig{
			Scale: 1,
		},
		History: HistoryConfig{
			Enabled:       true,
			SQLitePath:    "./data/selection_history.sqlite",
			RetentionDays: 7,
		},
		Log: LogConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

func defaultViews() []ViewConfig {
	return []ViewConfig{
		{Name: "gdp", Kind: "histogram", Field: "gdp"},
		{Name: "lifeExpectancy", Kind: "histogram", Field: "lifeExpectancy", Color: "#f97316"},
		{Name: "scatter", Kind: "scatter", Field: "gdp", YField: "lifeExpectancy"},
		{Name: "map", Kind: "choropleth", Field: "gdp"},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.CSVPath == "" {
		cfg.Data.CSVPath = defaults.Data.CSVPath
	}
	if cfg.Data.GeoJSONPath == "" {
		cfg.Data.GeoJSONPath = defaults.Data.GeoJSONPath
	}
	if cfg.Data.IDColumn == "" {
		cfg.Data.IDColumn = defaults.Data.IDColumn
	}
	if cfg.Data.NameColumn == "" {
		cfg.Data.NameColumn = defaults.Data.NameColumn
	}
	if cfg.Data.Year != 0 && cfg.Data.YearColumn == "" {
		cfg.Data.YearColumn = "year"
	}
	if len(cfg.Data.Fields) == 0 {
		cfg.Data.Fields = defaults.Data.Fields
	}
	for i := range cfg.Data.Fields {
		f := &cfg.Data.Fields[i]
		if f.Column == "" {
			f.Column = f.Name
		}
		if f.Label == "" {
			f.Label = f.Name
		}
	}
	if cfg.Dashboard.Title == "" {
		cfg.Dashboard.Title = defaults.Dashboard.Title
	}
	if len(cfg.Dashboard.Views) == 0 {
		cfg.Dashboard.Views = defaults.Dashboard.Views
	}
	for i := range cfg.Dashboard.Views {
		if cfg.Dashboard.Views[i].Name == "" {
			cfg.Dashboard.Views[i].Name = fmt.Sprintf("%s-%d", cfg.Dashboard.Views[i].Kind, i)
		}
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.SummaryCacheSize == 0 {
		cfg.Cache.SummaryCacheSize = defaults.Cache.SummaryCacheSize
	}
	if cfg.Render.Scale <= 0 {
		cfg.Render.Scale = defaults.Render.Scale
	}
	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = defaults.History.SQLitePath
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = defaults.History.RetentionDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = defaults.Watch.DebounceMS
	}
}

// applyEnv overrides selected settings from DASH_* environment variables.
func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("DASH_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DASH_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv("DASH_CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("DASH_CSV_PATH"); ok {
		cfg.Data.CSVPath = v
	}
	if v, ok := os.LookupEnv("DASH_GEOJSON_PATH"); ok {
		cfg.Data.GeoJSONPath = v
	}
	if v, ok := os.LookupEnv("DASH_YEAR"); ok {
		year, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DASH_YEAR: %w", err)
		}
		cfg.Data.Year = year
		if cfg.Data.YearColumn == "" {
			cfg.Data.YearColumn = "year"
		}
	}
	if v, ok := os.LookupEnv("DASH_LIVE_BRUSH"); ok {
		live, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DASH_LIVE_BRUSH: %w", err)
		}
		cfg.Dashboard.LiveBrush = live
	}
	if v, ok := os.LookupEnv("DASH_HISTORY_PATH"); ok {
		cfg.History.SQLitePath = v
	}
	if v, ok := os.LookupEnv("DASH_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks cross references between views and fields.
func (c *Config) Validate() error {
	fields := make(map[string]bool, len(c.Data.Fields))
	for _, f := range c.Data.Fields {
		if f.Name == "" {
			return fmt.Errorf("data.fields: field without a name")
		}
		if fields[f.Name] {
			return fmt.Errorf("data.fields: duplicate field %q", f.Name)
		}
		fields[f.Name] = true
	}

	names := make(map[string]bool, len(c.Dashboard.Views))
	for _, v := range c.Dashboard.Views {
		if names[v.Name] {
			return fmt.Errorf("dashboard.views: duplicate view %q", v.Name)
		}
		names[v.Name] = true

		switch v.Kind {
		case "histogram", "choropleth":
		case "scatter":
			if !fields[v.YField] {
				return fmt.Errorf("view %q: unknown y_field %q", v.Name, v.YField)
			}
		default:
			return fmt.Errorf("view %q: unknown kind %q", v.Name, v.Kind)
		}
		if !fields[v.Field] {
			return fmt.Errorf("view %q: unknown field %q", v.Name, v.Field)
		}
	}
	return nil
}

// FieldLabel returns the configured label for a field, or the field name.
func (c *Config) FieldLabel(name string) string {
	for _, f := range c.Data.Fields {
		if f.Name == name && f.Label != "" {
			return f.Label
		}
	}
	return name
}
