package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
)

// FieldColumn maps a dataset field name to a CSV header.
type FieldColumn struct {
	Name   string
	Column string
}

// Source describes where the tabular metrics and the geometry come from and
// how they are joined.
type Source struct {
	CSVPath     string
	GeoJSONPath string

	IDColumn   string
	NameColumn string

	// YearColumn and Year restrict the tabular rows to a single year.
	// Year == 0 disables the filter.
	YearColumn string
	Year       int

	// DropIncomplete skips rows missing any configured field.
	DropIncomplete bool

	Fields []FieldColumn
}

// LoadStats summarises one load for logging.
type LoadStats struct {
	Rows            int
	Features        int
	Entities        int
	Matched         int
	TabularOnly     int
	GeometryOnly    int
	SkippedRows     int
	SkippedFeatures int
}

type row struct {
	id     string
	name   string
	fields map[string]float64
}

type feature struct {
	id   string
	name string
	geom orb.Geometry
}

// Load reads both inputs concurrently and merges them on the entity id.
// Any failure aborts the load.
func Load(ctx context.Context, src Source) (*Dataset, LoadStats, error) {
	var (
		rows     []row
		skipped  int
		features []feature
		skippedF int
		stats    LoadStats
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, skipped, err = loadCSV(ctx, src)
		if err != nil {
			return fmt.Errorf("load %s: %w", src.CSVPath, err)
		}
		return nil
	})
	if src.GeoJSONPath != "" {
		g.Go(func() error {
			var err error
			features, skippedF, err = loadGeoJSON(src.GeoJSONPath)
			if err != nil {
				return fmt.Errorf("load %s: %w", src.GeoJSONPath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	stats.Rows = len(rows)
	stats.Features = len(features)
	stats.SkippedRows = skipped
	stats.SkippedFeatures = skippedF

	ds, err := merge(rows, features, &stats)
	if err != nil {
		return nil, stats, err
	}
	stats.Entities = ds.Len()
	return ds, stats, nil
}

func merge(rows []row, features []feature, stats *LoadStats) (*Dataset, error) {
	geometry := make(map[string]orb.Geometry, len(features))
	names := make(map[string]string, len(features))
	order := make([]string, 0, len(features))
	for _, f := range features {
		if prev, ok := geometry[f.id]; ok {
			geometry[f.id] = combine(prev, f.geom)
			continue
		}
		geometry[f.id] = f.geom
		names[f.id] = f.name
		order = append(order, f.id)
	}

	entities := make([]Entity, 0, len(rows)+len(order))
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.id] = struct{}{}
		if _, ok := geometry[r.id]; ok {
			stats.Matched++
		} else {
			stats.TabularOnly++
		}
		entities = append(entities, Entity{ID: r.id, DisplayName: r.name, Fields: r.fields})
	}
	for _, id := range order {
		if _, ok := seen[id]; ok {
			continue
		}
		stats.GeometryOnly++
		entities = append(entities, Entity{ID: id, DisplayName: names[id]})
	}
	return New(entities, geometry)
}

func combine(a, b orb.Geometry) orb.Geometry {
	var mp orb.MultiPolygon
	for _, g := range []orb.Geometry{a, b} {
		switch v := g.(type) {
		case orb.Polygon:
			mp = append(mp, v)
		case orb.MultiPolygon:
			mp = append(mp, v...)
		}
	}
	return mp
}

func openInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

func loadCSV(ctx context.Context, src Source) ([]row, int, error) {
	in, err := openInput(src.CSVPath)
	if err != nil {
		return nil, 0, err
	}
	defer in.Close()
	return parseCSV(ctx, in, src)
}

func parseCSV(ctx context.Context, in io.Reader, src Source) ([]row, int, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	idIdx, ok := col[src.IDColumn]
	if !ok {
		return nil, 0, fmt.Errorf("id column %q not found", src.IDColumn)
	}
	nameIdx := -1
	if src.NameColumn != "" {
		if i, ok := col[src.NameColumn]; ok {
			nameIdx = i
		}
	}
	yearIdx := -1
	if src.Year != 0 {
		i, ok := col[src.YearColumn]
		if !ok {
			return nil, 0, fmt.Errorf("year column %q not found", src.YearColumn)
		}
		yearIdx = i
	}
	fieldIdx := make([]int, len(src.Fields))
	for i, fc := range src.Fields {
		j, ok := col[fc.Column]
		if !ok {
			return nil, 0, fmt.Errorf("field column %q not found", fc.Column)
		}
		fieldIdx[i] = j
	}

	var (
		rows    []row
		skipped int
	)
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", line, err)
		}

		id := cell(rec, idIdx)
		if id == "" {
			skipped++
			continue
		}
		if yearIdx >= 0 {
			y, err := strconv.Atoi(cell(rec, yearIdx))
			if err != nil || y != src.Year {
				skipped++
				continue
			}
		}

		fields := make(map[string]float64, len(src.Fields))
		for i, fc := range src.Fields {
			raw := cell(rec, fieldIdx[i])
			if raw == "" {
				continue
			}
			// NaN and Inf parse but count as missing.
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			fields[fc.Name] = v
		}
		if src.DropIncomplete && len(fields) != len(src.Fields) {
			skipped++
			continue
		}

		name := id
		if nameIdx >= 0 {
			if n := cell(rec, nameIdx); n != "" {
				name = n
			}
		}
		rows = append(rows, row{id: id, name: name, fields: fields})
	}
	return rows, skipped, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func loadGeoJSON(path string) ([]feature, int, error) {
	in, err := openInput(path)
	if err != nil {
		return nil, 0, err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, 0, err
	}
	return parseGeoJSON(data)
}

func parseGeoJSON(data []byte) ([]feature, int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode feature collection: %w", err)
	}

	out := make([]feature, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		id := featureID(f)
		if id == "" {
			skipped++
			continue
		}
		var geom orb.Geometry
		switch g := f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			geom = g
		default:
			skipped++
			continue
		}
		name := stringProp(f.Properties, "name")
		if name == "" {
			name = id
		}
		out = append(out, feature{id: id, name: name, geom: geom})
	}
	return out, skipped, nil
}

func featureID(f *geojson.Feature) string {
	switch v := f.ID.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	for _, key := range []string{"iso_a3", "ISO_A3", "id", "code"} {
		if s := stringProp(f.Properties, key); s != "" {
			return s
		}
	}
	return ""
}

// stringProp reads a string property; Properties.MustString panics on
// non-string values, which real-world files do carry.
func stringProp(p geojson.Properties, key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}
