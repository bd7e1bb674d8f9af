// Package service coordinates the linked views: it owns the dataset, the
// views and the selection broadcaster, and serialises every event.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/worldlens/dashboard/internal/cache"
	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/metrics"
	"github.com/worldlens/dashboard/internal/render"
	"github.com/worldlens/dashboard/internal/selection"
	"github.com/worldlens/dashboard/internal/view"
)

var (
	// ErrUnknownView is returned for a view name the dashboard does not have.
	ErrUnknownView = errors.New("unknown view")
	// ErrUnknownField is returned when binding a field no entity carries.
	ErrUnknownField = errors.New("unknown field")
	// ErrNotTranslatable is returned for gestures on a view without a
	// translator.
	ErrNotTranslatable = errors.New("view does not accept gestures")
	// ErrUnknownFormat is returned for image formats other than png and svg.
	ErrUnknownFormat = errors.New("unknown image format")
)

// ViewSpec declares one view.
type ViewSpec struct {
	Name    string
	Kind    view.Kind
	Binding view.Binding
}

// Field is a selectable data field and its display label.
type Field struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Config contains dashboard configuration.
type Config struct {
	Title     string
	LiveBrush bool
	Views     []ViewSpec
	Fields    []Field
}

// Deps are the collaborators the dashboard renders and caches through.
// Cache may be nil.
type Deps struct {
	Cache    *cache.Manager
	Renderer *render.Renderer
	Logger   *zap.Logger
}

// Dashboard is the single owner of all coordination state. Every exported
// method takes the lock, so events are processed one at a time.
type Dashboard struct {
	mu sync.Mutex

	cfg      Config
	log      *zap.Logger
	cache    *cache.Manager
	renderer *render.Renderer

	ds     *dataset.Dataset
	views  []view.View
	byName map[string]view.View
	labels map[string]string
	bc     *selection.Broadcaster

	// version changes whenever anything drawn could change.
	version uint64
	loaded  time.Time
}

// New builds every view, renders it against ds and wires the broadcaster.
func New(cfg Config, ds *dataset.Dataset, deps Deps) (*Dashboard, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Renderer == nil {
		deps.Renderer = render.NewRenderer(render.Config{})
	}

	d := &Dashboard{
		cfg:      cfg,
		log:      deps.Logger.Named("dashboard"),
		cache:    deps.Cache,
		renderer: deps.Renderer,
		ds:       ds,
		byName:   make(map[string]view.View, len(cfg.Views)),
		labels:   make(map[string]string, len(cfg.Fields)),
		bc:       selection.NewBroadcaster(),
		loaded:   time.Now(),
	}
	for _, f := range cfg.Fields {
		d.labels[f.Name] = f.Label
	}

	for _, spec := range cfg.Views {
		if _, dup := d.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate view name %q", spec.Name)
		}
		v, err := view.New(spec.Kind, spec.Name, spec.Binding)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", spec.Name, err)
		}
		if err := v.Render(ds); err != nil {
			return nil, fmt.Errorf("render %s: %w", spec.Name, err)
		}
		d.views = append(d.views, v)
		d.byName[spec.Name] = v
		d.bc.Register(v)
	}

	d.bc.Observe(d.observe)
	metrics.DatasetEntities.Set(float64(ds.Len()))
	return d, nil
}

// Observe registers fn to receive every selection change. Call it before
// the dashboard starts serving.
func (d *Dashboard) Observe(fn func(selection.Change)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bc.Observe(fn)
}

func (d *Dashboard) observe(c selection.Change) {
	if c.Final {
		metrics.SelectionChangesTotal.WithLabelValues(c.Selection.Kind().String()).Inc()
	}
	metrics.SelectionSize.Set(float64(c.Selection.Len()))

	fields := []zap.Field{
		zap.String("origin", c.Origin),
		zap.Stringer("kind", c.Selection.Kind()),
		zap.Int("size", c.Selection.Len()),
		zap.Uint64("revision", c.Revision),
	}
	if c.Final {
		d.log.Info("selection changed", fields...)
	} else {
		d.log.Debug("selection updated", fields...)
	}
}

// Outcome reports what a gesture did.
type Outcome struct {
	// Applied is false when the event was ignored.
	Applied   bool                `json:"applied"`
	Selection selection.Selection `json:"selection"`
	Revision  uint64              `json:"revision"`
}

// HandleGesture translates a brush event on one view and broadcasts the
// result. Events not marked as user input are ignored so that restyling
// can never feed back into another selection. Intermediate events are
// broadcast only with live brushing enabled and never clear the selection.
func (d *Dashboard) HandleGesture(ev gesture.Event) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	phase := ev.Phase
	if phase == "" {
		phase = gesture.PhaseEnd
	}
	ignored := func(reason string) (Outcome, error) {
		metrics.GesturesTotal.WithLabelValues(ev.View, string(phase), reason).Inc()
		return Outcome{Selection: d.bc.Current(), Revision: d.bc.State().Revision()}, nil
	}

	// Resolve the view first so metric labels only carry configured names.
	v, ok := d.byName[ev.View]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownView, ev.View)
	}
	if !ev.UserInput {
		return ignored("programmatic")
	}
	tr, ok := v.(view.Translator)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNotTranslatable, ev.View)
	}

	sel := tr.Translate(ev.Region)

	var c selection.Change
	switch phase {
	case gesture.PhaseMove:
		if !d.cfg.LiveBrush {
			return ignored("live_brush_off")
		}
		if sel.IsUnselected() {
			return ignored("degenerate")
		}
		c = d.bc.OnGestureProgress(ev.View, sel)
	default:
		c = d.bc.OnGestureResult(ev.View, sel)
	}
	d.version++

	metrics.GesturesTotal.WithLabelValues(ev.View, string(phase), c.Selection.Kind().String()).Inc()
	return Outcome{Applied: true, Selection: c.Selection, Revision: c.Revision}, nil
}

// SetField rebinds one view to another data field, re-renders it and
// re-applies the current selection. The selection itself is untouched.
// axis picks the scatter axis ("x" or "y"); other views ignore it.
func (d *Dashboard) SetField(viewName, axis, field string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.byName[viewName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, viewName)
	}
	if !d.ds.HasField(field) {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	label := d.label(field)

	prev := v.Binding()
	switch t := v.(type) {
	case *view.Histogram:
		t.SetField(field, label)
	case *view.Choropleth:
		t.SetField(field, label)
	case *view.Scatter:
		b := t.Binding()
		if axis == "y" {
			t.SetFields(b.Field, b.XLabel, field, label)
		} else {
			t.SetFields(field, label, b.YField, b.YLabel)
		}
	default:
		return fmt.Errorf("view %s has no field binding", viewName)
	}

	if err := v.Render(d.ds); err != nil {
		v.SetBinding(prev)
		return fmt.Errorf("render %s: %w", viewName, err)
	}
	v.ApplySelection(d.bc.Current())
	d.version++

	d.log.Info("field changed", zap.String("view", viewName), zap.String("field", field), zap.String("axis", axis))
	return nil
}

func (d *Dashboard) label(field string) string {
	if l, ok := d.labels[field]; ok && l != "" {
		return l
	}
	return field
}

// Clear broadcasts Unselected.
func (d *Dashboard) Clear() selection.Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.bc.OnGestureResult("", selection.Unselected())
	d.version++
	return c
}

// Reload swaps in a new dataset, re-renders every view and resets the
// selection. On a render failure the previous dataset stays active.
func (d *Dashboard) Reload(ds *dataset.Dataset) error {
	if ds == nil {
		return errors.New("nil dataset")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range d.views {
		if err := v.Render(ds); err != nil {
			for _, r := range d.views {
				_ = r.Render(d.ds)
			}
			metrics.DatasetReloadsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("render %s: %w", v.Name(), err)
		}
	}
	d.ds = ds
	d.loaded = time.Now()
	d.bc.Reset()
	d.version++
	if d.cache != nil {
		if err := d.cache.Reset(); err != nil {
			d.log.Warn("cache reset", zap.Error(err))
		}
	}

	metrics.DatasetReloadsTotal.WithLabelValues("ok").Inc()
	metrics.DatasetEntities.Set(float64(ds.Len()))
	d.log.Info("dataset reloaded", zap.Int("entities", ds.Len()))
	return nil
}

// Image renders one view as "png" or "svg".
func (d *Dashboard) Image(viewName, format string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.byName[viewName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, viewName)
	}
	if format != "png" && format != "svg" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	key := cache.ImageKey(viewName, format, d.version)
	if d.cache != nil {
		if data, ok := d.cache.GetImage(key); ok {
			metrics.ImageCacheTotal.WithLabelValues("hit").Inc()
			return data, nil
		}
		metrics.ImageCacheTotal.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	var (
		data []byte
		err  error
	)
	if format == "png" {
		data, err = d.renderer.PNG(v.Scene())
	} else {
		data, err = d.renderer.SVG(v.Scene())
	}
	if err != nil {
		return nil, fmt.Errorf("render %s.%s: %w", viewName, format, err)
	}
	metrics.RenderDurationMs.WithLabelValues(viewName, format).Observe(float64(time.Since(start).Milliseconds()))

	if d.cache != nil {
		if err := d.cache.SetImage(key, data); err != nil {
			d.log.Debug("image not cached", zap.String("key", key), zap.Error(err))
		}
	}
	return data, nil
}

// SelectionSummary is the wire form of the selection state.
type SelectionSummary struct {
	Kind      string    `json:"kind"`
	IDs       []string  `json:"ids"`
	Size      int       `json:"size"`
	Revision  uint64    `json:"revision"`
	Origin    string    `json:"origin,omitempty"`
	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// Selection returns the current selection state.
func (d *Dashboard) Selection() SelectionSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectionSummary()
}

func (d *Dashboard) selectionSummary() SelectionSummary {
	st := d.bc.State()
	sel := st.Current()
	ids := sel.IDs()
	if ids == nil {
		ids = []string{}
	}
	return SelectionSummary{
		Kind:      sel.Kind().String(),
		IDs:       ids,
		Size:      sel.Len(),
		Revision:  st.Revision(),
		Origin:    st.Origin(),
		ChangedAt: st.Changed(),
	}
}

// ViewInfo describes one view for clients.
type ViewInfo struct {
	Name         string       `json:"name"`
	Kind         view.Kind    `json:"kind"`
	Binding      view.Binding `json:"binding"`
	Translatable bool         `json:"translatable"`
	Width        float64      `json:"width"`
	Height       float64      `json:"height"`
	Margin       view.Margin  `json:"margin"`
}

// Summary is the dashboard description served to clients.
type Summary struct {
	Title     string           `json:"title"`
	LiveBrush bool             `json:"live_brush"`
	Entities  int              `json:"entities"`
	Fields    []Field          `json:"fields"`
	Views     []ViewInfo       `json:"views"`
	Selection SelectionSummary `json:"selection"`
	LoadedAt  time.Time        `json:"loaded_at"`
}

// Summary returns the JSON-encoded dashboard description.
func (d *Dashboard) Summary() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := cache.SummaryKey(d.version)
	if d.cache != nil {
		if data, ok := d.cache.GetSummary(key); ok {
			return data, nil
		}
	}

	s := Summary{
		Title:     d.cfg.Title,
		LiveBrush: d.cfg.LiveBrush,
		Entities:  d.ds.Len(),
		Selection: d.selectionSummary(),
		LoadedAt:  d.loaded,
	}
	for _, f := range d.ds.Fields() {
		s.Fields = append(s.Fields, Field{Name: f, Label: d.label(f)})
	}
	for _, v := range d.views {
		info := ViewInfo{Name: v.Name(), Kind: v.Kind(), Binding: v.Binding()}
		_, info.Translatable = v.(view.Translator)
		if sc := v.Scene(); sc != nil {
			info.Width, info.Height, info.Margin = sc.Width, sc.Height, sc.Margin
		}
		s.Views = append(s.Views, info)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	if d.cache != nil {
		d.cache.SetSummary(key, data)
	}
	return data, nil
}

// EntityRow is one entity with its selection status.
type EntityRow struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Fields   map[string]float64 `json:"fields"`
	Selected bool               `json:"selected"`
	Mapped   bool               `json:"mapped"`
}

// Entities lists every entity. Selected follows the Unselected-contains-all
// convention; non-finite values are omitted from Fields.
func (d *Dashboard) Entities() []EntityRow {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.bc.Current()
	rows := make([]EntityRow, 0, d.ds.Len())
	for _, e := range d.ds.Entities() {
		fields := make(map[string]float64, len(e.Fields))
		for k := range e.Fields {
			if v, ok := e.Value(k); ok {
				fields[k] = v
			}
		}
		_, mapped := d.ds.Geometry(e.ID)
		rows = append(rows, EntityRow{
			ID:       e.ID,
			Name:     e.DisplayName,
			Fields:   fields,
			Selected: sel.Contains(e.ID),
			Mapped:   mapped,
		})
	}
	return rows
}

// Highlighted reports how a view currently styles an entity.
func (d *Dashboard) Highlighted(viewName, id string) (in, drawn bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.byName[viewName]
	if !ok {
		return false, false, fmt.Errorf("%w: %s", ErrUnknownView, viewName)
	}
	in, drawn = v.Highlighted(id)
	return in, drawn, nil
}

// Views returns the view names in declaration order.
func (d *Dashboard) Views() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, len(d.views))
	for i, v := range d.views {
		names[i] = v.Name()
	}
	return names
}
