package service

import (
	"bytes"
	"encoding/json"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/worldlens/dashboard/internal/cache"
	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/metrics"
	"github.com/worldlens/dashboard/internal/selection"
	"github.com/worldlens/dashboard/internal/view"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func square(lon, lat float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{lon, lat}, {lon + 10, lat}, {lon + 10, lat + 10}, {lon, lat + 10}, {lon, lat}}}
}

func testDataset(t *testing.T, gdpOfB float64) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.Entity{
		{ID: "AAA", DisplayName: "Alpha", Fields: map[string]float64{"gdp": 1000, "life": 60}},
		{ID: "BBB", DisplayName: "Beta", Fields: map[string]float64{"gdp": gdpOfB, "life": 70}},
		{ID: "CCC", DisplayName: "Gamma", Fields: map[string]float64{"gdp": 9000}},
		{ID: "DDD", DisplayName: "Delta", Fields: map[string]float64{"life": 80}},
	}, map[string]orb.Geometry{
		"AAA": square(0, 0),
		"BBB": square(20, 0),
		"DDD": square(40, 0),
	})
	require.NoError(t, err)
	return ds
}

func testConfig(live bool) Config {
	return Config{
		Title:     "Test dashboard",
		LiveBrush: live,
		Views: []ViewSpec{
			{Name: "gdp", Kind: view.KindHistogram, Binding: view.Binding{Field: "gdp"}},
			{Name: "life", Kind: view.KindHistogram, Binding: view.Binding{Field: "life"}},
			{Name: "scatter", Kind: view.KindScatter, Binding: view.Binding{Field: "gdp", YField: "life"}},
			{Name: "map", Kind: view.KindChoropleth, Binding: view.Binding{Field: "gdp"}},
		},
		Fields: []Field{{Name: "gdp", Label: "GDP per capita"}, {Name: "life", Label: "Life expectancy"}},
	}
}

func newDashboard(t *testing.T, live bool) *Dashboard {
	t.Helper()
	d, err := New(testConfig(live), testDataset(t, 5000), Deps{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return d
}

func plotSpan(t *testing.T, d *Dashboard, name string) gesture.Region {
	t.Helper()
	s := d.byName[name].Scene()
	require.NotNil(t, s)
	return gesture.Rect(0, 0, s.PlotWidth(), s.PlotHeight())
}

func userEvent(view string, r gesture.Region) gesture.Event {
	return gesture.Event{View: view, Phase: gesture.PhaseEnd, UserInput: true, Region: r}
}

// assertConsistent checks that every view styles every drawn entity the way
// the current selection says.
func assertConsistent(t *testing.T, d *Dashboard) {
	t.Helper()
	sel := d.bc.Current()
	for _, v := range d.views {
		for _, e := range d.ds.Entities() {
			in, drawn := v.Highlighted(e.ID)
			if drawn {
				assert.Equal(t, sel.Contains(e.ID), in, "view %s entity %s", v.Name(), e.ID)
			}
		}
	}
}

func TestNew_Validation(t *testing.T) {
	ds := testDataset(t, 5000)

	cfg := testConfig(false)
	cfg.Views = append(cfg.Views, ViewSpec{Name: "gdp", Kind: view.KindHistogram})
	_, err := New(cfg, ds, Deps{})
	assert.Error(t, err)

	cfg = testConfig(false)
	cfg.Views[0].Kind = "pie"
	_, err = New(cfg, ds, Deps{})
	assert.Error(t, err)

	_, err = New(testConfig(false), nil, Deps{})
	assert.Error(t, err)
}

func TestHandleGesture_BroadcastsToEveryView(t *testing.T) {
	d := newDashboard(t, false)

	out, err := d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, out.Selection.IDs())
	assert.Equal(t, "gdp", d.bc.State().Origin())
	assertConsistent(t, d)

	// DDD has no gdp, so the origin histogram does not draw it while the map
	// shows it dimmed.
	in, drawn, err := d.Highlighted("map", "DDD")
	require.NoError(t, err)
	assert.True(t, drawn)
	assert.False(t, in)
}

func TestHandleGesture_LastWriteWins(t *testing.T) {
	d := newDashboard(t, false)

	_, err := d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)

	out, err := d.HandleGesture(userEvent("life", plotSpan(t, d, "life")))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB", "DDD"}, out.Selection.IDs())
	assert.Equal(t, "life", d.bc.State().Origin())
	assert.Equal(t, uint64(2), out.Revision)
	assertConsistent(t, d)
}

func TestHandleGesture_DegenerateClears(t *testing.T) {
	d := newDashboard(t, false)
	_, err := d.HandleGesture(userEvent("scatter", plotSpan(t, d, "scatter")))
	require.NoError(t, err)
	require.Equal(t, selection.KindSet, d.bc.Current().Kind())

	out, err := d.HandleGesture(userEvent("scatter", gesture.Rect(10, 10, 10, 50)))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.True(t, out.Selection.IsUnselected())
	for _, v := range d.views {
		for _, m := range v.Scene().Marks {
			assert.Equal(t, m.BaseOpacity, m.Opacity, v.Name())
		}
	}
}

func TestHandleGesture_EmptyDimsAllViews(t *testing.T) {
	d := newDashboard(t, false)
	s := d.byName["map"].Scene()

	// The bottom strip of the map lies below every shape.
	r := gesture.Rect(0, s.PlotHeight()-1, s.PlotWidth(), s.PlotHeight())
	out, err := d.HandleGesture(userEvent("map", r))
	require.NoError(t, err)
	require.Equal(t, selection.KindEmpty, out.Selection.Kind())

	for _, v := range d.views {
		for _, m := range v.Scene().Marks {
			assert.False(t, m.Interactive, v.Name())
			assert.Less(t, m.Opacity, m.BaseOpacity, v.Name())
		}
	}
}

func TestHandleGesture_IgnoresProgrammaticEvents(t *testing.T) {
	d := newDashboard(t, true)
	ev := userEvent("gdp", plotSpan(t, d, "gdp"))
	ev.UserInput = false

	out, err := d.HandleGesture(ev)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.True(t, d.bc.Current().IsUnselected())
	assert.Equal(t, uint64(0), d.bc.State().Revision())
}

func TestHandleGesture_Errors(t *testing.T) {
	d := newDashboard(t, false)

	_, err := d.HandleGesture(userEvent("pie", gesture.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, ErrUnknownView)

	series := testutil.CollectAndCount(metrics.GesturesTotal)
	ev := userEvent("pie", gesture.Rect(0, 0, 1, 1))
	ev.UserInput = false
	_, err = d.HandleGesture(ev)
	assert.ErrorIs(t, err, ErrUnknownView)
	assert.Equal(t, series, testutil.CollectAndCount(metrics.GesturesTotal))
	assert.Equal(t, uint64(0), d.bc.State().Revision())
}

func TestHandleGesture_LiveBrush(t *testing.T) {
	span := func(d *Dashboard) gesture.Event {
		ev := userEvent("gdp", plotSpan(t, d, "gdp"))
		ev.Phase = gesture.PhaseMove
		return ev
	}

	off := newDashboard(t, false)
	out, err := off.HandleGesture(span(off))
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.True(t, off.bc.Current().IsUnselected())

	on := newDashboard(t, true)
	var changes []selection.Change
	on.Observe(func(c selection.Change) { changes = append(changes, c) })

	out, err = on.HandleGesture(span(on))
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 3, on.bc.Current().Len())
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Final)

	// A degenerate move never clears.
	out, err = on.HandleGesture(gesture.Event{View: "gdp", Phase: gesture.PhaseMove, UserInput: true, Region: gesture.Span(5, 5)})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, 3, on.bc.Current().Len())
}

func TestSetField_KeepsSelection(t *testing.T) {
	d := newDashboard(t, false)
	_, err := d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)
	before := d.Selection()

	require.NoError(t, d.SetField("map", "", "life"))
	require.NoError(t, d.SetField("scatter", "y", "gdp"))

	after := d.Selection()
	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, before.IDs, after.IDs)
	assert.Equal(t, "Life expectancy", d.byName["map"].Binding().LegendTitle)
	assert.Equal(t, "gdp", d.byName["scatter"].Binding().YField)
	assertConsistent(t, d)

	assert.ErrorIs(t, d.SetField("map", "", "population"), ErrUnknownField)
	assert.ErrorIs(t, d.SetField("nope", "", "gdp"), ErrUnknownView)
}

func TestClear(t *testing.T) {
	d := newDashboard(t, false)
	_, err := d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)

	c := d.Clear()
	assert.True(t, c.Selection.IsUnselected())
	assert.Equal(t, "", d.Selection().Origin)
	assert.Equal(t, []string{}, d.Selection().IDs)
	assertConsistent(t, d)
}

func TestReload_ResetsSelection(t *testing.T) {
	d := newDashboard(t, false)
	_, err := d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)

	require.NoError(t, d.Reload(testDataset(t, 2000)))
	assert.True(t, d.bc.Current().IsUnselected())
	v, ok := d.ds.Value("BBB", "gdp")
	assert.True(t, ok)
	assert.Equal(t, 2000.0, v)
	assertConsistent(t, d)

	assert.Error(t, d.Reload(nil))
}

func TestImage_CachedByVersion(t *testing.T) {
	mgr, err := cache.NewManager(cache.Config{ImageCacheSizeMB: 16, ImageTTL: time.Minute, SummaryCacheSize: 8})
	require.NoError(t, err)
	defer mgr.Close()

	d, err := New(testConfig(false), testDataset(t, 5000), Deps{Cache: mgr, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	first, err := d.Image("map", "png")
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(first))
	require.NoError(t, err)

	again, err := d.Image("map", "png")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	key := cache.ImageKey("map", "png", d.version)
	_, cached := mgr.GetImage(key)
	assert.True(t, cached)

	_, err = d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)
	_, stale := mgr.GetImage(cache.ImageKey("map", "png", d.version))
	assert.False(t, stale)

	svg, err := d.Image("map", "svg")
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	_, err = d.Image("map", "gif")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = d.Image("nope", "png")
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestSummary(t *testing.T) {
	d := newDashboard(t, true)
	_, err := d.HandleGesture(userEvent("gdp", plotSpan(t, d, "gdp")))
	require.NoError(t, err)

	data, err := d.Summary()
	require.NoError(t, err)

	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, "Test dashboard", s.Title)
	assert.True(t, s.LiveBrush)
	assert.Equal(t, 4, s.Entities)
	require.Len(t, s.Views, 4)
	assert.Equal(t, view.KindChoropleth, s.Views[3].Kind)
	assert.True(t, s.Views[3].Translatable)
	assert.Equal(t, "set", s.Selection.Kind)
	assert.Equal(t, []Field{{"gdp", "GDP per capita"}, {"life", "Life expectancy"}}, s.Fields)
}

func TestEntities(t *testing.T) {
	d := newDashboard(t, false)
	rows := d.Entities()
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.True(t, r.Selected, "unselected contains every entity")
	}

	_, err := d.HandleGesture(userEvent("life", plotSpan(t, d, "life")))
	require.NoError(t, err)
	byID := map[string]EntityRow{}
	for _, r := range d.Entities() {
		byID[r.ID] = r
	}
	assert.False(t, byID["CCC"].Selected)
	assert.True(t, byID["DDD"].Selected)
	assert.False(t, byID["CCC"].Mapped)
	_, hasLife := byID["CCC"].Fields["life"]
	assert.False(t, hasLife)
}

func TestConcurrentAccess(t *testing.T) {
	d := newDashboard(t, true)
	r := plotSpan(t, d, "scatter")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = d.HandleGesture(userEvent("scatter", r))
		}()
		go func() {
			defer wg.Done()
			_, _ = d.Image("gdp", "png")
		}()
		go func() {
			defer wg.Done()
			_, _ = d.Summary()
		}()
	}
	wg.Wait()
	assertConsistent(t, d)
}
