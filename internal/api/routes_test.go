package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/worldlens/dashboard/internal/cache"
	"github.com/worldlens/dashboard/internal/dataset"
	"github.com/worldlens/dashboard/internal/histstore"
	"github.com/worldlens/dashboard/internal/service"
	"github.com/worldlens/dashboard/internal/view"
)

// testServer holds the test server and its dependencies
type testServer struct {
	server    *httptest.Server
	cache     *cache.Manager
	history   *histstore.Recorder
	dashboard *service.Dashboard
}

func square(lon, lat float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{lon, lat}, {lon + 10, lat}, {lon + 10, lat + 10}, {lon, lat + 10}, {lon, lat}}}
}

// setupTestServer initializes all components and returns a test server
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	ds, err := dataset.New([]dataset.Entity{
		{ID: "AAA", DisplayName: "Alpha", Fields: map[string]float64{"gdp": 1000, "life": 60}},
		{ID: "BBB", DisplayName: "Beta", Fields: map[string]float64{"gdp": 5000, "life": 70}},
		{ID: "CCC", DisplayName: "Gamma", Fields: map[string]float64{"gdp": 9000}},
	}, map[string]orb.Geometry{
		"AAA": square(0, 0),
		"BBB": square(20, 0),
	})
	if err != nil {
		t.Fatalf("Failed to build dataset: %v", err)
	}

	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: 16, // Smaller cache for tests
		ImageTTL:         time.Minute,
		SummaryCacheSize: 10,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}

	history, err := histstore.NewRecorder(histstore.RecorderConfig{SQLitePath: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("Failed to initialize history: %v", err)
	}
	history.Start()

	dash, err := service.New(service.Config{
		Title: "Test",
		Views: []service.ViewSpec{
			{Name: "gdp", Kind: view.KindHistogram, Binding: view.Binding{Field: "gdp"}},
			{Name: "scatter", Kind: view.KindScatter, Binding: view.Binding{Field: "gdp", YField: "life"}},
			{Name: "map", Kind: view.KindChoropleth, Binding: view.Binding{Field: "gdp"}},
		},
	}, ds, service.Deps{Cache: cacheManager})
	if err != nil {
		t.Fatalf("Failed to initialize dashboard: %v", err)
	}
	dash.Observe(history.Observe)

	router := NewRouter(RouterConfig{
		Dashboard:   dash,
		History:     history,
		CORSOrigins: []string{"http://localhost:3000"},
	})

	return &testServer{
		server:    httptest.NewServer(router),
		cache:     cacheManager,
		history:   history,
		dashboard: dash,
	}
}

// close cleans up test server resources
func (ts *testServer) close() {
	ts.server.Close()
	ts.history.Stop()
	ts.cache.Close()
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, rd)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, data
}

// --- Helper Functions ---

// assertStatusCode verifies the HTTP status code
func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// assertContentType verifies the Content-Type header
func assertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected Content-Type %q, got %q", expected, contentType)
	}
}

// assertPNG verifies the response body is a valid PNG image
func assertPNG(t *testing.T, body []byte) {
	t.Helper()
	pngMagic := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if len(body) < 8 {
		t.Errorf("Response too short to be a valid PNG (got %d bytes)", len(body))
		return
	}
	for i, b := range pngMagic {
		if body[i] != b {
			t.Errorf("Invalid PNG magic bytes at position %d: expected 0x%02X, got 0x%02X", i, b, body[i])
			return
		}
	}
}

// assertJSONFields verifies the response contains expected JSON fields
func assertJSONFields(t *testing.T, body []byte, expectedFields []string) {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Errorf("Failed to parse JSON response: %v", err)
		return
	}
	for _, field := range expectedFields {
		if _, ok := result[field]; !ok {
			t.Errorf("Expected JSON field %q not found in response", field)
		}
	}
}

type selectionBody struct {
	Kind     string   `json:"kind"`
	IDs      []string `json:"ids"`
	Revision uint64   `json:"revision"`
	Origin   string   `json:"origin"`
}

// --- Test Cases ---

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assertStatusCode(t, resp, http.StatusOK)
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %q", string(body))
	}
}

func TestDashboardEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	resp, body := ts.do(t, http.MethodGet, "/api/dashboard", "")
	assertStatusCode(t, resp, http.StatusOK)
	assertContentType(t, resp, "application/json")
	assertJSONFields(t, body, []string{"title", "live_brush", "entities", "fields", "views", "selection"})

	var s service.Summary
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if len(s.Views) != 3 {
		t.Fatalf("Expected 3 views, got %d", len(s.Views))
	}
	if s.Selection.Kind != "unselected" {
		t.Errorf("Expected unselected, got %q", s.Selection.Kind)
	}
}

func TestImageEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		contentType    string
	}{
		{"histogram png", "/api/views/gdp.png", http.StatusOK, "image/png"},
		{"map png", "/api/views/map.png", http.StatusOK, "image/png"},
		{"scatter svg", "/api/views/scatter.svg", http.StatusOK, "image/svg+xml"},
		{"unknown view", "/api/views/nope.png", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodGet, tt.path, "")
			assertStatusCode(t, resp, tt.expectedStatus)
			if tt.contentType == "" {
				return
			}
			assertContentType(t, resp, tt.contentType)
			if tt.contentType == "image/png" {
				assertPNG(t, body)
			} else if !strings.Contains(string(body), "<svg") {
				t.Errorf("Expected an SVG document")
			}
		})
	}
}

func TestGestureEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
		applied        bool
		kind           string
	}{
		{
			name:           "histogram brush",
			path:           "/api/views/gdp/gesture",
			body:           `{"phase":"end","region":{"x0":-100000,"x1":100000}}`,
			expectedStatus: http.StatusOK,
			applied:        true,
			kind:           "set",
		},
		{
			name:           "programmatic event ignored",
			path:           "/api/views/scatter/gesture",
			body:           `{"phase":"end","user_input":false,"region":{"x0":0,"y0":0,"x1":5,"y1":5}}`,
			expectedStatus: http.StatusOK,
			applied:        false,
			kind:           "set",
		},
		{
			name:           "move without live brushing",
			path:           "/api/views/scatter/gesture",
			body:           `{"phase":"move","region":{"x0":0,"y0":0,"x1":5,"y1":5}}`,
			expectedStatus: http.StatusOK,
			applied:        false,
			kind:           "set",
		},
		{
			name:           "click clears",
			path:           "/api/views/map/gesture",
			body:           `{"region":{"x0":10,"y0":10,"x1":10,"y1":10}}`,
			expectedStatus: http.StatusOK,
			applied:        true,
			kind:           "unselected",
		},
		{
			name:           "unknown view",
			path:           "/api/views/nope/gesture",
			body:           `{"region":{"x0":0,"x1":1}}`,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "unknown view programmatic",
			path:           "/api/views/nope/gesture",
			body:           `{"user_input":false,"region":{"x0":0,"x1":1}}`,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "bad phase",
			path:           "/api/views/gdp/gesture",
			body:           `{"phase":"hover","region":{"x0":0,"x1":1}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid body",
			path:           "/api/views/gdp/gesture",
			body:           `{`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	// Cases run in order; each depends on the state the previous left.
	for _, tt := range tests {
		resp, body := ts.do(t, http.MethodPost, tt.path, tt.body)
		assertStatusCode(t, resp, tt.expectedStatus)
		if tt.expectedStatus != http.StatusOK {
			continue
		}

		var out struct {
			Applied   bool          `json:"applied"`
			Selection selectionBody `json:"selection"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("%s: failed to decode: %v", tt.name, err)
		}
		if out.Applied != tt.applied {
			t.Errorf("%s: expected applied=%v, got %v", tt.name, tt.applied, out.Applied)
		}
		if out.Selection.Kind != tt.kind {
			t.Errorf("%s: expected kind %q, got %q", tt.name, tt.kind, out.Selection.Kind)
		}
	}
}

func TestSelectionEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	ts.do(t, http.MethodPost, "/api/views/scatter/gesture", `{"region":{"x0":-1e6,"y0":-1e6,"x1":1e6,"y1":1e6}}`)

	resp, body := ts.do(t, http.MethodGet, "/api/selection", "")
	assertStatusCode(t, resp, http.StatusOK)
	var sel selectionBody
	if err := json.Unmarshal(body, &sel); err != nil {
		t.Fatalf("Failed to decode selection: %v", err)
	}
	if strings.Join(sel.IDs, ",") != "AAA,BBB" || sel.Origin != "scatter" || sel.Revision != 1 {
		t.Errorf("Unexpected selection: %+v", sel)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/entities?selected=true", "")
	assertStatusCode(t, resp, http.StatusOK)
	var ents struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &ents); err != nil {
		t.Fatalf("Failed to decode entities: %v", err)
	}
	if ents.Total != 2 {
		t.Errorf("Expected 2 selected entities, got %d", ents.Total)
	}

	resp, body = ts.do(t, http.MethodDelete, "/api/selection", "")
	assertStatusCode(t, resp, http.StatusOK)
	sel = selectionBody{}
	if err := json.Unmarshal(body, &sel); err != nil {
		t.Fatalf("Failed to decode selection: %v", err)
	}
	if sel.Kind != "unselected" || len(sel.IDs) != 0 {
		t.Errorf("Expected cleared selection, got %+v", sel)
	}

	// Both changes were final, so both reach the history store.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := ts.history.Store().Count(context.Background())
		if err != nil {
			t.Fatalf("Failed to count history: %v", err)
		}
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 history records, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/selection/history?limit=1", "")
	assertStatusCode(t, resp, http.StatusOK)
	var hist struct {
		Limit int                `json:"limit"`
		Items []histstore.Record `json:"items"`
	}
	if err := json.Unmarshal(body, &hist); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if hist.Limit != 1 || len(hist.Items) != 1 || hist.Items[0].Kind != "unselected" {
		t.Errorf("Unexpected history: %+v", hist)
	}
}

func TestFieldEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
	}{
		{"choropleth field", "/api/views/map/field", `{"field":"life"}`, http.StatusOK},
		{"scatter y axis", "/api/views/scatter/field", `{"field":"gdp","axis":"y"}`, http.StatusOK},
		{"unknown field", "/api/views/map/field", `{"field":"population"}`, http.StatusBadRequest},
		{"missing field", "/api/views/map/field", `{}`, http.StatusBadRequest},
		{"bad axis", "/api/views/scatter/field", `{"field":"gdp","axis":"z"}`, http.StatusBadRequest},
		{"unknown view", "/api/views/nope/field", `{"field":"gdp"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.do(t, http.MethodPut, tt.path, tt.body)
			assertStatusCode(t, resp, tt.expectedStatus)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	ts.do(t, http.MethodPost, "/api/views/gdp/gesture", `{"region":{"x0":-1e6,"x1":1e6}}`)

	resp, body := ts.do(t, http.MethodGet, "/metrics", "")
	assertStatusCode(t, resp, http.StatusOK)
	if !strings.Contains(string(body), "dashboard_gestures_total") {
		t.Errorf("Expected gesture counter in exposition")
	}
}

func TestHistoryNotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(RouterConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/selection/history", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("Expected %d, got %d", http.StatusNotImplemented, rec.Code)
	}
}
