// Package metrics registers the dashboard's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GesturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_gestures_total",
		Help: "Gesture events received by view, phase and outcome",
	}, []string{"view", "phase", "outcome"})
	SelectionChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_selection_changes_total",
		Help: "Selection broadcasts by resulting kind",
	}, []string{"kind"})
	SelectionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_selection_size",
		Help: "Number of entities in the current selection",
	})
	RenderDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_render_duration_ms",
		Help:    "Image render duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"view", "format"})
	ImageCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_image_cache_total",
		Help: "Image cache lookups by result",
	}, []string{"result"})
	DatasetReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_dataset_reloads_total",
		Help: "Dataset reloads by status",
	}, []string{"status"})
	DatasetEntities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dashboard_dataset_entities",
		Help: "Number of entities in the loaded dataset",
	})
)

func init() {
	prometheus.MustRegister(GesturesTotal)
	prometheus.MustRegister(SelectionChangesTotal)
	prometheus.MustRegister(SelectionSize)
	prometheus.MustRegister(RenderDurationMs)
	prometheus.MustRegister(ImageCacheTotal)
	prometheus.MustRegister(DatasetReloadsTotal)
	prometheus.MustRegister(DatasetEntities)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
