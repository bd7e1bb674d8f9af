// Package api provides HTTP handlers for the dashboard server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/worldlens/dashboard/internal/gesture"
	"github.com/worldlens/dashboard/internal/histstore"
	"github.com/worldlens/dashboard/internal/metrics"
	"github.com/worldlens/dashboard/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Dashboard   *service.Dashboard
	History     *histstore.Recorder
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	d := cfg.Dashboard
	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard", dashboardHandler(d))
		r.Get("/entities", entitiesHandler(d))

		r.Get("/views/{view}.png", imageHandler(d, "png"))
		r.Get("/views/{view}.svg", imageHandler(d, "svg"))
		r.Post("/views/{view}/gesture", gestureHandler(d))
		r.Put("/views/{view}/field", fieldHandler(d))

		r.Get("/selection", selectionHandler(d))
		r.Delete("/selection", clearHandler(d))
		r.Get("/selection/history", historyHandler(cfg.History))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps dashboard errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownView):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUnknownField),
		errors.Is(err, service.ErrNotTranslatable),
		errors.Is(err, service.ErrUnknownFormat):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func dashboardHandler(d *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := d.Summary()
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func entitiesHandler(d *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows := d.Entities()
		if r.URL.Query().Get("selected") == "true" {
			kept := rows[:0]
			for _, row := range rows {
				if row.Selected {
					kept = append(kept, row)
				}
			}
			rows = kept
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total":    len(rows),
			"entities": rows,
		})
	}
}

func imageHandler(d *service.Dashboard, format string) http.HandlerFunc {
	contentType := "image/png"
	if format == "svg" {
		contentType = "image/svg+xml"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := d.Image(chi.URLParam(r, "view"), format)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

type gestureRequest struct {
	Phase     string         `json:"phase"`
	UserInput *bool          `json:"user_input"`
	Region    gesture.Region `json:"region"`
}

func gestureHandler(d *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gestureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Region.Valid() {
			http.Error(w, "region coordinates must be finite", http.StatusBadRequest)
			return
		}
		phase := gesture.PhaseEnd
		if strings.TrimSpace(req.Phase) != "" {
			p, err := gesture.ParsePhase(req.Phase)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			phase = p
		}
		// Clients posting gestures are users unless they say otherwise.
		userInput := req.UserInput == nil || *req.UserInput

		out, err := d.HandleGesture(gesture.Event{
			View:      chi.URLParam(r, "view"),
			Phase:     phase,
			UserInput: userInput,
			Region:    req.Region,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type fieldRequest struct {
	Field string `json:"field"`
	Axis  string `json:"axis"`
}

func fieldHandler(d *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fieldRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Field == "" {
			http.Error(w, "field is required", http.StatusBadRequest)
			return
		}
		switch req.Axis {
		case "", "x", "y":
		default:
			http.Error(w, "axis must be x or y", http.StatusBadRequest)
			return
		}

		if err := d.SetField(chi.URLParam(r, "view"), req.Axis, req.Field); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Selection())
	}
}

func selectionHandler(d *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Selection())
	}
}

func clearHandler(d *service.Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Clear()
		writeJSON(w, http.StatusOK, d.Selection())
	}
}

func historyHandler(rec *histstore.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rec == nil {
			http.Error(w, "selection history not configured", http.StatusNotImplemented)
			return
		}

		limit := 50
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
				limit = v
				if limit > 500 {
					limit = 500
				}
			}
		}

		items, err := rec.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, "failed to query history: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []histstore.Record{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"limit": limit,
			"items": items,
		})
	}
}
