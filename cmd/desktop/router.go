package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Jasujung99/couples-diary-pwa-sub001/cmd/desktop/handlers"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/metrics"
)

// allowedOrigins are the shells the local API answers cross-origin
// requests from.
var allowedOrigins = []string{
	"http://localhost:*",
	"http://127.0.0.1:*",
	"app://*",
}

// newRouter builds the daemon's HTTP surface.
func newRouter(a *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpMetrics(a.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	records := handlers.NewRecordHandler(a.manager)
	syncHandler := handlers.NewSyncHandler(a.manager, a.monitor)
	exportHandler := handlers.NewExportHandler(a.exporter, a.store, a.manager.ScopeKey())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  "ok",
				"service": "couples-diary",
				"version": version,
				"online":  a.monitor.Online(),
			})
		})
		r.Route("/entities/{type}", records.Routes)
		r.Route("/sync", syncHandler.Routes)
		r.Route("/export", exportHandler.Routes)
	})

	r.Get("/ws", HandleWebSocket(a.hub))
	r.Handle("/metrics", a.metrics.Handler())

	if a.devRemote != nil {
		r.Mount(devRemotePrefix, a.devRemote)
	}
	return r
}

// httpMetrics records request count and latency per route pattern.
func httpMetrics(m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordHTTP(r.Method, route, status, time.Since(start))
		})
	}
}
