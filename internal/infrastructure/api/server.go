package api

import (
	"encoding/json"
	"net/http"
	"time"

	"shopify-catalog-mirror/internal/application"
	"shopify-catalog-mirror/internal/infrastructure/pubsub"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Services are the application services exposed over HTTP
type Services struct {
	Credentials *application.CredentialsService
	Sync        *application.SyncService
	Reconciler  *application.ReconcileService
	Catalog     *application.CatalogService
	Events      *pubsub.SyncPubSub
}

// Server is the admin JSON API
type Server struct {
	services       Services
	gatherer       prometheus.Gatherer
	swaggerPath    string
	heartbeatEvery time.Duration
	logger         zerolog.Logger
}

// NewServer creates the admin API. swaggerPath points at the OpenAPI document served under /swagger.
func NewServer(services Services, gatherer prometheus.Gatherer, swaggerPath string, logger zerolog.Logger) *Server {
	return &Server{
		services:       services,
		gatherer:       gatherer,
		swaggerPath:    swaggerPath,
		heartbeatEvery: 15 * time.Second,
		logger:         logger,
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, s.swaggerPath)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Delete("/credentials/{sessionId}", s.revokeCredential)
		r.Get("/sync/events", s.streamSyncEvents)

		r.Route("/shops/{shop}", func(r chi.Router) {
			r.Use(requireShop)

			r.Put("/credentials", s.putCredential)
			r.Get("/credentials", s.listCredentials)
			r.Delete("/credentials", s.uninstallShop)

			r.Post("/sync", s.startSync)
			r.Get("/sync", s.syncStatus)
			r.Post("/reconcile", s.reconcile)

			r.Get("/products", s.listProducts)
			r.Get("/products/{id}", s.getProduct)
			r.Get("/products/{id}/live", s.getLiveProduct)
		})
	})

	return r
}

// requestLogger logs one line per request with the zerolog logger
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("requestId", middleware.GetReqID(r.Context())).
				Msg("Request handled")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
