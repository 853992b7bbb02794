// Package rest wires the HTTP surface: command, query, replay, and bridge
// endpoints behind chi with logging, metrics, and optional CORS.
package rest

import (
	"net/http"

	"graphledger-backend/interfaces/http/rest/handlers"
	"graphledger-backend/interfaces/http/rest/middleware"
	"graphledger-backend/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options toggles the optional surfaces of the router
type Options struct {
	EnableCORS    bool
	EnableMetrics bool
}

// Router assembles the HTTP handler tree
type Router struct {
	graphs  *handlers.GraphHandler
	queries *handlers.QueryHandler
	replay  *handlers.ReplayHandler
	bridge  *handlers.BridgeHandler
	metrics *observability.Collector
	logger  *zap.Logger
	options Options
}

// NewRouter creates a router over the four handler groups
func NewRouter(
	graphs *handlers.GraphHandler,
	queries *handlers.QueryHandler,
	replay *handlers.ReplayHandler,
	bridgeHandler *handlers.BridgeHandler,
	metrics *observability.Collector,
	logger *zap.Logger,
	options Options,
) *Router {
	return &Router{
		graphs:  graphs,
		queries: queries,
		replay:  replay,
		bridge:  bridgeHandler,
		metrics: metrics,
		logger:  logger,
		options: options,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.options.EnableMetrics && rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.options.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/health/bridge", rt.bridge.Health)

	if rt.options.EnableMetrics && rt.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(rt.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/graphs", func(r chi.Router) {
			r.Post("/", rt.graphs.CreateGraph)

			r.Route("/{graphID}", func(r chi.Router) {
				r.Get("/stats", rt.queries.GetGraphStats)
				r.Get("/events", rt.replay.FetchAggregate)

				r.Route("/nodes", func(r chi.Router) {
					r.Post("/", rt.graphs.AddNode)
					r.Get("/", rt.queries.FindNodesByComponent)
					r.Get("/{nodeID}", rt.queries.GetNodeView)
					r.Delete("/{nodeID}", rt.graphs.RemoveNode)
					r.Post("/{nodeID}/transition", rt.graphs.TransitionNode)
					r.Get("/{nodeID}/connected", rt.queries.FindConnected)
				})

				r.Post("/edges", rt.graphs.ConnectNodes)
			})
		})

		r.Get("/events", rt.replay.FetchWindow)
		r.Get("/events/drain", rt.bridge.DrainEvents)
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
