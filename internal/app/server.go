package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/dossier/internal/api/handlers"
	"github.com/markdave123-py/dossier/internal/config"
	"github.com/markdave123-py/dossier/internal/logger"
	"github.com/markdave123-py/dossier/internal/metrics"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	docHandler *handlers.DocumentHandler,
	queryHandler *handlers.QueryHandler,
	statsHandler *handlers.StatisticsHandler,
	m *metrics.Metrics,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", queryHandler.Health)
	r.Handle("/metrics", m.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/documents", func(docs chi.Router) {
			docs.Post("/", docHandler.UploadDocument)
			docs.Get("/search", docHandler.SearchDocuments)
			docs.Get("/fulltext", docHandler.FullTextSearch)

			docs.Group(func(reads chi.Router) {
				reads.Use(middleware.Timeout(60 * time.Second))
				reads.Get("/", docHandler.ListDocuments)
				reads.Get("/{id}", docHandler.GetDocument)
			})

			docs.Get("/{id}/download", docHandler.DownloadDocument)
			docs.Post("/{id}/retry", docHandler.RetryDocument)
			docs.Delete("/{id}", docHandler.DeleteDocument)
		})

		// Answers are bounded by the generation timeout, not by a request timeout.
		api.Route("/queries", func(q chi.Router) {
			q.Post("/", queryHandler.Ask)
			q.Get("/history", queryHandler.History)
			q.Get("/history/user/{userName}", queryHandler.UserHistory)
			q.Get("/history/{id}", queryHandler.HistoryDetail)
		})

		api.Route("/statistics", func(st chi.Router) {
			st.Use(middleware.Timeout(60 * time.Second))
			st.Get("/", statsHandler.All)
			st.Get("/documents", statsHandler.Documents)
			st.Get("/queries", statsHandler.Queries)
		})
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
