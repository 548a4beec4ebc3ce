package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/skillscout/internal/assessment"
	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/health"
	"github.com/terra-clan/skillscout/internal/pipeline"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	repositories   *pipeline.Service
	assessments    *assessment.Engine
	health         *health.Registry
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	service *pipeline.Service,
	engine *assessment.Engine,
	registry *health.Registry,
	clients ClientStore,
) *Server {
	s := &Server{
		config:         cfg,
		repositories:   service,
		assessments:    engine,
		health:         registry,
		authMiddleware: NewAuthMiddleware(clients),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// Status stream stays open past the request timeout
		r.With(s.authMiddleware.RequirePermission("repositories:read")).
			Get("/repositories/{id}/events", s.handleRepositoryEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// Candidates
			r.Route("/candidates/{id}", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission("candidates:read")).Get("/", s.handleGetCandidate)
				r.With(s.authMiddleware.RequirePermission("candidates:write")).Put("/", s.handlePutCandidate)
				r.With(s.authMiddleware.RequirePermission("candidates:read")).Get("/score", s.handleCandidateScore)
				r.With(s.authMiddleware.RequirePermission("repositories:read")).Get("/repositories", s.handleListRepositories)
				r.With(s.authMiddleware.RequirePermission("repositories:write")).Post("/repositories", s.handleLinkRepository)
			})

			// Repositories
			r.Route("/repositories/{id}", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission("repositories:read")).Get("/", s.handleGetRepository)
				r.With(s.authMiddleware.RequirePermission("repositories:write")).Delete("/", s.handleUnlinkRepository)
				r.With(s.authMiddleware.RequirePermission("repositories:write")).Post("/analyze", s.handleStartAnalysis)
				r.With(s.authMiddleware.RequirePermission("repositories:read")).Get("/files", s.handleBrowseFiles)
				r.With(s.authMiddleware.RequirePermission("repositories:read")).Get("/files/summary", s.handleSummarizeFile)
				r.With(s.authMiddleware.RequirePermission("assessments:write")).Post("/assessment", s.handleGenerateAssessment)
				r.With(s.authMiddleware.RequirePermission("assessments:read")).Get("/assessment", s.handleGetAssessment)
			})

			// Assessments
			r.Route("/assessments/{id}", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission("assessments:write")).Post("/attempts", s.handleSubmitAttempt)
				r.With(s.authMiddleware.RequirePermission("assessments:read")).Get("/attempts", s.handleListAttempts)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
