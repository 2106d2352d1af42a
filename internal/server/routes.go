package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 60 * time.Second

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(middleware.Timeout(requestTimeout))

	ebooks := s.app.EbookHandler
	api := s.app.APIHandler

	r.NotFound(api.NotFoundHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", api.HealthHandler)
		r.Get("/version", api.VersionHandler)

		r.Route("/ebooks", func(r chi.Router) {
			r.Post("/", ebooks.CreateEbookHandler)
			r.Get("/", ebooks.ListEbooksHandler)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ebooks.GetEbookHandler)
				r.Post("/approve", ebooks.ApproveDescriptionHandler)
				r.Get("/jobs", ebooks.ListJobsHandler)
				r.Post("/jobs/{step}", ebooks.EnqueueStageHandler)
			})
		})

		r.Get("/jobs/{id}", ebooks.GetJobHandler)
	})

	s.mountArtifacts(r)

	return r
}

// mountArtifacts serves rendered documents when their public base URL is a
// local path. An absolute base URL means another server hosts them.
func (s *Server) mountArtifacts(r chi.Router) {
	base := strings.TrimRight(s.app.Config.Storage.Artifacts.PublicBaseURL, "/")
	if !strings.HasPrefix(base, "/") || base == "/api" || strings.HasPrefix(base, "/api/") {
		return
	}

	files := http.StripPrefix(base, http.FileServer(http.Dir(s.app.Artifacts.Dir())))
	r.Get(base+"/*", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name == "" || strings.Contains(name, "/") || strings.HasPrefix(name, ".") {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
