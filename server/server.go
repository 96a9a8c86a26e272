// Package server exposes the catalog engine over HTTP for the reader UI.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/httprate"

	"github.com/madeddie/mebooks/config"
)

// New creates a configured HTTP server with all routes.
func New(cfg *config.Config, h *Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           Routes(cfg, h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Routes builds the router.
func Routes(cfg *config.Config, h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaOTEL.Concise(true),
	}))
	r.Use(chimiddleware.Recoverer)
	r.Use(AllowOrigin(cfg.Proxy.Origin))

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BasicAuth(cfg.Server.Auth, cfg.Server.Title))

		r.Route("/api", func(r chi.Router) {
			if cfg.Server.RateLimit > 0 {
				r.Use(httprate.LimitByIP(cfg.Server.RateLimit, time.Minute))
			}
			r.Get("/catalogs", h.HandleCatalogs)
			r.Get("/catalogs/{slug}/tree", h.HandleCatalogTree)
			r.Get("/catalog", h.HandleCatalog)
			r.Get("/catalog/lanes", h.HandleLanes)
			r.Get("/catalog/pages", h.HandlePages)
			r.Post("/previews", h.HandlePreviews)
			r.Post("/acquire", h.HandleAcquire)
			r.Get("/search", h.HandleSearch)
			r.Put("/credentials/{host}", h.HandleSaveCredential)
			r.Delete("/credentials/{host}", h.HandleDeleteCredential)
		})

		r.Get("/opds/lane", h.HandleLaneFeed)
		r.Get("/opds/acquire", h.HandleAcquireRedirect)
	})

	return r
}
