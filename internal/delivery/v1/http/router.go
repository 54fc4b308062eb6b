package http

import (
	"net/http"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(webhookUC usecase.WebhookUC, searchUC usecase.SearchUC, reindexUC usecase.ReindexUC, cfg *cfg.Config) {
	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.RealIP)
	r.router.Use(middleware.Recoverer)

	r.router.Get("/healthz", healthz)

	r.router.Route("/api/v1", func(v1 chi.Router) {
		registerWebhookRoutes(v1, NewWebhookHandler(webhookUC, cfg.Webhook, r.logger))
		registerSearchRoutes(v1, NewSearchHandler(searchUC, cfg.Search, r.logger))
		registerIndexRoutes(v1, NewIndexHandler(reindexUC, cfg.Webhook, r.logger))
	})
}

func registerWebhookRoutes(router chi.Router, h *WebhookHandler) {
	router.Route("/webhooks", func(wh chi.Router) {
		wh.Post("/catalog", h.receive)
		wh.Post("/bakai", h.receive)
	})
}

func registerSearchRoutes(router chi.Router, h *SearchHandler) {
	router.Route("/search", func(s chi.Router) {
		s.Post("/text", h.searchByText)
		s.Post("/image", h.searchByImage)
		s.Get("/similar/{product_id}", h.searchSimilar)
	})
	router.Get("/index/info", h.indexInfo)
}

func registerIndexRoutes(router chi.Router, h *IndexHandler) {
	router.Post("/index/reindex", h.reindexAll)
	router.Post("/index/batch", h.indexBatch)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
