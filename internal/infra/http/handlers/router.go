package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/infra/http/middleware"
)

type Router struct {
	Leads       *LeadHandler
	Campaigns   *CampaignHandler
	Sync        *SyncHandler
	Webhooks    *WebhookHandler
	Health      *HealthHandler
	CORSOrigins []string
	Logger      *zap.Logger
}

func (rt Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(rt.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", SignatureHeader},
		MaxAge:         300,
	}))

	r.Get("/health", rt.Health.Handle)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Post("/leads", rt.Leads.CaptureLead)
		r.Post("/leads/{id}/campaign", rt.Campaigns.Start)
		r.Delete("/leads/{id}/campaign", rt.Campaigns.Stop)
		r.Post("/leads/{id}/sync", rt.Sync.Handle)
		r.Post("/webhooks/crm", rt.Webhooks.Handle)
	})

	return r
}
