package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jewelcraft/jewelcraft-backend/api/controllers"
	webhookcontrollers "github.com/jewelcraft/jewelcraft-backend/api/controllers/webhooks"
	"github.com/jewelcraft/jewelcraft-backend/api/middleware"
	"github.com/jewelcraft/jewelcraft-backend/pkg/config"
	"github.com/jewelcraft/jewelcraft-backend/pkg/logger"
)

// RouterParams carries the wired dependencies of the HTTP surface. Redis and
// Gatherer are optional.
type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        controllers.Pinger
	Redis     controllers.Pinger
	Gatherer  prometheus.Gatherer
	Verifier  webhookcontrollers.EventVerifier
	Processor webhookcontrollers.EventProcessor
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	deps := map[string]controllers.Pinger{"db": p.DB}
	if p.Redis != nil {
		deps["redis"] = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, logg, deps))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		// All methods land on the controller so non-POST requests get the
		// JSON error envelope.
		r.HandleFunc("/stripe", webhookcontrollers.StripeWebhook(p.Verifier, p.Processor, cfg.Webhook.MaxBodyBytes, logg))
	})

	return r
}
