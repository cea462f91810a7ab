package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	ussdhttp "github.com/satmobi/satsgate/internal/ussd/adapters/http"
)

// NewRouter assembles the service's HTTP surface. The gateway callback and
// health check are open; management routes require an operator bearer token.
//
// ussdLimit and webhookLimit bound in-flight requests on the two routes
// whose handlers hold two pool connections at once (the outer session or
// invoice transaction plus the nested ledger transaction). Their sum, plus
// one for the broker consumer, must not exceed half the pool's MaxConns or
// every outer transaction can end up waiting on a second connection that
// another outer transaction is holding.
func NewRouter(
	ussdHandler *ussdhttp.USSDHandler,
	handlers *Handlers,
	jwtSecret string,
	ussdLimit, webhookLimit int,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if ussdLimit <= 0 {
		ussdLimit = 6
	}
	if webhookLimit <= 0 {
		webhookLimit = 2
	}
	r.With(chimiddleware.ThrottleBacklog(ussdLimit, ussdLimit, 5*time.Second)).
		Post("/ussd", ussdHandler.HandleCallback)

	// Settlement webhooks are authenticated like operator calls; backends
	// are issued their own tokens.
	authMW := AuthMiddleware(jwtSecret, logger)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(authMW)
		handlers.RegisterRoutes(v1)
		v1.With(chimiddleware.ThrottleBacklog(webhookLimit, webhookLimit, 5*time.Second)).
			Post("/webhooks/settlement", handlers.HandleSettlementWebhook)
	})

	return r
}
