package rest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/cache"
)

// NewRouter wires every route. Health and metrics stay outside the auth
// and rate-limit chain; everything under /api/v1 goes through it.
func NewRouter(h *Handler, health *HealthHandler, rt *RealtimeHandler, auth *Authenticator, limiter cache.RateLimiter, perSecond int, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Check)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()

	api.HandleFunc("POST /api/v1/incidents", h.reportIncident)
	api.HandleFunc("GET /api/v1/incidents", h.listIncidents)
	api.HandleFunc("GET /api/v1/incidents/stats", h.incidentStats)
	api.HandleFunc("GET /api/v1/incidents/{id}", h.getIncident)
	api.HandleFunc("POST /api/v1/incidents/{id}/assign", h.assignInvestigator)
	api.HandleFunc("POST /api/v1/incidents/{id}/investigation", h.submitFindings)
	api.HandleFunc("POST /api/v1/incidents/{id}/pending-action", h.moveToPendingAction)
	api.HandleFunc("POST /api/v1/incidents/{id}/hearing", h.scheduleHearing)
	api.HandleFunc("POST /api/v1/incidents/{id}/action", h.takeAction)
	api.HandleFunc("POST /api/v1/incidents/{id}/resolve", h.resolveIncident)
	api.HandleFunc("POST /api/v1/incidents/{id}/close", h.closeIncident)
	api.HandleFunc("POST /api/v1/incidents/{id}/reopen", h.reopenIncident)
	api.HandleFunc("POST /api/v1/incidents/{id}/appeal", h.fileAppeal)
	api.HandleFunc("POST /api/v1/incidents/{id}/appeal/decision", h.decideAppeal)
	api.HandleFunc("POST /api/v1/incidents/{id}/evidence", h.addEvidence)

	api.HandleFunc("GET /api/v1/drivers/{id}/bond", h.getBondBalance)
	api.HandleFunc("GET /api/v1/drivers/{id}/bond/transactions", h.listBondTransactions)
	api.HandleFunc("POST /api/v1/drivers/{id}/bond/deposit", h.bondTransaction(bond.TransactionDeposit))
	api.HandleFunc("POST /api/v1/drivers/{id}/bond/deduction", h.bondTransaction(bond.TransactionDeduction))
	api.HandleFunc("POST /api/v1/drivers/{id}/bond/refund", h.bondTransaction(bond.TransactionRefund))
	api.HandleFunc("POST /api/v1/drivers/{id}/bond/adjustment", h.bondTransaction(bond.TransactionAdjustment))
	api.HandleFunc("GET /api/v1/drivers/{id}/bond/sufficiency", h.checkBondSufficiency)
	api.HandleFunc("GET /api/v1/drivers/{id}/bond/lockdown", h.checkBondLockdown)
	api.HandleFunc("GET /api/v1/drivers/{id}/bond/verify", h.verifyBondLedger)

	if rt != nil {
		rt.register(api, h)
	}

	mux.Handle("/api/v1/", chain(api,
		auth.Middleware(h),
		rateLimitMiddleware(limiter, perSecond, logger),
	))

	return chain(mux,
		requestIDMiddleware,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
	)
}
