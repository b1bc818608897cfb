// Package httptransport exposes the vault, session, governance and ledger
// operations over HTTP. Handlers decode, delegate and map errors; the
// services own every decision.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"steward/internal/platform/middleware"
	"steward/pkg/platform/httputil"
)

// Deps are the services mounted on the router. Nil services leave their
// routes unmounted.
type Deps struct {
	Vault      VaultService
	Sessions   SessionService
	OTP        OTPValidator
	Governance GovernanceService
	Ledger     LedgerService
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// NewRouter wires every public endpoint under /v1 plus /metrics and /healthz.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", healthz(d.Vault))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if d.Vault != nil {
			NewVaultHandler(d.Vault, logger).Register(r)
		}
		if d.Sessions != nil {
			NewSessionHandler(d.Sessions, d.OTP, logger).Register(r)
		}
		if d.Sessions == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(d.Sessions, logger))
			if d.Governance != nil {
				NewGovernanceHandler(d.Governance, logger).Register(r)
			}
			if d.Ledger != nil {
				NewRecordHandler(d.Ledger, logger).Register(r)
			}
		})
	})
	return r
}

type healthResponse struct {
	Status           string `json:"status"`
	VaultOpen        bool   `json:"vault_open"`
	KillswitchActive bool   `json:"killswitch_active"`
}

func healthz(v VaultService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok"}
		if v != nil {
			resp.VaultOpen = v.IsOpen()
			resp.KillswitchActive = v.KillswitchStatus().Active
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
