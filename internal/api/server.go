// Package api provides the HTTP server for the credit service. All
// endpoints speak JSON; policy refusals are typed results with a 200
// status, while store and validation failures map onto error statuses.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/credgate/credgate/internal/app/grantor"
	"github.com/credgate/credgate/internal/domain"
)

// Server is the credit service HTTP API server.
type Server struct {
	grantor        *grantor.Grantor
	metricsEnabled bool
}

// NewServer creates a new API server over the orchestrator.
func NewServer(g *grantor.Grantor) *Server {
	return &Server{grantor: g}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": "0.1.0"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ledger/mutate", s.handleMutate)
		r.Get("/wallets/{accountID}", s.handleGetWallet)
		r.Get("/wallets/{accountID}/entries", s.handleListEntries)
		r.Post("/abuse/check", s.handleAbuseCheck)
		r.Post("/trial/grant", s.handleTrialGrant)
		r.Get("/trial/status/{accountID}", s.handleTrialStatus)
		r.Post("/verifications", s.handleVerification)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Ledger Handlers ────────────────────────────────────────────────────────

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.grantor.MutateLedger(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.grantor.GetWallet(chi.URLParam(r, "accountID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.grantor.ListEntries(chi.URLParam(r, "accountID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ─── Abuse Handlers ─────────────────────────────────────────────────────────

func (s *Server) handleAbuseCheck(w http.ResponseWriter, r *http.Request) {
	var info domain.SignupInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if info.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	assessment, err := s.grantor.CheckAbuse(info)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

type verificationRequest struct {
	AccountID string                  `json:"account_id"`
	Kind      domain.VerificationKind `json:"kind"`
	Usage     *domain.UsageStats      `json:"usage,omitempty"`
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	switch req.Kind {
	case domain.VerifyPhone, domain.VerifyCaptcha, domain.VerifyIdentity:
	default:
		writeError(w, http.StatusBadRequest, "kind must be phone, captcha, or identity")
		return
	}

	rec, err := s.grantor.RecordVerification(req.AccountID, req.Kind, req.Usage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── Trial Handlers ─────────────────────────────────────────────────────────

type trialGrantRequest struct {
	Account domain.AccountState `json:"account"`
	Signup  *domain.SignupInfo  `json:"signup,omitempty"`
}

func (s *Server) handleTrialGrant(w http.ResponseWriter, r *http.Request) {
	var req trialGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Account.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account.account_id is required")
		return
	}

	out, err := s.grantor.GrantOrClaimTrial(r.Context(), req.Account, req.Signup)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Refusals are part of the contract, not HTTP failures.
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrialStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.grantor.GetTrialStatus(chi.URLParam(r, "accountID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeStoreError maps domain sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
