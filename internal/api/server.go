// Package api serves the validation engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"peer-validation/internal/consensus"
	"peer-validation/internal/models"
	"peer-validation/internal/validation"
)

// Service is the part of the validation service exposed over HTTP.
type Service interface {
	CreateSubmission(ctx context.Context, kind models.Kind, ownerID string) (models.Submission, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (validation.SubmissionDetail, error)
	GetPendingValidationsForUser(ctx context.Context, validatorID string, limit int) ([]models.Submission, error)
	SubmitVote(ctx context.Context, req consensus.VoteRequest) (consensus.Result, error)
	GetRotationOrder(ctx context.Context, period string) ([]models.RingAssignment, error)
	BuildRotation(ctx context.Context, period string, cohort []string) ([]models.RingAssignment, error)
	GetValidatorStats(ctx context.Context, validatorID, period string) (models.ValidatorPeriodStats, error)
	GetMyValidators(ctx context.Context, validatorID, period string) ([]models.Validator, error)
	GetMyValidatees(ctx context.Context, validatorID, period string) ([]models.Validator, error)
	RegisterValidator(ctx context.Context, v models.Validator) (models.Validator, error)
	DeactivateValidator(ctx context.Context, id string) error
	ScanPeriod(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error)
}

var _ Service = (*validation.Service)(nil)

type route struct {
	Name    string
	Method  string
	Pattern string
	Handler apiHandlerFunc
}

func routes(h *Handler) []route {
	return []route{
		{"CreateSubmission", http.MethodPost, "/submissions", h.CreateSubmission},
		{"GetSubmission", http.MethodGet, "/submissions/{id}", h.GetSubmission},
		{"SubmitVote", http.MethodPost, "/submissions/{id}/votes", h.SubmitVote},
		{"PendingValidations", http.MethodGet, "/validators/{id}/pending", h.PendingValidations},
		{"RegisterValidator", http.MethodPut, "/validators/{id}", h.RegisterValidator},
		{"DeactivateValidator", http.MethodDelete, "/validators/{id}", h.DeactivateValidator},
		{"ValidatorStats", http.MethodGet, "/validators/{id}/stats", h.ValidatorStats},
		{"MyValidators", http.MethodGet, "/validators/{id}/validators", h.MyValidators},
		{"MyValidatees", http.MethodGet, "/validators/{id}/validatees", h.MyValidatees},
		{"RotationOrder", http.MethodGet, "/rotations/{period}", h.RotationOrder},
		{"BuildRotation", http.MethodPost, "/rotations/{period}", h.BuildRotation},
		{"ScanPeriod", http.MethodPost, "/periods/{period}/scan", h.ScanPeriod},
	}
}

// NewRouter builds the route tree: the versioned API under /v1, plus /health
// and /metrics served from gatherer.
func NewRouter(svc Service, gatherer prometheus.Gatherer, logger zerolog.Logger) *mux.Router {
	logger = logger.With().Str("component", "api").Logger()
	h := NewHandler(svc, logger)

	router := mux.NewRouter().StrictSlash(true)
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(loggingMiddleware(logger))
	for _, r := range routes(h) {
		v1.Methods(r.Method).Path(r.Pattern).Name(r.Name).Handler(h.wrap(r.Handler))
	}

	router.Methods(http.MethodGet).Path("/health").Name("Health").HandlerFunc(h.Health)
	if gatherer != nil {
		router.Methods(http.MethodGet).Path("/metrics").Name("Metrics").
			Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

// NewServer returns an HTTP server for the API listening on addr.
func NewServer(svc Service, gatherer prometheus.Gatherer, addr string, logger zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewRouter(svc, gatherer, logger),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
	}
}
