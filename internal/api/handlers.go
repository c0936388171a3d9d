package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"peer-validation/internal/consensus"
	"peer-validation/internal/models"
)

const maxBodyBytes = 1 << 20

// apiHandlerFunc returns the response status and payload, or an error.
type apiHandlerFunc func(r *http.Request) (int, interface{}, error)

type Handler struct {
	svc    Service
	logger zerolog.Logger
	now    func() time.Time
}

func NewHandler(svc Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) wrap(fn apiHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorLogger := h.logger.With().Str("request_url", r.URL.String()).Logger()
		status, payload, err := fn(r)
		if err != nil {
			se := toStatusError(err)
			if se.Status() >= http.StatusInternalServerError {
				errorLogger.Error().Err(err).Msg("request failed")
			}
			h.errorResponse(w, se.Status(), se.UserMessage(), errorLogger)
			return
		}
		h.jsonResponse(w, status, payload, errorLogger)
	})
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, payload interface{}, errorLogger zerolog.Logger) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		errorLogger.Error().Err(err).Msg("failed to encode response")
		h.errorResponse(w, http.StatusInternalServerError, "error generating response", errorLogger)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if _, err := w.Write(encoded); err != nil {
		errorLogger.Error().Err(err).Msg("failed to write response")
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, msg string, errorLogger zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	encoded, err := json.Marshal(errorBody{Code: status, Message: msg})
	if err != nil {
		errorLogger.Error().Str("response_message", msg).Msg("failed to json encode error message")
		return
	}
	if _, err := w.Write(encoded); err != nil {
		errorLogger.Error().Err(err).Msg("failed to send error response")
	}
}

func decode(r *http.Request, into interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

func submissionID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest(fmt.Errorf("invalid submission id %q", raw))
	}
	return id, nil
}

// period reads the period query parameter, defaulting to the current month.
func (h *Handler) period(r *http.Request) string {
	if p := strings.TrimSpace(r.URL.Query().Get("period")); p != "" {
		return p
	}
	return models.PeriodOf(h.now()).Key()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

type createSubmissionRequest struct {
	Kind    string `json:"kind"`
	Subtype string `json:"subtype"`
	OwnerID string `json:"owner_id"`
}

func (h *Handler) CreateSubmission(r *http.Request) (int, interface{}, error) {
	var req createSubmissionRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	kind, err := models.ParseKind(req.Kind, req.Subtype)
	if err != nil {
		return 0, nil, err
	}
	sub, err := h.svc.CreateSubmission(r.Context(), kind, req.OwnerID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, sub, nil
}

func (h *Handler) GetSubmission(r *http.Request) (int, interface{}, error) {
	id, err := submissionID(r)
	if err != nil {
		return 0, nil, err
	}
	detail, err := h.svc.GetSubmission(r.Context(), id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, detail, nil
}

type voteRequest struct {
	ValidatorID string  `json:"validator_id"`
	Approved    *bool   `json:"approved"`
	Comment     *string `json:"comment"`
}

type voteResponse struct {
	Submission models.Submission `json:"submission"`
	Vote       models.Vote       `json:"vote"`
	Approvals  int               `json:"approvals"`
	Rejections int               `json:"rejections"`
	Finalized  bool              `json:"finalized"`
	Replayed   bool              `json:"replayed"`
}

func (h *Handler) SubmitVote(r *http.Request) (int, interface{}, error) {
	id, err := submissionID(r)
	if err != nil {
		return 0, nil, err
	}
	var req voteRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Approved == nil {
		return 0, nil, badRequest(errors.New("approved is required"))
	}
	res, err := h.svc.SubmitVote(r.Context(), consensus.VoteRequest{
		SubmissionID: id,
		ValidatorID:  strings.TrimSpace(req.ValidatorID),
		Approved:     *req.Approved,
		Comment:      req.Comment,
	})
	if err != nil {
		return 0, nil, err
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return status, voteResponse{
		Submission: res.Submission,
		Vote:       res.Vote,
		Approvals:  res.Tally.Approved,
		Rejections: res.Tally.Rejected,
		Finalized:  res.Finalized,
		Replayed:   res.Replayed,
	}, nil
}

func (h *Handler) PendingValidations(r *http.Request) (int, interface{}, error) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, nil, badRequest(fmt.Errorf("invalid limit %q", raw))
		}
		limit = n
	}
	subs, err := h.svc.GetPendingValidationsForUser(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		return 0, nil, err
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	return http.StatusOK, subs, nil
}

type validatorRequest struct {
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	Active      *bool  `json:"active"`
}

func (h *Handler) RegisterValidator(r *http.Request) (int, interface{}, error) {
	var req validatorRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	v := models.Validator{
		ID:          mux.Vars(r)["id"],
		DisplayName: req.DisplayName,
		Color:       req.Color,
		Active:      req.Active == nil || *req.Active,
	}
	saved, err := h.svc.RegisterValidator(r.Context(), v)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, saved, nil
}

func (h *Handler) DeactivateValidator(r *http.Request) (int, interface{}, error) {
	if err := h.svc.DeactivateValidator(r.Context(), mux.Vars(r)["id"]); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

func (h *Handler) ValidatorStats(r *http.Request) (int, interface{}, error) {
	st, err := h.svc.GetValidatorStats(r.Context(), mux.Vars(r)["id"], h.period(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, st, nil
}

func (h *Handler) MyValidators(r *http.Request) (int, interface{}, error) {
	vs, err := h.svc.GetMyValidators(r.Context(), mux.Vars(r)["id"], h.period(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, vs, nil
}

func (h *Handler) MyValidatees(r *http.Request) (int, interface{}, error) {
	vs, err := h.svc.GetMyValidatees(r.Context(), mux.Vars(r)["id"], h.period(r))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, vs, nil
}

func (h *Handler) RotationOrder(r *http.Request) (int, interface{}, error) {
	ring, err := h.svc.GetRotationOrder(r.Context(), mux.Vars(r)["period"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, ring, nil
}

type buildRotationRequest struct {
	Cohort []string `json:"cohort"`
}

// BuildRotation publishes a ring. An empty body or cohort uses the active
// validators.
func (h *Handler) BuildRotation(r *http.Request) (int, interface{}, error) {
	var req buildRotationRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			return 0, nil, err
		}
	}
	ring, err := h.svc.BuildRotation(r.Context(), mux.Vars(r)["period"], req.Cohort)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, ring, nil
}

func (h *Handler) ScanPeriod(r *http.Request) (int, interface{}, error) {
	stats, err := h.svc.ScanPeriod(r.Context(), mux.Vars(r)["period"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, stats, nil
}
