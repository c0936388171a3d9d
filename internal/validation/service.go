// Package validation is the API surface of the peer-validation engine. It
// combines the submission store, the consensus engine, the rotation ring and
// the performance tracker behind one service consumed by the REST layer, the
// periodic jobs and the CLI.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"peer-validation/internal/assignment"
	"peer-validation/internal/config"
	"peer-validation/internal/consensus"
	"peer-validation/internal/directory"
	"peer-validation/internal/metrics"
	"peer-validation/internal/models"
	"peer-validation/internal/performance"
	"peer-validation/internal/ring"
	"peer-validation/internal/store"
)

const (
	DefaultPendingLimit = 20
	MaxPendingLimit     = 200
)

// Settings tune the service. Zero values fall back to defaults.
type Settings struct {
	Rules            performance.Rules
	Quorum           int
	VoteTxTimeout    time.Duration
	QueryTimeout     time.Duration
	RetryBase        time.Duration
	RetryMaxAttempts int
	DirectoryTTL     time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Rules:            performance.DefaultRules(),
		Quorum:           consensus.DefaultQuorum,
		VoteTxTimeout:    consensus.DefaultTxTimeout,
		QueryTimeout:     config.DefaultQueryTimeout,
		RetryBase:        config.DefaultReadRetryBase,
		RetryMaxAttempts: config.DefaultReadRetryMaxAttempt,
		DirectoryTTL:     directory.DefaultTTL,
	}
}

// SettingsFrom maps the environment configuration onto service settings.
func SettingsFrom(cfg config.Config) Settings {
	s := DefaultSettings()
	s.Rules = performance.Rules{
		FanOut:         cfg.Validation.FanOut,
		SLA:            cfg.Validation.SLA,
		BlockThreshold: cfg.Validation.BlockThreshold,
	}
	s.Quorum = cfg.Validation.Quorum
	s.VoteTxTimeout = cfg.VoteTxTimeout
	s.QueryTimeout = cfg.QueryTimeout
	s.RetryBase = cfg.ReadRetryBase
	s.RetryMaxAttempts = cfg.ReadRetryMaxAttempt
	return s
}

// Service implements the validation API.
type Service struct {
	store     store.Store
	engine    *consensus.Engine
	rotation  *ring.Rotation
	tracker   *performance.Tracker
	directory *directory.Resolver
	settings  Settings
	clock     func() time.Time
	log       zerolog.Logger
}

// New wires the engine components over st. listeners are notified of every
// finalized submission.
func New(st store.Store, settings Settings, log zerolog.Logger, m metrics.Metrics, listeners ...consensus.FinalizeListener) *Service {
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	def := DefaultSettings()
	if settings.QueryTimeout <= 0 {
		settings.QueryTimeout = def.QueryTimeout
	}
	if settings.RetryBase <= 0 {
		settings.RetryBase = def.RetryBase
	}
	if settings.RetryMaxAttempts < 1 {
		settings.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if settings.Rules.FanOut < 1 {
		settings.Rules = def.Rules
	}

	opts := []consensus.Option{
		consensus.WithQuorum(settings.Quorum),
		consensus.WithTxTimeout(settings.VoteTxTimeout),
		consensus.WithMetrics(m),
		consensus.WithLogger(log),
	}
	for _, l := range listeners {
		opts = append(opts, consensus.WithListener(l))
	}

	return &Service{
		store:     st,
		engine:    consensus.NewEngine(st, opts...),
		rotation:  ring.NewRotation(st, log),
		tracker:   performance.NewTracker(st, settings.Rules, log, m),
		directory: directory.NewResolver(st, settings.DirectoryTTL, log),
		settings:  settings,
		clock:     func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "validation").Logger(),
	}
}

// SetClock replaces the time source for submissions, votes and SLA checks.
func (s *Service) SetClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.clock = clock
	consensus.WithClock(clock)(s.engine)
	s.tracker.SetClock(clock)
}

func (s *Service) Settings() Settings { return s.settings }

// read runs fn under the query timeout and retries transient failures with
// exponential backoff.
func (s *Service) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.QueryTimeout)
	defer cancel()

	backoff := retry.NewExponential(s.settings.RetryBase)
	backoff = retry.WithMaxRetries(uint64(s.settings.RetryMaxAttempts-1), backoff)
	backoff = retry.WithCappedDuration(s.settings.QueryTimeout/2, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, models.ErrTransient) {
			s.log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient read failure")
			return retry.RetryableError(err)
		}
		return err
	})
}

// CreateSubmission registers a new pending submission owned by ownerID.
func (s *Service) CreateSubmission(ctx context.Context, kind models.Kind, ownerID string) (models.Submission, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return models.Submission{}, fmt.Errorf("owner id is required: %w", models.ErrInvalidArgument)
	}
	if err := models.ValidateKind(kind); err != nil {
		return models.Submission{}, err
	}
	kind, err := models.ParseKind(string(kind.Family()), kind.Subtype())
	if err != nil {
		return models.Submission{}, err
	}
	now := s.clock()
	sub := models.Submission{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sub.SetKind(kind)
	if err := s.store.CreateSubmission(ctx, &sub); err != nil {
		return models.Submission{}, err
	}
	s.log.Info().Str("submission", sub.ID.String()).Str("kind", kind.String()).Str("owner", ownerID).Msg("submission created")
	return sub, nil
}

// SubmissionDetail is a submission together with the votes cast on it.
type SubmissionDetail struct {
	Submission models.Submission `json:"submission"`
	Votes      []models.Vote     `json:"votes"`
}

func (s *Service) GetSubmission(ctx context.Context, id uuid.UUID) (SubmissionDetail, error) {
	var out SubmissionDetail
	err := s.read(ctx, "get_submission", func(ctx context.Context) error {
		sub, err := s.store.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		votes, err := s.store.VotesFor(ctx, id)
		if err != nil {
			return err
		}
		out = SubmissionDetail{Submission: sub, Votes: votes}
		return nil
	})
	return out, err
}

// GetPendingValidationsForUser lists pending submissions validatorID may
// still vote on, newest first. limit 0 selects DefaultPendingLimit; larger
// values are capped at MaxPendingLimit.
func (s *Service) GetPendingValidationsForUser(ctx context.Context, validatorID string, limit int) ([]models.Submission, error) {
	if validatorID == "" {
		return nil, fmt.Errorf("validator id is required: %w", models.ErrInvalidArgument)
	}
	switch {
	case limit < 0:
		return nil, fmt.Errorf("limit %d: %w", limit, models.ErrInvalidArgument)
	case limit == 0:
		limit = DefaultPendingLimit
	case limit > MaxPendingLimit:
		limit = MaxPendingLimit
	}
	var out []models.Submission
	err := s.read(ctx, "pending", func(ctx context.Context) error {
		var err error
		out, err = s.store.FindPendingFor(ctx, validatorID, validatorID, limit)
		return err
	})
	return out, err
}

// SubmitVote records a vote. It is never retried here; a models.ErrTransient
// result means the caller does not know whether the vote landed and may
// resend it, which is safe for an identical vote.
func (s *Service) SubmitVote(ctx context.Context, req consensus.VoteRequest) (consensus.Result, error) {
	return s.engine.SubmitVote(ctx, req)
}

func (s *Service) GetRotationOrder(ctx context.Context, period string) ([]models.RingAssignment, error) {
	var out []models.RingAssignment
	err := s.read(ctx, "rotation", func(ctx context.Context) error {
		var err error
		out, err = s.rotation.Ring(ctx, period)
		return err
	})
	return out, err
}

// BuildRotation publishes the ring of period for an explicit cohort. An empty
// cohort selects the currently active validators.
func (s *Service) BuildRotation(ctx context.Context, period string, cohort []string) ([]models.RingAssignment, error) {
	if len(cohort) == 0 {
		ring, _, err := s.rotation.Ensure(ctx, period)
		return ring, err
	}
	return s.rotation.Build(ctx, period, cohort)
}

// EnsureRotation returns the ring of period, building it from the active
// validators if needed. The bool reports whether it was built by this call.
func (s *Service) EnsureRotation(ctx context.Context, period string) ([]models.RingAssignment, bool, error) {
	return s.rotation.Ensure(ctx, period)
}

func (s *Service) graph(ctx context.Context, period string) (*assignment.Graph, error) {
	ring, err := s.GetRotationOrder(ctx, period)
	if err != nil {
		return nil, err
	}
	return assignment.NewGraph(ring, s.settings.Rules.FanOut)
}

// GetMyValidators resolves who reviews validatorID in period, nearest first.
func (s *Service) GetMyValidators(ctx context.Context, validatorID, period string) ([]models.Validator, error) {
	g, err := s.graph(ctx, period)
	if err != nil {
		return nil, err
	}
	ids, err := g.ValidatorsOf(validatorID)
	if err != nil {
		return nil, err
	}
	return s.directory.ResolveMany(ctx, ids), nil
}

// GetMyValidatees resolves whom validatorID reviews in period, nearest first.
func (s *Service) GetMyValidatees(ctx context.Context, validatorID, period string) ([]models.Validator, error) {
	g, err := s.graph(ctx, period)
	if err != nil {
		return nil, err
	}
	ids, err := g.ValidateesOf(validatorID)
	if err != nil {
		return nil, err
	}
	return s.directory.ResolveMany(ctx, ids), nil
}

// GetValidatorStats returns the stored stats of the last scan, or a live
// computation when period has not been scanned yet.
func (s *Service) GetValidatorStats(ctx context.Context, validatorID, period string) (models.ValidatorPeriodStats, error) {
	if _, err := models.ParsePeriod(period); err != nil {
		return models.ValidatorPeriodStats{}, err
	}
	var out models.ValidatorPeriodStats
	err := s.read(ctx, "stats", func(ctx context.Context) error {
		var err error
		out, err = s.store.Stats(ctx, validatorID, period)
		return err
	})
	if err == nil || !errors.Is(err, models.ErrNotFound) {
		return out, err
	}

	live, err := s.liveStats(ctx, period)
	if err != nil {
		return models.ValidatorPeriodStats{}, err
	}
	for _, st := range live {
		if st.ValidatorID == validatorID {
			return st, nil
		}
	}
	return models.ValidatorPeriodStats{}, fmt.Errorf("validator %s in %s: %w", validatorID, period, models.ErrNotFound)
}

// PeriodStats returns every member's stats for period, stored if scanned and
// live otherwise, in ring order.
func (s *Service) PeriodStats(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	var stored []models.ValidatorPeriodStats
	err := s.read(ctx, "period_stats", func(ctx context.Context) error {
		var err error
		stored, err = s.store.PeriodStats(ctx, period)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return s.liveStats(ctx, period)
	}
	g, err := s.graph(ctx, period)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ValidatorPeriodStats, len(stored))
	for _, st := range stored {
		byID[st.ValidatorID] = st
	}
	out := make([]models.ValidatorPeriodStats, 0, g.Size())
	for _, id := range g.Members() {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Service) liveStats(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	var out []models.ValidatorPeriodStats
	err := s.read(ctx, "live_stats", func(ctx context.Context) error {
		var err error
		out, err = s.tracker.Compute(ctx, period)
		return err
	})
	return out, err
}

// ScanPeriod recomputes and persists the stats of period.
func (s *Service) ScanPeriod(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	return s.tracker.ScanPeriod(ctx, period)
}

// RegisterValidator creates or updates a validator profile.
func (s *Service) RegisterValidator(ctx context.Context, v models.Validator) (models.Validator, error) {
	v.ID = strings.TrimSpace(v.ID)
	if v.ID == "" {
		return models.Validator{}, fmt.Errorf("validator id is required: %w", models.ErrInvalidArgument)
	}
	if err := s.store.UpsertValidator(ctx, v); err != nil {
		return models.Validator{}, err
	}
	s.directory.Invalidate(v.ID)
	s.log.Info().Str("validator", v.ID).Bool("active", v.Active).Msg("validator registered")
	return v, nil
}

// DeactivateValidator removes id from future cohorts. Published rings keep it.
func (s *Service) DeactivateValidator(ctx context.Context, id string) error {
	if err := s.store.SetValidatorActive(ctx, id, false); err != nil {
		return err
	}
	s.directory.Invalidate(id)
	s.log.Info().Str("validator", id).Msg("validator deactivated")
	return nil
}

// BoardRow is one ring member with its duties and stats.
type BoardRow struct {
	Position   int
	Validator  models.Validator
	Validatees []models.Validator
	Stats      models.ValidatorPeriodStats
}

// Board summarizes a period's ring for the monitor, in ring order.
func (s *Service) Board(ctx context.Context, period string) ([]BoardRow, error) {
	g, err := s.graph(ctx, period)
	if err != nil {
		return nil, err
	}
	stats, err := s.PeriodStats(ctx, period)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ValidatorPeriodStats, len(stats))
	for _, st := range stats {
		byID[st.ValidatorID] = st
	}
	members := g.Members()
	profiles := s.directory.ResolveMany(ctx, members)
	rows := make([]BoardRow, len(members))
	for i, id := range members {
		pos, _ := g.Position(id)
		validatees, _ := g.ValidateesOf(id)
		st, ok := byID[id]
		if !ok {
			st = models.ValidatorPeriodStats{ValidatorID: id, Period: period}
		}
		rows[i] = BoardRow{
			Position:   pos,
			Validator:  profiles[i],
			Validatees: s.directory.ResolveMany(ctx, validatees),
			Stats:      st,
		}
	}
	return rows, nil
}
