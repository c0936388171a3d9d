package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"peer-validation/internal/models"
)

// Memory is an in-process Store. A single-slot semaphore makes every
// transaction serializable and lets a waiting caller give up when its context
// ends; writes staged inside InTx are applied only on success.
type Memory struct {
	sem         chan struct{}
	submissions map[uuid.UUID]models.Submission
	votes       map[uuid.UUID][]models.Vote
	rings       map[string][]models.RingAssignment
	stats       map[string]map[string]models.ValidatorPeriodStats // period -> validator -> stats
	validators  map[string]models.Validator
	nextID      uint
}

func NewMemory() *Memory {
	return &Memory{
		sem:         make(chan struct{}, 1),
		submissions: make(map[uuid.UUID]models.Submission),
		votes:       make(map[uuid.UUID][]models.Vote),
		rings:       make(map[string][]models.RingAssignment),
		stats:       make(map[string]map[string]models.ValidatorPeriodStats),
		validators:  make(map[string]models.Validator),
	}
}

func (m *Memory) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) unlock() { <-m.sem }

func (m *Memory) CreateSubmission(ctx context.Context, s *models.Submission) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	if _, exists := m.submissions[s.ID]; exists {
		return fmt.Errorf("submission %s: %w", s.ID, ErrConflict)
	}
	m.submissions[s.ID] = *s
	return nil
}

func (m *Memory) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	if err := m.lock(ctx); err != nil {
		return models.Submission{}, err
	}
	defer m.unlock()
	s, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, fmt.Errorf("submission %s: %w", id, models.ErrNotFound)
	}
	return s, nil
}

func (m *Memory) FindPendingFor(ctx context.Context, validatorID, excludeOwnerID string, limit int) ([]models.Submission, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	var out []models.Submission
	for _, s := range m.submissions {
		if s.Status != models.StatusPending || s.OwnerID == validatorID || s.OwnerID == excludeOwnerID {
			continue
		}
		if m.hasVoteLocked(s.ID, validatorID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) hasVoteLocked(submissionID uuid.UUID, validatorID string) bool {
	for _, v := range m.votes[submissionID] {
		if v.ValidatorID == validatorID {
			return true
		}
	}
	return false
}

func (m *Memory) SubmissionsCreatedBetween(ctx context.Context, from, to time.Time, ownerIDs []string) ([]models.Submission, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	owners := make(map[string]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = struct{}{}
	}
	var out []models.Submission
	for _, s := range m.submissions {
		if _, ok := owners[s.OwnerID]; !ok {
			continue
		}
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) VotesFor(ctx context.Context, submissionID uuid.UUID) ([]models.Vote, error) {
	return m.VotesForSubmissions(ctx, []uuid.UUID{submissionID})
}

func (m *Memory) VotesForSubmissions(ctx context.Context, ids []uuid.UUID) ([]models.Vote, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	var out []models.Vote
	for _, id := range ids {
		out = append(out, m.votes[id]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CastAt.Before(out[j].CastAt) })
	return out, nil
}

func (m *Memory) Ring(ctx context.Context, period string) ([]models.RingAssignment, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	ring, ok := m.rings[period]
	if !ok {
		return nil, fmt.Errorf("ring %s: %w", period, models.ErrNotFound)
	}
	out := make([]models.RingAssignment, len(ring))
	copy(out, ring)
	return out, nil
}

func (m *Memory) SaveRing(ctx context.Context, period string, ring []models.RingAssignment) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	if _, exists := m.rings[period]; exists {
		return ErrConflict
	}
	stored := make([]models.RingAssignment, len(ring))
	for i, ra := range ring {
		m.nextID++
		ra.ID = m.nextID
		stored[i] = ra
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })
	m.rings[period] = stored
	return nil
}

func (m *Memory) ReplaceStats(ctx context.Context, period string, stats []models.ValidatorPeriodStats) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	byValidator := make(map[string]models.ValidatorPeriodStats, len(stats))
	for _, st := range stats {
		byValidator[st.ValidatorID] = st
	}
	m.stats[period] = byValidator
	return nil
}

func (m *Memory) Stats(ctx context.Context, validatorID, period string) (models.ValidatorPeriodStats, error) {
	if err := m.lock(ctx); err != nil {
		return models.ValidatorPeriodStats{}, err
	}
	defer m.unlock()
	st, ok := m.stats[period][validatorID]
	if !ok {
		return models.ValidatorPeriodStats{}, fmt.Errorf("stats %s/%s: %w", validatorID, period, models.ErrNotFound)
	}
	return st, nil
}

func (m *Memory) PeriodStats(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	out := make([]models.ValidatorPeriodStats, 0, len(m.stats[period]))
	for _, st := range m.stats[period] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorID < out[j].ValidatorID })
	return out, nil
}

func (m *Memory) UpsertValidator(ctx context.Context, v models.Validator) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	now := time.Now().UTC()
	if prev, ok := m.validators[v.ID]; ok {
		v.CreatedAt = prev.CreatedAt
	} else {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	m.validators[v.ID] = v
	return nil
}

func (m *Memory) SetValidatorActive(ctx context.Context, id string, active bool) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	v, ok := m.validators[id]
	if !ok {
		return fmt.Errorf("validator %s: %w", id, models.ErrNotFound)
	}
	v.Active = active
	m.validators[id] = v
	return nil
}

func (m *Memory) Validators(ctx context.Context, ids []string) ([]models.Validator, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	var out []models.Validator
	for _, id := range ids {
		if v, ok := m.validators[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) ActiveValidators(ctx context.Context) ([]models.Validator, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()
	var out []models.Validator
	for _, v := range m.validators {
		if v.Active {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InTx holds the store lock for the whole of fn.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()
	tx := &memTx{m: m, finalized: make(map[uuid.UUID]models.Submission)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("vote transaction: %w: %v", models.ErrTransient, err)
	}
	tx.commit()
	return nil
}

type memTx struct {
	m         *Memory
	staged    []models.Vote
	finalized map[uuid.UUID]models.Submission
}

func (t *memTx) LockSubmission(id uuid.UUID) (models.Submission, error) {
	if s, ok := t.finalized[id]; ok {
		return s, nil
	}
	s, ok := t.m.submissions[id]
	if !ok {
		return models.Submission{}, fmt.Errorf("submission %s: %w", id, models.ErrNotFound)
	}
	return s, nil
}

func (t *memTx) votes(submissionID uuid.UUID) []models.Vote {
	out := append([]models.Vote(nil), t.m.votes[submissionID]...)
	for _, v := range t.staged {
		if v.SubmissionID == submissionID {
			out = append(out, v)
		}
	}
	return out
}

func (t *memTx) FindVote(submissionID uuid.UUID, validatorID string) (models.Vote, bool, error) {
	for _, v := range t.votes(submissionID) {
		if v.ValidatorID == validatorID {
			return v, true, nil
		}
	}
	return models.Vote{}, false, nil
}

func (t *memTx) InsertVote(v *models.Vote) error {
	if _, found, _ := t.FindVote(v.SubmissionID, v.ValidatorID); found {
		return ErrVoteExists
	}
	t.m.nextID++
	v.ID = t.m.nextID
	t.staged = append(t.staged, *v)
	return nil
}

func (t *memTx) Tally(submissionID uuid.UUID) (models.Tally, error) {
	var tally models.Tally
	for _, v := range t.votes(submissionID) {
		if v.Approved {
			tally.Approved++
		} else {
			tally.Rejected++
		}
	}
	return tally, nil
}

func (t *memTx) Finalize(id uuid.UUID, status models.Status, at time.Time) error {
	s, err := t.LockSubmission(id)
	if err != nil {
		return err
	}
	if s.Status != models.StatusPending {
		return fmt.Errorf("submission %s: %w", id, models.ErrAlreadyFinalized)
	}
	s.Status = status
	s.FinalizedAt = &at
	s.UpdatedAt = at
	t.finalized[id] = s
	return nil
}

func (t *memTx) commit() {
	for _, v := range t.staged {
		t.m.votes[v.SubmissionID] = append(t.m.votes[v.SubmissionID], v)
	}
	for id, s := range t.finalized {
		t.m.submissions[id] = s
	}
}
