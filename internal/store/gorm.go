package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"peer-validation/internal/models"
)

const insertBatchSize = 500

// Gorm is the Postgres-backed Store.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open gorm connection. Tables must already be migrated.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (g *Gorm) CreateSubmission(ctx context.Context, s *models.Submission) error {
	return classify("create submission", g.db.WithContext(ctx).Create(s).Error)
}

func (g *Gorm) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	var s models.Submission
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		return models.Submission{}, classify(fmt.Sprintf("submission %s", id), err)
	}
	return s, nil
}

func (g *Gorm) FindPendingFor(ctx context.Context, validatorID, excludeOwnerID string, limit int) ([]models.Submission, error) {
	q := g.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("owner_id NOT IN ?", []string{validatorID, excludeOwnerID}).
		Where("NOT EXISTS (SELECT 1 FROM votes v WHERE v.submission_id = submissions.id AND v.validator_id = ?)", validatorID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Submission
	if err := q.Find(&out).Error; err != nil {
		return nil, classify("find pending", err)
	}
	return out, nil
}

func (g *Gorm) SubmissionsCreatedBetween(ctx context.Context, from, to time.Time, ownerIDs []string) ([]models.Submission, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	var out []models.Submission
	err := g.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Where("owner_id IN ?", ownerIDs).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, classify("submissions in range", err)
	}
	return out, nil
}

func (g *Gorm) VotesFor(ctx context.Context, submissionID uuid.UUID) ([]models.Vote, error) {
	var out []models.Vote
	err := g.db.WithContext(ctx).Where("submission_id = ?", submissionID).Order("cast_at ASC").Find(&out).Error
	if err != nil {
		return nil, classify("votes", err)
	}
	return out, nil
}

func (g *Gorm) VotesForSubmissions(ctx context.Context, ids []uuid.UUID) ([]models.Vote, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Vote
	err := g.db.WithContext(ctx).Where("submission_id IN ?", ids).Order("cast_at ASC").Find(&out).Error
	if err != nil {
		return nil, classify("votes for submissions", err)
	}
	return out, nil
}

func (g *Gorm) Ring(ctx context.Context, period string) ([]models.RingAssignment, error) {
	var out []models.RingAssignment
	err := g.db.WithContext(ctx).Where("period = ?", period).Order("position ASC").Find(&out).Error
	if err != nil {
		return nil, classify("ring", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ring %s: %w", period, models.ErrNotFound)
	}
	return out, nil
}

func (g *Gorm) SaveRing(ctx context.Context, period string, ring []models.RingAssignment) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.RingAssignment{}).Where("period = ?", period).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrConflict
		}
		return tx.CreateInBatches(ring, insertBatchSize).Error
	})
	if isUniqueViolation(err) {
		// a concurrent builder committed first
		return ErrConflict
	}
	return classify("save ring", err)
}

func (g *Gorm) ReplaceStats(ctx context.Context, period string, stats []models.ValidatorPeriodStats) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("period = ?", period).Delete(&models.ValidatorPeriodStats{}).Error; err != nil {
			return err
		}
		if len(stats) == 0 {
			return nil
		}
		return tx.CreateInBatches(stats, insertBatchSize).Error
	})
	return classify("replace stats", err)
}

func (g *Gorm) Stats(ctx context.Context, validatorID, period string) (models.ValidatorPeriodStats, error) {
	var st models.ValidatorPeriodStats
	err := g.db.WithContext(ctx).Where("validator_id = ? AND period = ?", validatorID, period).First(&st).Error
	if err != nil {
		return models.ValidatorPeriodStats{}, classify(fmt.Sprintf("stats %s/%s", validatorID, period), err)
	}
	return st, nil
}

func (g *Gorm) PeriodStats(ctx context.Context, period string) ([]models.ValidatorPeriodStats, error) {
	var out []models.ValidatorPeriodStats
	err := g.db.WithContext(ctx).Where("period = ?", period).Order("validator_id ASC").Find(&out).Error
	if err != nil {
		return nil, classify("period stats", err)
	}
	return out, nil
}

func (g *Gorm) UpsertValidator(ctx context.Context, v models.Validator) error {
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "color", "active", "updated_at"}),
	}).Create(&v).Error
	return classify("upsert validator", err)
}

func (g *Gorm) SetValidatorActive(ctx context.Context, id string, active bool) error {
	res := g.db.WithContext(ctx).Model(&models.Validator{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return classify("set validator active", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("validator %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (g *Gorm) Validators(ctx context.Context, ids []string) ([]models.Validator, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Validator
	if err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, classify("validators", err)
	}
	return out, nil
}

func (g *Gorm) ActiveValidators(ctx context.Context) ([]models.Validator, error) {
	var out []models.Validator
	if err := g.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&out).Error; err != nil {
		return nil, classify("active validators", err)
	}
	return out, nil
}

// InTx runs fn inside a database transaction. The submission row lock taken
// by LockSubmission is what serializes concurrent voters.
func (g *Gorm) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	return classify("vote transaction", err)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockSubmission(id uuid.UUID) (models.Submission, error) {
	var s models.Submission
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&s).Error
	if err != nil {
		return models.Submission{}, classify(fmt.Sprintf("submission %s", id), err)
	}
	return s, nil
}

func (t *gormTx) FindVote(submissionID uuid.UUID, validatorID string) (models.Vote, bool, error) {
	var v models.Vote
	err := t.db.Where("submission_id = ? AND validator_id = ?", submissionID, validatorID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Vote{}, false, nil
	}
	if err != nil {
		return models.Vote{}, false, classify("find vote", err)
	}
	return v, true, nil
}

func (t *gormTx) InsertVote(v *models.Vote) error {
	err := t.db.Create(v).Error
	if isUniqueViolation(err) {
		return ErrVoteExists
	}
	return classify("insert vote", err)
}

type tallyRow struct {
	Approved bool
	N        int
}

func (t *gormTx) Tally(submissionID uuid.UUID) (models.Tally, error) {
	var rows []tallyRow
	err := t.db.Model(&models.Vote{}).
		Select("approved, COUNT(*) AS n").
		Where("submission_id = ?", submissionID).
		Group("approved").
		Scan(&rows).Error
	if err != nil {
		return models.Tally{}, classify("tally", err)
	}
	var tally models.Tally
	for _, r := range rows {
		if r.Approved {
			tally.Approved = r.N
		} else {
			tally.Rejected = r.N
		}
	}
	return tally, nil
}

func (t *gormTx) Finalize(id uuid.UUID, status models.Status, at time.Time) error {
	res := t.db.Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{"status": status, "finalized_at": at})
	if res.Error != nil {
		return classify("finalize", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("submission %s: %w", id, models.ErrAlreadyFinalized)
	}
	return nil
}
