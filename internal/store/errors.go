package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"peer-validation/internal/models"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	pgUniqueViolation       = "23505"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgAdminShutdown         = "57P01"
	pgConnectionClassPrefix = "08"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown:
			return true
		}
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == pgConnectionClassPrefix
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// classify maps driver errors onto the models taxonomy. Errors already in the
// taxonomy pass through untouched.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case models.IsBusinessError(err), errors.Is(err, models.ErrTransient),
		errors.Is(err, ErrConflict), errors.Is(err, ErrVoteExists):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case isTransient(err):
		return fmt.Errorf("%s: %w: %v", op, models.ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
