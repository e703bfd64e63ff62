package postgres

import (
	"errors"
	"fmt"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Errors the gateway reports besides the domain sentinels
var (
	ErrReferenceViolation = errors.New("referenced row does not exist")
	ErrInvalidValue       = errors.New("value rejected by constraint")
	ErrRetryable          = errors.New("transient database error")
	ErrUnavailable        = errors.New("database unavailable")
	ErrUnknownKind        = errors.New("unknown kind")
	ErrUnknownColumn      = errors.New("unknown column")
)

// mapPostgresError translates driver errors into errors callers can test with
// errors.Is. The original error stays in the chain.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s: %w", ErrReferenceViolation, pgErr.ConstraintName, err)
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.InvalidTextRepresentation:
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	case pgerrcode.ConnectionException, pgerrcode.ConnectionDoesNotExist, pgerrcode.ConnectionFailure,
		pgerrcode.AdminShutdown, pgerrcode.CrashShutdown, pgerrcode.CannotConnectNow,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)
	default:
		return err
	}
}
