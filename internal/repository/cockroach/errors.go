package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"callsession-backend/internal/domain"
)

// SQLSTATE 23505
const uniqueViolationCode = "23505"

// DBTX is the part of *pgxpool.Pool the repositories use
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueryRecorder receives per-query timings. *metrics.Metrics satisfies it.
type QueryRecorder interface {
	RecordDBQuery(operation, table string, duration time.Duration, err error)
}

// translateError maps driver errors onto domain sentinels
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func observe(rec QueryRecorder, operation, table string, start time.Time, err error) {
	if rec == nil {
		return
	}
	// A miss or a lost race is an answer, not a query failure.
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrDuplicate) {
		err = nil
	}
	rec.RecordDBQuery(operation, table, time.Since(start), err)
}
