package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfeidau/leaguesync/internal/backend"
)

// mapPostgresError maps PostgreSQL errors onto the backend sentinels, keeping
// the SQLSTATE as the QueryError code.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
			return &backend.QueryError{Message: err.Error(), Err: backend.ErrUnavailable}
		}
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}

	qe := &backend.QueryError{Code: pgErr.Code, Message: pgErr.Message}

	switch pgErr.Code {
	case pgerrcode.UndefinedTable:
		qe.Err = backend.ErrUnknownTable

	case pgerrcode.InsufficientPrivilege,
		pgerrcode.InvalidAuthorizationSpecification,
		pgerrcode.InvalidPassword:
		qe.Err = backend.ErrUnauthorized

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection,
		pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown,
		pgerrcode.InsufficientResources,
		pgerrcode.DiskFull,
		pgerrcode.OutOfMemory,
		pgerrcode.TooManyConnections,
		pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected:
		qe.Err = backend.ErrUnavailable

	case pgerrcode.QueryCanceled:
		qe.Message = "query canceled: " + pgErr.Message
		qe.Err = backend.ErrUnavailable

	default:
		if pgErr.Detail != "" {
			qe.Message = fmt.Sprintf("%s (detail: %s)", pgErr.Message, pgErr.Detail)
		}
	}

	return qe
}
