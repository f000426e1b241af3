package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medilink/medilink/internal/platform/apperr"
)

// PostgreSQL SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeQueryCanceled       = "57014"
)

// Classify converts a pgx error into an apperr kind. op names the failing
// repository call and entity is used in client-facing messages
// ("calendar not found"). Errors that are already classified pass through.
func Classify(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Msg: entity + " not found", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &apperr.Error{Kind: apperr.KindTimeout, Op: op, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return &apperr.Error{Kind: apperr.KindConflict, Op: op, Msg: entity + " already exists", Err: err}
		case codeForeignKeyViolation:
			return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Msg: "referenced " + entity + " not found", Err: err}
		case codeCheckViolation:
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: "invalid " + entity, Err: err}
		case codeQueryCanceled:
			return &apperr.Error{Kind: apperr.KindTimeout, Op: op, Err: err}
		}
		// Class 08: connection exceptions.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if pgconn.Timeout(err) {
		return &apperr.Error{Kind: apperr.KindTimeout, Op: op, Err: err}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &apperr.Error{Kind: apperr.KindTimeout, Op: op, Err: err}
		}
		return &apperr.Error{Kind: apperr.KindTransport, Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
