package sqlstore

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentflow/acpctl/domain"
)

// pgUniqueViolation is the Postgres error code for a unique-constraint
// failure (23505).
const pgUniqueViolation = "23505"

// translate maps a raw database/sql or pgx error to the domain.Kind
// taxonomy, mirroring mongostore's translate for the relational backend.
func translate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(format, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.Wrap(domain.KindDuplicate, err, format, args...)
	}
	return domain.ServiceError(err, format, args...)
}
