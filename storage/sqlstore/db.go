package sqlstore

import (
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres at dsn using the pgx/v5 stdlib driver, wrapped
// in sqlx for struct-friendly scanning helpers. Grounded on the
// sqlx.NewDb(mockDB, "sqlmock")-shaped wiring exercised in the
// jordigilh-kubernaut example's datastorage repository tests, with "pgx"
// (not "sqlmock") as the real driver name.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Connect("pgx", dsn)
}
