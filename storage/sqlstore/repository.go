package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Mapper is the per-entity adapter a Repository needs: which table and
// columns it owns, how to turn an item into positional column values, and
// how to scan one result row back into an item. Content-bearing entities
// marshal their tagged union to JSONB in Values and unmarshal it back in
// Scan; this is the one piece per-entity code the generic Repository
// cannot infer on its own.
type Mapper[T storage.Entity] struct {
	Table   string
	Columns []string
	Values  func(item T) ([]any, error)
	Scan    func(row rowScanner) (T, error)
}

// Repository is the relational-store implementation of storage.Store,
// built on the query-construction style exercised by
// pkg/datastorage/repository/sql.Builder in the jordigilh-kubernaut
// example, executed through sqlx over the pgx/v5 stdlib driver.
type Repository[T storage.Entity] struct {
	db *sqlx.DB
	m  Mapper[T]
}

// New builds a Repository for table/columns described by m.
func New[T storage.Entity](db *sqlx.DB, m Mapper[T]) *Repository[T] {
	return &Repository[T]{db: db, m: m}
}

func (r *Repository[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	if item.GetID() == "" {
		item.SetID(uuid.NewString())
	}
	now := time.Now().UTC()
	if item.GetCreatedAt().IsZero() {
		item.SetCreatedAt(now)
	}
	item.SetUpdatedAt(now)

	values, err := r.m.Values(item)
	if err != nil {
		return zero, domain.ServiceError(err, "sqlstore: marshal %s failed", r.m.Table)
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		r.m.Table, strings.Join(r.m.Columns, ", "), strings.Join(placeholders, ", "), strings.Join(r.m.Columns, ", "))

	row := r.db.QueryRowContext(ctx, query, values...)
	result, err := r.m.Scan(row)
	if err != nil {
		return zero, translate(err, "sqlstore: create %s failed", r.m.Table)
	}
	return result, nil
}

func (r *Repository[T]) BatchCreate(ctx context.Context, items []T) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.ServiceError(err, "sqlstore: begin tx failed")
	}
	results := make([]T, 0, len(items))
	for _, item := range items {
		created, err := r.createInTx(ctx, tx, item)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		results = append(results, created)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.ServiceError(err, "sqlstore: commit tx failed")
	}
	return results, nil
}

func (r *Repository[T]) createInTx(ctx context.Context, tx *sqlx.Tx, item T) (T, error) {
	var zero T
	if item.GetID() == "" {
		item.SetID(uuid.NewString())
	}
	now := time.Now().UTC()
	if item.GetCreatedAt().IsZero() {
		item.SetCreatedAt(now)
	}
	item.SetUpdatedAt(now)

	values, err := r.m.Values(item)
	if err != nil {
		return zero, domain.ServiceError(err, "sqlstore: marshal %s failed", r.m.Table)
	}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		r.m.Table, strings.Join(r.m.Columns, ", "), strings.Join(placeholders, ", "), strings.Join(r.m.Columns, ", "))

	row := tx.QueryRowContext(ctx, query, values...)
	result, err := r.m.Scan(row)
	if err != nil {
		return zero, translate(err, "sqlstore: batch create %s failed", r.m.Table)
	}
	return result, nil
}

func (r *Repository[T]) Get(ctx context.Context, sel storage.Selector) (T, error) {
	var zero T
	b := NewBuilder().Select(strings.Join(r.m.Columns, ", ")).From(r.m.Table)
	switch {
	case sel.ID != "" && sel.Name != "":
		return zero, domain.ClientError("sqlstore: selector must set exactly one of id or name")
	case sel.ID != "":
		b.Where("id = ?", sel.ID)
	case sel.Name != "":
		b.Where("name = ?", sel.Name)
	default:
		return zero, domain.ClientError("sqlstore: selector must set exactly one of id or name")
	}
	query, args := b.Build()
	row := r.db.QueryRowContext(ctx, query, args...)
	result, err := r.m.Scan(row)
	if err != nil {
		return zero, translate(err, "sqlstore: get %s failed", r.m.Table)
	}
	return result, nil
}

func (r *Repository[T]) GetByField(ctx context.Context, field string, value any) (T, error) {
	var zero T
	query, args := NewBuilder().
		Select(strings.Join(r.m.Columns, ", ")).
		From(r.m.Table).
		Where(columnExpr(field)+" = ?", value).
		Build()
	row := r.db.QueryRowContext(ctx, query, args...)
	result, err := r.m.Scan(row)
	if err != nil {
		return zero, translate(err, "sqlstore: get %s by %s failed", r.m.Table, field)
	}
	return result, nil
}

func (r *Repository[T]) FindByField(ctx context.Context, field string, value any, opts storage.ListOptions) ([]T, error) {
	b := NewBuilder().Select(strings.Join(r.m.Columns, ", ")).From(r.m.Table).
		Where(columnExpr(field)+" = ?", value)
	applyFilters(b, opts.Filters)
	applyListOrdering(b, opts)
	return r.query(ctx, b)
}

func (r *Repository[T]) List(ctx context.Context, opts storage.ListOptions) ([]T, error) {
	b := NewBuilder().Select(strings.Join(r.m.Columns, ", ")).From(r.m.Table)
	applyFilters(b, opts.Filters)
	applyListOrdering(b, opts)
	return r.query(ctx, b)
}

// applyListOrdering orders by the requested column (if any), then by
// created_at/id as a stable tiebreak, and applies limit/offset.
func applyListOrdering(b *Builder, opts storage.ListOptions) {
	dir := DESC
	if opts.OrderDirection == storage.OrderAsc {
		dir = ASC
	}
	if opts.OrderBy != "" {
		b.OrderBy(opts.OrderBy, dir)
	}
	b.OrderBy("created_at", DESC).OrderBy("id", ASC)
	if opts.Limit > 0 {
		b.Limit(opts.Limit)
		if opts.PageNumber > 1 {
			b.Offset((opts.PageNumber - 1) * opts.Limit)
		}
	}
}

func (r *Repository[T]) FindByFieldWithCursor(ctx context.Context, field string, value any, opts storage.CursorOptions) ([]T, error) {
	b := NewBuilder().Select(strings.Join(r.m.Columns, ", ")).From(r.m.Table).
		Where(columnExpr(field)+" = ?", value)
	applyFilters(b, opts.Filters)

	if opts.AfterID != "" {
		if c, ok := r.resolveCursor(ctx, opts.AfterID); ok {
			b.WhereRaw("(created_at > $1) OR (created_at = $1 AND id < $2)", c.CreatedAt, c.ID)
		}
	}
	if opts.BeforeID != "" {
		if c, ok := r.resolveCursor(ctx, opts.BeforeID); ok {
			b.WhereRaw("(created_at < $1) OR (created_at = $1 AND id > $2)", c.CreatedAt, c.ID)
		}
	}
	b.OrderBy("created_at", DESC).OrderBy("id", ASC)
	if opts.Limit > 0 {
		b.Limit(opts.Limit)
	}
	return r.query(ctx, b)
}

// FindMessagesByTask lists TaskMessage-shaped rows for taskID honoring the
// inclusionary/exclusionary filter algebra (original spec §4.3) layered on
// top of the normal cursor pagination. Only the message repository (whose
// Mapper's Table carries a "content" JSONB column) is expected to call
// this; other entities have no use for MessageFilters.
func (r *Repository[T]) FindMessagesByTask(ctx context.Context, taskID string, mf storage.MessageFilters, opts storage.CursorOptions) ([]T, error) {
	b := NewBuilder().Select(strings.Join(r.m.Columns, ", ")).From(r.m.Table).
		Where("task_id = ?", taskID)
	applyFilters(b, opts.Filters)
	applyMessageFilters(b, mf)

	if opts.AfterID != "" {
		if c, ok := r.resolveCursor(ctx, opts.AfterID); ok {
			b.WhereRaw("(created_at > $1) OR (created_at = $1 AND id < $2)", c.CreatedAt, c.ID)
		}
	}
	if opts.BeforeID != "" {
		if c, ok := r.resolveCursor(ctx, opts.BeforeID); ok {
			b.WhereRaw("(created_at < $1) OR (created_at = $1 AND id > $2)", c.CreatedAt, c.ID)
		}
	}
	b.OrderBy("created_at", DESC).OrderBy("id", ASC)
	if opts.Limit > 0 {
		b.Limit(opts.Limit)
	}
	return r.query(ctx, b)
}

func (r *Repository[T]) resolveCursor(ctx context.Context, id string) (storage.Cursor, bool) {
	var c storage.Cursor
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT id, created_at FROM %s WHERE id = $1", r.m.Table), id)
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return storage.Cursor{}, false
	}
	return c, true
}

func (r *Repository[T]) query(ctx context.Context, b *Builder) ([]T, error) {
	query, args := b.Build()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "sqlstore: query %s failed", r.m.Table)
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := r.m.Scan(rows)
		if err != nil {
			return nil, domain.ServiceError(err, "sqlstore: scan %s failed", r.m.Table)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ServiceError(err, "sqlstore: row iteration on %s failed", r.m.Table)
	}
	return results, nil
}

func (r *Repository[T]) Update(ctx context.Context, item T) (T, error) {
	var zero T
	id := item.GetID()
	if id == "" {
		return zero, domain.ClientError("sqlstore: update requires an id")
	}
	item.SetUpdatedAt(time.Now().UTC())

	values, err := r.m.Values(item)
	if err != nil {
		return zero, domain.ServiceError(err, "sqlstore: marshal %s failed", r.m.Table)
	}
	// Columns[0] is always "id"; SET every other column, bind id last.
	sets := make([]string, 0, len(r.m.Columns)-1)
	args := make([]any, 0, len(values))
	for i := 1; i < len(r.m.Columns); i++ {
		sets = append(sets, fmt.Sprintf("%s = $%d", r.m.Columns[i], len(args)+1))
		args = append(args, values[i])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		r.m.Table, strings.Join(sets, ", "), len(args), strings.Join(r.m.Columns, ", "))

	row := r.db.QueryRowContext(ctx, query, args...)
	result, err := r.m.Scan(row)
	if err != nil {
		return zero, translate(err, "sqlstore: update %s failed", r.m.Table)
	}
	return result, nil
}

func (r *Repository[T]) BatchUpdate(ctx context.Context, items []T) ([]T, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.ServiceError(err, "sqlstore: begin tx failed")
	}
	results := make([]T, 0, len(items))
	for _, item := range items {
		updated, err := r.Update(ctx, item)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		results = append(results, updated)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.ServiceError(err, "sqlstore: commit tx failed")
	}
	return results, nil
}

func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.m.Table), id)
	if err != nil {
		return translate(err, "sqlstore: delete %s failed", r.m.Table)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NotFound("sqlstore: no row in %s with id %q", r.m.Table, id)
	}
	return nil
}

func (r *Repository[T]) BatchDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", r.m.Table, strings.Join(placeholders, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return translate(err, "sqlstore: batch delete %s failed", r.m.Table)
	}
	return nil
}

func (r *Repository[T]) DeleteByField(ctx context.Context, field string, value any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.m.Table, columnExpr(field))
	res, err := r.db.ExecContext(ctx, query, value)
	if err != nil {
		return 0, translate(err, "sqlstore: delete %s by %s failed", r.m.Table, field)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
