// Package storage defines the polymorphic storage contract (C1, original
// spec §4.1) consumed by every concrete repository (Mongo, Postgres) and by
// the dual-backend wrapper composing them.
package storage

import (
	"context"
	"time"
)

// Entity is the minimal contract every stored type satisfies: an opaque id
// and the two monotonic timestamps every row carries (original spec §3).
type Entity interface {
	GetID() string
	SetID(string)
	GetCreatedAt() time.Time
	SetCreatedAt(time.Time)
	GetUpdatedAt() time.Time
	SetUpdatedAt(time.Time)
}

// Named is implemented by entities that support lookup-by-name in addition
// to lookup-by-id (Agent, Task).
type Named interface {
	GetName() string
}

// OrderDirection selects ascending or descending sort order.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// Selector picks a single entity by exactly one of ID or Name. Get fails
// with a ClientError if neither or both are set.
type Selector struct {
	ID   string
	Name string
}

// ListOptions controls offset-paginated list/find operations.
type ListOptions struct {
	Limit          int
	PageNumber     int
	OrderBy        string
	OrderDirection OrderDirection
	Filters        map[string]any
}

// CursorOptions controls cursor-paginated find operations (original spec
// §4.1, "Cursor semantics").
type CursorOptions struct {
	Limit    int
	SortBy   string
	BeforeID string
	AfterID  string
	Filters  map[string]any
}

// Filter describes a single message-query predicate group consumed by the
// inclusionary/exclusionary filter algebra (original spec §4.3). Fields are
// ANDed within one Filter; multiple Filters are combined per Store, which is
// either the inclusionary ("include any of these groups") or exclusionary
// ("exclude rows matching any of these groups") set.
type Filter struct {
	Fields map[string]any
}

// MessageFilters splits filters for the message-query algebra (original
// spec §4.3, "Filter algebra for message queries").
type MessageFilters struct {
	Include []Filter
	Exclude []Filter
}

// Store is the contract every concrete repository implements (original spec
// §4.1). T is the entity type (e.g. *domain.Agent). Implementations must be
// safe for concurrent use.
type Store[T Entity] interface {
	Create(ctx context.Context, item T) (T, error)
	BatchCreate(ctx context.Context, items []T) ([]T, error)

	// Get resolves exactly one of sel.ID or sel.Name; NotFound if absent.
	Get(ctx context.Context, sel Selector) (T, error)
	GetByField(ctx context.Context, field string, value any) (T, error)

	FindByField(ctx context.Context, field string, value any, opts ListOptions) ([]T, error)
	FindByFieldWithCursor(ctx context.Context, field string, value any, opts CursorOptions) ([]T, error)

	Update(ctx context.Context, item T) (T, error)
	BatchUpdate(ctx context.Context, items []T) ([]T, error)

	Delete(ctx context.Context, id string) error
	BatchDelete(ctx context.Context, ids []string) error
	DeleteByField(ctx context.Context, field string, value any) (int64, error)

	List(ctx context.Context, opts ListOptions) ([]T, error)
}
