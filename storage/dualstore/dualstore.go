// Package dualstore implements C4 (original spec §4.4): a phase-switching
// wrapper composing a primary and a secondary storage.Store, used to
// migrate between backends (e.g. Mongo to Postgres) without downtime.
//
// The decorator itself is new to this repository, but the shape — a type
// satisfying the same Store contract as the things it wraps, with a
// compile-time `var _ storage.Store[T] = (*Store[T])(nil)` check — follows
// registry/store/replicated/replicated.go's `var _ store.Store =
// (*Store)(nil)` convention from the teacher, which itself composes a
// single backend rather than two; the phase state machine and divergence
// metrics are this package's own addition to that shape.
package dualstore

import (
	"context"
	"reflect"
	"time"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
	"github.com/agentflow/acpctl/telemetry"
)

// Phase selects which backend(s) participate in a given operation.
type Phase string

const (
	// PrimaryOnly routes every operation to the primary backend; the
	// secondary is never touched. The starting and ending phase of a
	// migration.
	PrimaryOnly Phase = "primary_only"
	// DualWrite writes to both backends (primary authoritative for the
	// response) but still reads from the primary only.
	DualWrite Phase = "dual_write"
	// DualReadVerify writes to both and reads from both, comparing
	// results and emitting divergence metrics, still returning the
	// primary's result to the caller.
	DualReadVerify Phase = "dual_read_verify"
	// SecondaryOnly routes every operation to the secondary backend; the
	// primary is never touched. The end state of a completed migration.
	SecondaryOnly Phase = "secondary_only"
)

const meterScope = "github.com/agentflow/acpctl/storage/dualstore"

// Store composes two storage.Store[T] backends, switching which
// participate in reads and writes per Phase (original spec §4.4,
// "Backend migration phases").
type Store[T storage.Entity] struct {
	primary   storage.Store[T]
	secondary storage.Store[T]
	phase     Phase
	metrics   telemetry.Metrics
	logger    telemetry.Logger
	entity    string
}

// New builds a Store. entity names the wrapped type for metric tags
// (e.g. "agent", "task_message").
func New[T storage.Entity](primary, secondary storage.Store[T], phase Phase, entity string) *Store[T] {
	return &Store[T]{
		primary:   primary,
		secondary: secondary,
		phase:     phase,
		metrics:   telemetry.NewMetrics(meterScope),
		logger:    telemetry.NewLogger(),
		entity:    entity,
	}
}

// Phase reports the store's current migration phase.
func (s *Store[T]) Phase() Phase { return s.phase }

// WithPhase returns a shallow copy of s pinned to phase, leaving s itself
// untouched. Used for the per-request phase override original spec §4.4
// allows ("Phase may be overridden per-request e.g. from a query
// parameter") without mutating the shared Store's configured phase.
func (s *Store[T]) WithPhase(phase Phase) *Store[T] {
	copy := *s
	copy.phase = phase
	return &copy
}

func (s *Store[T]) writesSecondary() bool {
	return s.phase == DualWrite || s.phase == DualReadVerify
}

func (s *Store[T]) readsSecondary() bool {
	return s.phase == DualReadVerify
}

// shadowWrite runs op against the secondary best-effort: failures are
// logged and counted but never surface to the caller, since the primary
// write already succeeded and is the system of record until the phase
// advances to secondary_only.
func (s *Store[T]) shadowWrite(ctx context.Context, opName string, op func() error) {
	if !s.writesSecondary() {
		return
	}
	if err := op(); err != nil {
		s.metrics.IncCounter("dualstore.shadow_write.failed", 1, "entity", s.entity, "op", opName)
		s.logger.Warn(ctx, "dualstore: shadow write to secondary failed", "entity", s.entity, "op", opName, "error", err.Error())
	}
}

func (s *Store[T]) Create(ctx context.Context, item T) (T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.Create(ctx, item)
	}
	created, err := s.primary.Create(ctx, item)
	if err != nil {
		return created, err
	}
	s.shadowWrite(ctx, "create", func() error {
		_, err := s.secondary.Create(ctx, created)
		return err
	})
	return created, nil
}

func (s *Store[T]) BatchCreate(ctx context.Context, items []T) ([]T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.BatchCreate(ctx, items)
	}
	created, err := s.primary.BatchCreate(ctx, items)
	if err != nil {
		return created, err
	}
	s.shadowWrite(ctx, "batch_create", func() error {
		_, err := s.secondary.BatchCreate(ctx, created)
		return err
	})
	return created, nil
}

func (s *Store[T]) Get(ctx context.Context, sel storage.Selector) (T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.Get(ctx, sel)
	}
	result, err := s.primary.Get(ctx, sel)
	if s.readsSecondary() {
		secResult, secErr := s.secondary.Get(ctx, sel)
		s.compare(ctx, "get", err, secErr, result, secResult)
	}
	return result, err
}

func (s *Store[T]) GetByField(ctx context.Context, field string, value any) (T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.GetByField(ctx, field, value)
	}
	result, err := s.primary.GetByField(ctx, field, value)
	if s.readsSecondary() {
		secResult, secErr := s.secondary.GetByField(ctx, field, value)
		s.compare(ctx, "get_by_field", err, secErr, result, secResult)
	}
	return result, err
}

func (s *Store[T]) FindByField(ctx context.Context, field string, value any, opts storage.ListOptions) ([]T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.FindByField(ctx, field, value, opts)
	}
	result, err := s.primary.FindByField(ctx, field, value, opts)
	if s.readsSecondary() {
		secResult, secErr := s.secondary.FindByField(ctx, field, value, opts)
		s.compareList(ctx, "find_by_field", err, secErr, result, secResult)
	}
	return result, err
}

func (s *Store[T]) FindByFieldWithCursor(ctx context.Context, field string, value any, opts storage.CursorOptions) ([]T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.FindByFieldWithCursor(ctx, field, value, opts)
	}
	result, err := s.primary.FindByFieldWithCursor(ctx, field, value, opts)
	if s.readsSecondary() {
		secResult, secErr := s.secondary.FindByFieldWithCursor(ctx, field, value, opts)
		s.compareList(ctx, "find_by_field_with_cursor", err, secErr, result, secResult)
	}
	return result, err
}

func (s *Store[T]) List(ctx context.Context, opts storage.ListOptions) ([]T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.List(ctx, opts)
	}
	result, err := s.primary.List(ctx, opts)
	if s.readsSecondary() {
		secResult, secErr := s.secondary.List(ctx, opts)
		s.compareList(ctx, "list", err, secErr, result, secResult)
	}
	return result, err
}

func (s *Store[T]) Update(ctx context.Context, item T) (T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.Update(ctx, item)
	}
	updated, err := s.primary.Update(ctx, item)
	if err != nil {
		return updated, err
	}
	s.shadowWrite(ctx, "update", func() error {
		_, err := s.secondary.Update(ctx, updated)
		return err
	})
	return updated, nil
}

func (s *Store[T]) BatchUpdate(ctx context.Context, items []T) ([]T, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.BatchUpdate(ctx, items)
	}
	updated, err := s.primary.BatchUpdate(ctx, items)
	if err != nil {
		return updated, err
	}
	s.shadowWrite(ctx, "batch_update", func() error {
		_, err := s.secondary.BatchUpdate(ctx, updated)
		return err
	})
	return updated, nil
}

func (s *Store[T]) Delete(ctx context.Context, id string) error {
	if s.phase == SecondaryOnly {
		return s.secondary.Delete(ctx, id)
	}
	if err := s.primary.Delete(ctx, id); err != nil {
		return err
	}
	s.shadowWrite(ctx, "delete", func() error { return s.secondary.Delete(ctx, id) })
	return nil
}

func (s *Store[T]) BatchDelete(ctx context.Context, ids []string) error {
	if s.phase == SecondaryOnly {
		return s.secondary.BatchDelete(ctx, ids)
	}
	if err := s.primary.BatchDelete(ctx, ids); err != nil {
		return err
	}
	s.shadowWrite(ctx, "batch_delete", func() error { return s.secondary.BatchDelete(ctx, ids) })
	return nil
}

func (s *Store[T]) DeleteByField(ctx context.Context, field string, value any) (int64, error) {
	if s.phase == SecondaryOnly {
		return s.secondary.DeleteByField(ctx, field, value)
	}
	n, err := s.primary.DeleteByField(ctx, field, value)
	if err != nil {
		return n, err
	}
	s.shadowWrite(ctx, "delete_by_field", func() error {
		_, err := s.secondary.DeleteByField(ctx, field, value)
		return err
	})
	return n, nil
}

// compare emits a divergence metric for a single-entity read, following
// the taxonomy original spec §4.4 requires: match,
// mismatch.missing_primary, mismatch.missing_secondary, mismatch.content.
func (s *Store[T]) compare(ctx context.Context, op string, primaryErr, secondaryErr error, primary, secondary T) {
	primaryMissing := domain.IsNotFound(primaryErr)
	secondaryMissing := domain.IsNotFound(secondaryErr)

	var outcome string
	switch {
	case primaryMissing && secondaryMissing:
		outcome = "match"
	case primaryMissing && !secondaryMissing:
		outcome = "mismatch.missing_primary"
	case !primaryMissing && secondaryMissing:
		outcome = "mismatch.missing_secondary"
	case primaryErr != nil || secondaryErr != nil:
		return // a non-NotFound error on either side isn't a content divergence
	case reflect.DeepEqual(normalized(primary), normalized(secondary)):
		outcome = "match"
	default:
		outcome = "mismatch.content"
	}
	s.metrics.IncCounter("dualstore.read.divergence", 1, "entity", s.entity, "op", op, "outcome", outcome)
}

// normalized returns a copy of item with CreatedAt/UpdatedAt zeroed, so
// compare/compareList diff only the normalized content value, never the two
// backends' independently-stamped timestamps (original spec §4.4,
// "Equality compares the normalized content value only (not timestamps)").
func normalized[T storage.Entity](item T) T {
	rv := reflect.ValueOf(item)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return item
	}
	cp := reflect.New(rv.Elem().Type())
	cp.Elem().Set(rv.Elem())
	out := cp.Interface().(T)
	out.SetCreatedAt(time.Time{})
	out.SetUpdatedAt(time.Time{})
	return out
}

// normalizedAll maps normalized over a slice, for compareList's same-count
// content comparison.
func normalizedAll[T storage.Entity](items []T) []T {
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = normalized(item)
	}
	return out
}

// compareList emits a divergence metric for a list/find read: a row-count
// mismatch is reported distinctly from a same-count content mismatch.
func (s *Store[T]) compareList(ctx context.Context, op string, primaryErr, secondaryErr error, primary, secondary []T) {
	if primaryErr != nil || secondaryErr != nil {
		return
	}
	if len(primary) != len(secondary) {
		s.metrics.IncCounter("dualstore.read.divergence", 1, "entity", s.entity, "op", op, "outcome", "list_count_mismatch")
		s.metrics.RecordGauge("dualstore.read.list_count_delta", float64(len(primary)-len(secondary)), "entity", s.entity, "op", op)
		return
	}
	outcome := "match"
	if !reflect.DeepEqual(normalizedAll(primary), normalizedAll(secondary)) {
		outcome = "mismatch.content"
	}
	s.metrics.IncCounter("dualstore.read.divergence", 1, "entity", s.entity, "op", op, "outcome", outcome)
}
