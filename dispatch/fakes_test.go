package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// fakeStore is a minimal in-memory storage.Store[T] sufficient to exercise
// the dispatcher's resolve/create/update paths without a real backend.
type fakeStore[T storage.Entity] struct {
	mu   sync.Mutex
	seq  int
	rows map[string]T
}

func newFakeStore[T storage.Entity]() *fakeStore[T] {
	return &fakeStore[T]{rows: map[string]T{}}
}

func (f *fakeStore[T]) Create(_ context.Context, item T) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.GetID() == "" {
		f.seq++
		item.SetID(fmt.Sprintf("id-%d", f.seq))
	}
	now := time.Now()
	item.SetCreatedAt(now)
	item.SetUpdatedAt(now)
	f.rows[item.GetID()] = item
	return item, nil
}

func (f *fakeStore[T]) BatchCreate(ctx context.Context, items []T) ([]T, error) {
	out := make([]T, len(items))
	for i, it := range items {
		created, err := f.Create(ctx, it)
		if err != nil {
			return nil, err
		}
		out[i] = created
	}
	return out, nil
}

func (f *fakeStore[T]) Get(_ context.Context, sel storage.Selector) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	switch {
	case sel.ID != "":
		if v, ok := f.rows[sel.ID]; ok {
			return v, nil
		}
		return zero, domain.NotFound("not found: %s", sel.ID)
	case sel.Name != "":
		for _, v := range f.rows {
			if named, ok := any(v).(storage.Named); ok && named.GetName() == sel.Name {
				return v, nil
			}
		}
		return zero, domain.NotFound("not found: %s", sel.Name)
	default:
		return zero, domain.ClientError("exactly one of id or name must be supplied")
	}
}

func (f *fakeStore[T]) GetByField(_ context.Context, _ string, _ any) (T, error) {
	var zero T
	return zero, domain.NotFound("not implemented")
}

func (f *fakeStore[T]) FindByField(_ context.Context, _ string, _ any, _ storage.ListOptions) ([]T, error) {
	return f.all(), nil
}

func (f *fakeStore[T]) FindByFieldWithCursor(_ context.Context, _ string, _ any, _ storage.CursorOptions) ([]T, error) {
	return f.all(), nil
}

func (f *fakeStore[T]) Update(_ context.Context, item T) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[item.GetID()]
	if !ok {
		var zero T
		return zero, domain.NotFound("not found: %s", item.GetID())
	}
	item.SetCreatedAt(existing.GetCreatedAt())
	item.SetUpdatedAt(time.Now())
	f.rows[item.GetID()] = item
	return item, nil
}

func (f *fakeStore[T]) BatchUpdate(ctx context.Context, items []T) ([]T, error) {
	out := make([]T, len(items))
	for i, it := range items {
		updated, err := f.Update(ctx, it)
		if err != nil {
			return nil, err
		}
		out[i] = updated
	}
	return out, nil
}

func (f *fakeStore[T]) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeStore[T]) BatchDelete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		_ = f.Delete(ctx, id)
	}
	return nil
}

func (f *fakeStore[T]) DeleteByField(context.Context, string, any) (int64, error) {
	return 0, nil
}

func (f *fakeStore[T]) List(context.Context, storage.ListOptions) ([]T, error) {
	return f.all(), nil
}

func (f *fakeStore[T]) all() []T {
	out := make([]T, 0, len(f.rows))
	for _, v := range f.rows {
		out = append(out, v)
	}
	return out
}

// fakeACP is a scriptable ACP implementation: each call is counted and its
// params recorded per method, and it returns the error scripted for that
// method in callErr (or an empty success result), so tests can assert on
// forwarding failure/success paths without a real HTTP peer.
type fakeACP struct {
	mu        sync.Mutex
	callErr   map[string]error
	callCount map[string]int
	lastCall  map[string]map[string]any
}

func newFakeACP() *fakeACP {
	return &fakeACP{
		callErr:   map[string]error{},
		callCount: map[string]int{},
		lastCall:  map[string]map[string]any{},
	}
}

func (f *fakeACP) Call(_ context.Context, _ *domain.Agent, method, _ string, params any, _ string, _ http.Header) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[method]++
	if m, ok := params.(map[string]any); ok {
		f.lastCall[method] = m
	}
	if err := f.callErr[method]; err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (f *fakeACP) Stream(context.Context, *domain.Agent, string, string, any, string, http.Header) (RawStream, error) {
	return nil, domain.ServiceError(nil, "fakeACP: Stream not configured")
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, ...string)       {}
func (noopMetrics) RecordTimer(string, time.Duration, ...string) {}
func (noopMetrics) RecordGauge(string, float64, ...string)      {}
