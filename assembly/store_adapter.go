package assembly

import (
	"context"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// storeAdapter implements MessageStore over the generic storage.Store
// contract, so the engine can persist through whichever backend (or
// dualstore wrapper) the caller wires in without a bespoke message
// repository type.
type storeAdapter struct {
	store storage.Store[*domain.TaskMessage]
}

// NewStoreAdapter builds a MessageStore backed by store.
func NewStoreAdapter(store storage.Store[*domain.TaskMessage]) MessageStore {
	return &storeAdapter{store: store}
}

func (a *storeAdapter) CreateMessage(ctx context.Context, taskID string, content domain.Content, status domain.StreamingStatus) (*domain.TaskMessage, error) {
	return a.store.Create(ctx, &domain.TaskMessage{TaskID: taskID, Content: content, StreamingStatus: status})
}

func (a *storeAdapter) UpdateMessageContent(ctx context.Context, id string, content domain.Content, status domain.StreamingStatus) (*domain.TaskMessage, error) {
	existing, err := a.store.Get(ctx, storage.Selector{ID: id})
	if err != nil {
		return nil, err
	}
	existing.Content = content
	existing.StreamingStatus = status
	return a.store.Update(ctx, existing)
}
