package authmemory

import (
	"context"
	"time"

	"github.com/openkcm/session-exporter/internal/auth"
	"github.com/openkcm/session-exporter/internal/transient"
)

// Repository keeps the flows in process memory.
type Repository struct {
	flows *transient.Store[auth.Flow]
}

func NewRepository(opts ...transient.Option) *Repository {
	return &Repository{
		flows: transient.New[auth.Flow](opts...),
	}
}

func (r *Repository) TTL() time.Duration {
	return r.flows.TTL()
}

func (r *Repository) StoreFlow(_ context.Context, flow auth.Flow) error {
	r.flows.Put(flow.ID, flow)
	return nil
}

func (r *Repository) LoadFlow(_ context.Context, flowID string) (auth.Flow, error) {
	flow, ok := r.flows.Get(flowID)
	if !ok {
		return auth.Flow{}, auth.ErrFlowNotFound
	}

	return flow, nil
}

func (r *Repository) PopFlow(_ context.Context, flowID string) (auth.Flow, error) {
	flow, ok := r.flows.Pop(flowID)
	if !ok {
		return auth.Flow{}, auth.ErrFlowNotFound
	}

	return flow, nil
}
