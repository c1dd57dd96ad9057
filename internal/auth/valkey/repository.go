package authvalkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-exporter/internal/auth"
)

const objectTypeFlow = "flow"

// Repository keeps the flows in valkey, so a flow survives restarts and the
// steps of one login may reach different replicas. The resource lock stays
// per process: exports of replicas sharing a storage volume are not
// serialised against each other. Expiry is left to the server.
type Repository struct {
	store *store
}

func NewRepository(valkeyClient valkey.Client, prefix string, ttl time.Duration) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix, ttl),
	}
}

func (r *Repository) TTL() time.Duration {
	return r.store.ttl
}

func (r *Repository) StoreFlow(ctx context.Context, flow auth.Flow) error {
	if err := r.store.Set(ctx, objectTypeFlow, flow.ID, flow); err != nil {
		return fmt.Errorf("setting flow into storage: %w", err)
	}

	return nil
}

func (r *Repository) LoadFlow(ctx context.Context, flowID string) (flow auth.Flow, _ error) {
	if err := r.store.Get(ctx, objectTypeFlow, flowID, &flow); err != nil {
		return auth.Flow{}, fmt.Errorf("getting flow from store: %w", err)
	}

	return flow, nil
}

func (r *Repository) PopFlow(ctx context.Context, flowID string) (flow auth.Flow, _ error) {
	if err := r.store.GetDel(ctx, objectTypeFlow, flowID, &flow); err != nil {
		return auth.Flow{}, fmt.Errorf("popping flow from store: %w", err)
	}

	return flow, nil
}
