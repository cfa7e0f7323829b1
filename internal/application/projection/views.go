package projection

import (
	"context"
	"fmt"

	"github.com/erp/crmsync/internal/domain/integration"
	domain "github.com/erp/crmsync/internal/domain/projection"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/google/uuid"
)

// Views reads committed projection state. It never sees a batch that is
// still being applied.
type Views struct {
	store domain.Store
}

// NewViews creates the read side over a projection store
func NewViews(store domain.Store) *Views {
	return &Views{store: store}
}

// Entity returns one serving row
func (v *Views) Entity(ctx context.Context, id uuid.UUID) (*ServingEntity, error) {
	var e ServingEntity
	if err := v.get(ctx, ServingName, entityKey(id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Entities returns the serving rows of the ids that exist, in the order of ids
func (v *Views) Entities(ctx context.Context, ids []uuid.UUID) ([]ServingEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entityKey(id)
	}
	found, err := v.store.GetMany(ctx, ServingName, keys)
	if err != nil {
		return nil, err
	}
	out := make([]ServingEntity, 0, len(found))
	for _, k := range keys {
		b, ok := found[k]
		if !ok {
			continue
		}
		var e ServingEntity
		if err := decodeJSON(b, &e); err != nil {
			return nil, fmt.Errorf("corrupt serving row %s: %w", k, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// EntitiesByType returns every serving row of one type ordered by id
func (v *Views) EntitiesByType(ctx context.Context, entityType string) ([]ServingEntity, error) {
	kvs, err := v.store.Scan(ctx, ServingName, entityPrefix)
	if err != nil {
		return nil, err
	}
	var out []ServingEntity
	for _, kv := range kvs {
		var e ServingEntity
		if err := decodeJSON(kv.Value, &e); err != nil {
			return nil, fmt.Errorf("corrupt serving row %s: %w", kv.Key, err)
		}
		if e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

// Totals returns the entity counts of every type
func (v *Views) Totals(ctx context.Context) ([]TypeTotals, error) {
	return scanAll[TypeTotals](ctx, v.store, ServingName, totalsPrefix)
}

// Pipeline returns the opportunity totals of every stage
func (v *Views) Pipeline(ctx context.Context) ([]StageTotals, error) {
	return scanAll[StageTotals](ctx, v.store, ServingName, pipelinePrefix)
}

// Profile returns a user's profile
func (v *Views) Profile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	var p UserProfile
	if err := v.get(ctx, ProfileName, profilePrefix+userID.String(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AccessEntry returns a user's access matrix entry
func (v *Views) AccessEntry(ctx context.Context, userID uuid.UUID) (*integration.AccessMatrixEntry, error) {
	var e integration.AccessMatrixEntry
	if err := v.get(ctx, AccessMatrixName, matrixPrefix+userID.String(), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (v *Views) get(ctx context.Context, projection, key string, out any) error {
	b, ok, err := v.store.Get(ctx, projection, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, key)
	}
	if err := decodeJSON(b, out); err != nil {
		return fmt.Errorf("corrupt %s row %s: %w", projection, key, err)
	}
	return nil
}

func scanAll[T any](ctx context.Context, store domain.Store, projection, prefix string) ([]T, error) {
	kvs, err := store.Scan(ctx, projection, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(kvs))
	for _, kv := range kvs {
		var item T
		if err := decodeJSON(kv.Value, &item); err != nil {
			return nil, fmt.Errorf("corrupt %s row %s: %w", projection, kv.Key, err)
		}
		out = append(out, item)
	}
	return out, nil
}
