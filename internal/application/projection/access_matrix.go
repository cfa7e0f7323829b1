package projection

import (
	"errors"
	"fmt"
	"slices"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
)

// AccessMatrixName names the access matrix view
const AccessMatrixName = "access_matrix"

// AccessMatrixProjection maintains the manager hierarchy from user records,
// entity ownership from owner fields, and per user the set of entities the
// user may see: their own plus those of every transitive subordinate.
//
// Only users whose hierarchy or ownership facts changed, and their managers
// up the chain, are recomputed. An entry's ComputedAt is the newest fact it
// reflects. A user caught in a cycle keeps the entry computed before the
// cycle formed, which depends on which facts arrived first, so the
// projection consumes the log in event id order.
type AccessMatrixProjection struct {
	maxDepth int
	onCycle  func(tx *Tx, err *integration.HierarchyCycleError)
}

// AccessMatrixOption configures the projection
type AccessMatrixOption func(*AccessMatrixProjection)

// WithCycleHandler is called for every user whose entry was kept because
// their subordinate graph loops or is too deep
func WithCycleHandler(fn func(tx *Tx, err *integration.HierarchyCycleError)) AccessMatrixOption {
	return func(p *AccessMatrixProjection) {
		p.onCycle = fn
	}
}

// NewAccessMatrixProjection creates the projection
func NewAccessMatrixProjection(maxDepth int, opts ...AccessMatrixOption) *AccessMatrixProjection {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxHierarchyDepth
	}
	p := &AccessMatrixProjection{maxDepth: maxDepth}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the projection name
func (*AccessMatrixProjection) Name() string { return AccessMatrixName }

// LogOrdered marks the projection for log order replay
func (*AccessMatrixProjection) LogOrdered() {}

// Handles accepts every entity type: users carry the hierarchy, everything
// else carries ownership
func (*AccessMatrixProjection) Handles(string) bool { return true }

// Apply folds one event into the hierarchy and ownership facts and
// recomputes the affected entries
func (p *AccessMatrixProjection) Apply(tx *Tx, ev integration.DomainEvent) error {
	g := graph{tx: tx}
	var (
		affected []uuid.UUID
		err      error
	)
	if ev.EntityType == integration.UserEntityType {
		affected, err = p.applyUser(g, ev)
	} else {
		affected, err = p.applyOwnership(g, ev)
	}
	if err != nil {
		return err
	}
	return p.recompute(g, affected)
}

// Recompute rebuilds every entry from the stored facts
func (p *AccessMatrixProjection) Recompute(tx *Tx) error {
	g := graph{tx: tx}
	users, err := tx.Scan(userPrefix)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(users))
	for _, kv := range users {
		id, err := uuid.Parse(kv.Key[len(userPrefix):])
		if err != nil {
			return fmt.Errorf("corrupt user key %q", kv.Key)
		}
		ids = append(ids, id)
	}

	entries, err := tx.Scan(matrixPrefix)
	if err != nil {
		return err
	}
	for _, kv := range entries {
		id, err := uuid.Parse(kv.Key[len(matrixPrefix):])
		if err != nil {
			return fmt.Errorf("corrupt matrix key %q", kv.Key)
		}
		if n, found, err := g.user(id); err != nil {
			return err
		} else if !found || !n.Active {
			tx.Delete(kv.Key)
		}
	}
	return p.recompute(g, ids)
}

// RecomputeEntityType is the watermark a recompute commits under
func (*AccessMatrixProjection) RecomputeEntityType() string {
	return AllEntityTypes
}

func (p *AccessMatrixProjection) applyUser(g graph, ev integration.DomainEvent) ([]uuid.UUID, error) {
	id := ev.CanonicalID
	at := ev.OccurredAt.UTC()
	prev, found, err := g.user(id)
	if err != nil {
		return nil, err
	}

	next := prev
	switch ev.EventType {
	case integration.EventTypeCreated, integration.EventTypeRestored:
		next.ManagerID = parseRef(snapshotFields(ev)[integration.ManagerField])
		next.Active = true
	case integration.EventTypeUpdated:
		if !found {
			return nil, fmt.Errorf("update of unknown user %s", id)
		}
		changes, err := watchFields(ev.PayloadDelta.Patch, integration.ManagerField)
		if err != nil {
			return nil, err
		}
		c, ok := changes[integration.ManagerField]
		if !ok {
			return nil, nil
		}
		next.ManagerID = parseRef(c.Value)
	case integration.EventTypeSoftDeleted:
		if !found {
			return nil, fmt.Errorf("soft delete of unknown user %s", id)
		}
		next.Active = false
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.EventType)
	}

	if found && next.ManagerID == prev.ManagerID && next.Active == prev.Active {
		return nil, nil
	}
	before, err := g.ancestors(id, p.maxDepth)
	if err != nil {
		return nil, err
	}
	if found && prev.Active && prev.ManagerID != uuid.Nil {
		if err := g.link(childrenPrefix, prev.ManagerID, id, false, at); err != nil {
			return nil, err
		}
	}
	if next.Active && next.ManagerID != uuid.Nil {
		if err := g.link(childrenPrefix, next.ManagerID, id, true, at); err != nil {
			return nil, err
		}
	}
	next.ChangedAt = latest(prev.ChangedAt, at)
	if err := g.putUser(id, next); err != nil {
		return nil, err
	}
	after, err := g.ancestors(id, p.maxDepth)
	if err != nil {
		return nil, err
	}
	if !next.Active {
		g.tx.Delete(matrixPrefix + id.String())
	}

	affected := append([]uuid.UUID{id}, before...)
	return append(affected, after...), nil
}

func (p *AccessMatrixProjection) applyOwnership(g graph, ev integration.DomainEvent) ([]uuid.UUID, error) {
	key := ownerPrefix + ev.CanonicalID.String()
	at := ev.OccurredAt.UTC()
	var rec ownerRecord
	found, err := g.tx.GetJSON(key, &rec)
	if err != nil {
		return nil, err
	}

	var owner uuid.UUID
	switch ev.EventType {
	case integration.EventTypeCreated, integration.EventTypeRestored:
		owner = parseRef(snapshotFields(ev)[integration.OwnerField])
	case integration.EventTypeUpdated:
		changes, err := watchFields(ev.PayloadDelta.Patch, integration.OwnerField)
		if err != nil {
			return nil, err
		}
		c, ok := changes[integration.OwnerField]
		if !ok {
			return nil, nil
		}
		owner = parseRef(c.Value)
	case integration.EventTypeSoftDeleted:
		owner = uuid.Nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.EventType)
	}

	if found && rec.OwnerID == owner {
		return nil, nil
	}
	var affected []uuid.UUID
	if found {
		if err := g.link(ownsPrefix, rec.OwnerID, ev.CanonicalID, false, at); err != nil {
			return nil, err
		}
		up, err := g.ancestors(rec.OwnerID, p.maxDepth)
		if err != nil {
			return nil, err
		}
		affected = append(append(affected, rec.OwnerID), up...)
	}
	if owner == uuid.Nil {
		g.tx.Delete(key)
		return affected, nil
	}
	if err := g.link(ownsPrefix, owner, ev.CanonicalID, true, at); err != nil {
		return nil, err
	}
	if err := g.tx.PutJSON(key, ownerRecord{OwnerID: owner, EntityType: ev.EntityType}); err != nil {
		return nil, err
	}
	up, err := g.ancestors(owner, p.maxDepth)
	if err != nil {
		return nil, err
	}
	return append(append(affected, owner), up...), nil
}

// recompute rewrites the entries of the given users. A user whose closure
// fails keeps the previous entry.
func (p *AccessMatrixProjection) recompute(g graph, users []uuid.UUID) error {
	slices.SortFunc(users, compareIDs)
	users = slices.Compact(users)

	for _, id := range users {
		node, found, err := g.user(id)
		if err != nil {
			return err
		}
		if !found || !node.Active {
			continue
		}
		entry, err := p.entry(g, id, node)
		var cycle *integration.HierarchyCycleError
		if errors.As(err, &cycle) {
			if p.onCycle != nil {
				p.onCycle(g.tx, cycle)
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := g.tx.PutJSON(matrixPrefix+id.String(), entry); err != nil {
			return err
		}
	}
	return nil
}

func (p *AccessMatrixProjection) entry(g graph, id uuid.UUID, node userNode) (*integration.AccessMatrixEntry, error) {
	subs, computedAt, err := g.closure(id, p.maxDepth)
	if err != nil {
		return nil, err
	}
	computedAt = latest(computedAt, node.ChangedAt)

	var visible []uuid.UUID
	for _, member := range append([]uuid.UUID{id}, subs...) {
		owned, err := g.set(ownsPrefix, member)
		if err != nil {
			return nil, err
		}
		visible = append(visible, owned.IDs...)
		computedAt = latest(computedAt, owned.ChangedAt)
		if member != id {
			n, _, err := g.user(member)
			if err != nil {
				return nil, err
			}
			computedAt = latest(computedAt, n.ChangedAt)
		}
	}
	slices.SortFunc(visible, compareIDs)
	visible = slices.Compact(visible)

	if subs == nil {
		subs = []uuid.UUID{}
	}
	if visible == nil {
		visible = []uuid.UUID{}
	}
	return &integration.AccessMatrixEntry{
		UserID:             id,
		VisibleEntityIDs:   visible,
		IsManager:          len(subs) > 0,
		SubordinateUserIDs: subs,
		ComputedAt:         computedAt,
	}, nil
}

// parseRef reads a user reference; anything that is not a uuid means none
func parseRef(v any) uuid.UUID {
	id, err := uuid.Parse(stringField(v))
	if err != nil {
		return uuid.Nil
	}
	return id
}

var _ Recomputer = (*AccessMatrixProjection)(nil)
