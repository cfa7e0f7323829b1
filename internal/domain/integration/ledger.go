package integration

import "context"

// Change pairs the new canonical state of an entity with the event recording it
type Change struct {
	Entity CanonicalEntity
	Event  DomainEvent
}

// Ledger is the single write path for canonical state.
// Commit upserts every entity and appends every event in one atomic unit;
// on success each Event.EventID holds its assigned id. Either all changes
// are visible to readers or none are.
type Ledger interface {
	Commit(ctx context.Context, changes []Change) error
}
