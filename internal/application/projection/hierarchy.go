package projection

import (
	"slices"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
)

// DefaultMaxHierarchyDepth bounds subordinate traversal
const DefaultMaxHierarchyDepth = 32

const (
	userPrefix     = "user:"
	childrenPrefix = "children:"
	ownerPrefix    = "owner:"
	ownsPrefix     = "owns:"
	matrixPrefix   = "matrix:"
)

// userNode is the hierarchy fact of one user
type userNode struct {
	ManagerID uuid.UUID `json:"manager_id"`
	Active    bool      `json:"active"`
	ChangedAt time.Time `json:"changed_at"`
}

// ownerRecord is the ownership fact of one entity
type ownerRecord struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	EntityType string    `json:"entity_type"`
}

// idSet is a sorted id list. ChangedAt only moves forward so its value does
// not depend on the order in which entity types are replayed.
type idSet struct {
	IDs       []uuid.UUID `json:"ids"`
	ChangedAt time.Time   `json:"changed_at"`
}

func (s *idSet) add(id uuid.UUID, at time.Time) bool {
	i, found := slices.BinarySearchFunc(s.IDs, id, compareIDs)
	if found {
		return false
	}
	s.IDs = slices.Insert(s.IDs, i, id)
	s.touch(at)
	return true
}

func (s *idSet) remove(id uuid.UUID, at time.Time) bool {
	i, found := slices.BinarySearchFunc(s.IDs, id, compareIDs)
	if !found {
		return false
	}
	s.IDs = slices.Delete(s.IDs, i, i+1)
	s.touch(at)
	return true
}

func (s *idSet) touch(at time.Time) {
	if at.After(s.ChangedAt) {
		s.ChangedAt = at
	}
}

func compareIDs(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// graph reads and writes hierarchy facts through a Tx
type graph struct {
	tx *Tx
}

func (g graph) user(id uuid.UUID) (userNode, bool, error) {
	var n userNode
	found, err := g.tx.GetJSON(userPrefix+id.String(), &n)
	return n, found, err
}

func (g graph) putUser(id uuid.UUID, n userNode) error {
	return g.tx.PutJSON(userPrefix+id.String(), n)
}

func (g graph) set(prefix string, id uuid.UUID) (idSet, error) {
	var s idSet
	_, err := g.tx.GetJSON(prefix+id.String(), &s)
	return s, err
}

func (g graph) putSet(prefix string, id uuid.UUID, s idSet) error {
	if s.IDs == nil {
		s.IDs = []uuid.UUID{}
	}
	return g.tx.PutJSON(prefix+id.String(), s)
}

// link adds or removes member in the set stored under prefix+id
func (g graph) link(prefix string, id, member uuid.UUID, add bool, at time.Time) error {
	s, err := g.set(prefix, id)
	if err != nil {
		return err
	}
	changed := false
	if add {
		changed = s.add(member, at)
	} else {
		changed = s.remove(member, at)
	}
	if !changed {
		return nil
	}
	return g.putSet(prefix, id, s)
}

// ancestors walks the manager chain above id. The walk stops at a missing
// manager, a repeated node or the depth bound; a cycle here is reported by
// the closure of the users involved, not by the walk.
func (g graph) ancestors(id uuid.UUID, maxDepth int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	cur := id
	for depth := 0; depth <= maxDepth; depth++ {
		n, found, err := g.user(cur)
		if err != nil {
			return nil, err
		}
		if !found || n.ManagerID == uuid.Nil || seen[n.ManagerID] {
			break
		}
		cur = n.ManagerID
		seen[cur] = true
		out = append(out, cur)
	}
	return out, nil
}

// closure returns every transitive subordinate of root, breadth first and
// sorted. Revisiting a node means the manager graph loops, since each user
// has at most one manager.
func (g graph) closure(root uuid.UUID, maxDepth int) ([]uuid.UUID, time.Time, error) {
	parent := map[uuid.UUID]uuid.UUID{}
	visited := map[uuid.UUID]bool{root: true}
	level := []uuid.UUID{root}
	var subs []uuid.UUID
	var newest time.Time

	for depth := 0; len(level) > 0; depth++ {
		var next []uuid.UUID
		for _, u := range level {
			children, err := g.set(childrenPrefix, u)
			if err != nil {
				return nil, newest, err
			}
			newest = latest(newest, children.ChangedAt)
			for _, c := range children.IDs {
				if visited[c] {
					return nil, newest, &integration.HierarchyCycleError{UserID: root, Path: pathTo(parent, root, u, c)}
				}
				if depth+1 > maxDepth {
					return nil, newest, &integration.HierarchyCycleError{UserID: root, DepthExceeded: true}
				}
				visited[c] = true
				parent[c] = u
				subs = append(subs, c)
				next = append(next, c)
			}
		}
		level = next
	}
	slices.SortFunc(subs, compareIDs)
	return subs, newest, nil
}

// pathTo rebuilds root -> ... -> from -> to from BFS parent links
func pathTo(parent map[uuid.UUID]uuid.UUID, root, from, to uuid.UUID) []uuid.UUID {
	path := []uuid.UUID{to, from}
	for cur := from; cur != root; {
		cur = parent[cur]
		path = append(path, cur)
	}
	slices.Reverse(path)
	return path
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
