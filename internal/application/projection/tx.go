package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"

	domain "github.com/erp/crmsync/internal/domain/projection"
)

// Tx is the working state of one projection while a batch of events is
// applied. Reads fall through pending writes to the parent and then the
// store; nothing reaches the store until the engine commits the batch.
type Tx struct {
	ctx        context.Context
	store      domain.Store
	projection string
	parent     *Tx
	pending    map[string]domain.Write
}

func newTx(ctx context.Context, store domain.Store, projection string) *Tx {
	return &Tx{ctx: ctx, store: store, projection: projection, pending: make(map[string]domain.Write)}
}

// child opens a nested Tx whose writes are discarded unless merged
func (t *Tx) child() *Tx {
	return &Tx{ctx: t.ctx, store: t.store, projection: t.projection, parent: t, pending: make(map[string]domain.Write)}
}

// merge folds the writes of a child into t
func (t *Tx) merge(c *Tx) {
	for k, w := range c.pending {
		t.pending[k] = w
	}
}

// Context returns the context of the running batch
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Get returns the current value of key
func (t *Tx) Get(key string) ([]byte, bool, error) {
	if w, ok := t.pending[key]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return w.Value, true, nil
	}
	if t.parent != nil {
		return t.parent.Get(key)
	}
	return t.store.Get(t.ctx, t.projection, key)
}

// GetJSON decodes the value of key into v. Numbers decode as json.Number so
// re-encoding a value reproduces it byte for byte.
func (t *Tx) GetJSON(key string, v any) (bool, error) {
	b, ok, err := t.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, decodeJSON(b, v)
}

// Put stores a raw value
func (t *Tx) Put(key string, value []byte) {
	t.pending[key] = domain.Write{Key: key, Value: slices.Clone(value)}
}

// PutJSON stores the JSON encoding of v
func (t *Tx) PutJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.Put(key, b)
	return nil
}

// Delete removes key
func (t *Tx) Delete(key string) {
	t.pending[key] = domain.Write{Key: key, Delete: true}
}

// Scan returns every live entry under prefix ordered by key, pending writes
// included
func (t *Tx) Scan(prefix string) ([]domain.KV, error) {
	var base []domain.KV
	var err error
	if t.parent != nil {
		base, err = t.parent.Scan(prefix)
	} else {
		base, err = t.store.Scan(t.ctx, t.projection, prefix)
	}
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(base))
	for _, kv := range base {
		merged[kv.Key] = kv.Value
	}
	for k, w := range t.pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k)
		} else {
			merged[k] = w.Value
		}
	}

	out := make([]domain.KV, 0, len(merged))
	for k, v := range merged {
		out = append(out, domain.KV{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// writes returns the pending writes ordered by key
func (t *Tx) writes() []domain.Write {
	out := make([]domain.Write, 0, len(t.pending))
	for _, w := range t.pending {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// reset drops pending writes after a commit
func (t *Tx) reset() {
	t.pending = make(map[string]domain.Write)
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}
