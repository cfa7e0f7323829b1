package projection

import (
	"context"
	"encoding/json"
	"testing"

	domain "github.com/erp/crmsync/internal/domain/projection"
	"github.com/erp/crmsync/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTx_OverlaysPendingWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProjectionStore()
	require.NoError(t, store.Commit(ctx, "p", "x", 1, []domain.Write{
		{Key: "k:1", Value: []byte(`1`)},
		{Key: "k:2", Value: []byte(`2`)},
		{Key: "other", Value: []byte(`0`)},
	}))

	tx := newTx(ctx, store, "p")
	tx.Put("k:3", []byte(`3`))
	tx.Delete("k:1")

	_, ok, err := tx.Get("k:1")
	require.NoError(t, err)
	assert.False(t, ok)

	kvs, err := tx.Scan("k:")
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "k:2", kvs[0].Key)
	assert.Equal(t, "k:3", kvs[1].Key)

	// Store is untouched until commit.
	v, ok, err := store.Get(ctx, "p", "k:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`1`), v)

	writes := tx.writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "k:1", writes[0].Key)
	assert.True(t, writes[0].Delete)
}

func TestTx_ChildIsDiscardedUnlessMerged(t *testing.T) {
	tx := newTx(context.Background(), memory.NewProjectionStore(), "p")
	tx.Put("a", []byte(`"kept"`))

	failed := tx.child()
	failed.Put("a", []byte(`"lost"`))
	failed.Put("b", []byte(`"lost"`))
	v, _, _ := failed.Get("a")
	assert.Equal(t, `"lost"`, string(v))

	ok := tx.child()
	ok.Put("c", []byte(`"merged"`))
	tx.merge(ok)

	var got string
	found, err := tx.GetJSON("a", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "kept", got)
	_, found, _ = tx.Get("b")
	assert.False(t, found)
	_, found, _ = tx.Get("c")
	assert.True(t, found)
}

func TestTx_GetJSONKeepsNumbers(t *testing.T) {
	tx := newTx(context.Background(), memory.NewProjectionStore(), "p")
	tx.Put("n", []byte(`{"big":12345678901234567890,"f":0.1}`))

	var doc map[string]any
	_, err := tx.GetJSON("n", &doc)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567890"), doc["big"])

	require.NoError(t, tx.PutJSON("n2", doc))
	v, _, _ := tx.Get("n2")
	assert.JSONEq(t, `{"big":12345678901234567890,"f":0.1}`, string(v))
}
