package persistence

import (
	"context"
	"fmt"
	"testing"

	"github.com/erp/crmsync/internal/domain/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectionStore(t *testing.T) {
	db := setupSQLiteDB(t)
	store := NewProjectionStore(db)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, "serving", "account", 4, []projection.Write{
		{Key: "entity:a", Value: []byte(`{"n":1}`)},
		{Key: "entity:b", Value: []byte(`{"n":2}`)},
		{Key: "totals:account", Value: []byte(`{"active":2}`)},
		{Key: "entity_x", Value: []byte(`{}`)},
	}))

	t.Run("reads what was committed", func(t *testing.T) {
		v, ok, err := store.Get(ctx, "serving", "entity:a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"n":1}`, string(v))

		_, ok, err = store.Get(ctx, "serving", "entity:zz")
		require.NoError(t, err)
		assert.False(t, ok)

		many, err := store.GetMany(ctx, "serving", []string{"entity:a", "entity:b", "missing"})
		require.NoError(t, err)
		assert.Len(t, many, 2)

		wm, err := store.Watermark(ctx, "serving", "account")
		require.NoError(t, err)
		assert.Equal(t, int64(4), wm)
	})

	t.Run("scan matches the literal prefix", func(t *testing.T) {
		kvs, err := store.Scan(ctx, "serving", "entity:")
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		assert.Equal(t, "entity:a", kvs[0].Key)
		assert.Equal(t, "entity:b", kvs[1].Key)
	})

	t.Run("commit deletes and overwrites", func(t *testing.T) {
		require.NoError(t, store.Commit(ctx, "serving", "account", 6, []projection.Write{
			{Key: "entity:a", Delete: true},
			{Key: "entity:b", Value: []byte(`{"n":3}`)},
		}))
		_, ok, err := store.Get(ctx, "serving", "entity:a")
		require.NoError(t, err)
		assert.False(t, ok)
		v, _, err := store.Get(ctx, "serving", "entity:b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":3}`, string(v))
	})

	t.Run("projections are isolated", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "profile", "entity:b")
		require.NoError(t, err)
		assert.False(t, ok)
		wm, err := store.Watermark(ctx, "profile", "account")
		require.NoError(t, err)
		assert.Zero(t, wm)
	})

	t.Run("halt and clear", func(t *testing.T) {
		require.NoError(t, store.Halt(ctx, "serving", 7, "bad patch"))
		st, err := store.Status(ctx, "serving")
		require.NoError(t, err)
		assert.True(t, st.Halted)
		assert.Equal(t, int64(7), st.FailedEventID)
		assert.Equal(t, "bad patch", st.LastError)
		assert.Equal(t, int64(6), st.Watermarks["account"])

		require.NoError(t, store.ClearHalt(ctx, "serving"))
		st, err = store.Status(ctx, "serving")
		require.NoError(t, err)
		assert.False(t, st.Halted)
		assert.Equal(t, int64(6), st.Watermarks["account"])
	})

	t.Run("reset drops everything", func(t *testing.T) {
		require.NoError(t, store.Halt(ctx, "serving", 9, "x"))
		require.NoError(t, store.Reset(ctx, "serving"))

		kvs, err := store.Scan(ctx, "serving", "")
		require.NoError(t, err)
		assert.Empty(t, kvs)
		st, err := store.Status(ctx, "serving")
		require.NoError(t, err)
		assert.False(t, st.Halted)
		assert.Empty(t, st.Watermarks)
	})
}

func TestProjectionStore_LargeKeySets(t *testing.T) {
	db := setupSQLiteDB(t)
	store := NewProjectionStore(db)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, "access_matrix", "*", 1, []projection.Write{
		{Key: "owner:00007", Value: []byte(`"u1"`)},
		{Key: "owner:69999", Value: []byte(`"u2"`)},
	}))

	// More keys than the sqlite bind variable limit.
	keys := make([]string, 70000)
	for i := range keys {
		keys[i] = fmt.Sprintf("owner:%05d", i)
	}
	many, err := store.GetMany(ctx, "access_matrix", keys)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"owner:00007": []byte(`"u1"`),
		"owner:69999": []byte(`"u2"`),
	}, many)

	deletes := make([]projection.Write, 0, len(keys))
	for _, k := range keys {
		deletes = append(deletes, projection.Write{Key: k, Delete: true})
	}
	require.NoError(t, store.Commit(ctx, "access_matrix", "*", 2, deletes))
	kvs, err := store.Scan(ctx, "access_matrix", "")
	require.NoError(t, err)
	assert.Empty(t, kvs)
}
