package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceEventStore struct {
	events []DomainEvent
	calls  int
	failAt int
}

func (s *sliceEventStore) Append(context.Context, *DomainEvent) (int64, error) { return 0, nil }

func (s *sliceEventStore) ListAfter(_ context.Context, entityType string, afterID int64, limit int) ([]DomainEvent, error) {
	s.calls++
	if s.failAt > 0 && s.calls == s.failAt {
		return nil, errors.New("boom")
	}
	var out []DomainEvent
	for _, ev := range s.events {
		if ev.EventID > afterID && (entityType == "" || ev.EntityType == entityType) {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *sliceEventStore) Head(context.Context) (int64, error) { return int64(len(s.events)), nil }

func (s *sliceEventStore) TypeHead(context.Context, string) (int64, error) { return 0, nil }

func (s *sliceEventStore) EntityTypes(context.Context) ([]string, error) { return nil, nil }

func TestReplay(t *testing.T) {
	store := &sliceEventStore{}
	for i := 1; i <= 7; i++ {
		et := "account"
		if i%2 == 0 {
			et = "user"
		}
		store.events = append(store.events, DomainEvent{EventID: int64(i), EntityType: et, EventType: EventTypeCreated})
	}

	t.Run("pages through one type", func(t *testing.T) {
		var ids []int64
		for ev, err := range Replay(context.Background(), store, "account", 0, 2) {
			require.NoError(t, err)
			ids = append(ids, ev.EventID)
		}
		assert.Equal(t, []int64{1, 3, 5, 7}, ids)
	})

	t.Run("restartable from a watermark", func(t *testing.T) {
		var ids []int64
		for ev, err := range Replay(context.Background(), store, "", 4, 10) {
			require.NoError(t, err)
			ids = append(ids, ev.EventID)
		}
		assert.Equal(t, []int64{5, 6, 7}, ids)
	})

	t.Run("stops on early break", func(t *testing.T) {
		n := 0
		for range Replay(context.Background(), store, "", 0, 3) {
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	})

	t.Run("surfaces store errors", func(t *testing.T) {
		failing := &sliceEventStore{events: store.events, failAt: 2}
		var gotErr error
		n := 0
		for _, err := range Replay(context.Background(), failing, "", 0, 2) {
			if err != nil {
				gotErr = err
				break
			}
			n++
		}
		assert.Equal(t, 2, n)
		assert.EqualError(t, gotErr, "boom")
	})
}
