package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMemoryGetSetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Get(ctx, CurrentLists, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, CurrentLists, "f1", map[string]any{"name": "x"}), ErrNotFound)

	require.NoError(t, s.Set(ctx, CurrentLists, "f1", map[string]any{"familyId": "f1", "items": []any{}}))
	require.NoError(t, s.Update(ctx, CurrentLists, "f1", map[string]any{"name": "Weekly"}))

	doc, err := s.Get(ctx, CurrentLists, "f1")
	require.NoError(t, err)
	assert.True(t, doc.Exists)
	assert.Equal(t, "f1", doc.ID)
	assert.Equal(t, "Weekly", doc.Fields["name"])
	assert.Equal(t, "f1", doc.Fields["familyId"])
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	fields := map[string]any{"items": []any{map[string]any{"id": "1"}}}
	require.NoError(t, s.Set(ctx, CurrentLists, "f1", fields))

	fields["items"].([]any)[0].(map[string]any)["id"] = "mutated"
	doc, err := s.Get(ctx, CurrentLists, "f1")
	require.NoError(t, err)
	doc.Fields["items"].([]any)[0].(map[string]any)["id"] = "mutated again"

	doc, err = s.Get(ctx, CurrentLists, "f1")
	require.NoError(t, err)
	assert.Equal(t, "1", doc.Fields["items"].([]any)[0].(map[string]any)["id"])
}

func TestMemoryArrayOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	assert.ErrorIs(t, s.ArrayUnion(ctx, Families, "fam", "memberIds", "u1"), ErrNotFound)

	require.NoError(t, s.Set(ctx, Families, "fam", map[string]any{"memberIds": []string{"u1"}}))
	require.NoError(t, s.ArrayUnion(ctx, Families, "fam", "memberIds", "u2"))
	require.NoError(t, s.ArrayUnion(ctx, Families, "fam", "memberIds", "u2"))

	doc, err := s.Get(ctx, Families, "fam")
	require.NoError(t, err)
	assert.Equal(t, []any{"u1", "u2"}, doc.Fields["memberIds"])

	require.NoError(t, s.ArrayRemove(ctx, Families, "fam", "memberIds", "u1"))
	require.NoError(t, s.ArrayRemove(ctx, Families, "fam", "memberIds", "missing"))
	doc, err = s.Get(ctx, Families, "fam")
	require.NoError(t, err)
	assert.Equal(t, []any{"u2"}, doc.Fields["memberIds"])
}

func TestMemoryArrayRemoveMatchesWholeValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	created := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	item := map[string]any{"id": "1", "name": "Milk", "createdAt": created}
	require.NoError(t, s.Set(ctx, CurrentLists, "f1", map[string]any{"items": []any{item}}))

	stale := map[string]any{"id": "1", "name": "Milk (old)", "createdAt": created}
	require.NoError(t, s.ArrayRemove(ctx, CurrentLists, "f1", "items", stale))
	doc, _ := s.Get(ctx, CurrentLists, "f1")
	assert.Len(t, doc.Fields["items"], 1)

	require.NoError(t, s.ArrayRemove(ctx, CurrentLists, "f1", "items", item))
	doc, _ = s.Get(ctx, CurrentLists, "f1")
	assert.Empty(t, doc.Fields["items"])
}

func TestMemoryConcurrentArrayUnion(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, CurrentLists, "f1", map[string]any{"items": []any{}}))

	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			return s.ArrayUnion(ctx, CurrentLists, "f1", "items", map[string]any{"id": fmt.Sprint(i)})
		})
	}
	require.NoError(t, g.Wait())

	doc, err := s.Get(ctx, CurrentLists, "f1")
	require.NoError(t, err)
	assert.Len(t, doc.Fields["items"], 25)
}

func TestMemoryFind(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, fam := range []string{"f1", "f2", "f1", "f1"} {
		_, err := s.Add(ctx, History, map[string]any{
			"familyId":    fam,
			"completedAt": base.Add(time.Duration(i) * time.Hour),
			"n":           i,
		})
		require.NoError(t, err)
	}

	docs, err := s.Find(ctx, Query{
		Collection: History,
		Where:      []Filter{{Field: "familyId", Value: "f1"}},
		OrderBy:    "completedAt",
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, int64(3), docs[0].Fields["n"])
	assert.Equal(t, int64(2), docs[1].Fields["n"])
	assert.Equal(t, int64(0), docs[2].Fields["n"])

	docs, err = s.Find(ctx, Query{Collection: History, OrderBy: "completedAt", Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(0), docs[0].Fields["n"])

	docs, err = s.Find(ctx, Query{Collection: History, Where: []Filter{{Field: "familyId", Value: "none"}}})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestMemoryTransactionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Set(ctx, Families, "counter", map[string]any{"n": 0}))

	increment := func() error {
		return s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			doc, err := tx.Get(Families, "counter")
			if err != nil {
				return err
			}
			n := doc.Fields["n"].(int64)
			return tx.Update(Families, "counter", map[string]any{"n": n + 1})
		})
	}

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(increment)
	}
	require.NoError(t, g.Wait())

	doc, err := s.Get(ctx, Families, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(20), doc.Fields["n"])
}

func TestMemoryTransactionBodyErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Add(History, map[string]any{"familyId": "f1"}); err != nil {
			return err
		}
		require.NoError(t, tx.Set(CurrentLists, "f1", map[string]any{"items": []any{}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	docs, err := s.Find(ctx, Query{Collection: History})
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = s.Get(ctx, CurrentLists, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransactionReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Get(CurrentLists, "f1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, tx.ArrayUnion(CurrentLists, "f1", "items", "a"), ErrNotFound)

		require.NoError(t, tx.Set(CurrentLists, "f1", map[string]any{"items": []any{}}))
		require.NoError(t, tx.ArrayUnion(CurrentLists, "f1", "items", "a"))
		doc, err := tx.Get(CurrentLists, "f1")
		require.NoError(t, err)
		assert.Equal(t, []any{"a"}, doc.Fields["items"])
		return nil
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, CurrentLists, "f1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, doc.Fields["items"])
}

func TestMemoryTransactionGivesUp(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	s.maxAttempts = 3
	require.NoError(t, s.Set(ctx, Families, "fam", map[string]any{"n": 0}))

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		if _, err := tx.Get(Families, "fam"); err != nil {
			return err
		}
		// A concurrent writer commits between every read and commit.
		require.NoError(t, s.Update(ctx, Families, "fam", map[string]any{"n": attempts}))
		return tx.Update(Families, "fam", map[string]any{"n": -1})
	})
	assert.ErrorIs(t, err, ErrTxAborted)
	assert.Equal(t, 3, attempts)
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory()

	_, err := s.Get(ctx, CurrentLists, "f1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Set(ctx, CurrentLists, "f1", nil), ErrUnavailable)
	assert.ErrorIs(t, s.RunTransaction(ctx, func(context.Context, Tx) error { return nil }), ErrUnavailable)
}

func TestMemoryWatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	w, err := s.Watch(ctx, CurrentLists, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.WatcherCount(CurrentLists, "f1"))

	doc, err := w.Next()
	require.NoError(t, err)
	assert.False(t, doc.Exists)
	assert.Equal(t, "f1", doc.ID)

	require.NoError(t, s.Set(ctx, CurrentLists, "f1", map[string]any{"name": "a"}))
	doc, err = w.Next()
	require.NoError(t, err)
	assert.True(t, doc.Exists)
	assert.Equal(t, "a", doc.Fields["name"])

	// Changes made while nobody reads coalesce into the latest state.
	require.NoError(t, s.Update(ctx, CurrentLists, "f1", map[string]any{"name": "b"}))
	require.NoError(t, s.Update(ctx, CurrentLists, "f1", map[string]any{"name": "c"}))
	doc, err = w.Next()
	require.NoError(t, err)
	assert.Equal(t, "c", doc.Fields["name"])

	w.Stop()
	w.Stop()
	assert.Equal(t, 0, s.WatcherCount(CurrentLists, "f1"))
	_, err = w.Next()
	assert.ErrorIs(t, err, ErrWatchClosed)
}

func TestMemoryWatchUnblocksOnStop(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Set(context.Background(), CurrentLists, "f1", map[string]any{}))
	w, err := s.Watch(context.Background(), CurrentLists, "f1")
	require.NoError(t, err)
	_, err = w.Next()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var nextErr error
	go func() {
		defer wg.Done()
		_, nextErr = w.Next()
	}()
	time.Sleep(10 * time.Millisecond)
	w.Stop()
	wg.Wait()
	assert.ErrorIs(t, nextErr, ErrWatchClosed)
}

func TestMemoryNormalizesTimes(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	loc := time.FixedZone("BRT", -3*3600)
	at := time.Date(2024, 5, 2, 9, 30, 0, 987654321, loc)
	require.NoError(t, s.Set(ctx, History, "h1", map[string]any{"completedAt": at}))

	doc, err := s.Get(ctx, History, "h1")
	require.NoError(t, err)
	got := doc.Fields["completedAt"].(time.Time)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(at.Truncate(time.Microsecond)))
}

func TestMockStoreDelegatesToBase(t *testing.T) {
	ctx := context.Background()
	m := &MockStore{
		Base: NewMemory(),
		GetFunc: func(ctx context.Context, collection, id string) (*Document, error) {
			return nil, ErrUnavailable
		},
	}
	require.NoError(t, m.Set(ctx, Users, "u1", map[string]any{"email": "a@b.c"}))
	_, err := m.Get(ctx, Users, "u1")
	assert.ErrorIs(t, err, ErrUnavailable)

	docs, err := m.Find(ctx, Query{Collection: Users})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
