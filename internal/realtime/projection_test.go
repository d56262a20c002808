package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/metrics"
	"family-shopping/backend/internal/models"
	"family-shopping/backend/internal/shopping"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, s *Stream) models.ShoppingList {
	t.Helper()
	select {
	case l, ok := <-s.Lists():
		require.True(t, ok, "stream closed early: %v", s.Err())
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a list")
	}
	return models.ShoppingList{}
}

func waitClosed(t *testing.T, s *Stream) {
	t.Helper()
	for {
		select {
		case _, ok := <-s.Lists():
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not close")
		}
	}
}

func TestSubscribeEmitsEmptyThenChanges(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemory()
	m := metrics.New()
	p := NewProjector(store, logger.Discard(), m)
	svc := shopping.NewService(store, logger.Discard(), m)

	stream, err := p.Subscribe(ctx, "F1")
	require.NoError(t, err)
	defer stream.Close()

	first := next(t, stream)
	assert.Equal(t, "F1", first.ID)
	assert.Equal(t, "F1", first.FamilyID)
	assert.Empty(t, first.Items)
	assert.Equal(t, models.StatusActive, first.Status)

	_, err = svc.AddItem(ctx, "F1", shopping.ItemInput{
		Name:     "Milk",
		Quantity: decimal.NewFromInt(2),
		Price:    decimal.NewNullDecimal(decimal.RequireFromString("3.5")),
	})
	require.NoError(t, err)

	second := next(t, stream)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "Milk", second.Items[0].Name)
	assert.True(t, second.TotalValue.Equal(decimal.NewFromInt(7)))

	_, err = svc.FinishShopping(ctx, "F1", shopping.FinishOptions{})
	require.NoError(t, err)
	third := next(t, stream)
	assert.Empty(t, third.Items)
}

func TestCloseReleasesWatch(t *testing.T) {
	store := database.NewMemory()
	p := NewProjector(store, logger.Discard(), metrics.New())

	stream, err := p.Subscribe(context.Background(), "F1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.WatcherCount(database.CurrentLists, "F1"))

	// Nobody reads the pending value; Close must still return.
	stream.Close()
	stream.Close()
	assert.Equal(t, 0, store.WatcherCount(database.CurrentLists, "F1"))
	assert.NoError(t, stream.Err())
	waitClosed(t, stream)
}

func TestParentContextCancelEndsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := database.NewMemory()
	p := NewProjector(store, logger.Discard(), metrics.New())

	stream, err := p.Subscribe(ctx, "F1")
	require.NoError(t, err)
	next(t, stream)

	cancel()
	waitClosed(t, stream)
	<-stream.Done()
	assert.NoError(t, stream.Err())
	assert.Equal(t, 0, store.WatcherCount(database.CurrentLists, "F1"))
}

func TestStoreErrorTerminatesStream(t *testing.T) {
	w := &database.MockWatcher{
		Docs: []*database.Document{{ID: "F1", Exists: false}},
		Err:  database.ErrUnavailable,
	}
	store := &database.MockStore{
		WatchFunc: func(ctx context.Context, collection, id string) (database.Watcher, error) {
			assert.Equal(t, database.CurrentLists, collection)
			assert.Equal(t, "F1", id)
			return w, nil
		},
	}
	p := NewProjector(store, logger.Discard(), metrics.New())

	stream, err := p.Subscribe(context.Background(), "F1")
	require.NoError(t, err)
	first := next(t, stream)
	assert.Empty(t, first.Items)

	waitClosed(t, stream)
	<-stream.Done()
	require.Error(t, stream.Err())
	assert.Equal(t, apperr.KindStoreUnavailable, apperr.KindOf(stream.Err()))
	assert.Equal(t, 1, w.Stopped)

	stream.Close()
	assert.Equal(t, 1, w.Stopped)
}

func TestStoreClosedWatchIsAnError(t *testing.T) {
	w := &database.MockWatcher{}
	store := &database.MockStore{
		WatchFunc: func(ctx context.Context, collection, id string) (database.Watcher, error) {
			return w, nil
		},
	}
	p := NewProjector(store, logger.Discard(), metrics.New())

	stream, err := p.Subscribe(context.Background(), "F1")
	require.NoError(t, err)
	waitClosed(t, stream)
	<-stream.Done()
	assert.True(t, errors.Is(stream.Err(), database.ErrWatchClosed))
	assert.Equal(t, apperr.KindStoreUnavailable, apperr.KindOf(stream.Err()))
}

func TestSubscribeFailures(t *testing.T) {
	store := &database.MockStore{
		WatchFunc: func(ctx context.Context, collection, id string) (database.Watcher, error) {
			return nil, database.ErrUnavailable
		},
	}
	p := NewProjector(store, logger.Discard(), metrics.New())

	_, err := p.Subscribe(context.Background(), "F1")
	assert.Equal(t, apperr.KindStoreUnavailable, apperr.KindOf(err))

	_, err = p.Subscribe(context.Background(), "")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}
