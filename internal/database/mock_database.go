package database

import (
	"context"
)

// MockStore lets tests replace single operations. Operations without a func set are passed to
// Base, so a test can fail one call against an otherwise working store.
type MockStore struct {
	Base Store

	HealthFunc         func(ctx context.Context) map[string]string
	CloseFunc          func(ctx context.Context) error
	GetFunc            func(ctx context.Context, collection, id string) (*Document, error)
	SetFunc            func(ctx context.Context, collection, id string, fields map[string]any) error
	UpdateFunc         func(ctx context.Context, collection, id string, fields map[string]any) error
	ArrayUnionFunc     func(ctx context.Context, collection, id, field string, value any) error
	ArrayRemoveFunc    func(ctx context.Context, collection, id, field string, value any) error
	AddFunc            func(ctx context.Context, collection string, fields map[string]any) (string, error)
	FindFunc           func(ctx context.Context, q Query) ([]Document, error)
	RunTransactionFunc func(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	WatchFunc          func(ctx context.Context, collection, id string) (Watcher, error)
}

func (m *MockStore) Health(ctx context.Context) map[string]string {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return m.Base.Health(ctx)
}

func (m *MockStore) Close(ctx context.Context) error {
	if m.CloseFunc != nil {
		return m.CloseFunc(ctx)
	}
	return m.Base.Close(ctx)
}

func (m *MockStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, collection, id)
	}
	return m.Base.Get(ctx, collection, id)
}

func (m *MockStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, collection, id, fields)
	}
	return m.Base.Set(ctx, collection, id, fields)
}

func (m *MockStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, collection, id, fields)
	}
	return m.Base.Update(ctx, collection, id, fields)
}

func (m *MockStore) ArrayUnion(ctx context.Context, collection, id, field string, value any) error {
	if m.ArrayUnionFunc != nil {
		return m.ArrayUnionFunc(ctx, collection, id, field, value)
	}
	return m.Base.ArrayUnion(ctx, collection, id, field, value)
}

func (m *MockStore) ArrayRemove(ctx context.Context, collection, id, field string, value any) error {
	if m.ArrayRemoveFunc != nil {
		return m.ArrayRemoveFunc(ctx, collection, id, field, value)
	}
	return m.Base.ArrayRemove(ctx, collection, id, field, value)
}

func (m *MockStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, collection, fields)
	}
	return m.Base.Add(ctx, collection, fields)
}

func (m *MockStore) Find(ctx context.Context, q Query) ([]Document, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, q)
	}
	return m.Base.Find(ctx, q)
}

func (m *MockStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if m.RunTransactionFunc != nil {
		return m.RunTransactionFunc(ctx, fn)
	}
	return m.Base.RunTransaction(ctx, fn)
}

func (m *MockStore) Watch(ctx context.Context, collection, id string) (Watcher, error) {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, collection, id)
	}
	return m.Base.Watch(ctx, collection, id)
}

// MockWatcher replays Docs in order, then returns Err (ErrWatchClosed when nil).
type MockWatcher struct {
	Docs    []*Document
	Err     error
	Stopped int
}

func (w *MockWatcher) Next() (*Document, error) {
	if len(w.Docs) > 0 {
		doc := w.Docs[0]
		w.Docs = w.Docs[1:]
		return doc, nil
	}
	if w.Err != nil {
		return nil, w.Err
	}
	return nil, ErrWatchClosed
}

func (w *MockWatcher) Stop() { w.Stopped++ }
