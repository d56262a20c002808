package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firestoreStore struct {
	client *firestore.Client
}

// NewFirestore opens a Firestore client. Without a credentials file the client falls back to
// application default credentials (or FIRESTORE_EMULATOR_HOST).
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &firestoreStore{client: client}, nil
}

func (s *firestoreStore) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := s.client.Collection("_health").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return map[string]string{
			"status":  "down",
			"error":   err.Error(),
			"message": "Firestore is not responding",
		}
	}
	return map[string]string{
		"status":  "up",
		"message": "Firestore is responding",
	}
}

func (s *firestoreStore) Close(_ context.Context) error {
	return s.client.Close()
}

func (s *firestoreStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, classifyFirestore(err)
	}
	return fromSnapshot(snap), nil
}

func (s *firestoreStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, fields)
	return classifyFirestore(err)
}

func (s *firestoreStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, fieldUpdates(fields))
	return classifyFirestore(err)
}

func (s *firestoreStore) ArrayUnion(ctx context.Context, collection, id, field string, value any) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: field, Value: firestore.ArrayUnion(value)},
	})
	return classifyFirestore(err)
}

func (s *firestoreStore) ArrayRemove(ctx context.Context, collection, id, field string, value any) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, []firestore.Update{
		{Path: field, Value: firestore.ArrayRemove(value)},
	})
	return classifyFirestore(err)
}

func (s *firestoreStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, fields)
	if err != nil {
		return "", classifyFirestore(err)
	}
	return ref.ID, nil
}

func (s *firestoreStore) Find(ctx context.Context, q Query) ([]Document, error) {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Where {
		query = query.Where(f.Field, "==", f.Value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Descending {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, classifyFirestore(err)
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, *fromSnapshot(snap))
	}
	return docs, nil
}

// RunTransaction delegates to Firestore, which retries fn when a read document changed
// before commit.
func (s *firestoreStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{client: s.client, tx: tx})
	})
	return classifyFirestore(err)
}

func (s *firestoreStore) Watch(ctx context.Context, collection, id string) (Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(collection).Doc(id).Snapshots(watchCtx)
	return &firestoreWatcher{ctx: watchCtx, cancel: cancel, id: id, it: it}, nil
}

type firestoreTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *firestoreTx) Get(collection, id string) (*Document, error) {
	snap, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	if err != nil {
		return nil, classifyFirestore(err)
	}
	return fromSnapshot(snap), nil
}

func (t *firestoreTx) Set(collection, id string, fields map[string]any) error {
	return t.tx.Set(t.client.Collection(collection).Doc(id), fields)
}

func (t *firestoreTx) Update(collection, id string, fields map[string]any) error {
	return t.tx.Update(t.client.Collection(collection).Doc(id), fieldUpdates(fields))
}

func (t *firestoreTx) ArrayUnion(collection, id, field string, value any) error {
	return t.tx.Update(t.client.Collection(collection).Doc(id), []firestore.Update{
		{Path: field, Value: firestore.ArrayUnion(value)},
	})
}

func (t *firestoreTx) ArrayRemove(collection, id, field string, value any) error {
	return t.tx.Update(t.client.Collection(collection).Doc(id), []firestore.Update{
		{Path: field, Value: firestore.ArrayRemove(value)},
	})
}

func (t *firestoreTx) Add(collection string, fields map[string]any) (string, error) {
	ref := t.client.Collection(collection).NewDoc()
	if err := t.tx.Create(ref, fields); err != nil {
		return "", err
	}
	return ref.ID, nil
}

type firestoreWatcher struct {
	ctx      context.Context
	cancel   context.CancelFunc
	id       string
	it       *firestore.DocumentSnapshotIterator
	stopOnce sync.Once
}

func (w *firestoreWatcher) Next() (*Document, error) {
	snap, err := w.it.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) || w.ctx.Err() != nil {
			return nil, ErrWatchClosed
		}
		return nil, classifyFirestore(err)
	}
	if !snap.Exists() {
		return &Document{ID: w.id, Exists: false}, nil
	}
	return fromSnapshot(snap), nil
}

func (w *firestoreWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.it.Stop()
		w.cancel()
	})
}

func fromSnapshot(snap *firestore.DocumentSnapshot) *Document {
	return &Document{ID: snap.Ref.ID, Fields: snap.Data(), Exists: true}
}

func fieldUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	return updates
}

func classifyFirestore(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
