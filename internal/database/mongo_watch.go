package database

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoWatcher struct {
	store      *mongoStore
	ctx        context.Context
	cancel     context.CancelFunc
	collection string
	id         string
	stream     *mongo.ChangeStream
	primed     bool
	stopOnce   sync.Once
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
}

func (w *mongoWatcher) Next() (*Document, error) {
	if !w.primed {
		w.primed = true
		doc, err := w.store.Get(w.ctx, w.collection, w.id)
		if err == ErrNotFound {
			return w.absent(), nil
		}
		if err != nil {
			return nil, w.closedOr(err)
		}
		return doc, nil
	}

	for {
		if !w.stream.Next(w.ctx) {
			if err := w.stream.Err(); err != nil {
				return nil, w.closedOr(classifyMongo(err))
			}
			return nil, ErrWatchClosed
		}
		var ev changeEvent
		if err := w.stream.Decode(&ev); err != nil {
			return nil, w.closedOr(err)
		}
		switch ev.OperationType {
		case "delete":
			return w.absent(), nil
		case "insert", "replace", "update":
			if ev.FullDocument == nil {
				return w.absent(), nil
			}
			return toDocument(ev.FullDocument), nil
		case "invalidate", "drop", "dropDatabase", "rename":
			return nil, ErrWatchClosed
		}
	}
}

func (w *mongoWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		_ = w.stream.Close(context.Background())
	})
}

func (w *mongoWatcher) absent() *Document {
	return &Document{ID: w.id, Exists: false}
}

func (w *mongoWatcher) closedOr(err error) error {
	if w.ctx.Err() != nil {
		return ErrWatchClosed
	}
	return err
}
