package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	Users        = "users"
	Families     = "families"
	CurrentLists = "currentLists"
	History      = "history"
	// InviteCodes maps each invite code, used as the document id, to its family.
	InviteCodes = "inviteCodes"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnavailable = errors.New("document store unavailable")
	ErrWatchClosed = errors.New("watch closed")
	ErrTxAborted   = errors.New("transaction aborted after too many conflicts")
)

// Document is one stored document. Exists is false only on watch snapshots of a missing document.
type Document struct {
	ID     string
	Fields map[string]any
	Exists bool
}

type Filter struct {
	Field string
	Value any
}

type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Tx is the view a transaction body gets. Reads must happen before writes and the body must
// derive every write from what it read, because the store may run it more than once.
type Tx interface {
	Get(collection, id string) (*Document, error)
	Set(collection, id string, fields map[string]any) error
	Update(collection, id string, fields map[string]any) error
	ArrayUnion(collection, id, field string, value any) error
	ArrayRemove(collection, id, field string, value any) error
	Add(collection string, fields map[string]any) (string, error)
}

// Watcher yields the current state of one document, then one snapshot per change.
type Watcher interface {
	Next() (*Document, error)
	Stop()
}

type Store interface {
	Health(ctx context.Context) map[string]string
	Close(ctx context.Context) error

	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	ArrayUnion(ctx context.Context, collection, id, field string, value any) error
	ArrayRemove(ctx context.Context, collection, id, field string, value any) error
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Find(ctx context.Context, q Query) ([]Document, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Watch(ctx context.Context, collection, id string) (Watcher, error)
}

type mongoStore struct {
	db *mongo.Database
}

// NewMongo connects to MongoDB. Transactions and change streams need a replica set.
func NewMongo(ctx context.Context, uri, dbName string) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return &mongoStore{db: client.Database(dbName)}, nil
}

func (s *mongoStore) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	err := s.db.Client().Ping(ctx, nil)
	if err != nil {
		return map[string]string{
			"status":  "down",
			"error":   err.Error(),
			"message": "MongoDB is not responding",
		}
	}

	return map[string]string{
		"status":  "up",
		"message": "MongoDB is responding",
	}
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *mongoStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		return nil, classifyMongo(err)
	}
	return toDocument(raw), nil
}

func (s *mongoStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	doc := withID(id, fields)
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	return classifyMongo(err)
}

func (s *mongoStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.updateOne(ctx, collection, id, bson.M{"$set": fields})
}

func (s *mongoStore) ArrayUnion(ctx context.Context, collection, id, field string, value any) error {
	return s.updateOne(ctx, collection, id, bson.M{"$addToSet": bson.M{field: value}})
}

// ArrayRemove pulls elements equal to value. For documents MongoDB matches on fields and
// values regardless of field order.
func (s *mongoStore) ArrayRemove(ctx context.Context, collection, id, field string, value any) error {
	return s.updateOne(ctx, collection, id, bson.M{"$pull": bson.M{field: value}})
}

func (s *mongoStore) updateOne(ctx context.Context, collection, id string, update bson.M) error {
	result, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return classifyMongo(err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := primitive.NewObjectID().Hex()
	if _, err := s.db.Collection(collection).InsertOne(ctx, withID(id, fields)); err != nil {
		return "", classifyMongo(err)
	}
	return id, nil
}

func (s *mongoStore) Find(ctx context.Context, q Query) ([]Document, error) {
	filter := bson.M{}
	for _, f := range q.Where {
		filter[f.Field] = f.Value
	}
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongo(err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err = cursor.All(ctx, &raws); err != nil {
		return nil, classifyMongo(err)
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, *toDocument(raw))
	}
	return docs, nil
}

// RunTransaction runs fn in a session transaction. The driver re-runs fn on
// TransientTransactionError, which is how write conflicts are reported.
func (s *mongoStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return classifyMongo(err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &mongoTx{store: s, ctx: sc})
	})
	return err
}

func (s *mongoStore) Watch(ctx context.Context, collection, id string) (Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	// The stream is opened before the initial read so no change between the two is missed.
	stream, err := s.db.Collection(collection).Watch(watchCtx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, classifyMongo(err)
	}
	return &mongoWatcher{
		store:      s,
		ctx:        watchCtx,
		cancel:     cancel,
		collection: collection,
		id:         id,
		stream:     stream,
	}, nil
}

type mongoTx struct {
	store *mongoStore
	ctx   context.Context
}

func (t *mongoTx) Get(collection, id string) (*Document, error) {
	return t.store.Get(t.ctx, collection, id)
}

func (t *mongoTx) Set(collection, id string, fields map[string]any) error {
	return t.store.Set(t.ctx, collection, id, fields)
}

func (t *mongoTx) Update(collection, id string, fields map[string]any) error {
	return t.store.Update(t.ctx, collection, id, fields)
}

func (t *mongoTx) ArrayUnion(collection, id, field string, value any) error {
	return t.store.ArrayUnion(t.ctx, collection, id, field, value)
}

func (t *mongoTx) ArrayRemove(collection, id, field string, value any) error {
	return t.store.ArrayRemove(t.ctx, collection, id, field, value)
}

func (t *mongoTx) Add(collection string, fields map[string]any) (string, error) {
	return t.store.Add(t.ctx, collection, fields)
}

func withID(id string, fields map[string]any) bson.M {
	doc := make(bson.M, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc["_id"] = id
	return doc
}

func toDocument(raw bson.M) *Document {
	id, _ := raw["_id"].(string)
	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		id = oid.Hex()
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = normalizeBSON(v)
	}
	return &Document{ID: id, Fields: fields, Exists: true}
}

// normalizeBSON turns driver container types into plain maps and slices. Dates stay
// primitive.DateTime; the codec understands them.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	}
	return v
}

func classifyMongo(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
