package database

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryAttempts = 50

type memDoc struct {
	fields  map[string]any
	version uint64
}

// MemoryStore is an in-process Store with the same semantics as the hosted backends:
// atomic array operations, optimistic transactions retried on conflict, and watches.
type MemoryStore struct {
	mu          sync.Mutex
	seq         uint64
	docs        map[string]*memDoc
	watchers    map[string]map[*memoryWatcher]struct{}
	maxAttempts int
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]*memDoc),
		watchers:    make(map[string]map[*memoryWatcher]struct{}),
		maxAttempts: defaultMemoryAttempts,
	}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func (s *MemoryStore) Health(_ context.Context) map[string]string {
	return map[string]string{
		"status":  "up",
		"message": "In-memory store is responding",
	}
}

func (s *MemoryStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.watchers {
		for w := range set {
			w.cancel()
		}
	}
	s.watchers = make(map[string]map[*memoryWatcher]struct{})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docKey(collection, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Fields: copyFields(d.fields), Exists: true}, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.write(ctx, collection, id, func(_ map[string]any, _ bool) (map[string]any, error) {
		return copyFields(fields), nil
	})
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.write(ctx, collection, id, func(current map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, ErrNotFound
		}
		return applyUpdate(current, fields), nil
	})
}

func (s *MemoryStore) ArrayUnion(ctx context.Context, collection, id, field string, value any) error {
	return s.write(ctx, collection, id, func(current map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, ErrNotFound
		}
		return applyArrayUnion(current, field, value), nil
	})
}

func (s *MemoryStore) ArrayRemove(ctx context.Context, collection, id, field string, value any) error {
	return s.write(ctx, collection, id, func(current map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, ErrNotFound
		}
		return applyArrayRemove(current, field, value), nil
	})
}

func (s *MemoryStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// write applies fn to the current document atomically.
func (s *MemoryStore) write(ctx context.Context, collection, id string, fn func(current map[string]any, exists bool) (map[string]any, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := docKey(collection, id)
	var current map[string]any
	d, exists := s.docs[key]
	if exists {
		current = d.fields
	}
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	s.commitLocked(key, id, next)
	return nil
}

func (s *MemoryStore) commitLocked(key, id string, fields map[string]any) {
	s.seq++
	s.docs[key] = &memDoc{fields: fields, version: s.seq}
	for w := range s.watchers[key] {
		w.push(&Document{ID: id, Fields: copyFields(fields), Exists: true})
	}
}

func (s *MemoryStore) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	prefix := q.Collection + "/"
	var docs []Document
	for key, d := range s.docs {
		if !strings.HasPrefix(key, prefix) || !matches(d.fields, q.Where) {
			continue
		}
		docs = append(docs, Document{ID: strings.TrimPrefix(key, prefix), Fields: copyFields(d.fields), Exists: true})
	}
	s.mu.Unlock()

	if q.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			less := lessValue(docs[i].Fields[q.OrderBy], docs[j].Fields[q.OrderBy])
			if q.Descending {
				return lessValue(docs[j].Fields[q.OrderBy], docs[i].Fields[q.OrderBy])
			}
			return less
		})
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// RunTransaction runs fn against a private overlay and commits only if every document it
// touched is still at the version it saw. On conflict fn runs again.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		tx := &memoryTx{store: s, touched: make(map[string]*txEntry)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.tryCommit(tx) {
			return nil
		}
	}
	return ErrTxAborted
}

func (s *MemoryStore) tryCommit(tx *memoryTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range tx.touched {
		var version uint64
		if d, ok := s.docs[key]; ok {
			version = d.version
		}
		if version != e.version {
			return false
		}
	}
	for _, key := range tx.order {
		e := tx.touched[key]
		if e.dirty {
			s.commitLocked(key, e.id, e.fields)
		}
	}
	return true
}

func (s *MemoryStore) Watch(ctx context.Context, collection, id string) (Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	w := &memoryWatcher{
		store:  s,
		key:    docKey(collection, id),
		ctx:    watchCtx,
		cancel: cancel,
		signal: make(chan struct{}, 1),
	}

	s.mu.Lock()
	if d, ok := s.docs[w.key]; ok {
		w.push(&Document{ID: id, Fields: copyFields(d.fields), Exists: true})
	} else {
		w.push(&Document{ID: id, Exists: false})
	}
	if s.watchers[w.key] == nil {
		s.watchers[w.key] = make(map[*memoryWatcher]struct{})
	}
	s.watchers[w.key][w] = struct{}{}
	s.mu.Unlock()

	return w, nil
}

func (s *MemoryStore) removeWatcher(w *memoryWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.watchers[w.key]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(s.watchers, w.key)
		}
	}
}

// WatcherCount reports how many watches are registered on a document.
func (s *MemoryStore) WatcherCount(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[docKey(collection, id)])
}

type txEntry struct {
	id      string
	fields  map[string]any
	exists  bool
	version uint64
	dirty   bool
}

type memoryTx struct {
	store   *MemoryStore
	touched map[string]*txEntry
	order   []string
}

func (t *memoryTx) entry(collection, id string) *txEntry {
	key := docKey(collection, id)
	if e, ok := t.touched[key]; ok {
		return e
	}
	t.store.mu.Lock()
	e := &txEntry{id: id}
	if d, ok := t.store.docs[key]; ok {
		e.fields = copyFields(d.fields)
		e.exists = true
		e.version = d.version
	}
	t.store.mu.Unlock()
	t.touched[key] = e
	t.order = append(t.order, key)
	return e
}

func (t *memoryTx) Get(collection, id string) (*Document, error) {
	e := t.entry(collection, id)
	if !e.exists {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Fields: copyFields(e.fields), Exists: true}, nil
}

func (t *memoryTx) Set(collection, id string, fields map[string]any) error {
	e := t.entry(collection, id)
	e.fields, e.exists, e.dirty = copyFields(fields), true, true
	return nil
}

func (t *memoryTx) Update(collection, id string, fields map[string]any) error {
	return t.modify(collection, id, func(current map[string]any) map[string]any {
		return applyUpdate(current, fields)
	})
}

func (t *memoryTx) ArrayUnion(collection, id, field string, value any) error {
	return t.modify(collection, id, func(current map[string]any) map[string]any {
		return applyArrayUnion(current, field, value)
	})
}

func (t *memoryTx) ArrayRemove(collection, id, field string, value any) error {
	return t.modify(collection, id, func(current map[string]any) map[string]any {
		return applyArrayRemove(current, field, value)
	})
}

func (t *memoryTx) modify(collection, id string, fn func(map[string]any) map[string]any) error {
	e := t.entry(collection, id)
	if !e.exists {
		return ErrNotFound
	}
	e.fields, e.dirty = fn(e.fields), true
	return nil
}

func (t *memoryTx) Add(collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	return id, t.Set(collection, id, fields)
}

type memoryWatcher struct {
	store    *MemoryStore
	key      string
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	pending  *Document
	signal   chan struct{}
	stopOnce sync.Once
}

// push keeps only the latest snapshot; a slow reader skips intermediate states.
func (w *memoryWatcher) push(doc *Document) {
	w.mu.Lock()
	w.pending = doc
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) Next() (*Document, error) {
	for {
		w.mu.Lock()
		doc := w.pending
		w.pending = nil
		w.mu.Unlock()
		if doc != nil {
			return doc, nil
		}
		select {
		case <-w.signal:
		case <-w.ctx.Done():
			return nil, ErrWatchClosed
		}
	}
}

func (w *memoryWatcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.store.removeWatcher(w)
	})
}

func applyUpdate(current, fields map[string]any) map[string]any {
	next := copyFields(current)
	for k, v := range fields {
		next[k] = copyValue(v)
	}
	return next
}

func applyArrayUnion(current map[string]any, field string, value any) map[string]any {
	next := copyFields(current)
	arr, _ := next[field].([]any)
	v := copyValue(value)
	for _, existing := range arr {
		if reflect.DeepEqual(existing, v) {
			return next
		}
	}
	next[field] = append(arr, v)
	return next
}

func applyArrayRemove(current map[string]any, field string, value any) map[string]any {
	next := copyFields(current)
	arr, _ := next[field].([]any)
	v := copyValue(value)
	kept := make([]any, 0, len(arr))
	for _, existing := range arr {
		if !reflect.DeepEqual(existing, v) {
			kept = append(kept, existing)
		}
	}
	next[field] = kept
	return next
}

func matches(fields map[string]any, where []Filter) bool {
	for _, f := range where {
		if !reflect.DeepEqual(fields[f.Field], copyValue(f.Value)) {
			return false
		}
	}
	return true
}

func lessValue(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Before(y)
	case float64:
		y, ok := b.(float64)
		return ok && x < y
	case int64:
		y, ok := b.(int64)
		return ok && x < y
	case string:
		y, ok := b.(string)
		return ok && x < y
	case nil:
		return b != nil
	}
	return false
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue deep-copies containers and stores timestamps at microsecond precision in UTC,
// the finest precision Firestore keeps.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyFields(t)
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyFields(val)
		}
		return out
	case time.Time:
		return t.UTC().Truncate(time.Microsecond)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Truncate(time.Microsecond)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}
