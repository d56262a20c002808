// Package realtime projects a family's current-list document into a stream of decoded lists.
package realtime

import (
	"context"
	"errors"
	"sync"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/metrics"
	"family-shopping/backend/internal/models"
	"family-shopping/backend/internal/shopping"

	"github.com/sirupsen/logrus"
)

type Projector struct {
	store   database.Store
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func NewProjector(store database.Store, log logrus.FieldLogger, m *metrics.Metrics) *Projector {
	return &Projector{
		store:   store,
		log:     logger.Component(log, "realtime"),
		metrics: m,
	}
}

// Stream delivers the current list of one family: first its present state, then one value per
// change. A missing document is delivered as an empty list. The channel returned by Lists is
// closed when the stream ends; Err then tells whether it ended on a store failure.
type Stream struct {
	familyID  string
	lists     chan models.ShoppingList
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe starts watching the family's current list. The stream ends when ctx is cancelled,
// when Close is called, or on the first store error.
func (p *Projector) Subscribe(ctx context.Context, familyID string) (*Stream, error) {
	if familyID == "" {
		return nil, apperr.Unauthenticated("user does not belong to a family")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	w, err := p.store.Watch(streamCtx, database.CurrentLists, familyID)
	if err != nil {
		cancel()
		return nil, apperr.Wrap(err, "failed to subscribe to shopping list")
	}

	s := &Stream{
		familyID: familyID,
		lists:    make(chan models.ShoppingList),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	if p.metrics != nil {
		p.metrics.RealtimeStreams.Inc()
	}
	go p.pump(streamCtx, s, w)
	return s, nil
}

func (p *Projector) pump(ctx context.Context, s *Stream, w database.Watcher) {
	defer func() {
		w.Stop()
		close(s.lists)
		close(s.done)
		if p.metrics != nil {
			p.metrics.RealtimeStreams.Dec()
		}
	}()

	for {
		doc, err := w.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, database.ErrWatchClosed) {
				err = apperr.New(apperr.KindStoreUnavailable, "shopping list subscription closed by the store", err)
			} else {
				err = apperr.Wrap(err, "shopping list subscription failed")
			}
			p.log.WithField("family_id", s.familyID).WithError(err).Warn("current list stream ended")
			s.setErr(err)
			return
		}

		select {
		case s.lists <- shopping.CurrentFromDocument(s.familyID, doc):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) Lists() <-chan models.ShoppingList {
	return s.lists
}

// Err returns the failure that ended the stream, or nil if it is still open or was closed by
// its owner.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Done is closed once the stream has released its store subscription.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream and waits until the store subscription is released. It is safe to call
// more than once and from several goroutines.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}
