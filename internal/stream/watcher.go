// Package stream turns the document store into a live result-set feed.
//
// A subscription delivers the entire current result set of its query on
// start and again whenever that set changes. Changes are picked up on a poll
// tick or immediately when a writer pokes the collection, either in-process
// or through the Redis bridge.
package stream

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/storage"
)

// DefaultInterval is the fallback re-query period
const DefaultInterval = 5 * time.Second

// Query selects the documents a subscription follows. Window, when set,
// keeps a trailing lower bound of now-Window that moves with every re-query.
type Query struct {
	Collection string
	Window     time.Duration
	Descending bool
	Limit      int
}

// SnapshotFunc receives the entire current result set
type SnapshotFunc func(docs []storage.Document)

// ErrorFunc receives the error that ended a subscription
type ErrorFunc func(err error)

// Unsubscribe ends a subscription and waits for its goroutine
type Unsubscribe func()

// Subscriber is implemented by live document feeds
type Subscriber interface {
	Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
}

// Querier is the slice of the store the watcher needs
type Querier interface {
	QueryDocuments(ctx context.Context, q storage.Query) ([]storage.Document, error)
}

// Watcher implements Subscriber on top of a Querier
type Watcher struct {
	store    Querier
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

type subscription struct {
	query  Query
	poke   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher that re-queries every interval
func NewWatcher(store Querier, interval time.Duration, logger *zap.Logger, m *metrics.Metrics) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Watcher{
		store:    store,
		interval: interval,
		logger:   logger.Named("stream"),
		metrics:  m,
		now:      time.Now,
		subs:     make(map[uint64]*subscription),
	}
}

// Subscribe starts following q. The first result set is delivered from the
// subscription goroutine, not synchronously. After onError fires the
// subscription is finished and delivers nothing more.
func (w *Watcher) Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("snapshot callback is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		query:  q,
		poke:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subs[id] = sub
	w.mu.Unlock()

	go w.run(subCtx, id, sub, onSnapshot, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancel()
			<-sub.done
		})
	}, nil
}

// Poke schedules an immediate re-query of every subscription on collection
func (w *Watcher) Poke(collection string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subs {
		if sub.query.Collection != collection {
			continue
		}
		select {
		case sub.poke <- struct{}{}:
		default:
		}
	}
}

// Subscriptions reports how many subscriptions are live
func (w *Watcher) Subscriptions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Close ends every subscription
func (w *Watcher) Close() {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

func (w *Watcher) run(ctx context.Context, id uint64, sub *subscription, onSnapshot SnapshotFunc, onError ErrorFunc) {
	defer func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
		close(sub.done)
	}()

	logger := w.logger.With(zap.String("collection", sub.query.Collection))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last uint64
	first := true
	for {
		docs, err := w.store.QueryDocuments(ctx, w.storageQuery(sub.query))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("subscription failed", zap.Error(err))
			w.metrics.StreamErrors.WithLabelValues(sub.query.Collection).Inc()
			if onError != nil {
				onError(err)
			}
			return
		}

		if fp := fingerprint(docs); first || fp != last {
			first = false
			last = fp
			if ctx.Err() != nil {
				return
			}
			w.metrics.StreamSnapshots.WithLabelValues(sub.query.Collection).Inc()
			onSnapshot(docs)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sub.poke:
		}
	}
}

func (w *Watcher) storageQuery(q Query) storage.Query {
	sq := storage.Query{
		Collection: q.Collection,
		Descending: q.Descending,
		Limit:      q.Limit,
	}
	if q.Window > 0 {
		since := w.now().Add(-q.Window)
		sq.Since = &since
	}
	return sq
}

// fingerprint identifies a result set by its ordered document IDs.
// Stored documents are immutable, so IDs are enough.
func fingerprint(docs []storage.Document) uint64 {
	h := fnv.New64a()
	for _, d := range docs {
		h.Write([]byte(d.ID))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
