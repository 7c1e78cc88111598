// Package livesync keeps one resolved, always-current result set per
// admin view on top of a live store subscription.
package livesync

import (
	"context"
	"errors"
	"sync"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/resolver"

	"go.uber.org/zap"
)

// ErrClosed is returned by Retry after Close
var ErrClosed = errors.New("view closed")

// State of a view
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Subscriber opens live queries
type Subscriber interface {
	Subscribe(q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) docstore.Subscription
}

// Resolver turns a snapshot into items
type Resolver interface {
	Resolve(ctx context.Context, docs []docstore.Document) ([]resolver.Item, error)
}

// Snapshot is what a view currently shows
type Snapshot struct {
	// Seq is the delivery the items were resolved from; 0 before the first
	Seq   uint64
	State State
	Items []resolver.Item
	Err   error
}

// Retryable reports whether Retry would help
func (s Snapshot) Retryable() bool { return s.State == StateError }

// View owns exactly one subscription at a time. Every delivery bumps seq
// and cancels the resolution of the previous one; a resolution commits
// only if its seq is still the latest, so an older pass finishing late
// never overwrites a newer one.
type View struct {
	store    Subscriber
	query    docstore.Query
	resolver Resolver
	logger   *zap.Logger

	mu            sync.Mutex
	sub           docstore.Subscription
	gen           uint64
	seq           uint64
	cancelResolve context.CancelFunc
	closed        bool

	state     State
	items     []resolver.Item
	err       error
	committed uint64

	watchers  map[uint64]chan struct{}
	nextWatch uint64
}

func New(store Subscriber, query docstore.Query, res Resolver, logger *zap.Logger) *View {
	return &View{
		store:    store,
		query:    query,
		resolver: res,
		logger:   logger,
		state:    StateLoading,
		watchers: map[uint64]chan struct{}{},
	}
}

// Start opens the subscription
func (v *View) Start() error {
	return v.Retry()
}

// Retry drops the current subscription, if any, and opens a new one
func (v *View) Retry() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.stopLocked()
	v.gen++
	gen := v.gen
	v.state = StateLoading
	v.err = nil
	v.sub = v.store.Subscribe(v.query,
		func(docs []docstore.Document) { v.onSnapshot(gen, docs) },
		func(err error) { v.onError(gen, err) },
	)
	v.mu.Unlock()

	v.notify()
	return nil
}

// Close releases the subscription and cancels in-flight resolution.
// Watch channels are closed. Close is idempotent.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.stopLocked()
	for id, ch := range v.watchers {
		close(ch)
		delete(v.watchers, id)
	}
	v.mu.Unlock()
}

// stopLocked ends the subscription and invalidates every pending pass
func (v *View) stopLocked() {
	v.seq++
	if v.cancelResolve != nil {
		v.cancelResolve()
		v.cancelResolve = nil
	}
	if v.sub != nil {
		v.sub.Unsubscribe()
		v.sub = nil
	}
}

func (v *View) onSnapshot(gen uint64, docs []docstore.Document) {
	v.mu.Lock()
	if v.closed || gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.seq++
	seq := v.seq
	if v.cancelResolve != nil {
		v.cancelResolve()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancelResolve = cancel
	v.mu.Unlock()

	go v.resolve(ctx, cancel, seq, docs)
}

func (v *View) resolve(ctx context.Context, cancel context.CancelFunc, seq uint64, docs []docstore.Document) {
	defer cancel()
	items, err := v.resolver.Resolve(ctx, docs)

	v.mu.Lock()
	if v.closed || seq != v.seq {
		v.mu.Unlock()
		v.logger.Debug("Discarding superseded resolution", zap.Uint64("seq", seq))
		return
	}
	if err != nil {
		v.mu.Unlock()
		v.logger.Debug("Resolution aborted", zap.Uint64("seq", seq), zap.Error(err))
		return
	}
	v.items = items
	v.state = StateReady
	v.err = nil
	v.committed = seq
	v.mu.Unlock()

	v.notify()
}

func (v *View) onError(gen uint64, err error) {
	v.mu.Lock()
	if v.closed || gen != v.gen {
		v.mu.Unlock()
		return
	}
	// the store already ended the subscription
	v.sub = nil
	v.seq++
	if v.cancelResolve != nil {
		v.cancelResolve()
		v.cancelResolve = nil
	}
	v.state = StateError
	v.items = nil
	v.err = err
	v.mu.Unlock()

	v.logger.Warn("Live view subscription failed",
		zap.String("collection", v.query.Collection),
		zap.Error(err),
	)
	v.notify()
}

// Snapshot returns the committed state. Items must not be modified.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{
		Seq:   v.committed,
		State: v.state,
		Items: v.items,
		Err:   v.err,
	}
}

// Find returns the committed item with id
func (v *View) Find(id string) (resolver.Item, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, item := range v.items {
		if item.ID == id {
			return item, true
		}
	}
	return resolver.Item{}, false
}

// Watch returns a channel that receives after every state change, bursts
// coalesced, and a func to stop watching. The channel is closed by Close.
func (v *View) Watch() (<-chan struct{}, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan struct{}, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	v.nextWatch++
	id := v.nextWatch
	v.watchers[id] = ch
	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.watchers[id]; ok {
			delete(v.watchers, id)
			close(ch)
		}
	}
}

func (v *View) notify() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
