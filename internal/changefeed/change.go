// Package changefeed carries document change events between store writers
// and the live subscriptions that must refetch.
package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OpMerge is the only write the admin service issues
const OpMerge = "merge"

// Change says that one document of a collection was written
type Change struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	Op         string    `json:"op"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChange stamps a change with a fresh id and the current time
func NewChange(collection, documentID, op string) Change {
	return Change{
		ID:         uuid.NewString(),
		Collection: collection,
		DocumentID: documentID,
		Op:         op,
		Timestamp:  time.Now().UTC(),
	}
}

// Publisher sends a change to every listening process
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Hub fans changes out to in-process listeners, keyed by collection
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]func(Change)
	next      uint64
}

func NewHub() *Hub {
	return &Hub{listeners: map[string]map[uint64]func(Change){}}
}

// Listen registers fn for changes of collection. fn must not block.
// The returned func removes the listener.
func (h *Hub) Listen(collection string, fn func(Change)) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	if h.listeners[collection] == nil {
		h.listeners[collection] = map[uint64]func(Change){}
	}
	h.listeners[collection][id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners[collection], id)
		if len(h.listeners[collection]) == 0 {
			delete(h.listeners, collection)
		}
		h.mu.Unlock()
	}
}

// Dispatch calls every listener of c.Collection
func (h *Hub) Dispatch(c Change) {
	h.mu.RLock()
	fns := make([]func(Change), 0, len(h.listeners[c.Collection]))
	for _, fn := range h.listeners[c.Collection] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Listeners returns how many listeners collection has
func (h *Hub) Listeners(collection string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[collection])
}

// Local publishes straight into a hub, for single-process deployments
type Local struct {
	hub *Hub
}

func NewLocal(hub *Hub) *Local {
	return &Local{hub: hub}
}

func (l *Local) Publish(_ context.Context, c Change) error {
	l.hub.Dispatch(c)
	return nil
}
