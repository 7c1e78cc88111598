package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Memory keeps documents in process. It backs tests and local runs
// without Postgres or Firestore.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]map[string]Fields // collection -> id -> fields
	subs   map[string]map[*pump]struct{}
	logger *zap.Logger
}

func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		data:   map[string]map[string]Fields{},
		subs:   map[string]map[*pump]struct{}{},
		logger: logger,
	}
}

// LoadSeed reads {"collection": {"id": {...fields}}} and replaces those documents
func (m *Memory) LoadSeed(r io.Reader) error {
	var seed map[string]map[string]Fields
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	for collection, docs := range seed {
		for id, fields := range docs {
			m.Put(collection, id, fields)
		}
	}
	return nil
}

// Put replaces a whole document and notifies subscribers of its collection
func (m *Memory) Put(collection, id string, fields Fields) {
	m.mu.Lock()
	if m.data[collection] == nil {
		m.data[collection] = map[string]Fields{}
	}
	m.data[collection][id] = fields.Clone()
	m.mu.Unlock()
	m.notify(collection)
}

func (m *Memory) Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription {
	if err := q.Validate(); err != nil {
		p := startPump(func(context.Context) ([]Document, error) { return nil, err }, onSnapshot, onError, pumpOptions{}, m.logger)
		return p
	}

	var p *pump
	register := make(chan struct{})
	fetch := func(ctx context.Context) ([]Document, error) {
		<-register
		return m.snapshot(q), nil
	}
	p = startPump(fetch, onSnapshot, onError, pumpOptions{
		onStop: func() {
			m.mu.Lock()
			delete(m.subs[q.Collection], p)
			m.mu.Unlock()
		},
	}, m.logger)

	m.mu.Lock()
	if m.subs[q.Collection] == nil {
		m.subs[q.Collection] = map[*pump]struct{}{}
	}
	m.subs[q.Collection][p] = struct{}{}
	m.mu.Unlock()
	close(register)

	return p
}

func (m *Memory) snapshot(q Query) []Document {
	m.mu.RLock()
	docs := make([]Document, 0, len(m.data[q.Collection]))
	for id, fields := range m.data[q.Collection] {
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	docs = q.Apply(docs)
	docs = cloneDocuments(docs)
	m.mu.RUnlock()
	return docs
}

func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.data[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: fields.Clone()}, nil
}

// MergeWrite sets the given top-level fields, keeping the others.
// A missing document is created.
func (m *Memory) MergeWrite(_ context.Context, collection, id string, fields Fields) error {
	m.mu.Lock()
	if m.data[collection] == nil {
		m.data[collection] = map[string]Fields{}
	}
	doc := m.data[collection][id]
	if doc == nil {
		doc = Fields{}
	}
	for k, v := range fields.Clone() {
		doc[k] = v
	}
	m.data[collection][id] = doc
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

func (m *Memory) notify(collection string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p := range m.subs[collection] {
		p.poke()
	}
}
