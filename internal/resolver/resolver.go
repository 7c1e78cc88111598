// Package resolver denormalizes raw documents into display items by
// merging fields of the entities they reference.
package resolver

import (
	"context"
	"errors"
	"sync"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Getter is the read side of a store
type Getter interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
}

// Item is a resolved record ready for display
type Item struct {
	ID      string
	Record  models.Record
	Display map[string]string
	Fields  docstore.Fields
}

// Resolver turns snapshots into items. It never writes to the store and
// resolving the same snapshot against the same store state gives the same
// items.
type Resolver struct {
	store       Getter
	spec        Spec
	concurrency int
	logger      *zap.Logger
}

func New(store Getter, spec Spec, concurrency int, logger *zap.Logger) *Resolver {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Resolver{store: store, spec: spec, concurrency: concurrency, logger: logger}
}

type refKey struct {
	collection string
	id         string
}

// Resolve returns one item per decodable document, in input order. The
// only error is cancellation of ctx; a failed reference degrades to its
// sentinels.
func (r *Resolver) Resolve(ctx context.Context, docs []docstore.Document) ([]Item, error) {
	fetched, err := r.fetchReferences(ctx, docs)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		rec, err := r.spec.Decode(doc)
		if err != nil {
			r.logger.Warn("Skipping undecodable document",
				zap.String("id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		if issues := rec.DecodeIssues(); len(issues) > 0 {
			r.logger.Warn("Document decoded with issues",
				zap.String("id", doc.ID),
				zap.Strings("fields", issues),
			)
		}
		items = append(items, Item{
			ID:      doc.ID,
			Record:  rec,
			Display: r.display(doc, fetched),
			Fields:  doc.Fields,
		})
	}
	return items, nil
}

func (r *Resolver) display(doc docstore.Document, fetched map[refKey]docstore.Fields) map[string]string {
	out := make(map[string]string, len(r.spec.Local))
	for _, f := range r.spec.Local {
		out[f.Key], _ = f.resolve(doc.Fields)
	}
	for _, ref := range r.spec.References {
		source := embedded(doc, ref)
		if source == nil {
			if id := doc.Fields.String(ref.IDPath); id != "" {
				source = fetched[refKey{ref.Collection, id}]
			}
		}
		for _, f := range ref.Fields {
			out[f.Key], _ = f.resolve(source)
		}
	}
	return out
}

// embedded returns the snapshot at ref.EmbeddedPath when it yields any field
func embedded(doc docstore.Document, ref Reference) docstore.Fields {
	if ref.EmbeddedPath == "" {
		return nil
	}
	snap, ok := doc.Fields.Map(ref.EmbeddedPath)
	if !ok {
		return nil
	}
	for _, f := range ref.Fields {
		if _, hit := f.resolve(snap); hit {
			return snap
		}
	}
	return nil
}

// fetchReferences loads every referenced entity not covered by an embedded
// snapshot. Each (collection, id) is fetched once. Missing or failed
// entities are left out of the result.
func (r *Resolver) fetchReferences(ctx context.Context, docs []docstore.Document) (map[refKey]docstore.Fields, error) {
	var keys []refKey
	seen := map[refKey]bool{}
	for _, doc := range docs {
		for _, ref := range r.spec.References {
			if embedded(doc, ref) != nil {
				continue
			}
			id := doc.Fields.String(ref.IDPath)
			if id == "" {
				continue
			}
			k := refKey{ref.Collection, id}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	var mu sync.Mutex
	out := make(map[refKey]docstore.Fields, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, k := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := r.store.Get(gctx, k.collection, k.id)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, docstore.ErrNotFound) {
					r.logger.Debug("Referenced document not found",
						zap.String("collection", k.collection),
						zap.String("id", k.id),
					)
				} else {
					r.logger.Debug("Failed to fetch referenced document",
						zap.String("collection", k.collection),
						zap.String("id", k.id),
						zap.Error(err),
					)
				}
				return nil
			}
			mu.Lock()
			out[k] = doc.Fields
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
