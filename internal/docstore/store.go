// Package docstore is the document store the admin views read from: live
// subscriptions over a collection, point reads and merge writes by id.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the document does not exist
var ErrNotFound = errors.New("document not found")

// SnapshotFunc receives the full current result set of a subscription
type SnapshotFunc func(docs []Document)

// ErrorFunc receives the error that ended a subscription
type ErrorFunc func(err error)

// Subscription is a standing query. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Store is implemented by Memory, Postgres and Firestore.
//
// Subscribe delivers an initial snapshot right away and a new full snapshot
// after every change to the matching set. Deliveries for one subscription
// never overlap. A failure is reported once through onError and ends the
// subscription; it is never retried by the store.
type Store interface {
	Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription
	Get(ctx context.Context, collection, id string) (Document, error)
	MergeWrite(ctx context.Context, collection, id string, fields Fields) error
}
