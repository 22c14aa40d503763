// Package docstore is the document store boundary of the fan-out layer.
// Backends live under svc/ and all of them honour the same semantics:
// merge writes touch only the top-level fields they carry, a batch commits
// atomically, transactions read before they write, and listeners always
// receive the full ordered result set.
package docstore

import (
	"context"
)

// MaxBatchWrites is the per-commit write ceiling of the backing store.
const MaxBatchWrites = 500

// Doc is the generic document representation shared by all backends.
type Doc map[string]interface{}

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Query struct {
	OrderBy   string
	Direction Direction
	Limit     int
}

type Snapshot struct {
	Ref    DocRef
	Exists bool
	Data   Doc
}

func (s Snapshot) DataTo(v interface{}) error {
	return Decode(s.Data, v)
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's commit time.
var ServerTimestamp = serverTimestamp{}

type IncrementOp struct {
	N int64
}

// Increment adds n to a numeric field, treating a missing field as zero.
func Increment(n int64) IncrementOp {
	return IncrementOp{N: n}
}

type Batch interface {
	Set(ref DocRef, data Doc)
	Merge(ref DocRef, data Doc)
	Update(ref DocRef, fields Doc)
	Delete(ref DocRef)
	Len() int
	Commit(ctx context.Context) error
}

// Tx is a read-modify-write transaction. All reads must happen before the first write.
type Tx interface {
	Get(ref DocRef) (Snapshot, error)
	Set(ref DocRef, data Doc) error
	Merge(ref DocRef, data Doc) error
	Update(ref DocRef, fields Doc) error
}

type Subscription interface {
	Close()
}

type Store interface {
	// Get never fails for a missing document, it returns a snapshot with Exists false.
	Get(ctx context.Context, ref DocRef) (Snapshot, error)
	Set(ctx context.Context, ref DocRef, data Doc) error
	Merge(ctx context.Context, ref DocRef, data Doc) error
	// Update fails with errors.ErrDocumentNotFound when the document does not exist.
	Update(ctx context.Context, ref DocRef, fields Doc) error
	Delete(ctx context.Context, ref DocRef) error
	Query(ctx context.Context, col CollectionRef, q Query) ([]Snapshot, error)
	Batch() Batch
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Listen calls fn with the full result set once and again after every change to the
	// collection, until the subscription is closed or ctx is done.
	Listen(ctx context.Context, col CollectionRef, q Query, fn func([]Snapshot)) (Subscription, error)
	NewID(col CollectionRef) string
}

func IsServerTimestamp(v interface{}) bool {
	_, ok := v.(serverTimestamp)
	return ok
}
