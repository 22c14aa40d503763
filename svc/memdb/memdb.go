// Package memdb is an in-process docstore.Store used by tests and local runs.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/utils/uid"
	"github.com/sirupsen/logrus"
)

const maxTxAttempts = 5

type Config struct {
	Logger logrus.FieldLogger
	Clock  func() time.Time
}

func (c Config) fill() Config {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type DB struct {
	mtx       sync.Mutex
	docs      map[string]docstore.Doc
	versions  map[string]uint64
	listeners map[string]map[*listener]struct{}
	// seq numbers commits so listeners can drop snapshots that arrive late
	seq    uint64
	config Config
}

func New(config Config) *DB {
	return &DB{
		docs:      map[string]docstore.Doc{},
		versions:  map[string]uint64{},
		listeners: map[string]map[*listener]struct{}{},
		config:    config.fill(),
	}
}

func (db *DB) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	if !ref.Valid() {
		return docstore.Snapshot{}, fmt.Errorf("%w: %s", errors.ErrInvalidPath, ref)
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.snapshot(ref), nil
}

func (db *DB) Set(ctx context.Context, ref docstore.DocRef, data docstore.Doc) error {
	b := db.Batch()
	b.Set(ref, data)
	return b.Commit(ctx)
}

func (db *DB) Merge(ctx context.Context, ref docstore.DocRef, data docstore.Doc) error {
	b := db.Batch()
	b.Merge(ref, data)
	return b.Commit(ctx)
}

func (db *DB) Update(ctx context.Context, ref docstore.DocRef, fields docstore.Doc) error {
	b := db.Batch()
	b.Update(ref, fields)
	return b.Commit(ctx)
}

func (db *DB) Delete(ctx context.Context, ref docstore.DocRef) error {
	b := db.Batch()
	b.Delete(ref)
	return b.Commit(ctx)
}

func (db *DB) Query(ctx context.Context, col docstore.CollectionRef, q docstore.Query) ([]docstore.Snapshot, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, col)
	}
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.query(col, q), nil
}

func (db *DB) Batch() docstore.Batch {
	return &batch{db: db}
}

func (db *DB) NewID(col docstore.CollectionRef) string {
	return uid.NewId()
}

// Len returns the number of stored documents.
func (db *DB) Len() int {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return len(db.docs)
}

func (db *DB) snapshot(ref docstore.DocRef) docstore.Snapshot {
	doc, ok := db.docs[ref.Path()]
	if !ok {
		return docstore.Snapshot{Ref: ref}
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: copyDoc(doc)}
}

func (db *DB) query(col docstore.CollectionRef, q docstore.Query) []docstore.Snapshot {
	prefix := col.Path() + "/"
	out := []docstore.Snapshot{}
	for path, doc := range db.docs {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		out = append(out, docstore.Snapshot{Ref: col.Doc(path[len(prefix):]), Exists: true, Data: copyDoc(doc)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := docstore.CompareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if c != 0 {
				if q.Direction == docstore.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

type op struct {
	kind docstore.WriteKind
	ref  docstore.DocRef
	data docstore.Doc
}

// apply runs ops against db.docs atomically. It must be called with db.mtx held
// and returns the listener calls to make once the lock is released.
func (db *DB) apply(ops []op) ([]func(), error) {
	now := db.config.Clock().UTC()
	staged := map[string]docstore.Doc{}
	deleted := map[string]bool{}

	current := func(path string) (docstore.Doc, bool) {
		if deleted[path] {
			return nil, false
		}
		if d, ok := staged[path]; ok {
			return d, true
		}
		d, ok := db.docs[path]
		return d, ok
	}

	for _, o := range ops {
		if !o.ref.Valid() {
			return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, o.ref)
		}
		path := o.ref.Path()
		switch o.kind {
		case docstore.WriteSet:
			doc := docstore.Doc{}
			for k, v := range o.data {
				doc[k] = resolveValue(nil, v, now)
			}
			staged[path] = doc
			delete(deleted, path)
		case docstore.WriteMerge, docstore.WriteUpdate:
			existing, ok := current(path)
			if !ok && o.kind == docstore.WriteUpdate {
				return nil, fmt.Errorf("%w: %s", errors.ErrDocumentNotFound, path)
			}
			doc := copyDoc(existing)
			for k, v := range o.data {
				doc[k] = resolveValue(doc[k], v, now)
			}
			staged[path] = doc
			delete(deleted, path)
		case docstore.WriteDelete:
			delete(staged, path)
			deleted[path] = true
		}
	}

	touched := map[string]struct{}{}
	for path, doc := range staged {
		db.docs[path] = doc
		db.versions[path]++
		touched[parentOf(path)] = struct{}{}
	}
	for path := range deleted {
		if _, ok := db.docs[path]; ok {
			delete(db.docs, path)
			db.versions[path]++
			touched[parentOf(path)] = struct{}{}
		}
	}

	db.seq++
	seq := db.seq

	var calls []func()
	for col := range touched {
		for l := range db.listeners[col] {
			l := l
			snaps := db.query(l.col, l.q)
			calls = append(calls, func() { l.deliver(seq, snaps) })
		}
	}
	return calls, nil
}

func parentOf(path string) string {
	return path[:strings.LastIndexByte(path, '/')]
}

func resolveValue(existing, v interface{}, now time.Time) interface{} {
	switch t := v.(type) {
	case docstore.IncrementOp:
		switch e := existing.(type) {
		case int64:
			return e + t.N
		case int32:
			return int64(e) + t.N
		case int:
			return int64(e) + t.N
		case float64:
			return e + float64(t.N)
		default:
			return t.N
		}
	case time.Time:
		return t.UTC()
	}
	if docstore.IsServerTimestamp(v) {
		return now
	}
	return copyValue(docstore.Normalize(map[string]interface{}{"v": v})["v"])
}

type batch struct {
	db  *DB
	ops []op
}

func (b *batch) Set(ref docstore.DocRef, data docstore.Doc) {
	b.ops = append(b.ops, op{kind: docstore.WriteSet, ref: ref, data: data})
}

func (b *batch) Merge(ref docstore.DocRef, data docstore.Doc) {
	b.ops = append(b.ops, op{kind: docstore.WriteMerge, ref: ref, data: data})
}

func (b *batch) Update(ref docstore.DocRef, fields docstore.Doc) {
	b.ops = append(b.ops, op{kind: docstore.WriteUpdate, ref: ref, data: fields})
}

func (b *batch) Delete(ref docstore.DocRef) {
	b.ops = append(b.ops, op{kind: docstore.WriteDelete, ref: ref})
}

func (b *batch) Len() int {
	return len(b.ops)
}

func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.ops) > docstore.MaxBatchWrites {
		return fmt.Errorf("batch of %d writes exceeds the limit of %d", len(b.ops), docstore.MaxBatchWrites)
	}

	b.db.mtx.Lock()
	calls, err := b.db.apply(b.ops)
	b.db.mtx.Unlock()
	if err != nil {
		return err
	}

	for _, c := range calls {
		c()
	}
	return nil
}

func copyDoc(d docstore.Doc) docstore.Doc {
	out := make(docstore.Doc, len(d))
	for k, v := range d {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, x := range t {
			out[k] = copyValue(x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	default:
		return v
	}
}
