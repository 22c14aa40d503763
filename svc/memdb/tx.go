package memdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
)

var errTxConflict = fmt.Errorf("transaction conflict")

type tx struct {
	db     *DB
	reads  map[string]uint64
	ops    []op
	writes bool
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	if t.writes {
		return docstore.Snapshot{}, fmt.Errorf("transaction reads must happen before writes")
	}
	if !ref.Valid() {
		return docstore.Snapshot{}, fmt.Errorf("%w: %s", errors.ErrInvalidPath, ref)
	}
	t.db.mtx.Lock()
	defer t.db.mtx.Unlock()
	t.reads[ref.Path()] = t.db.versions[ref.Path()]
	return t.db.snapshot(ref), nil
}

func (t *tx) Set(ref docstore.DocRef, data docstore.Doc) error {
	t.writes = true
	t.ops = append(t.ops, op{kind: docstore.WriteSet, ref: ref, data: data})
	return nil
}

func (t *tx) Merge(ref docstore.DocRef, data docstore.Doc) error {
	t.writes = true
	t.ops = append(t.ops, op{kind: docstore.WriteMerge, ref: ref, data: data})
	return nil
}

func (t *tx) Update(ref docstore.DocRef, fields docstore.Doc) error {
	t.writes = true
	t.ops = append(t.ops, op{kind: docstore.WriteUpdate, ref: ref, data: fields})
	return nil
}

// RunTransaction retries fn when a document it read changed before commit.
func (db *DB) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := &tx{db: db, reads: map[string]uint64{}}
		if err := fn(ctx, t); err != nil {
			return err
		}

		db.mtx.Lock()
		conflict := false
		for path, v := range t.reads {
			if db.versions[path] != v {
				conflict = true
				break
			}
		}
		if conflict {
			db.mtx.Unlock()
			db.config.Logger.WithField("attempt", attempt).Debug("memdb transaction conflict, retrying")
			continue
		}
		calls, err := db.apply(t.ops)
		db.mtx.Unlock()
		if err != nil {
			return err
		}
		for _, c := range calls {
			c()
		}
		return nil
	}

	return errTxConflict
}

type listener struct {
	db   *DB
	col  docstore.CollectionRef
	q    docstore.Query
	fn   func([]docstore.Snapshot)
	once sync.Once
	done chan struct{}
	// serializes deliveries so a listener never sees two snapshots at once
	mtx sync.Mutex
	// last is the commit sequence of the newest snapshot delivered
	last uint64
}

// deliver hands snaps to fn unless a newer commit was already delivered.
func (l *listener) deliver(seq uint64, snaps []docstore.Snapshot) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	select {
	case <-l.done:
		return
	default:
	}
	if seq <= l.last {
		return
	}
	l.last = seq
	l.fn(snaps)
}

func (l *listener) Close() {
	l.once.Do(func() {
		close(l.done)
		l.db.mtx.Lock()
		defer l.db.mtx.Unlock()
		subs := l.db.listeners[l.col.Path()]
		delete(subs, l)
		if len(subs) == 0 {
			delete(l.db.listeners, l.col.Path())
		}
	})
}

func (db *DB) Listen(ctx context.Context, col docstore.CollectionRef, q docstore.Query, fn func([]docstore.Snapshot)) (docstore.Subscription, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, col)
	}

	l := &listener{db: db, col: col, q: q, fn: fn, done: make(chan struct{})}

	db.mtx.Lock()
	if db.listeners[col.Path()] == nil {
		db.listeners[col.Path()] = map[*listener]struct{}{}
	}
	db.listeners[col.Path()][l] = struct{}{}
	initial := db.query(col, q)
	l.mtx.Lock()
	l.last = db.seq
	db.mtx.Unlock()
	l.fn(initial)
	l.mtx.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.done:
		}
	}()

	return l, nil
}
