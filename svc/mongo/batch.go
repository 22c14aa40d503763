package mongo

import (
	"context"

	"github.com/dabubble/common/docstore"
	"go.mongodb.org/mongo-driver/mongo"
)

type batch struct {
	s      *Store
	writes []docstore.Write
}

func (s *Store) Batch() docstore.Batch {
	return &batch{s: s}
}

func (b *batch) Set(ref docstore.DocRef, data docstore.Doc) {
	b.writes = append(b.writes, docstore.SetWrite(ref, data))
}

func (b *batch) Merge(ref docstore.DocRef, data docstore.Doc) {
	b.writes = append(b.writes, docstore.MergeWrite(ref, data))
}

func (b *batch) Update(ref docstore.DocRef, fields docstore.Doc) {
	b.writes = append(b.writes, docstore.UpdateWrite(ref, fields))
}

func (b *batch) Delete(ref docstore.DocRef) {
	b.writes = append(b.writes, docstore.DeleteWrite(ref))
}

func (b *batch) Len() int {
	return len(b.writes)
}

// Commit applies the batch inside one multi-document transaction.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	return b.s.withSession(ctx, func(sc mongo.SessionContext) error {
		return b.s.apply(sc, b.writes)
	})
}

func (s *Store) withSession(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.inst.RawClient().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) apply(ctx context.Context, writes []docstore.Write) error {
	for _, w := range writes {
		ref, err := docstore.ParseDoc(w.Path)
		if err != nil {
			return err
		}
		switch w.Kind {
		case docstore.WriteSet:
			err = s.Set(ctx, ref, w.Data)
		case docstore.WriteMerge:
			err = s.Merge(ctx, ref, w.Data)
		case docstore.WriteUpdate:
			err = s.Update(ctx, ref, w.Data)
		case docstore.WriteDelete:
			err = s.Delete(ctx, ref)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type tx struct {
	s      *Store
	ctx    context.Context
	writes []docstore.Write
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	return t.s.Get(t.ctx, ref)
}

func (t *tx) Set(ref docstore.DocRef, data docstore.Doc) error {
	t.writes = append(t.writes, docstore.SetWrite(ref, data))
	return nil
}

func (t *tx) Merge(ref docstore.DocRef, data docstore.Doc) error {
	t.writes = append(t.writes, docstore.MergeWrite(ref, data))
	return nil
}

func (t *tx) Update(ref docstore.DocRef, fields docstore.Doc) error {
	t.writes = append(t.writes, docstore.UpdateWrite(ref, fields))
	return nil
}

// RunTransaction reads through the session and applies buffered writes before
// the session commits. The driver retries fn on transient transaction errors.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return s.withSession(ctx, func(sc mongo.SessionContext) error {
		t := &tx{s: s, ctx: sc}
		if err := fn(sc, t); err != nil {
			return err
		}
		return s.apply(sc, t.writes)
	})
}
