package firestore

import (
	"context"
	"fmt"

	fs "cloud.google.com/go/firestore"
	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type tx struct {
	s *Store
	t *fs.Transaction
}

func (t *tx) Get(ref docstore.DocRef) (docstore.Snapshot, error) {
	d, err := t.s.doc(ref)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	snap, err := t.t.Get(d)
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: docstore.Normalize(snap.Data())}, nil
}

func (t *tx) Set(ref docstore.DocRef, data docstore.Doc) error {
	d, err := t.s.doc(ref)
	if err != nil {
		return err
	}
	return t.t.Set(d, toFirestore(data))
}

func (t *tx) Merge(ref docstore.DocRef, data docstore.Doc) error {
	d, err := t.s.doc(ref)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return t.t.Set(d, toFirestore(data), mergeFields(data))
}

func (t *tx) Update(ref docstore.DocRef, fields docstore.Doc) error {
	d, err := t.s.doc(ref)
	if err != nil {
		return err
	}
	return t.t.Update(d, toUpdates(fields))
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *fs.Transaction) error {
		return fn(ctx, &tx{s: s, t: t})
	})
	return mapTxError(err)
}

type batch struct {
	s      *Store
	writes []docstore.Write
}

// Batch commits through a write-only transaction instead of the deprecated WriteBatch.
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

func (b *batch) Commit(ctx context.Context) error {
	if len(b.writes) == 0 {
		return nil
	}
	err := b.s.client.RunTransaction(ctx, func(ctx context.Context, t *fs.Transaction) error {
		for _, w := range b.writes {
			ref, err := docstore.ParseDoc(w.Path)
			if err != nil {
				return err
			}
			d, err := b.s.doc(ref)
			if err != nil {
				return err
			}
			switch w.Kind {
			case docstore.WriteSet:
				err = t.Set(d, toFirestore(w.Data))
			case docstore.WriteMerge:
				if len(w.Data) > 0 {
					err = t.Set(d, toFirestore(w.Data), mergeFields(w.Data))
				}
			case docstore.WriteUpdate:
				err = t.Update(d, toUpdates(w.Data))
			case docstore.WriteDelete:
				err = t.Delete(d)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return mapTxError(err)
}

func mapTxError(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %v", errors.ErrDocumentNotFound, err)
	}
	return err
}
