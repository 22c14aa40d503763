package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dabubble/common/errors"
)

type WriteKind int32

const (
	WriteSet WriteKind = iota
	WriteMerge
	WriteUpdate
	WriteDelete
)

// Write is a single queued document mutation. Writes are plain data so they
// can be replayed from the outbox.
type Write struct {
	Kind WriteKind `bson:"kind"`
	Path string    `bson:"path"`
	Data Doc       `bson:"data,omitempty"`
}

func SetWrite(ref DocRef, data Doc) Write {
	return Write{Kind: WriteSet, Path: ref.Path(), Data: data}
}

func MergeWrite(ref DocRef, data Doc) Write {
	return Write{Kind: WriteMerge, Path: ref.Path(), Data: data}
}

func UpdateWrite(ref DocRef, fields Doc) Write {
	return Write{Kind: WriteUpdate, Path: ref.Path(), Data: fields}
}

func DeleteWrite(ref DocRef) Write {
	return Write{Kind: WriteDelete, Path: ref.Path()}
}

func (w Write) AddTo(b Batch) error {
	ref, err := ParseDoc(w.Path)
	if err != nil {
		return err
	}

	switch w.Kind {
	case WriteSet:
		b.Set(ref, w.Data)
	case WriteMerge:
		b.Merge(ref, w.Data)
	case WriteUpdate:
		b.Update(ref, w.Data)
	case WriteDelete:
		b.Delete(ref)
	default:
		return fmt.Errorf("unknown write kind %d", w.Kind)
	}

	return nil
}

// Replayable reports whether applying the write twice leaves the same state.
func (w Write) Replayable() bool {
	for _, v := range w.Data {
		if _, ok := v.(IncrementOp); ok {
			return false
		}
	}
	return true
}

// CommitChunked commits writes in sequential batches of at most size writes.
// Committed batches are never rolled back; when a batch fails the returned
// *errors.FanoutError tells how many writes made it.
func CommitChunked(ctx context.Context, s Store, op string, writes []Write, size int) error {
	if size <= 0 || size > MaxBatchWrites {
		size = MaxBatchWrites
	}

	committed := 0
	for start := 0; start < len(writes); start += size {
		end := start + size
		if end > len(writes) {
			end = len(writes)
		}

		batch := s.Batch()
		for _, w := range writes[start:end] {
			if err := w.AddTo(batch); err != nil {
				return &errors.FanoutError{Op: op, Committed: committed, Total: len(writes), Cause: err}
			}
		}

		if err := batch.Commit(ctx); err != nil {
			return &errors.FanoutError{Op: op, Committed: committed, Total: len(writes), Cause: err}
		}
		committed = end
	}

	return nil
}

// ResolveSentinels replaces ServerTimestamp values with now. Increments are left in place.
func ResolveSentinels(doc Doc, now time.Time) Doc {
	out := make(Doc, len(doc))
	for k, v := range doc {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now.UTC()
			continue
		}
		out[k] = v
	}
	return out
}
