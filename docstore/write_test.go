package docstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/svc/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every batch commit after the first okBatches.
type failingStore struct {
	docstore.Store
	okBatches int
	commits   int
}

func (f *failingStore) Batch() docstore.Batch {
	return &failingBatch{Batch: f.Store.Batch(), store: f}
}

type failingBatch struct {
	docstore.Batch
	store *failingStore
}

func (b *failingBatch) Commit(ctx context.Context) error {
	b.store.commits++
	if b.store.commits > b.store.okBatches {
		return fmt.Errorf("unavailable")
	}
	return b.Batch.Commit(ctx)
}

func writes(n int) []docstore.Write {
	out := make([]docstore.Write, n)
	for i := range out {
		ref := docstore.Collection("items").Doc(fmt.Sprintf("i%04d", i))
		out[i] = docstore.SetWrite(ref, docstore.Doc{"n": i})
	}
	return out
}

func TestCommitChunked(t *testing.T) {
	ctx := context.Background()

	t.Run("commits in batches", func(t *testing.T) {
		db := memdb.New(memdb.Config{})
		store := &failingStore{Store: db, okBatches: 100}

		require.NoError(t, docstore.CommitChunked(ctx, store, "test", writes(1203), 0))
		assert.Equal(t, 3, store.commits)
		assert.Equal(t, 1203, db.Len())
	})

	t.Run("honours a smaller batch size", func(t *testing.T) {
		db := memdb.New(memdb.Config{})
		store := &failingStore{Store: db, okBatches: 100}

		require.NoError(t, docstore.CommitChunked(ctx, store, "test", writes(10), 3))
		assert.Equal(t, 4, store.commits)
	})

	t.Run("keeps committed batches on failure", func(t *testing.T) {
		db := memdb.New(memdb.Config{})
		store := &failingStore{Store: db, okBatches: 1}

		err := docstore.CommitChunked(ctx, store, "test", writes(1100), 500)
		var fanoutErr *errors.FanoutError
		require.True(t, errors.As(err, &fanoutErr))
		assert.Equal(t, 500, fanoutErr.Committed)
		assert.Equal(t, 1100, fanoutErr.Total)
		assert.Equal(t, "test", fanoutErr.Op)
		assert.Equal(t, 500, db.Len())
	})

	t.Run("rejects bad paths", func(t *testing.T) {
		db := memdb.New(memdb.Config{})
		err := docstore.CommitChunked(ctx, db, "test", []docstore.Write{{Kind: docstore.WriteSet, Path: "bad"}}, 0)
		assert.True(t, errors.Is(err, errors.ErrInvalidPath))
	})
}

func TestWriteReplayable(t *testing.T) {
	ref := docstore.Collection("items").Doc("a")
	assert.True(t, docstore.SetWrite(ref, docstore.Doc{"at": docstore.ServerTimestamp}).Replayable())
	assert.True(t, docstore.DeleteWrite(ref).Replayable())
	assert.False(t, docstore.MergeWrite(ref, docstore.Doc{"n": docstore.Increment(1)}).Replayable())
}

func TestResolveSentinels(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := docstore.Doc{"at": docstore.ServerTimestamp, "n": docstore.Increment(2), "x": "y"}

	out := docstore.ResolveSentinels(in, now)
	assert.Equal(t, now, out["at"])
	assert.Equal(t, docstore.Increment(2), out["n"])
	assert.Equal(t, "y", out["x"])
	assert.True(t, docstore.IsServerTimestamp(in["at"]))
}

func TestRegistry(t *testing.T) {
	var reg docstore.Registry
	closed := 0
	reg.Add(docstore.SubscriptionFunc(func() { closed++ }))
	reg.Add(docstore.SubscriptionFunc(func() { closed++ }))
	assert.Equal(t, 2, reg.Len())

	reg.Close()
	assert.Equal(t, 2, closed)
	assert.Equal(t, 0, reg.Len())

	reg.Add(docstore.SubscriptionFunc(func() { closed++ }))
	assert.Equal(t, 3, closed)
}
