package outbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/structures"
	"github.com/dabubble/common/svc/memdb"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/time/rate"
)

type fakeSyncer struct {
	mtx      sync.Mutex
	channels []string
	err      error
}

func (f *fakeSyncer) ResyncMemberships(ctx context.Context, channelID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.channels = append(f.channels, channelID)
	return f.err
}

type ack struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ack) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *ack) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ack) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, job Job) error {
	return fmt.Errorf("broker down")
}

func delivery(t *testing.T, a *ack, job Job) amqp.Delivery {
	body, err := bson.Marshal(job)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: a, Body: body}
}

func TestNewWritesJob(t *testing.T) {
	ref := structures.MessagesCollection("u1", "c1").Doc("m1")
	job := NewWritesJob([]docstore.Write{
		docstore.SetWrite(ref, docstore.Doc{"text": "hi", "createdAt": docstore.ServerTimestamp}),
		docstore.MergeWrite(ref, docstore.Doc{"repliesCount": docstore.Increment(1)}),
		docstore.UpdateWrite(ref, docstore.Doc{"text": "edited"}),
	})

	assert.Equal(t, KindWrites, job.Kind)
	assert.NotEmpty(t, job.ID)
	require.Len(t, job.Writes, 2)
	assert.Equal(t, docstore.WriteSet, job.Writes[0].Kind)
	assert.IsType(t, time.Time{}, job.Writes[0].Data["createdAt"])
	assert.Equal(t, docstore.WriteUpdate, job.Writes[1].Kind)
}

func TestApplyMembershipSync(t *testing.T) {
	syncer := &fakeSyncer{}
	a := NewApplier(memdb.New(memdb.Config{}), syncer, 0, nil)

	require.NoError(t, a.Apply(context.Background(), NewMembershipSyncJob("c1")))
	assert.Equal(t, []string{"c1"}, syncer.channels)

	noSyncer := NewApplier(memdb.New(memdb.Config{}), nil, 0, nil)
	assert.Error(t, noSyncer.Apply(context.Background(), NewMembershipSyncJob("c1")))
}

func TestApplyWritesAfterBsonRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := memdb.New(memdb.Config{})
	a := NewApplier(db, nil, 1, nil)

	refs := []docstore.DocRef{
		structures.MessagesCollection("u1", "c1").Doc("m1"),
		structures.MessagesCollection("u2", "c1").Doc("m1"),
	}
	job := NewWritesJob([]docstore.Write{
		docstore.SetWrite(refs[0], docstore.Doc{"text": "hi", "createdAt": docstore.ServerTimestamp}),
		docstore.SetWrite(refs[1], docstore.Doc{"text": "hi", "createdAt": docstore.ServerTimestamp}),
	})

	body, err := bson.Marshal(job)
	require.NoError(t, err)
	var decoded Job
	require.NoError(t, bson.Unmarshal(body, &decoded))

	require.NoError(t, a.Apply(ctx, decoded))
	// replaying is harmless
	require.NoError(t, a.Apply(ctx, decoded))

	for _, ref := range refs {
		snap, err := db.Get(ctx, ref)
		require.NoError(t, err)
		require.True(t, snap.Exists)
		assert.Equal(t, "hi", snap.Data["text"])
	}
}

func TestApplyReplyCount(t *testing.T) {
	ctx := context.Background()
	db := memdb.New(memdb.Config{})
	a := NewApplier(db, nil, 0, nil)

	first := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	last := first.Add(time.Minute)

	for _, uid := range []string{"u1", "u2"} {
		parent := structures.MessagesCollection(uid, "c1").Doc("p1")
		require.NoError(t, db.Set(ctx, parent, docstore.Doc{"text": "parent", "createdAt": first, "repliesCount": int64(7)}))
	}
	thread := structures.ThreadCollection("u1", "c1", "p1")
	require.NoError(t, db.Set(ctx, thread.Doc("r1"), docstore.Doc{"text": "a", "createdAt": first}))
	require.NoError(t, db.Set(ctx, thread.Doc("r2"), docstore.Doc{"text": "b", "createdAt": last}))

	require.NoError(t, a.Apply(ctx, NewReplyCountJob("c1", "p1", []string{"u1", "u2", "u3"})))

	snap, err := db.Get(ctx, structures.MessagesCollection("u1", "c1").Doc("p1"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Data["repliesCount"])
	assert.Equal(t, last, snap.Data["lastReplyTime"])

	snap, err = db.Get(ctx, structures.MessagesCollection("u2", "c1").Doc("p1"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, snap.Data["repliesCount"])
	assert.NotContains(t, snap.Data, "lastReplyTime")

	snap, err = db.Get(ctx, structures.MessagesCollection("u3", "c1").Doc("p1"))
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestApplyUnknownKind(t *testing.T) {
	a := NewApplier(memdb.New(memdb.Config{}), nil, 0, nil)
	assert.Error(t, a.Apply(context.Background(), Job{Kind: "bogus"}))
}

func TestMemoryFlushKeepsFailures(t *testing.T) {
	ctx := context.Background()
	syncer := &fakeSyncer{err: fmt.Errorf("store unavailable")}
	a := NewApplier(memdb.New(memdb.Config{}), syncer, 0, nil)

	m := &Memory{}
	require.NoError(t, m.Publish(ctx, NewMembershipSyncJob("c1")))

	assert.Error(t, m.Flush(ctx, a))
	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempt)

	syncer.err = nil
	require.NoError(t, m.Flush(ctx, a))
	assert.Empty(t, m.Jobs())
}

func TestMemoryFlushDropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	db := memdb.New(memdb.Config{})
	a := NewApplier(db, nil, 0, nil)

	m := &Memory{MaxAttempts: 3}
	ref := structures.MessagesCollection("c", "dev").Doc("m1")
	require.NoError(t, m.Publish(ctx, NewWritesJob([]docstore.Write{
		docstore.UpdateWrite(ref, docstore.Doc{"text": "edited"}),
	})))

	for attempt := 1; attempt < 3; attempt++ {
		assert.Error(t, m.Flush(ctx, a))
		jobs := m.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, attempt, jobs[0].Attempt)
	}

	assert.Error(t, m.Flush(ctx, a))
	assert.Empty(t, m.Jobs())
	assert.NoError(t, m.Flush(ctx, a))
}

func TestWorkerHandle(t *testing.T) {
	ctx := context.Background()
	config := WorkerConfig{MaxAttempts: 3, RetryRate: rate.Inf}

	t.Run("applied", func(t *testing.T) {
		syncer := &fakeSyncer{}
		box := &Memory{}
		w := NewWorker(nil, NewApplier(memdb.New(memdb.Config{}), syncer, 0, nil), box, config)

		a := &ack{}
		w.Handle(ctx, delivery(t, a, NewMembershipSyncJob("c1")))

		assert.Equal(t, 1, a.acked)
		assert.Equal(t, 0, a.nacked)
		assert.Equal(t, []string{"c1"}, syncer.channels)
		assert.Empty(t, box.Jobs())
	})

	t.Run("requeued", func(t *testing.T) {
		syncer := &fakeSyncer{err: fmt.Errorf("store unavailable")}
		box := &Memory{}
		w := NewWorker(nil, NewApplier(memdb.New(memdb.Config{}), syncer, 0, nil), box, config)

		a := &ack{}
		job := NewMembershipSyncJob("c1")
		w.Handle(ctx, delivery(t, a, job))

		assert.Equal(t, 1, a.acked)
		jobs := box.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)
		assert.Equal(t, 1, jobs[0].Attempt)
	})

	t.Run("gives up", func(t *testing.T) {
		syncer := &fakeSyncer{err: fmt.Errorf("store unavailable")}
		box := &Memory{}
		w := NewWorker(nil, NewApplier(memdb.New(memdb.Config{}), syncer, 0, nil), box, config)

		a := &ack{}
		job := NewMembershipSyncJob("c1")
		job.Attempt = 2
		w.Handle(ctx, delivery(t, a, job))

		assert.Equal(t, 1, a.acked)
		assert.Empty(t, box.Jobs())
	})

	t.Run("requeue fails", func(t *testing.T) {
		syncer := &fakeSyncer{err: fmt.Errorf("store unavailable")}
		w := NewWorker(nil, NewApplier(memdb.New(memdb.Config{}), syncer, 0, nil), failingPublisher{}, config)

		a := &ack{}
		w.Handle(ctx, delivery(t, a, NewMembershipSyncJob("c1")))

		assert.Equal(t, 0, a.acked)
		assert.Equal(t, 1, a.nacked)
		assert.True(t, a.requeue)
	})

	t.Run("undecodable", func(t *testing.T) {
		w := NewWorker(nil, NewApplier(memdb.New(memdb.Config{}), nil, 0, nil), &Memory{}, config)

		a := &ack{}
		w.Handle(ctx, amqp.Delivery{Acknowledger: a, Body: []byte("nope")})

		assert.Equal(t, 1, a.nacked)
		assert.False(t, a.requeue)
	})
}
