package messages

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dabubble/common/directory"
	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/structures"
	"github.com/dabubble/common/svc/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickClock moves forward one second per commit so createdAt ordering is stable.
type tickClock struct {
	mtx sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// countingStore counts batch commits and fails every commit after okBatches.
type countingStore struct {
	docstore.Store
	mtx       sync.Mutex
	okBatches int
	commits   int
}

func (c *countingStore) Batch() docstore.Batch {
	return &countingBatch{Batch: c.Store.Batch(), store: c}
}

type countingBatch struct {
	docstore.Batch
	store *countingStore
}

func (b *countingBatch) Commit(ctx context.Context) error {
	b.store.mtx.Lock()
	b.store.commits++
	fail := b.store.okBatches >= 0 && b.store.commits > b.store.okBatches
	b.store.mtx.Unlock()
	if fail {
		return fmt.Errorf("deadline exceeded")
	}
	return b.Batch.Commit(ctx)
}

type fixture struct {
	db  *memdb.DB
	dir *directory.Service
	box *outbox.Memory
}

func newFixture(t *testing.T) *fixture {
	clock := &tickClock{now: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)}
	db := memdb.New(memdb.Config{Clock: clock.Now})
	return &fixture{
		db:  db,
		dir: directory.New(db, nil, directory.Config{Clock: clock.Now}),
		box: &outbox.Memory{},
	}
}

func (f *fixture) channel(t *testing.T, channelID string, uids ...string) {
	members := make([]structures.Member, len(uids))
	for i, uid := range uids {
		members[i] = structures.Member{UID: uid, Name: "user " + uid}
	}
	_, err := f.dir.AddMembers(context.Background(), channelID, members, structures.Channel{Name: channelID})
	require.NoError(t, err)
}

func (f *fixture) message(t *testing.T, col docstore.CollectionRef, id string) *structures.Message {
	snap, err := f.db.Get(context.Background(), col.Doc(id))
	require.NoError(t, err)
	if !snap.Exists {
		return nil
	}
	m := &structures.Message{}
	require.NoError(t, snap.DataTo(m))
	return m
}

func author(uid string) structures.Author {
	return structures.Author{UID: uid, Username: "user " + uid}
}

func draft(uid, text string) Draft {
	return Draft{Text: text, Author: author(uid)}
}

func TestMemberUIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := New(f.db, Config{})

	uids, err := s.MemberUIDs(ctx, "a", "nowhere")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, uids)

	f.channel(t, "dev", "a", "b", "b", "c")
	uids, err = s.MemberUIDs(ctx, "b", "dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, uids)

	require.NoError(t, f.db.Merge(ctx, structures.MembershipDoc("z", "dev"), docstore.Doc{
		"members": []interface{}{map[string]interface{}{"uid": "a"}, map[string]interface{}{"uid": "b"}},
	}))
	uids, err = s.MemberUIDs(ctx, "z", "dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "z"}, uids)
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b", "c")
	s := New(f.db, Config{})

	before := f.db.Len()
	id, err := s.SendMessage(ctx, "a", "dev", draft("a", "hello"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, before+3, f.db.Len())

	for _, uid := range []string{"a", "b", "c"} {
		m := f.message(t, structures.MessagesCollection(uid, "dev"), id)
		require.NotNil(t, m, uid)
		assert.Equal(t, id, m.ID)
		assert.Equal(t, "hello", m.Text)
		assert.NotNil(t, m.Reactions)
		assert.Empty(t, m.Reactions)
		assert.Equal(t, 0, m.RepliesCount)
		assert.Nil(t, m.LastReplyTime)
		assert.Equal(t, author("a"), m.Author)
		assert.False(t, m.CreatedAt.IsZero())
	}

	_, err = s.SendMessage(ctx, "a", "dev", draft("a", "   "))
	assert.True(t, errors.Is(err, errors.ErrEmptyMessage))
}

func TestSendMessageWithoutMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := New(f.db, Config{})

	id, err := s.SendMessage(ctx, "a", "solo", draft("a", "note to self"))
	require.NoError(t, err)
	assert.NotNil(t, f.message(t, structures.MessagesCollection("a", "solo"), id))
	assert.Equal(t, 1, f.db.Len())
}

func TestSendMessageChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "big", "a", "b", "c", "d", "e")
	store := &countingStore{Store: f.db, okBatches: -1}
	s := New(store, Config{BatchSize: 2})

	id, err := s.SendMessage(ctx, "a", "big", draft("a", "hi all"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.commits)
	for _, uid := range []string{"a", "b", "c", "d", "e"} {
		assert.NotNil(t, f.message(t, structures.MessagesCollection(uid, "big"), id), uid)
	}
}

func TestSendMessagePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "big", "a", "b", "c", "d", "e")
	store := &countingStore{Store: f.db, okBatches: 1}
	s := New(store, Config{BatchSize: 2, Outbox: f.box})

	id, err := s.SendMessage(ctx, "a", "big", draft("a", "hi all"))
	require.NotEmpty(t, id)
	var fanoutErr *errors.FanoutError
	require.True(t, errors.As(err, &fanoutErr))
	assert.Equal(t, 2, fanoutErr.Committed)
	assert.Equal(t, 5, fanoutErr.Total)
	assert.True(t, fanoutErr.Queued)

	assert.NotNil(t, f.message(t, structures.MessagesCollection("a", "big"), id))
	assert.NotNil(t, f.message(t, structures.MessagesCollection("b", "big"), id))
	assert.Nil(t, f.message(t, structures.MessagesCollection("c", "big"), id))

	jobs := f.box.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, outbox.KindWrites, jobs[0].Kind)
	assert.Len(t, jobs[0].Writes, 3)

	require.NoError(t, f.box.Flush(ctx, outbox.NewApplier(f.db, f.dir, 0, nil)))
	for _, uid := range []string{"c", "d", "e"} {
		m := f.message(t, structures.MessagesCollection(uid, "big"), id)
		require.NotNil(t, m, uid)
		assert.Equal(t, "hi all", m.Text)
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestSendMessageFailureWithoutOutbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b")
	s := New(&countingStore{Store: f.db, okBatches: 0}, Config{})

	_, err := s.SendMessage(ctx, "a", "dev", draft("a", "lost"))
	var fanoutErr *errors.FanoutError
	require.True(t, errors.As(err, &fanoutErr))
	assert.Equal(t, 0, fanoutErr.Committed)
	assert.False(t, fanoutErr.Queued)
}

func TestUpdateMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b", "c")
	s := New(f.db, Config{})

	id, err := s.SendMessage(ctx, "a", "dev", draft("a", "helo"))
	require.NoError(t, err)
	_, err = s.ToggleReaction(ctx, "b", "dev", id, "rocket", structures.ReactionUser{UserID: "b"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateMessage(ctx, "a", "dev", id, "hello"))
	for _, uid := range []string{"a", "b", "c"} {
		m := f.message(t, structures.MessagesCollection(uid, "dev"), id)
		assert.Equal(t, "hello", m.Text, uid)
		assert.Len(t, m.Reactions, 1, uid)
	}

	assert.True(t, errors.Is(s.UpdateMessage(ctx, "a", "dev", id, ""), errors.ErrEmptyMessage))
}

func TestEditAfterMemberJoined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b")
	s := New(f.db, Config{Outbox: f.box})

	id, err := s.SendMessage(ctx, "a", "dev", draft("a", "hello"))
	require.NoError(t, err)
	f.channel(t, "dev", "c")

	require.NoError(t, s.UpdateMessage(ctx, "a", "dev", id, "edited"))
	for _, uid := range []string{"a", "b"} {
		assert.Equal(t, "edited", f.message(t, structures.MessagesCollection(uid, "dev"), id).Text, uid)
	}
	assert.Nil(t, f.message(t, structures.MessagesCollection("c", "dev"), id))

	_, err = s.ToggleReaction(ctx, "a", "dev", id, "rocket", structures.ReactionUser{UserID: "a"})
	require.NoError(t, err)
	assert.Len(t, f.message(t, structures.MessagesCollection("b", "dev"), id).Reactions, 1)
	assert.Nil(t, f.message(t, structures.MessagesCollection("c", "dev"), id))
	assert.Empty(t, f.box.Jobs())

	err = s.UpdateMessage(ctx, "a", "dev", "missing", "edited")
	assert.True(t, errors.Is(err, errors.ErrDocumentNotFound))
}

func TestEditThreadReplyAfterMemberJoined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b")
	s := New(f.db, Config{})

	parent, err := s.SendMessage(ctx, "a", "dev", draft("a", "question"))
	require.NoError(t, err)
	reply, err := s.SendThreadReply(ctx, "b", "dev", parent, draft("b", "answr"))
	require.NoError(t, err)
	f.channel(t, "dev", "c")

	require.NoError(t, s.UpdateThreadReply(ctx, "b", "dev", parent, reply, "answer"))
	for _, uid := range []string{"a", "b"} {
		assert.Equal(t, "answer", f.message(t, structures.ThreadCollection(uid, "dev", parent), reply).Text, uid)
	}
	assert.Nil(t, f.message(t, structures.ThreadCollection("c", "dev", parent), reply))
}

func TestToggleReactionTwiceRemovesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b", "c")
	s := New(f.db, Config{})
	bob := structures.ReactionUser{UserID: "b", Username: "user b"}

	id, err := s.SendMessage(ctx, "a", "dev", draft("a", "launch"))
	require.NoError(t, err)

	reactions, err := s.ToggleReaction(ctx, "b", "dev", id, "rocket", bob)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, 1, reactions[0].EmojiCount)
	for _, uid := range []string{"a", "b", "c"} {
		m := f.message(t, structures.MessagesCollection(uid, "dev"), id)
		require.Len(t, m.Reactions, 1, uid)
		assert.Equal(t, []structures.ReactionUser{bob}, m.Reactions[0].ReactionUsers)
	}

	reactions, err = s.ToggleReaction(ctx, "b", "dev", id, "rocket", bob)
	require.NoError(t, err)
	assert.Empty(t, reactions)
	for _, uid := range []string{"a", "b", "c"} {
		m := f.message(t, structures.MessagesCollection(uid, "dev"), id)
		assert.Empty(t, m.Reactions, uid)
	}
}

func TestToggleReactionMissingOwnerCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b")
	s := New(f.db, Config{})

	id, err := s.SendMessage(ctx, "a", "dev", draft("a", "hi"))
	require.NoError(t, err)
	require.NoError(t, f.db.Delete(ctx, structures.MessagesCollection("b", "dev").Doc(id)))

	reactions, err := s.ToggleReaction(ctx, "b", "dev", id, "rocket", structures.ReactionUser{UserID: "b"})
	require.NoError(t, err)
	assert.Nil(t, reactions)
	assert.Empty(t, f.message(t, structures.MessagesCollection("a", "dev"), id).Reactions)
}

func TestSendThreadReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b", "c")
	s := New(f.db, Config{})

	parent, err := s.SendMessage(ctx, "a", "dev", draft("a", "question"))
	require.NoError(t, err)

	reply, err := s.SendThreadReply(ctx, "b", "dev", parent, draft("b", "answer"))
	require.NoError(t, err)

	for _, uid := range []string{"a", "b", "c"} {
		r := f.message(t, structures.ThreadCollection(uid, "dev", parent), reply)
		require.NotNil(t, r, uid)
		assert.Equal(t, "answer", r.Text)

		p := f.message(t, structures.MessagesCollection(uid, "dev"), parent)
		assert.Equal(t, 1, p.RepliesCount, uid)
		require.NotNil(t, p.LastReplyTime, uid)
		assert.True(t, p.LastReplyTime.After(p.CreatedAt))
	}

	_, err = s.SendThreadReply(ctx, "c", "dev", parent, draft("c", "me too"))
	require.NoError(t, err)
	for _, uid := range []string{"a", "b", "c"} {
		assert.Equal(t, 2, f.message(t, structures.MessagesCollection(uid, "dev"), parent).RepliesCount, uid)
	}

	require.NoError(t, s.UpdateThreadReply(ctx, "b", "dev", parent, reply, "better answer"))
	assert.Equal(t, "better answer", f.message(t, structures.ThreadCollection("c", "dev", parent), reply).Text)

	reactions, err := s.ToggleThreadReaction(ctx, "c", "dev", parent, reply, "tada", structures.ReactionUser{UserID: "c"})
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Len(t, f.message(t, structures.ThreadCollection("a", "dev", parent), reply).Reactions, 1)
	assert.Empty(t, f.message(t, structures.MessagesCollection("a", "dev"), parent).Reactions)
}

func TestThreadReplyCounterFailureQueuesRecount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.channel(t, "dev", "a", "b", "c")

	parent, err := New(f.db, Config{}).SendMessage(ctx, "a", "dev", draft("a", "question"))
	require.NoError(t, err)

	s := New(&countingStore{Store: f.db, okBatches: 1}, Config{Outbox: f.box})
	reply, err := s.SendThreadReply(ctx, "b", "dev", parent, draft("b", "answer"))
	require.NotEmpty(t, reply)
	var fanoutErr *errors.FanoutError
	require.True(t, errors.As(err, &fanoutErr))
	assert.True(t, fanoutErr.Queued)

	assert.NotNil(t, f.message(t, structures.ThreadCollection("c", "dev", parent), reply))
	assert.Equal(t, 0, f.message(t, structures.MessagesCollection("c", "dev"), parent).RepliesCount)

	jobs := f.box.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, outbox.KindReplyCount, jobs[0].Kind)
	assert.Equal(t, []string{"a", "b", "c"}, jobs[0].Targets)

	require.NoError(t, f.box.Flush(ctx, outbox.NewApplier(f.db, f.dir, 0, nil)))
	for _, uid := range []string{"a", "b", "c"} {
		p := f.message(t, structures.MessagesCollection(uid, "dev"), parent)
		assert.Equal(t, 1, p.RepliesCount, uid)
		assert.NotNil(t, p.LastReplyTime, uid)
	}
}

func TestListenMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	f.channel(t, "dev", "a", "b")
	s := New(f.db, Config{})

	first, err := s.SendMessage(ctx, "a", "dev", draft("a", "first"))
	require.NoError(t, err)

	var (
		mtx   sync.Mutex
		calls [][]string
	)
	sub, err := s.ListenMessages(ctx, "b", "dev", func(list []structures.Message) {
		texts := []string{}
		for _, m := range list {
			texts = append(texts, m.Text)
		}
		mtx.Lock()
		calls = append(calls, texts)
		mtx.Unlock()
	})
	require.NoError(t, err)

	_, err = s.SendMessage(ctx, "b", "dev", draft("b", "second"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateMessage(ctx, "a", "dev", first, "first!"))

	// a merge onto a copy that never existed must not show up as a message
	require.NoError(t, f.db.Merge(ctx, structures.MessagesCollection("b", "dev").Doc("ghost"), docstore.Doc{"reactions": []interface{}{}}))

	sub.Close()
	_, err = s.SendMessage(ctx, "a", "dev", draft("a", "unseen"))
	require.NoError(t, err)

	mtx.Lock()
	defer mtx.Unlock()
	assert.Equal(t, [][]string{
		{"first"},
		{"first", "second"},
		{"first!", "second"},
		{"first!", "second"},
	}, calls)
}

func TestDirectMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := New(f.db, Config{})

	var got []structures.Message
	sub, err := s.ListenDirectMessages(ctx, "b", "a", func(list []structures.Message) { got = list })
	require.NoError(t, err)
	defer sub.Close()

	id, err := s.SendDirectMessage(ctx, "a", "b", draft("a", "psst"))
	require.NoError(t, err)

	assert.NotNil(t, f.message(t, structures.DirectMessagesCollection("a", "b"), id))
	assert.NotNil(t, f.message(t, structures.DirectMessagesCollection("b", "a"), id))
	require.Len(t, got, 1)
	assert.Equal(t, "psst", got[0].Text)

	require.NoError(t, s.UpdateDirectMessage(ctx, "a", "b", id, "hey"))
	assert.Equal(t, "hey", f.message(t, structures.DirectMessagesCollection("b", "a"), id).Text)

	reactions, err := s.ToggleDirectReaction(ctx, "b", "a", id, "wave", structures.ReactionUser{UserID: "b"})
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Len(t, f.message(t, structures.DirectMessagesCollection("a", "b"), id).Reactions, 1)

	self, err := s.SendDirectMessage(ctx, "a", "a", draft("a", "memo"))
	require.NoError(t, err)
	assert.NotNil(t, f.message(t, structures.DirectMessagesCollection("a", "a"), self))
}
