package membership

import (
	"context"
	"testing"
	"time"

	"github.com/dabubble/common/directory"
	"github.com/dabubble/common/structures"
	"github.com/dabubble/common/svc/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	channels map[string]structures.Channel
	calls    int
}

func (f *fakeLoader) GetChannel(ctx context.Context, channelID string) (*structures.Channel, error) {
	f.calls++
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func roster(uids ...string) []structures.Member {
	out := make([]structures.Member, len(uids))
	for i, uid := range uids {
		out[i] = structures.Member{UID: uid, Name: "user " + uid}
	}
	return out
}

func newStore(loader ChannelLoader) *Store {
	return New(memdb.New(memdb.Config{}), loader, "me", Config{})
}

func TestSelectChannelPrefersCache(t *testing.T) {
	s := newStore(&fakeLoader{})
	full := structures.Channel{ID: "dev", Name: "Dev", Description: "full", Members: roster("me", "b")}
	s.UpdateSelectedChannel(full)

	s.SelectChannel(&structures.Channel{ID: "dev", Name: "Dev"})
	got := s.Selected()
	require.NotNil(t, got)
	assert.Equal(t, "full", got.Description)
	assert.Len(t, got.Members, 2)

	s.SelectChannel(&structures.Channel{ID: "other", Name: "Other"})
	assert.Equal(t, "Other", s.Selected().Name)

	s.SelectChannel(nil)
	assert.Nil(t, s.Selected())
}

func TestUpdateSelectedChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStore(&fakeLoader{})
	updates := s.Subscribe(ctx)
	assert.Nil(t, <-updates)

	s.SelectChannel(&structures.Channel{ID: "dev", Name: "Dev"})
	assert.Equal(t, "Dev", (<-updates).Name)

	s.UpdateSelectedChannel(structures.Channel{ID: "other", Name: "Other"})
	select {
	case v := <-updates:
		t.Fatalf("unexpected update %+v", v)
	default:
	}
	assert.Equal(t, "Dev", s.Selected().Name)

	s.UpdateSelectedChannel(structures.Channel{ID: "dev", Name: "Dev-Team"})
	assert.Equal(t, "Dev-Team", (<-updates).Name)

	s.SelectChannel(&structures.Channel{ID: "other"})
	assert.Equal(t, "Other", s.Selected().Name)
	assert.Equal(t, "Other", (<-updates).Name)
}

func TestSubscribeKeepsLatestValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStore(&fakeLoader{})

	updates := s.Subscribe(ctx)
	s.SelectChannel(&structures.Channel{ID: "a", Name: "A"})
	s.SelectChannel(&structures.Channel{ID: "b", Name: "B", Members: roster("x", "me")})

	got := <-updates
	require.NotNil(t, got)
	assert.Equal(t, "B", got.Name)
	assert.Equal(t, "user x", got.Members[0].Name)
	assert.Equal(t, "user me"+structures.YouSuffix, got.Members[1].Name)
	assert.True(t, got.Members[1].IsYou)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-updates
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveChannel(t *testing.T) {
	s := newStore(&fakeLoader{})
	s.UpdateSelectedChannel(structures.Channel{ID: "dev", Name: "Dev"})
	s.SelectChannel(&structures.Channel{ID: "dev"})

	s.RemoveChannel("other")
	assert.NotNil(t, s.Selected())

	s.RemoveChannel("dev")
	assert.Nil(t, s.Selected())

	s.SelectChannel(&structures.Channel{ID: "dev", Name: "partial"})
	assert.Equal(t, "partial", s.Selected().Name)
}

func TestInvalidateChannelAndReloadIfSelected(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{channels: map[string]structures.Channel{
		"dev": {ID: "dev", Name: "Dev v2"},
	}}
	s := newStore(loader)
	s.UpdateSelectedChannel(structures.Channel{ID: "dev", Name: "Dev v1"})
	s.UpdateSelectedChannel(structures.Channel{ID: "ops", Name: "Ops v1"})
	s.SelectChannel(&structures.Channel{ID: "dev"})

	require.NoError(t, s.InvalidateChannelAndReloadIfSelected(ctx, "ops"))
	assert.Equal(t, 0, loader.calls)
	assert.Equal(t, "Dev v1", s.Selected().Name)

	require.NoError(t, s.InvalidateChannelAndReloadIfSelected(ctx, "dev"))
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, "Dev v2", s.Selected().Name)

	delete(loader.channels, "dev")
	require.NoError(t, s.InvalidateChannelAndReloadIfSelected(ctx, "dev"))
	assert.Nil(t, s.Selected())
}

func TestLoadFirstAvailableChannel(t *testing.T) {
	ctx := context.Background()

	t.Run("no memberships", func(t *testing.T) {
		s := newStore(&fakeLoader{})
		s.SelectChannel(&structures.Channel{ID: "stale"})

		ch, err := s.LoadFirstAvailableChannel(ctx)
		require.NoError(t, err)
		assert.Nil(t, ch)
		assert.Nil(t, s.Selected())
	})

	t.Run("prefers the default channel", func(t *testing.T) {
		db := memdb.New(memdb.Config{})
		dir := directory.New(db, nil, directory.Config{})
		_, err := dir.AddMembers(ctx, "aaa", roster("me"), structures.Channel{Name: "Aaa"})
		require.NoError(t, err)
		require.NoError(t, dir.EnsureDefaultChannelAndAddUser(ctx, "me", "user me", "", ""))

		s := New(db, dir, "me", Config{})
		ch, err := s.LoadFirstAvailableChannel(ctx)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, structures.DefaultChannelID, ch.ID)
		assert.Equal(t, "user me"+structures.YouSuffix, ch.Members[0].Name)
	})

	t.Run("falls back to the first by name", func(t *testing.T) {
		db := memdb.New(memdb.Config{})
		dir := directory.New(db, nil, directory.Config{})
		_, err := dir.AddMembers(ctx, "z", roster("me"), structures.Channel{Name: "Zulu"})
		require.NoError(t, err)
		_, err = dir.AddMembers(ctx, "b", roster("me", "x"), structures.Channel{Name: "Bravo"})
		require.NoError(t, err)

		s := New(db, dir, "me", Config{})
		ch, err := s.LoadFirstAvailableChannel(ctx)
		require.NoError(t, err)
		require.NotNil(t, ch)
		assert.Equal(t, "b", ch.ID)
		assert.Equal(t, "Bravo", s.Selected().Name)

		list, err := s.Channels(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "Bravo", list[0].Name)
		assert.Equal(t, "Zulu", list[1].Name)
	})
}

func TestListen(t *testing.T) {
	ctx := context.Background()
	db := memdb.New(memdb.Config{})
	dir := directory.New(db, nil, directory.Config{})
	s := New(db, dir, "me", Config{})

	var names [][]string
	sub, err := s.Listen(ctx, func(list []structures.Membership) {
		row := []string{}
		for _, m := range list {
			row = append(row, m.Name)
		}
		names = append(names, row)
	})
	require.NoError(t, err)
	defer sub.Close()

	_, err = dir.AddMembers(ctx, "dev", roster("me"), structures.Channel{Name: "Dev"})
	require.NoError(t, err)
	_, err = dir.RenameChannel(ctx, "dev", "Dev-Team")
	require.NoError(t, err)
	require.NoError(t, dir.LeaveChannel(ctx, "dev", "me"))

	assert.Equal(t, [][]string{{}, {"Dev"}, {"Dev-Team"}, {}}, names)
}
