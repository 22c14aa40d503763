// Package membership holds the session user's channel list and the channel
// currently open, with a cache of full channel records.
package membership

import (
	"context"
	"sync"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/structures"
	"github.com/sirupsen/logrus"
)

// ChannelLoader reads canonical channel records. A missing channel is (nil, nil).
type ChannelLoader interface {
	GetChannel(ctx context.Context, channelID string) (*structures.Channel, error)
}

type Config struct {
	Logger           logrus.FieldLogger
	DefaultChannelID string
}

func (c Config) fill() Config {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.DefaultChannelID == "" {
		c.DefaultChannelID = structures.DefaultChannelID
	}
	return c
}

type Store struct {
	store  docstore.Store
	loader ChannelLoader
	uid    string
	config Config

	mtx      sync.Mutex
	cache    map[string]structures.Channel
	selected *structures.Channel
	subs     map[*subscriber]struct{}
}

// New binds the store to the session user uid.
func New(store docstore.Store, loader ChannelLoader, uid string, config Config) *Store {
	return &Store{
		store:  store,
		loader: loader,
		uid:    uid,
		config: config.fill(),
		cache:  map[string]structures.Channel{},
		subs:   map[*subscriber]struct{}{},
	}
}

// Selected returns the open channel as seen by the session user, or nil.
func (s *Store) Selected() *structures.Channel {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.viewLocked()
}

// SelectChannel opens ch, preferring a cached full copy over ch itself. A nil ch clears the selection.
func (s *Store) SelectChannel(ch *structures.Channel) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch {
	case ch == nil:
		s.selected = nil
	default:
		next := *ch
		if cached, ok := s.cache[ch.ID]; ok {
			next = cached
		}
		s.selected = &next
	}
	s.publishLocked()
}

// UpdateSelectedChannel refreshes the cache for data.ID. Subscribers only see
// the change when data is the selected channel.
func (s *Store) UpdateSelectedChannel(data structures.Channel) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.cache[data.ID] = data
	if s.selected == nil || s.selected.ID != data.ID {
		return
	}
	next := data
	s.selected = &next
	s.publishLocked()
}

func (s *Store) RemoveChannel(channelID string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.cache, channelID)
	if s.selected != nil && s.selected.ID == channelID {
		s.selected = nil
		s.publishLocked()
	}
}

// InvalidateChannelAndReloadIfSelected drops the cached copy and reloads the
// channel only when it is the selected one.
func (s *Store) InvalidateChannelAndReloadIfSelected(ctx context.Context, channelID string) error {
	s.mtx.Lock()
	delete(s.cache, channelID)
	selected := s.selected != nil && s.selected.ID == channelID
	s.mtx.Unlock()

	if !selected {
		return nil
	}

	ch, err := s.LoadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		s.RemoveChannel(channelID)
		return nil
	}
	s.SelectChannel(ch)
	return nil
}

// LoadChannel returns the cached channel or reads and caches the canonical record.
func (s *Store) LoadChannel(ctx context.Context, channelID string) (*structures.Channel, error) {
	s.mtx.Lock()
	if cached, ok := s.cache[channelID]; ok {
		s.mtx.Unlock()
		return &cached, nil
	}
	s.mtx.Unlock()

	ch, err := s.loader.GetChannel(ctx, channelID)
	if err != nil || ch == nil {
		return nil, err
	}

	s.mtx.Lock()
	s.cache[channelID] = *ch
	s.mtx.Unlock()
	return ch, nil
}

// LoadFirstAvailableChannel selects the default channel if the user is in it,
// otherwise the alphabetically first one. Without memberships nothing is selected.
func (s *Store) LoadFirstAvailableChannel(ctx context.Context) (*structures.Channel, error) {
	memberships, err := s.Channels(ctx)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		s.SelectChannel(nil)
		return nil, nil
	}

	pick := memberships[0]
	for _, m := range memberships {
		if m.ChannelID == s.config.DefaultChannelID {
			pick = m
			break
		}
	}

	ch, err := s.LoadChannel(ctx, pick.ChannelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		s.config.Logger.WithField("channel", pick.ChannelID).Warn("membership without canonical channel")
		fallback := fromMembership(pick)
		ch = &fallback
	}

	s.SelectChannel(ch)
	return s.Selected(), nil
}

// Channels lists the session user's memberships ordered by name.
func (s *Store) Channels(ctx context.Context) ([]structures.Membership, error) {
	snaps, err := s.store.Query(ctx, structures.MembershipCollection(s.uid), docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, err
	}
	return decodeMemberships(s.config.Logger, snaps), nil
}

// Listen delivers the full membership list on every change.
func (s *Store) Listen(ctx context.Context, fn func([]structures.Membership)) (docstore.Subscription, error) {
	return s.store.Listen(ctx, structures.MembershipCollection(s.uid), docstore.Query{OrderBy: "name"}, func(snaps []docstore.Snapshot) {
		fn(decodeMemberships(s.config.Logger, snaps))
	})
}

func decodeMemberships(logger logrus.FieldLogger, snaps []docstore.Snapshot) []structures.Membership {
	out := make([]structures.Membership, 0, len(snaps))
	for _, snap := range snaps {
		var m structures.Membership
		if err := snap.DataTo(&m); err != nil {
			logger.WithError(err).WithField("channel", snap.Ref.ID).Warn("skipping undecodable membership")
			continue
		}
		if m.ChannelID == "" {
			m.ChannelID = snap.Ref.ID
		}
		if m.Members == nil {
			m.Members = []structures.Member{}
		}
		out = append(out, m)
	}
	return out
}

func fromMembership(m structures.Membership) structures.Channel {
	return structures.Channel{
		ID:          m.ChannelID,
		Name:        m.Name,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		Members:     m.Members,
	}
}
