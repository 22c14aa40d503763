// Package directory owns the canonical channel records in "channels" and
// propagates every change to the per-user Membership copies.
package directory

import (
	"context"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/structures"
	"github.com/sirupsen/logrus"
)

type UserLister interface {
	List(ctx context.Context) ([]structures.User, error)
}

type Config struct {
	Logger logrus.FieldLogger
	Clock  func() time.Time
	// Outbox receives membership sync jobs for members whose copy failed to update.
	Outbox outbox.Publisher

	DefaultChannelID          string
	DefaultChannelName        string
	DefaultChannelDescription string
}

func (c Config) fill() Config {
	if c.Logger == nil {
		c.Logger = DefaultConfig.Logger
	}
	if c.Clock == nil {
		c.Clock = DefaultConfig.Clock
	}
	if c.DefaultChannelID == "" {
		c.DefaultChannelID = DefaultConfig.DefaultChannelID
	}
	if c.DefaultChannelName == "" {
		c.DefaultChannelName = DefaultConfig.DefaultChannelName
	}
	if c.DefaultChannelDescription == "" {
		c.DefaultChannelDescription = DefaultConfig.DefaultChannelDescription
	}
	return c
}

var DefaultConfig = Config{
	Logger:                    logrus.StandardLogger(),
	Clock:                     time.Now,
	DefaultChannelID:          structures.DefaultChannelID,
	DefaultChannelName:        "Allgemein",
	DefaultChannelDescription: "Der Kanal für das ganze Team.",
}

type Service struct {
	store  docstore.Store
	users  UserLister
	config Config
}

func New(store docstore.Store, users UserLister, config Config) *Service {
	return &Service{
		store:  store,
		users:  users,
		config: config.fill(),
	}
}

func (s *Service) DefaultChannelID() string {
	return s.config.DefaultChannelID
}

func (s *Service) now() time.Time {
	return s.config.Clock().UTC()
}

// Patch lists the canonical fields an update may change. Nil fields are left untouched.
type Patch struct {
	Name        *string
	Description *string
	CreatedBy   *string
	Members     []structures.Member
}

// GetChannel returns nil when the channel has no canonical record.
func (s *Service) GetChannel(ctx context.Context, channelID string) (*structures.Channel, error) {
	snap, err := s.store.Get(ctx, structures.ChannelDoc(channelID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, nil
	}

	ch := &structures.Channel{}
	if err := snap.DataTo(ch); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		ch.ID = channelID
	}
	ch.Normalize(s.now())
	return ch, nil
}

// UpdateChannel merges patch over the stored record and writes it back. It
// does not propagate; callers follow up with SyncMembershipsToAll.
func (s *Service) UpdateChannel(ctx context.Context, channelID string, patch Patch) (*structures.Channel, error) {
	existing, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ch := structures.Channel{ID: channelID, Members: []structures.Member{}, CreatedAt: now}
	if existing != nil {
		ch = *existing
	}

	if patch.Name != nil {
		ch.Name = *patch.Name
	}
	if patch.Description != nil {
		ch.Description = *patch.Description
	}
	if patch.CreatedBy != nil {
		ch.CreatedBy = *patch.CreatedBy
	}
	if patch.Members != nil {
		ch.Members = patch.Members
	}
	if ch.Members == nil {
		ch.Members = []structures.Member{}
	}
	ch.UpdatedAt = now

	if err := s.writeChannel(ctx, ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Service) writeChannel(ctx context.Context, ch structures.Channel) error {
	doc, err := docstore.Encode(ch)
	if err != nil {
		return err
	}
	return s.store.Merge(ctx, structures.ChannelDoc(ch.ID), doc)
}

// AddMembers adds the members not yet on the roster, creating the canonical
// record from fallback when it does not exist, then syncs every member.
func (s *Service) AddMembers(ctx context.Context, channelID string, newMembers []structures.Member, fallback structures.Channel) (*structures.Channel, error) {
	existing, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ch := fallback
	if existing != nil {
		ch = *existing
	} else {
		ch.ID = channelID
		ch.CreatedAt = now
	}

	ch.Members = structures.MergeMembers(ch.Members, newMembers)
	ch.UpdatedAt = now

	if err := s.writeChannel(ctx, ch); err != nil {
		return nil, err
	}

	if err := s.SyncMembershipsToAll(ctx, channelID, ch.Members); err != nil {
		return &ch, err
	}
	return &ch, nil
}

// EnsureDefaultChannelAndAddUser makes sure the default channel exists and has
// the user on its roster exactly once.
func (s *Service) EnsureDefaultChannelAndAddUser(ctx context.Context, uid, name, avatar, email string) error {
	member := structures.Member{UID: uid, Name: name, Avatar: avatar, Email: email}
	channelID := s.config.DefaultChannelID

	existing, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err := s.AddMembers(ctx, channelID, []structures.Member{member}, structures.Channel{})
		return err
	}

	var directory []structures.Member
	if s.users != nil {
		users, err := s.users.List(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			directory = append(directory, u.Member())
		}
	}

	now := s.now()
	ch := structures.Channel{
		ID:          channelID,
		Name:        s.config.DefaultChannelName,
		Description: s.config.DefaultChannelDescription,
		CreatedBy:   uid,
		Members:     structures.MergeMembers(directory, []structures.Member{member}),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.config.Logger.WithField("channel", channelID).WithField("members", len(ch.Members)).Info("creating default channel")

	if err := s.writeChannel(ctx, ch); err != nil {
		return err
	}
	return s.SyncMembershipsToAll(ctx, channelID, ch.Members)
}

// CreateChannel writes a new canonical channel with the creator on the roster.
func (s *Service) CreateChannel(ctx context.Context, creator structures.User, name, description string, members []structures.Member) (*structures.Channel, error) {
	now := s.now()
	ch := structures.Channel{
		ID:          s.store.NewID(structures.ChannelsCollection()),
		Name:        name,
		Description: description,
		CreatedBy:   creator.UID,
		Members:     structures.MergeMembers([]structures.Member{creator.Member()}, members),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.writeChannel(ctx, ch); err != nil {
		return nil, err
	}
	if err := s.SyncMembershipsToAll(ctx, ch.ID, ch.Members); err != nil {
		return &ch, err
	}
	return &ch, nil
}
