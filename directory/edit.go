package directory

import (
	"context"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/structures"
)

// RenameChannel updates the canonical name and propagates it. A failed
// propagation is logged and left to the outbox; the rename itself stands.
func (s *Service) RenameChannel(ctx context.Context, channelID, name string) (*structures.Channel, error) {
	return s.edit(ctx, channelID, Patch{Name: &name})
}

func (s *Service) DescribeChannel(ctx context.Context, channelID, description string) (*structures.Channel, error) {
	return s.edit(ctx, channelID, Patch{Description: &description})
}

func (s *Service) edit(ctx context.Context, channelID string, patch Patch) (*structures.Channel, error) {
	ch, err := s.UpdateChannel(ctx, channelID, patch)
	if err != nil {
		return nil, err
	}

	if err := s.SyncMembershipsToAll(ctx, channelID, ch.Members); err != nil {
		s.config.Logger.WithError(err).WithField("channel", channelID).Warn("channel updated but not every membership was synced")
	}
	return ch, nil
}

// RemoveMember drops uid from the roster, deletes their Membership copy and
// syncs the remaining members. Messages already fanned out to uid stay.
func (s *Service) RemoveMember(ctx context.Context, channelID, uid string) (*structures.Channel, error) {
	existing, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	remaining := make([]structures.Member, 0, len(existing.Members))
	for _, m := range existing.Members {
		if m.UID != uid {
			remaining = append(remaining, m)
		}
	}

	ch, err := s.UpdateChannel(ctx, channelID, Patch{Members: remaining})
	if err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, structures.MembershipDoc(uid, channelID)); err != nil {
		return ch, err
	}

	if err := s.SyncMembershipsToAll(ctx, channelID, ch.Members); err != nil {
		s.config.Logger.WithError(err).WithField("channel", channelID).Warn("member removed but not every membership was synced")
	}
	return ch, nil
}

// LeaveChannel removes the session user from the channel.
func (s *Service) LeaveChannel(ctx context.Context, channelID, uid string) error {
	_, err := s.RemoveMember(ctx, channelID, uid)
	return err
}

func encodeMembership(m structures.Membership) (docstore.Doc, error) {
	return docstore.Encode(m)
}
