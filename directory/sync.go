package directory

import (
	"context"

	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/structures"
)

// SyncMembershipsToAll overwrites every member's Membership copy with the
// canonical channel. Each member is written on its own; a failed member does
// not stop the others.
func (s *Service) SyncMembershipsToAll(ctx context.Context, channelID string, members []structures.Member) error {
	logger := s.config.Logger.WithField("channel", channelID)
	if members == nil {
		logger.Warn("membership sync called without members")
		members = []structures.Member{}
	}

	canonical, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if canonical == nil {
		logger.Warn("membership sync without canonical channel")
		canonical = &structures.Channel{ID: channelID, Members: members}
	}

	var (
		failed   int
		firstErr error
	)
	targets := structures.MemberUIDs(members)
	for _, uid := range targets {
		if err := s.syncMembership(ctx, canonical, uid); err != nil {
			logger.WithError(err).WithField("member", uid).Warn("failed to sync membership")
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil {
		return nil
	}

	fanoutErr := &errors.FanoutError{
		Op:        "membership sync",
		Committed: len(targets) - failed,
		Total:     len(targets),
		Cause:     firstErr,
	}
	if s.config.Outbox != nil {
		if err := s.config.Outbox.Publish(ctx, outbox.NewMembershipSyncJob(channelID)); err != nil {
			logger.WithError(err).Error("failed to queue membership sync")
		} else {
			fanoutErr.Queued = true
		}
	}
	return fanoutErr
}

func (s *Service) syncMembership(ctx context.Context, ch *structures.Channel, uid string) error {
	ref := structures.MembershipDoc(uid, ch.ID)
	now := s.now()

	joinedAt := now
	prior, err := s.store.Get(ctx, ref)
	if err != nil {
		return err
	}
	if prior.Exists {
		var m structures.Membership
		if err := prior.DataTo(&m); err == nil && !m.JoinedAt.IsZero() {
			joinedAt = m.JoinedAt
		}
	}

	members := ch.Members
	if members == nil {
		members = []structures.Member{}
	}

	doc, err := encodeMembership(structures.Membership{
		ChannelID:   ch.ID,
		Name:        ch.Name,
		Description: ch.Description,
		CreatedBy:   ch.CreatedBy,
		Members:     members,
		JoinedAt:    joinedAt,
		SyncedAt:    now,
	})
	if err != nil {
		return err
	}
	return s.store.Merge(ctx, ref, doc)
}

// ResyncMemberships re-propagates the stored canonical record. It is the outbox entry point.
func (s *Service) ResyncMemberships(ctx context.Context, channelID string) error {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return nil
	}
	return s.SyncMembershipsToAll(ctx, channelID, ch.Members)
}
