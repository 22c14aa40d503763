package messages

import (
	"context"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/structures"
)

func threadLocator(channelID, parentID string) locator {
	return func(uid string) docstore.CollectionRef {
		return structures.ThreadCollection(uid, channelID, parentID)
	}
}

// SendThreadReply fans the reply out, then bumps repliesCount and lastReplyTime
// on every member's copy of the parent. The two passes are independent; a
// failure in the second leaves the replies in place with a stale counter.
func (s *Store) SendThreadReply(ctx context.Context, ownerUID, channelID, parentID string, d Draft) (string, error) {
	targets, err := s.MemberUIDs(ctx, ownerUID, channelID)
	if err != nil {
		return "", err
	}

	id, err := s.fanOut(ctx, "send thread reply", ownerUID, targets, threadLocator(channelID, parentID), d)
	if err != nil {
		return id, err
	}

	fields := docstore.Doc{
		"repliesCount":  docstore.Increment(1),
		"lastReplyTime": docstore.ServerTimestamp,
	}
	writes := make([]docstore.Write, 0, len(targets))
	for _, uid := range targets {
		writes = append(writes, docstore.MergeWrite(structures.MessagesCollection(uid, channelID).Doc(parentID), fields))
	}

	err = docstore.CommitChunked(ctx, s.store, "reply counter", writes, s.config.BatchSize)
	if err == nil {
		return id, nil
	}

	var fanoutErr *errors.FanoutError
	if errors.As(err, &fanoutErr) && s.config.Outbox != nil {
		job := outbox.NewReplyCountJob(channelID, parentID, targets[fanoutErr.Committed:])
		if qerr := s.config.Outbox.Publish(ctx, job); qerr != nil {
			s.config.Logger.WithError(qerr).Error("failed to queue reply recount")
		} else {
			fanoutErr.Queued = true
		}
	}
	s.config.Logger.WithError(err).WithField("parent", parentID).Error("reply counter update failed")
	return id, err
}

func (s *Store) UpdateThreadReply(ctx context.Context, ownerUID, channelID, parentID, replyID, text string) error {
	targets, err := s.MemberUIDs(ctx, ownerUID, channelID)
	if err != nil {
		return err
	}
	return s.updateText(ctx, "update thread reply", targets, threadLocator(channelID, parentID), replyID, text)
}

func (s *Store) ToggleThreadReaction(ctx context.Context, ownerUID, channelID, parentID, replyID, emojiID string, user structures.ReactionUser) ([]structures.Reaction, error) {
	targets, err := s.MemberUIDs(ctx, ownerUID, channelID)
	if err != nil {
		return nil, err
	}
	return s.toggle(ctx, "toggle thread reaction", ownerUID, targets, threadLocator(channelID, parentID), replyID, emojiID, user)
}

func (s *Store) ListenThread(ctx context.Context, ownerUID, channelID, parentID string, fn func([]structures.Message)) (docstore.Subscription, error) {
	return s.listen(ctx, structures.ThreadCollection(ownerUID, channelID, parentID), fn)
}
