package messages

import (
	"context"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/structures"
)

func channelLocator(channelID string) locator {
	return func(uid string) docstore.CollectionRef {
		return structures.MessagesCollection(uid, channelID)
	}
}

// SendMessage writes one copy per channel member and returns the shared id.
// Already committed batches stay when a later batch fails.
func (s *Store) SendMessage(ctx context.Context, ownerUID, channelID string, d Draft) (string, error) {
	targets, err := s.MemberUIDs(ctx, ownerUID, channelID)
	if err != nil {
		return "", err
	}
	return s.fanOut(ctx, "send message", ownerUID, targets, channelLocator(channelID), d)
}

// UpdateMessage rewrites the text of every current member's copy.
func (s *Store) UpdateMessage(ctx context.Context, ownerUID, channelID, messageID, text string) error {
	targets, err := s.MemberUIDs(ctx, ownerUID, channelID)
	if err != nil {
		return err
	}
	return s.updateText(ctx, "update message", targets, channelLocator(channelID), messageID, text)
}

// ToggleReaction returns the resulting reactions, or nil when the owner's copy does not exist.
func (s *Store) ToggleReaction(ctx context.Context, ownerUID, channelID, messageID, emojiID string, user structures.ReactionUser) ([]structures.Reaction, error) {
	targets, err := s.MemberUIDs(ctx, ownerUID, channelID)
	if err != nil {
		return nil, err
	}
	return s.toggle(ctx, "toggle reaction", ownerUID, targets, channelLocator(channelID), messageID, emojiID, user)
}

// ListenMessages delivers the owner's full ordered copy of the channel on every change.
func (s *Store) ListenMessages(ctx context.Context, ownerUID, channelID string, fn func([]structures.Message)) (docstore.Subscription, error) {
	return s.listen(ctx, structures.MessagesCollection(ownerUID, channelID), fn)
}
