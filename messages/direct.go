package messages

import (
	"context"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/structures"
)

// directLocator addresses each side's copy of the conversation: the owner's
// copy lives under the peer id and the peer's copy under the owner id.
func directLocator(ownerUID, peerUID string) locator {
	return func(uid string) docstore.CollectionRef {
		if uid == ownerUID {
			return structures.DirectMessagesCollection(ownerUID, peerUID)
		}
		return structures.DirectMessagesCollection(uid, ownerUID)
	}
}

func conversation(ownerUID, peerUID string) []string {
	if ownerUID == peerUID {
		return []string{ownerUID}
	}
	return []string{ownerUID, peerUID}
}

func (s *Store) SendDirectMessage(ctx context.Context, ownerUID, peerUID string, d Draft) (string, error) {
	return s.fanOut(ctx, "send direct message", ownerUID, conversation(ownerUID, peerUID), directLocator(ownerUID, peerUID), d)
}

func (s *Store) UpdateDirectMessage(ctx context.Context, ownerUID, peerUID, messageID, text string) error {
	return s.updateText(ctx, "update direct message", conversation(ownerUID, peerUID), directLocator(ownerUID, peerUID), messageID, text)
}

func (s *Store) ToggleDirectReaction(ctx context.Context, ownerUID, peerUID, messageID, emojiID string, user structures.ReactionUser) ([]structures.Reaction, error) {
	return s.toggle(ctx, "toggle direct reaction", ownerUID, conversation(ownerUID, peerUID), directLocator(ownerUID, peerUID), messageID, emojiID, user)
}

func (s *Store) ListenDirectMessages(ctx context.Context, ownerUID, peerUID string, fn func([]structures.Message)) (docstore.Subscription, error) {
	return s.listen(ctx, structures.DirectMessagesCollection(ownerUID, peerUID), fn)
}
