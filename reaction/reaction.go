// Package reaction implements the emoji toggle shared by channel messages,
// thread replies and direct messages.
package reaction

import "github.com/dabubble/common/structures"

// Toggle adds user to the emojiID reaction or removes them if they already reacted.
// An entry left without users is dropped. The input slice is not modified.
func Toggle(reactions []structures.Reaction, emojiID string, user structures.ReactionUser) []structures.Reaction {
	out := Clone(reactions)

	idx := -1
	for i, r := range out {
		if r.EmojiID == emojiID {
			idx = i
			break
		}
	}

	if idx < 0 {
		return append(out, structures.Reaction{
			EmojiID:       emojiID,
			EmojiCount:    1,
			ReactionUsers: []structures.ReactionUser{user},
		})
	}

	entry := &out[idx]
	for i, u := range entry.ReactionUsers {
		if u.UserID != user.UserID {
			continue
		}

		entry.ReactionUsers = append(entry.ReactionUsers[:i], entry.ReactionUsers[i+1:]...)
		entry.EmojiCount--
		if entry.EmojiCount < 0 {
			entry.EmojiCount = 0
		}
		if entry.EmojiCount == 0 || len(entry.ReactionUsers) == 0 {
			out = append(out[:idx], out[idx+1:]...)
		}
		return out
	}

	entry.ReactionUsers = append(entry.ReactionUsers, user)
	entry.EmojiCount++
	return out
}

// Clone deep copies a reactions array. It never returns nil.
func Clone(reactions []structures.Reaction) []structures.Reaction {
	out := make([]structures.Reaction, len(reactions))
	for i, r := range reactions {
		r.ReactionUsers = append([]structures.ReactionUser(nil), r.ReactionUsers...)
		out[i] = r
	}
	return out
}

// Valid reports whether every entry has a matching count, at least one user
// and a unique emoji id.
func Valid(reactions []structures.Reaction) bool {
	seen := make(map[string]struct{}, len(reactions))
	for _, r := range reactions {
		if _, ok := seen[r.EmojiID]; ok {
			return false
		}
		seen[r.EmojiID] = struct{}{}
		if r.EmojiCount != len(r.ReactionUsers) || r.EmojiCount == 0 {
			return false
		}
	}
	return true
}
