package structures

import "time"

// Message structure is a per member copy in "users/{uid}/channels/{cid}/messages",
// in the thread collection below a parent message, or in "users/{uid}/directMessages/{peer}/messages"
type Message struct {
	ID            string     `bson:"id" json:"id"`                                           // string		primary-key, shared by all copies
	Text          string     `bson:"text" json:"text"`                                       // string
	CreatedAt     time.Time  `bson:"createdAt" json:"createdAt"`                             // time		index(createdAt)
	Author        Author     `bson:"author" json:"author"`                                   // Author
	Reactions     []Reaction `bson:"reactions" json:"reactions"`                             // []Reaction
	RepliesCount  int        `bson:"repliesCount" json:"repliesCount"`                       // int
	LastReplyTime *time.Time `bson:"lastReplyTime,omitempty" json:"lastReplyTime,omitempty"` // time
}

// Author structure is embedded in `Message`
type Author struct {
	UID      string `bson:"uid" json:"uid"`
	Username string `bson:"username" json:"username"`
	Avatar   string `bson:"avatar" json:"avatar"`
}

// Reaction structure is embedded in `Message`, one per emoji
type Reaction struct {
	EmojiID       string         `bson:"emojiId" json:"emojiId"`
	EmojiCount    int            `bson:"emojiCount" json:"emojiCount"`
	ReactionUsers []ReactionUser `bson:"reactionUsers" json:"reactionUsers"`
}

type ReactionUser struct {
	UserID   string `bson:"userId" json:"userId"`
	Username string `bson:"username" json:"username"`
}
