package structures

import (
	"strings"
	"time"
)

const (
	// DefaultChannelID is the well known channel every user joins at signup.
	DefaultChannelID = "general"

	// YouSuffix marks the viewing user's own roster entry.
	YouSuffix = " (Du)"
)

// Channel structure is the canonical document in the schema "channels"
type Channel struct {
	ID          string    `bson:"id" json:"id"`                   // string		primary-key
	Name        string    `bson:"name" json:"name"`               // string		index(name)
	Description string    `bson:"description" json:"description"` // string
	CreatedBy   string    `bson:"createdBy" json:"createdBy"`     // string
	Members     []Member  `bson:"members" json:"members"`         // []Member	never null
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`     // time
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`     // time
}

// Normalize applies the read invariants: members is never nil and missing timestamps read as now.
func (c *Channel) Normalize(now time.Time) {
	if c.Members == nil {
		c.Members = []Member{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

func (c Channel) MemberUIDs() []string {
	return MemberUIDs(c.Members)
}

func (c Channel) HasMember(uid string) bool {
	for _, m := range c.Members {
		if m.UID == uid {
			return true
		}
	}
	return false
}

// ViewFor returns a copy of the channel with the viewer's own entry marked and suffixed.
func (c Channel) ViewFor(viewerUID string) Channel {
	out := c
	out.Members = make([]Member, len(c.Members))
	for i, m := range c.Members {
		if m.UID == viewerUID {
			m.IsYou = true
			if !strings.HasSuffix(m.Name, YouSuffix) {
				m.Name += YouSuffix
			}
		}
		out.Members[i] = m
	}
	return out
}

// Member structure is a roster entry embedded in `Channel` and `Membership`
type Member struct {
	UID    string `bson:"uid" json:"uid"`                           // string
	Name   string `bson:"name" json:"name"`                         // string
	Avatar string `bson:"avatar" json:"avatar"`                     // string
	Email  string `bson:"email,omitempty" json:"email,omitempty"`   // string
	Status string `bson:"status,omitempty" json:"status,omitempty"` // string
	IsYou  bool   `bson:"-" json:"isYou,omitempty"`                 // view only
}

// Membership structure is the per user copy of a channel in the schema "users/{uid}/channels"
type Membership struct {
	ChannelID   string    `bson:"channelId" json:"channelId"`     // string		primary-key
	Name        string    `bson:"name" json:"name"`               // string		index(name)
	Description string    `bson:"description" json:"description"` // string
	CreatedBy   string    `bson:"createdBy" json:"createdBy"`     // string
	Members     []Member  `bson:"members" json:"members"`         // []Member
	JoinedAt    time.Time `bson:"joinedAt" json:"joinedAt"`       // time
	SyncedAt    time.Time `bson:"syncedAt" json:"syncedAt"`       // time
}

// MemberUIDs returns the uids of members in order, without duplicates.
func MemberUIDs(members []Member) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m.UID == "" {
			continue
		}
		if _, ok := seen[m.UID]; ok {
			continue
		}
		seen[m.UID] = struct{}{}
		out = append(out, m.UID)
	}
	return out
}

// MergeMembers appends the entries of add whose uid is not already present.
func MergeMembers(existing, add []Member) []Member {
	out := make([]Member, 0, len(existing)+len(add))
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, list := range [][]Member{existing, add} {
		for _, m := range list {
			if _, ok := seen[m.UID]; ok {
				continue
			}
			seen[m.UID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
