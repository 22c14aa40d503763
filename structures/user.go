package structures

// User structure is a document in the schema "users", mirrored into "directMessages" for contact listing
type User struct {
	UID    string `bson:"uid" json:"uid"`       // string		primary-key
	Name   string `bson:"name" json:"name"`     // string		index(name)
	Email  string `bson:"email" json:"email"`   // string
	Avatar string `bson:"avatar" json:"avatar"` // string
}

// Member returns the roster entry for the user.
func (u User) Member() Member {
	return Member{
		UID:    u.UID,
		Name:   u.Name,
		Avatar: u.Avatar,
		Email:  u.Email,
	}
}

// Author returns the message author block for the user.
func (u User) Author() Author {
	return Author{
		UID:      u.UID,
		Username: u.Name,
		Avatar:   u.Avatar,
	}
}

// ReactionUser returns the identity recorded when the user reacts.
func (u User) ReactionUser() ReactionUser {
	return ReactionUser{
		UserID:   u.UID,
		Username: u.Name,
	}
}
