package structures

import "github.com/dabubble/common/docstore"

const (
	CollectionUsers          = "users"
	CollectionDirectory      = "directMessages"
	CollectionChannels       = "channels"
	CollectionMessages       = "messages"
	CollectionThreads        = "threads"
	CollectionDirectMessages = "directMessages"
)

func UsersCollection() docstore.CollectionRef {
	return docstore.Collection(CollectionUsers)
}

func UserDoc(uid string) docstore.DocRef {
	return UsersCollection().Doc(uid)
}

func DirectoryCollection() docstore.CollectionRef {
	return docstore.Collection(CollectionDirectory)
}

func DirectoryDoc(uid string) docstore.DocRef {
	return DirectoryCollection().Doc(uid)
}

func ChannelsCollection() docstore.CollectionRef {
	return docstore.Collection(CollectionChannels)
}

func ChannelDoc(channelID string) docstore.DocRef {
	return ChannelsCollection().Doc(channelID)
}

// MembershipCollection holds one Membership per channel the user belongs to.
func MembershipCollection(uid string) docstore.CollectionRef {
	return UserDoc(uid).Collection(CollectionChannels)
}

func MembershipDoc(uid, channelID string) docstore.DocRef {
	return MembershipCollection(uid).Doc(channelID)
}

// MessagesCollection is the owner's private copy of a channel's messages.
func MessagesCollection(uid, channelID string) docstore.CollectionRef {
	return MembershipDoc(uid, channelID).Collection(CollectionMessages)
}

func ThreadCollection(uid, channelID, parentID string) docstore.CollectionRef {
	return MessagesCollection(uid, channelID).Doc(parentID).Collection(CollectionThreads)
}

// DirectMessagesCollection is the owner's copy of the conversation with peer.
func DirectMessagesCollection(uid, peerUID string) docstore.CollectionRef {
	return UserDoc(uid).Collection(CollectionDirectMessages).Doc(peerUID).Collection(CollectionMessages)
}
