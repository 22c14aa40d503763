package mongo

import "github.com/dabubble/common/instance"

// Collection names are docstore groups: the document path with ids removed.
const (
	CollectionNameUsers          instance.CollectionName = "users"
	CollectionNameDirectory      instance.CollectionName = "directMessages"
	CollectionNameChannels       instance.CollectionName = "channels"
	CollectionNameMemberships    instance.CollectionName = "users_channels"
	CollectionNameMessages       instance.CollectionName = "users_channels_messages"
	CollectionNameThreads        instance.CollectionName = "users_channels_messages_threads"
	CollectionNameDirectMessages instance.CollectionName = "users_directMessages_messages"
)

var CollectionNames = []instance.CollectionName{
	CollectionNameUsers,
	CollectionNameDirectory,
	CollectionNameChannels,
	CollectionNameMemberships,
	CollectionNameMessages,
	CollectionNameThreads,
	CollectionNameDirectMessages,
}

const (
	fieldID         = "_id"
	fieldCollection = "_collection"
)
