package instance

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

type CollectionName string

type Mongo interface {
	Collection(name CollectionName) *mongo.Collection
	Ping(ctx context.Context) error
	RawClient() *mongo.Client
	Disconnect(ctx context.Context) error
}
