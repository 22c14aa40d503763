package mongo

import (
	"context"
	"time"

	"github.com/dabubble/common/instance"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// New connects to mongo. Batches, transactions and live queries need a replica set.
func New(ctx context.Context, opt SetupOptions) (instance.Mongo, error) {
	clientOpts := options.Client().ApplyURI(opt.URI).SetDirect(opt.Direct)
	if opt.Timeout > 0 {
		clientOpts.SetConnectTimeout(opt.Timeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}

	database := client.Database(opt.Database)

	logrus.WithField("database", opt.Database).Info("mongo, ok")

	return &MongoInst{
		client: client,
		db:     database,
	}, nil
}

type SetupOptions struct {
	URI      string
	Database string
	Direct   bool
	Timeout  time.Duration
}

// EnsureIndexes creates the collection path index every docstore query filters on.
func EnsureIndexes(ctx context.Context, inst instance.Mongo) error {
	for _, name := range CollectionNames {
		_, err := inst.Collection(name).Indexes().CreateOne(ctx, IndexModel{
			Keys: bson.D{{Key: fieldCollection, Value: 1}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type (
	Pipeline   = mongo.Pipeline
	IndexModel = mongo.IndexModel
)
