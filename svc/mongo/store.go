package mongo

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/instance"
	"github.com/dabubble/common/utils/uid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store maps docstore paths onto mongo: one mongo collection per path group,
// the full document path as _id and the collection path in _collection.
type Store struct {
	inst   instance.Mongo
	logger logrus.FieldLogger
}

func NewStore(inst instance.Mongo, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{inst: inst, logger: logger}
}

func (s *Store) coll(c docstore.CollectionRef) *mongo.Collection {
	return s.inst.Collection(instance.CollectionName(c.Group()))
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	if !ref.Valid() {
		return docstore.Snapshot{}, fmt.Errorf("%w: %s", errors.ErrInvalidPath, ref)
	}

	var m bson.M
	err := s.coll(ref.Parent).FindOne(ctx, bson.M{fieldID: ref.Path()}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}

	return docstore.Snapshot{Ref: ref, Exists: true, Data: fromStored(m)}, nil
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, data docstore.Doc) error {
	_, err := s.coll(ref.Parent).ReplaceOne(ctx, bson.M{fieldID: ref.Path()}, toStored(ref, data, time.Now()), options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Merge(ctx context.Context, ref docstore.DocRef, data docstore.Doc) error {
	_, err := s.coll(ref.Parent).UpdateOne(ctx, bson.M{fieldID: ref.Path()}, buildUpdate(ref, data), options.Update().SetUpsert(true))
	return err
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, fields docstore.Doc) error {
	res, err := s.coll(ref.Parent).UpdateOne(ctx, bson.M{fieldID: ref.Path()}, buildUpdate(ref, fields))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", errors.ErrDocumentNotFound, ref)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	_, err := s.coll(ref.Parent).DeleteOne(ctx, bson.M{fieldID: ref.Path()})
	return err
}

func (s *Store) Query(ctx context.Context, col docstore.CollectionRef, q docstore.Query) ([]docstore.Snapshot, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, col)
	}

	opts := options.Find()
	sort := bson.D{}
	if q.OrderBy != "" {
		dir := 1
		if q.Direction == docstore.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	opts.SetSort(append(sort, bson.E{Key: fieldID, Value: 1}))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.coll(col).Find(ctx, bson.M{fieldCollection: col.Path()}, opts)
	if err != nil {
		return nil, err
	}

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	prefix := col.Path() + "/"
	out := make([]docstore.Snapshot, 0, len(docs))
	for _, m := range docs {
		id, _ := m[fieldID].(string)
		out = append(out, docstore.Snapshot{
			Ref:    col.Doc(strings.TrimPrefix(id, prefix)),
			Exists: true,
			Data:   fromStored(m),
		})
	}
	return out, nil
}

func (s *Store) NewID(col docstore.CollectionRef) string {
	return uid.NewId()
}

// Listen watches the collection group with a change stream and re-runs the
// query on every event so fn always receives the full ordered result set.
func (s *Store) Listen(ctx context.Context, col docstore.CollectionRef, q docstore.Query, fn func([]docstore.Snapshot)) (docstore.Subscription, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, col)
	}

	ctx, cancel := context.WithCancel(ctx)
	pipeline := Pipeline{
		{{Key: "$match", Value: bson.M{
			"documentKey._id": bson.M{"$regex": "^" + regexp.QuoteMeta(col.Path()+"/") + "[^/]+$"},
		}}},
	}

	stream, err := s.coll(col).Watch(ctx, pipeline)
	if err != nil {
		cancel()
		return nil, err
	}

	snaps, err := s.Query(ctx, col, q)
	if err != nil {
		_ = stream.Close(context.Background())
		cancel()
		return nil, err
	}
	fn(snaps)

	logger := s.logger.WithField("collection", col.Path())
	go func() {
		defer func() {
			_ = stream.Close(context.Background())
		}()
		for stream.Next(ctx) {
			snaps, err := s.Query(ctx, col, q)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.WithError(err).Error("failed to refresh live query")
				continue
			}
			fn(snaps)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("change stream closed")
		}
	}()

	return docstore.SubscriptionFunc(cancel), nil
}

func toStored(ref docstore.DocRef, data docstore.Doc, now time.Time) bson.M {
	out := bson.M{}
	for k, v := range docstore.ResolveSentinels(data, now) {
		if inc, ok := v.(docstore.IncrementOp); ok {
			v = inc.N
		}
		out[k] = v
	}
	out[fieldID] = ref.Path()
	out[fieldCollection] = ref.Parent.Path()
	return out
}

func buildUpdate(ref docstore.DocRef, data docstore.Doc) bson.M {
	set := bson.M{fieldCollection: ref.Parent.Path()}
	inc := bson.M{}
	now := bson.M{}
	for k, v := range data {
		switch t := v.(type) {
		case docstore.IncrementOp:
			inc[k] = t.N
		default:
			if docstore.IsServerTimestamp(v) {
				now[k] = true
				continue
			}
			set[k] = v
		}
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(now) > 0 {
		update["$currentDate"] = now
	}
	return update
}

func fromStored(m bson.M) docstore.Doc {
	delete(m, fieldID)
	delete(m, fieldCollection)
	return docstore.Normalize(m)
}
