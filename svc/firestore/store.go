package firestore

import (
	"context"
	"fmt"

	fs "cloud.google.com/go/firestore"
	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *fs.Client
	logger logrus.FieldLogger
}

func NewStore(client *fs.Client, logger logrus.FieldLogger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{client: client, logger: logger}, nil
}

func (s *Store) doc(ref docstore.DocRef) (*fs.DocumentRef, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, ref)
	}
	return s.client.Doc(ref.Path()), nil
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	d, err := s.doc(ref)
	if err != nil {
		return docstore.Snapshot{}, err
	}

	snap, err := d.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, err
	}

	return docstore.Snapshot{Ref: ref, Exists: true, Data: docstore.Normalize(snap.Data())}, nil
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, data docstore.Doc) error {
	d, err := s.doc(ref)
	if err != nil {
		return err
	}
	_, err = d.Set(ctx, toFirestore(data))
	return err
}

func (s *Store) Merge(ctx context.Context, ref docstore.DocRef, data docstore.Doc) error {
	d, err := s.doc(ref)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err = d.Set(ctx, toFirestore(data), mergeFields(data))
	return err
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, fields docstore.Doc) error {
	d, err := s.doc(ref)
	if err != nil {
		return err
	}
	_, err = d.Update(ctx, toUpdates(fields))
	return mapError(err, ref)
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	d, err := s.doc(ref)
	if err != nil {
		return err
	}
	_, err = d.Delete(ctx)
	return err
}

func (s *Store) query(col docstore.CollectionRef, q docstore.Query) fs.Query {
	query := s.client.Collection(col.Path()).Query
	if q.OrderBy != "" {
		dir := fs.Asc
		if q.Direction == docstore.Desc {
			dir = fs.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func (s *Store) Query(ctx context.Context, col docstore.CollectionRef, q docstore.Query) ([]docstore.Snapshot, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, col)
	}

	docs, err := s.query(col, q).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return toSnapshots(col, docs), nil
}

func (s *Store) NewID(col docstore.CollectionRef) string {
	return s.client.Collection(col.Path()).NewDoc().ID
}

// Listen streams query snapshots. The first snapshot arrives asynchronously.
func (s *Store) Listen(ctx context.Context, col docstore.CollectionRef, q docstore.Query, fn func([]docstore.Snapshot)) (docstore.Subscription, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidPath, col)
	}

	ctx, cancel := context.WithCancel(ctx)
	it := s.query(col, q).Snapshots(ctx)
	logger := s.logger.WithField("collection", col.Path())

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					logger.WithError(err).Error("snapshot listener stopped")
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				logger.WithError(err).Error("failed to read snapshot")
				continue
			}
			fn(toSnapshots(col, docs))
		}
	}()

	return docstore.SubscriptionFunc(cancel), nil
}

func toSnapshots(col docstore.CollectionRef, docs []*fs.DocumentSnapshot) []docstore.Snapshot {
	out := make([]docstore.Snapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, docstore.Snapshot{
			Ref:    col.Doc(d.Ref.ID),
			Exists: true,
			Data:   docstore.Normalize(d.Data()),
		})
	}
	return out
}

func toFirestore(data docstore.Doc) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case docstore.IncrementOp:
			out[k] = fs.Increment(t.N)
		default:
			if docstore.IsServerTimestamp(v) {
				out[k] = fs.ServerTimestamp
				continue
			}
			out[k] = v
		}
	}
	return out
}

func toUpdates(fields docstore.Doc) []fs.Update {
	updates := make([]fs.Update, 0, len(fields))
	for k, v := range toFirestore(fields) {
		updates = append(updates, fs.Update{FieldPath: fs.FieldPath{k}, Value: v})
	}
	return updates
}

// mergeFields limits a merge write to the top-level fields present in data.
func mergeFields(data docstore.Doc) fs.SetOption {
	paths := make([]fs.FieldPath, 0, len(data))
	for k := range data {
		paths = append(paths, fs.FieldPath{k})
	}
	return fs.Merge(paths...)
}

func mapError(err error, ref docstore.DocRef) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", errors.ErrDocumentNotFound, ref)
	}
	return err
}
