// Package users keeps the canonical user records and their contact directory copies.
package users

import (
	"context"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/structures"
	"github.com/sirupsen/logrus"
)

type Directory struct {
	store  docstore.Store
	logger logrus.FieldLogger
}

func New(store docstore.Store, logger logrus.FieldLogger) *Directory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Directory{store: store, logger: logger}
}

// Create writes users/{uid} and directMessages/{uid} in one batch.
func (d *Directory) Create(ctx context.Context, u structures.User) error {
	doc, err := docstore.Encode(u)
	if err != nil {
		return err
	}

	b := d.store.Batch()
	b.Set(structures.UserDoc(u.UID), doc)
	b.Set(structures.DirectoryDoc(u.UID), doc)
	if err := b.Commit(ctx); err != nil {
		return err
	}

	d.logger.WithField("user", u.UID).Info("user created")
	return nil
}

// Get returns nil when the user does not exist.
func (d *Directory) Get(ctx context.Context, uid string) (*structures.User, error) {
	snap, err := d.store.Get(ctx, structures.UserDoc(uid))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, nil
	}

	u := &structures.User{}
	if err := snap.DataTo(u); err != nil {
		return nil, err
	}
	if u.UID == "" {
		u.UID = uid
	}
	return u, nil
}

// List returns the contact directory ordered by name.
func (d *Directory) List(ctx context.Context) ([]structures.User, error) {
	snaps, err := d.store.Query(ctx, structures.DirectoryCollection(), docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, err
	}

	out := make([]structures.User, 0, len(snaps))
	for _, s := range snaps {
		var u structures.User
		if err := s.DataTo(&u); err != nil {
			d.logger.WithError(err).WithField("user", s.Ref.ID).Warn("skipping undecodable directory entry")
			continue
		}
		if u.UID == "" {
			u.UID = s.Ref.ID
		}
		out = append(out, u)
	}
	return out, nil
}

// UpdateProfile changes name and avatar on both copies.
func (d *Directory) UpdateProfile(ctx context.Context, uid, name, avatar string) error {
	fields := docstore.Doc{"name": name, "avatar": avatar}

	b := d.store.Batch()
	b.Update(structures.UserDoc(uid), fields)
	b.Merge(structures.DirectoryDoc(uid), fields)
	return b.Commit(ctx)
}
