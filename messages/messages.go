// Package messages writes every message once per member so each member owns
// an independently queryable copy. All copies share the id generated by the
// sender.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/reaction"
	"github.com/dabubble/common/structures"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Logger logrus.FieldLogger
	// Outbox receives the uncommitted remainder of a failed fan-out.
	Outbox outbox.Publisher
	// BatchSize caps writes per commit, never above docstore.MaxBatchWrites.
	BatchSize int
}

func (c Config) fill() Config {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.BatchSize <= 0 || c.BatchSize > docstore.MaxBatchWrites {
		c.BatchSize = docstore.MaxBatchWrites
	}
	return c
}

type Store struct {
	store  docstore.Store
	config Config
}

func New(store docstore.Store, config Config) *Store {
	return &Store{
		store:  store,
		config: config.fill(),
	}
}

// Draft is the sender supplied part of a new message.
type Draft struct {
	Text   string
	Author structures.Author
}

// locator returns the message collection copy owned by uid.
type locator func(uid string) docstore.CollectionRef

// MemberUIDs resolves the fan-out targets from the owner's Membership copy.
// The owner is always included; without a Membership the owner is the only target.
func (s *Store) MemberUIDs(ctx context.Context, ownerUID, channelID string) ([]string, error) {
	snap, err := s.store.Get(ctx, structures.MembershipDoc(ownerUID, channelID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return []string{ownerUID}, nil
	}

	var m structures.Membership
	if err := snap.DataTo(&m); err != nil {
		return nil, err
	}

	uids := structures.MemberUIDs(m.Members)
	for _, uid := range uids {
		if uid == ownerUID {
			return uids, nil
		}
	}
	return append(uids, ownerUID), nil
}

func newPayload(id string, d Draft) (docstore.Doc, error) {
	doc, err := docstore.Encode(structures.Message{
		ID:        id,
		Text:      d.Text,
		Author:    d.Author,
		Reactions: []structures.Reaction{},
	})
	if err != nil {
		return nil, err
	}
	doc["createdAt"] = docstore.ServerTimestamp
	delete(doc, "lastReplyTime")
	return doc, nil
}

func (s *Store) fanOut(ctx context.Context, op, ownerUID string, targets []string, loc locator, d Draft) (string, error) {
	if strings.TrimSpace(d.Text) == "" {
		return "", errors.ErrEmptyMessage
	}

	id := s.store.NewID(loc(ownerUID))
	payload, err := newPayload(id, d)
	if err != nil {
		return "", err
	}

	writes := make([]docstore.Write, 0, len(targets))
	for _, uid := range targets {
		writes = append(writes, docstore.SetWrite(loc(uid).Doc(id), payload))
	}

	if err := s.commit(ctx, op, writes); err != nil {
		return id, err
	}
	return id, nil
}

// updateText rewrites the text of every copy that exists. Members who joined
// after the message was sent have no copy and are skipped.
func (s *Store) updateText(ctx context.Context, op string, targets []string, loc locator, messageID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.ErrEmptyMessage
	}

	holders, err := s.existingCopies(ctx, targets, loc, messageID)
	if err != nil {
		return err
	}
	if len(holders) == 0 {
		return fmt.Errorf("%w: message %s", errors.ErrDocumentNotFound, messageID)
	}

	fields := docstore.Doc{"text": text}
	writes := make([]docstore.Write, 0, len(holders))
	for _, uid := range holders {
		writes = append(writes, docstore.MergeWrite(loc(uid).Doc(messageID), fields))
	}
	return s.commit(ctx, op, writes)
}

// existingCopies returns the targets that hold a copy of messageID.
func (s *Store) existingCopies(ctx context.Context, targets []string, loc locator, messageID string) ([]string, error) {
	out := make([]string, 0, len(targets))
	for _, uid := range targets {
		snap, err := s.store.Get(ctx, loc(uid).Doc(messageID))
		if err != nil {
			return nil, err
		}
		if !snap.Exists {
			s.config.Logger.WithField("message", messageID).WithField("uid", uid).Debug("no copy to update")
			continue
		}
		out = append(out, uid)
	}
	return out, nil
}

// toggle runs the reaction merge transactionally on the owner's copy and then
// copies the result onto the other members' existing copies. The copy step is
// best effort.
func (s *Store) toggle(ctx context.Context, op, ownerUID string, targets []string, loc locator, messageID, emojiID string, user structures.ReactionUser) ([]structures.Reaction, error) {
	own := loc(ownerUID).Doc(messageID)

	var (
		result []structures.Reaction
		found  bool
	)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		found = false
		snap, err := tx.Get(own)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return nil
		}

		var msg structures.Message
		if err := snap.DataTo(&msg); err != nil {
			return err
		}

		result = reaction.Toggle(msg.Reactions, emojiID, user)
		doc, err := reactionsDoc(result)
		if err != nil {
			return err
		}
		found = true
		return tx.Update(own, doc)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		s.config.Logger.WithField("message", messageID).WithField("owner", ownerUID).Debug("reaction toggle on missing copy ignored")
		return nil, nil
	}

	doc, err := reactionsDoc(result)
	if err != nil {
		return nil, err
	}

	others := make([]string, 0, len(targets))
	for _, uid := range targets {
		if uid != ownerUID {
			others = append(others, uid)
		}
	}
	holders, err := s.existingCopies(ctx, others, loc, messageID)
	if err != nil {
		return result, err
	}

	writes := make([]docstore.Write, 0, len(holders))
	for _, uid := range holders {
		writes = append(writes, docstore.MergeWrite(loc(uid).Doc(messageID), doc))
	}
	return result, s.commit(ctx, op, writes)
}

func reactionsDoc(reactions []structures.Reaction) (docstore.Doc, error) {
	return docstore.Encode(struct {
		Reactions []structures.Reaction `bson:"reactions"`
	}{reaction.Clone(reactions)})
}

// commit fans writes out in chunks. On a partial failure the uncommitted
// writes are handed to the outbox when one is configured.
func (s *Store) commit(ctx context.Context, op string, writes []docstore.Write) error {
	err := docstore.CommitChunked(ctx, s.store, op, writes, s.config.BatchSize)
	if err == nil {
		return nil
	}

	logger := s.config.Logger.WithField("op", op)
	var fanoutErr *errors.FanoutError
	if errors.As(err, &fanoutErr) && s.config.Outbox != nil {
		job := outbox.NewWritesJob(writes[fanoutErr.Committed:])
		if len(job.Writes) > 0 {
			if err := s.config.Outbox.Publish(ctx, job); err != nil {
				logger.WithError(err).Error("failed to queue fan-out remainder")
			} else {
				fanoutErr.Queued = true
			}
		}
	}

	logger.WithError(err).Error("fan-out failed")
	return err
}

func (s *Store) listen(ctx context.Context, col docstore.CollectionRef, fn func([]structures.Message)) (docstore.Subscription, error) {
	logger := s.config.Logger.WithField("collection", col.Path())
	return s.store.Listen(ctx, col, docstore.Query{OrderBy: "createdAt"}, func(snaps []docstore.Snapshot) {
		fn(decodeMessages(logger, snaps))
	})
}

// decodeMessages skips partial copies: a merge onto a copy that was never
// created leaves a document without createdAt.
func decodeMessages(logger logrus.FieldLogger, snaps []docstore.Snapshot) []structures.Message {
	out := make([]structures.Message, 0, len(snaps))
	for _, snap := range snaps {
		if _, ok := snap.Data["createdAt"].(time.Time); !ok {
			logger.WithField("message", snap.Ref.ID).Debug("skipping partial message copy")
			continue
		}

		var msg structures.Message
		if err := snap.DataTo(&msg); err != nil {
			logger.WithError(err).WithField("message", snap.Ref.ID).Warn("skipping undecodable message")
			continue
		}
		msg.ID = snap.Ref.ID
		if msg.Reactions == nil {
			msg.Reactions = []structures.Reaction{}
		}
		out = append(out, msg)
	}
	return out
}
