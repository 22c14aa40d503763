package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/structures"
	"github.com/sirupsen/logrus"
)

// MembershipSyncer re-propagates a channel's canonical record to every member.
type MembershipSyncer interface {
	ResyncMemberships(ctx context.Context, channelID string) error
}

type Applier struct {
	store     docstore.Store
	syncer    MembershipSyncer
	batchSize int
	logger    logrus.FieldLogger
}

func NewApplier(store docstore.Store, syncer MembershipSyncer, batchSize int, logger logrus.FieldLogger) *Applier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Applier{store: store, syncer: syncer, batchSize: batchSize, logger: logger}
}

func (a *Applier) Apply(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindMembershipSync:
		if a.syncer == nil {
			return fmt.Errorf("no membership syncer configured")
		}
		return a.syncer.ResyncMemberships(ctx, job.ChannelID)
	case KindWrites:
		writes := make([]docstore.Write, len(job.Writes))
		for i, w := range job.Writes {
			w.Data = docstore.Normalize(w.Data)
			writes[i] = w
		}
		return docstore.CommitChunked(ctx, a.store, "outbox replay", writes, a.batchSize)
	case KindReplyCount:
		return a.recount(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// recount sets repliesCount and lastReplyTime of every target's parent copy
// from the replies actually present in that target's thread.
func (a *Applier) recount(ctx context.Context, job Job) error {
	var writes []docstore.Write
	for _, target := range job.Targets {
		replies, err := a.store.Query(ctx, structures.ThreadCollection(target, job.ChannelID, job.ParentID), docstore.Query{
			OrderBy:   "createdAt",
			Direction: docstore.Desc,
		})
		if err != nil {
			return err
		}

		parent := structures.MessagesCollection(target, job.ChannelID).Doc(job.ParentID)
		snap, err := a.store.Get(ctx, parent)
		if err != nil {
			return err
		}
		if !snap.Exists {
			a.logger.WithField("target", target).WithField("parent", job.ParentID).Warn("parent copy missing, skipping recount")
			continue
		}

		fields := docstore.Doc{"repliesCount": int64(len(replies))}
		if len(replies) > 0 {
			if t, ok := replies[0].Data["createdAt"].(time.Time); ok {
				fields["lastReplyTime"] = t
			}
		}
		writes = append(writes, docstore.UpdateWrite(parent, fields))
	}

	err := docstore.CommitChunked(ctx, a.store, "reply recount", writes, a.batchSize)
	if errors.Is(err, errors.ErrDocumentNotFound) {
		a.logger.WithError(err).Warn("parent copy disappeared during recount")
		return nil
	}
	return err
}
