// Package outbox carries propagation work that failed inline so it can be
// replayed later. Every job kind is idempotent: replaying it rewrites full
// state instead of applying deltas.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/utils/uid"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	// KindMembershipSync re-runs the membership sync of a channel from its canonical record.
	KindMembershipSync Kind = "membership-sync"
	// KindWrites replays document writes that did not commit.
	KindWrites Kind = "writes"
	// KindReplyCount recounts a parent message's thread replies for each target copy.
	KindReplyCount Kind = "reply-count"
)

type Job struct {
	ID        string           `bson:"id"`
	Kind      Kind             `bson:"kind"`
	Attempt   int              `bson:"attempt"`
	ChannelID string           `bson:"channelId,omitempty"`
	ParentID  string           `bson:"parentId,omitempty"`
	Targets   []string         `bson:"targets,omitempty"`
	Writes    []docstore.Write `bson:"writes,omitempty"`
	CreatedAt time.Time        `bson:"createdAt"`
}

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

func NewMembershipSyncJob(channelID string) Job {
	return Job{ID: uid.NewId(), Kind: KindMembershipSync, ChannelID: channelID, CreatedAt: time.Now().UTC()}
}

// NewWritesJob queues the replayable writes. Server timestamps are pinned to now.
func NewWritesJob(writes []docstore.Write) Job {
	now := time.Now().UTC()
	out := make([]docstore.Write, 0, len(writes))
	for _, w := range writes {
		if !w.Replayable() {
			continue
		}
		w.Data = docstore.ResolveSentinels(w.Data, now)
		out = append(out, w)
	}
	return Job{ID: uid.NewId(), Kind: KindWrites, Writes: out, CreatedAt: now}
}

func NewReplyCountJob(channelID, parentID string, targets []string) Job {
	return Job{
		ID:        uid.NewId(),
		Kind:      KindReplyCount,
		ChannelID: channelID,
		ParentID:  parentID,
		Targets:   targets,
		CreatedAt: time.Now().UTC(),
	}
}

// Memory keeps jobs in process. It backs local runs without a broker.
type Memory struct {
	Logger logrus.FieldLogger
	// MaxAttempts drops a job once it failed this many times.
	MaxAttempts int

	mtx  sync.Mutex
	jobs []Job
}

func (m *Memory) Publish(ctx context.Context, job Job) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *Memory) Jobs() []Job {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]Job(nil), m.jobs...)
}

// Flush applies and removes queued jobs. Failed jobs stay queued with an
// incremented attempt until they reach MaxAttempts.
func (m *Memory) Flush(ctx context.Context, a *Applier) error {
	logger := m.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxAttempts := m.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	m.mtx.Lock()
	jobs := m.jobs
	m.jobs = nil
	m.mtx.Unlock()

	var firstErr error
	for _, job := range jobs {
		err := a.Apply(ctx, job)
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}

		job.Attempt++
		if job.Attempt >= maxAttempts {
			logger.WithError(err).WithField("job", job.ID).WithField("kind", job.Kind).Error("giving up on propagation job")
			continue
		}
		_ = m.Publish(ctx, job)
	}
	return firstErr
}
