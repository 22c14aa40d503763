package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dabubble/common/config"
	"github.com/dabubble/common/directory"
	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/instance"
	"github.com/dabubble/common/membership"
	"github.com/dabubble/common/messages"
	"github.com/dabubble/common/outbox"
	"github.com/dabubble/common/presence"
	"github.com/dabubble/common/session"
	"github.com/dabubble/common/svc/firestore"
	"github.com/dabubble/common/svc/memdb"
	"github.com/dabubble/common/svc/mongo"
	"github.com/dabubble/common/svc/redis"
	"github.com/dabubble/common/svc/rmq"
	"github.com/dabubble/common/users"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	store   docstore.Store
	rmq     instance.RabbitMQ
	redis   instance.Redis
	outbox  outbox.Publisher
	closers []func(ctx context.Context) error

	users     *users.Directory
	directory *directory.Service
	messages  *messages.Store
	sessions  *session.Cache
	presence  *presence.Tracker
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	if cfg.Log.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.setup(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) setup(ctx context.Context) error {
	var err error
	if a.store, err = a.openStore(ctx); err != nil {
		return err
	}

	if a.cfg.RMQ.URI != "" {
		a.rmq, err = rmq.New(ctx, rmq.SetupOptions{
			URI:       a.cfg.RMQ.URI,
			QueueName: a.cfg.RMQ.Queue,
			Prefetch:  a.cfg.RMQ.Prefetch,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.rmq.Close() })
		a.outbox = outbox.NewAMQP(a.rmq, a.cfg.RMQ.Queue, a.logger)
	} else {
		a.outbox = &outbox.Memory{Logger: a.logger, MaxAttempts: a.cfg.RMQ.MaxAttempts}
	}

	if a.cfg.Presence.Enabled {
		a.redis, err = redis.New(ctx, redis.SetupOptions{
			Username:   a.cfg.Redis.Username,
			Password:   a.cfg.Redis.Password,
			MasterName: a.cfg.Redis.MasterName,
			Database:   a.cfg.Redis.Database,
			Addresses:  a.cfg.Redis.Addresses,
			Sentinel:   a.cfg.Redis.Sentinel,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
		a.presence = presence.New(a.redis, a.presenceConfig())
	}

	a.users = users.New(a.store, a.logger)
	a.directory = directory.New(a.store, a.users, directory.Config{
		Logger:                    a.logger,
		Outbox:                    a.outbox,
		DefaultChannelID:          a.cfg.Channels.DefaultID,
		DefaultChannelName:        a.cfg.Channels.DefaultName,
		DefaultChannelDescription: a.cfg.Channels.DefaultDescription,
	})
	a.messages = messages.New(a.store, messages.Config{
		Logger:    a.logger,
		Outbox:    a.outbox,
		BatchSize: a.cfg.Fanout.BatchSize,
	})

	blob, err := session.NewFileStore(a.cfg.Session.Path)
	if err != nil {
		return err
	}
	a.sessions, err = session.NewCache(blob, a.users, session.Config{
		Logger: a.logger,
		Secret: a.cfg.Session.Secret,
		TTL:    a.cfg.Session.TTL,
	})
	return err
}

func (a *app) openStore(ctx context.Context) (docstore.Store, error) {
	switch a.cfg.Store.Driver {
	case config.DriverMemory:
		a.logger.Warn("using the in-memory store, nothing is persisted")
		return memdb.New(memdb.Config{Logger: a.logger}), nil
	case config.DriverMongo:
		inst, err := mongo.New(ctx, mongo.SetupOptions{
			URI:      a.cfg.Store.Mongo.URI,
			Database: a.cfg.Store.Mongo.Database,
			Direct:   a.cfg.Store.Mongo.Direct,
			Timeout:  a.cfg.Store.Mongo.Timeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, inst.Disconnect)
		if err := mongo.EnsureIndexes(ctx, inst); err != nil {
			return nil, err
		}
		return mongo.NewStore(inst, a.logger), nil
	case config.DriverFirestore:
		client, err := firestore.New(ctx, firestore.SetupOptions{
			ProjectID:       a.cfg.Store.Firestore.ProjectID,
			CredentialsFile: a.cfg.Store.Firestore.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := firestore.NewStore(client, a.logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("%w: %q", errors.ErrUnknownDriver, a.cfg.Store.Driver)
}

func (a *app) presenceConfig() presence.Config {
	return presence.Config{
		Logger:                a.logger,
		TTL:                   a.cfg.Presence.TTL,
		KeepAlive:             a.cfg.Presence.KeepAlive,
		AuthenticatedPrefixes: a.cfg.Presence.Prefixes,
	}
}

func (a *app) applier() *outbox.Applier {
	return outbox.NewApplier(a.store, a.directory, a.cfg.Fanout.BatchSize, a.logger)
}

func (a *app) workerConfig() outbox.WorkerConfig {
	return outbox.WorkerConfig{
		Logger:      a.logger,
		Queue:       a.cfg.RMQ.Queue,
		MaxAttempts: a.cfg.RMQ.MaxAttempts,
		RetryRate:   rate.Limit(a.cfg.RMQ.RetryRate),
	}
}

// session returns the signed in user. A missing session is reported once and
// turned into a nil session without an error.
func (a *app) session(ctx context.Context) (*session.Session, error) {
	s, err := a.sessions.Hydrate(ctx)
	if errors.Is(err, errors.ErrNoSession) {
		a.logger.Info("not signed in")
		return nil, nil
	}
	return s, err
}

func (a *app) membership(s *session.Session) *membership.Store {
	return membership.New(a.store, a.directory, s.UID(), membership.Config{
		Logger:           a.logger,
		DefaultChannelID: a.cfg.Channels.DefaultID,
	})
}

// flushMemoryOutbox applies jobs queued in process before exit.
func (a *app) flushMemoryOutbox(ctx context.Context) {
	mem, ok := a.outbox.(*outbox.Memory)
	if !ok || len(mem.Jobs()) == 0 {
		return
	}
	if err := mem.Flush(ctx, a.applier()); err != nil {
		a.logger.WithError(err).WithField("pending", len(mem.Jobs())).Warn("propagation jobs still pending")
	}
}

func (a *app) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.store != nil {
		a.flushMemoryOutbox(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.WithError(err).Warn("close failed")
		}
	}
}
