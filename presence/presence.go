// Package presence keeps a best effort online/offline flag per user in redis.
// Online is a lease: a registered session refreshes it, and a dead session
// lets it expire.
package presence

import (
	"context"
	"strings"
	"time"

	"github.com/dabubble/common/instance"
	"github.com/dabubble/common/structures"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	Logger logrus.FieldLogger
	Clock  func() time.Time

	KeyPrefix string
	Channel   string
	// TTL is the lifetime of an online lease.
	TTL time.Duration
	// KeepAlive is how often a registered session refreshes its lease.
	KeepAlive time.Duration
	// AuthenticatedPrefixes are the navigation paths that count as online.
	AuthenticatedPrefixes []string
}

var DefaultConfig = Config{
	KeyPrefix:             "presence:",
	Channel:               "presence",
	TTL:                   30 * time.Second,
	AuthenticatedPrefixes: []string{"/main"},
}

func (c Config) fill() Config {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultConfig.KeyPrefix
	}
	if c.Channel == "" {
		c.Channel = DefaultConfig.Channel
	}
	if c.TTL <= 0 {
		c.TTL = DefaultConfig.TTL
	}
	if c.KeepAlive <= 0 || c.KeepAlive >= c.TTL {
		c.KeepAlive = c.TTL / 3
	}
	if c.AuthenticatedPrefixes == nil {
		c.AuthenticatedPrefixes = DefaultConfig.AuthenticatedPrefixes
	}
	return c
}

func (c Config) key(uid string) string {
	return c.KeyPrefix + uid
}

type Tracker struct {
	redis  instance.Redis
	config Config
}

func New(redis instance.Redis, config Config) *Tracker {
	return &Tracker{
		redis:  redis,
		config: config.fill(),
	}
}

// Register marks uid online and keeps the lease alive until ctx ends, then
// marks it offline. It returns once the first online write is done.
func (t *Tracker) Register(ctx context.Context, uid string) error {
	if err := t.MarkOnline(ctx, uid); err != nil {
		return err
	}

	go func() {
		tick := time.NewTicker(t.config.KeepAlive)
		defer tick.Stop()

		logger := t.config.Logger.WithField("uid", uid)
		for {
			select {
			case <-ctx.Done():
				offCtx, cancel := context.WithTimeout(context.Background(), t.config.KeepAlive)
				if err := t.MarkOffline(offCtx, uid); err != nil {
					logger.WithError(err).Warn("failed to mark offline on disconnect")
				}
				cancel()
				return
			case <-tick.C:
				if err := t.refresh(ctx, uid); err != nil && ctx.Err() == nil {
					logger.WithError(err).Warn("failed to refresh presence lease")
				}
			}
		}
	}()

	return nil
}

// refresh extends the online lease, writing it again when it already lapsed.
func (t *Tracker) refresh(ctx context.Context, uid string) error {
	alive, err := t.redis.Expire(ctx, t.config.key(uid), t.config.TTL)
	if err != nil {
		return err
	}
	if alive {
		return nil
	}
	t.config.Logger.WithField("uid", uid).Info("presence lease lapsed, marking online again")
	return t.MarkOnline(ctx, uid)
}

func (t *Tracker) MarkOnline(ctx context.Context, uid string) error {
	return t.write(ctx, uid, structures.PresenceOnline)
}

func (t *Tracker) MarkOffline(ctx context.Context, uid string) error {
	return t.write(ctx, uid, structures.PresenceOffline)
}

// Navigate marks uid online inside the authenticated area and offline outside it.
func (t *Tracker) Navigate(ctx context.Context, uid, path string) error {
	if t.Authenticated(path) {
		return t.MarkOnline(ctx, uid)
	}
	return t.MarkOffline(ctx, uid)
}

func (t *Tracker) Authenticated(path string) bool {
	for _, prefix := range t.config.AuthenticatedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (t *Tracker) write(ctx context.Context, uid string, state structures.PresenceState) error {
	p := structures.Presence{
		UID:         uid,
		State:       state,
		LastChanged: t.config.Clock().UTC(),
	}
	data, err := json.MarshalToString(p)
	if err != nil {
		return err
	}

	if state == structures.PresenceOnline {
		err = t.redis.SetEX(ctx, t.config.key(uid), data, t.config.TTL)
	} else {
		err = t.redis.Set(ctx, t.config.key(uid), data)
	}
	if err != nil {
		return err
	}

	if err := t.redis.Publish(ctx, t.config.Channel, data); err != nil {
		t.config.Logger.WithError(err).WithField("uid", uid).Warn("failed to publish presence change")
	}
	return nil
}
