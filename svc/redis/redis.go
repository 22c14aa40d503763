package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dabubble/common/instance"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const scanCount = 100

type RedisInst struct {
	client  *redis.Client
	sub     *redis.PubSub
	logger  logrus.FieldLogger
	subsMtx sync.Mutex
	subs    map[string][]*redisSub
}

type SetupOptions struct {
	Username   string
	Password   string
	MasterName string
	Database   int

	Addresses []string
	Sentinel  bool

	Logger logrus.FieldLogger
}

func New(ctx context.Context, opts SetupOptions) (instance.Redis, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("redis: at least one address is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	var rc *redis.Client
	if opts.Sentinel {
		rc = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       opts.MasterName,
			SentinelAddrs:    opts.Addresses,
			SentinelUsername: opts.Username,
			SentinelPassword: opts.Password,
			Username:         opts.Username,
			Password:         opts.Password,
			DB:               opts.Database,
		})
	} else {
		rc = redis.NewClient(&redis.Options{
			Addr:     opts.Addresses[0],
			Username: opts.Username,
			Password: opts.Password,
			DB:       opts.Database,
		})
	}

	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}

	inst := &RedisInst{
		client: rc,
		sub:    rc.Subscribe(context.Background()),
		logger: opts.Logger,
		subs:   map[string][]*redisSub{},
	}
	go inst.dispatch()

	return inst, nil
}

// dispatch fans pubsub payloads out to local subscribers until the pubsub is closed.
func (r *RedisInst) dispatch() {
	for msg := range r.sub.Channel() {
		payload := msg.Payload
		r.subsMtx.Lock()
		for _, s := range r.subs[msg.Channel] {
			select {
			case s.ch <- payload:
			default:
				r.logger.WithField("channel", msg.Channel).Warn("subscriber blocked, dropping message")
			}
		}
		r.subsMtx.Unlock()
	}
}

type redisSub struct {
	ch chan string
}

// Subscribe delivers payloads published on subscribeTo to ch until ctx is done.
func (r *RedisInst) Subscribe(ctx context.Context, ch chan string, subscribeTo ...string) {
	r.subsMtx.Lock()
	defer r.subsMtx.Unlock()
	localSub := &redisSub{ch}
	for _, e := range subscribeTo {
		if _, ok := r.subs[e]; !ok {
			if err := r.sub.Subscribe(ctx, e); err != nil {
				r.logger.WithError(err).WithField("channel", e).Error("failed to subscribe")
			}
		}
		r.subs[e] = append(r.subs[e], localSub)
	}

	go func() {
		<-ctx.Done()
		r.unsubscribe(localSub, subscribeTo)
	}()
}

func (r *RedisInst) unsubscribe(localSub *redisSub, channels []string) {
	r.subsMtx.Lock()
	defer r.subsMtx.Unlock()
	for _, e := range channels {
		subs := r.subs[e]
		for i, v := range subs {
			if v != localSub {
				continue
			}
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			break
		}
		if len(subs) > 0 {
			r.subs[e] = subs
			continue
		}
		delete(r.subs, e)
		if err := r.sub.Unsubscribe(context.Background(), e); err != nil {
			r.logger.WithError(err).WithField("channel", e).Error("failed to unsubscribe")
		}
	}
}

func (r *RedisInst) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisInst) Publish(ctx context.Context, channel string, content string) error {
	return r.client.Publish(ctx, channel, content).Err()
}

func (r *RedisInst) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, key, ttl).Result()
}

func (r *RedisInst) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisInst) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisInst) SetEX(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.SetEX(ctx, key, value, ttl).Err()
}

func (r *RedisInst) Set(ctx context.Context, key string, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisInst) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisInst) Close() error {
	if err := r.sub.Close(); err != nil {
		r.logger.WithError(err).Warn("failed to close pubsub")
	}
	return r.client.Close()
}
