package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/instance"
	"github.com/dabubble/common/structures"
	"github.com/go-redis/redis/v8"
)

// Mirror holds an in-memory copy of every user's presence state.
type Mirror struct {
	redis  instance.Redis
	config Config
	resync time.Duration

	mtx    sync.RWMutex
	states map[string]structures.PresenceState
}

// NewMirror builds a mirror that reloads the whole table every resync interval
// so expired leases show up as offline.
func NewMirror(redis instance.Redis, resync time.Duration, config Config) *Mirror {
	config = config.fill()
	if resync <= 0 {
		resync = config.TTL
	}
	return &Mirror{
		redis:  redis,
		config: config,
		resync: resync,
		states: map[string]structures.PresenceState{},
	}
}

// Run loads the table, then applies published changes until ctx ends.
func (m *Mirror) Run(ctx context.Context) error {
	ch := make(chan string, 64)
	m.redis.Subscribe(ctx, ch, m.config.Channel)

	if err := m.Load(ctx); err != nil {
		return err
	}

	tick := time.NewTicker(m.resync)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			m.apply(payload)
		case <-tick.C:
			if err := m.Load(ctx); err != nil && ctx.Err() == nil {
				m.config.Logger.WithError(err).Warn("presence resync failed")
			}
		}
	}
}

// Load replaces the mirror with the current redis contents.
func (m *Mirror) Load(ctx context.Context) error {
	keys, err := m.redis.Keys(ctx, m.config.KeyPrefix+"*")
	if err != nil {
		return err
	}

	states := make(map[string]structures.PresenceState, len(keys))
	for _, key := range keys {
		raw, err := m.redis.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}

		var p structures.Presence
		if err := json.UnmarshalFromString(raw, &p); err != nil {
			m.config.Logger.WithError(err).WithField("key", key).Warn("bad presence value")
			continue
		}
		uid := strings.TrimPrefix(key, m.config.KeyPrefix)
		states[uid] = p.State
	}

	m.mtx.Lock()
	m.states = states
	m.mtx.Unlock()
	return nil
}

func (m *Mirror) apply(payload string) {
	var p structures.Presence
	if err := json.UnmarshalFromString(payload, &p); err != nil || p.UID == "" {
		m.config.Logger.WithField("payload", payload).Warn("bad presence message")
		return
	}

	m.mtx.Lock()
	m.states[p.UID] = p.State
	m.mtx.Unlock()
}

// State returns the mirrored state of uid. Unknown users are offline.
func (m *Mirror) State(uid string) structures.PresenceState {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if s, ok := m.states[uid]; ok {
		return s
	}
	return structures.PresenceOffline
}

func (m *Mirror) Snapshot() map[string]structures.PresenceState {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := make(map[string]structures.PresenceState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}
