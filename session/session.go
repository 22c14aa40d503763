// Package session resolves the signed in user once per process and hands out
// an immutable Session value.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dabubble/common/errors"
	"github.com/dabubble/common/structures"
	"github.com/sirupsen/logrus"
)

// UserGetter reads canonical user records. A missing user is (nil, nil).
type UserGetter interface {
	Get(ctx context.Context, uid string) (*structures.User, error)
}

type Config struct {
	Logger logrus.FieldLogger
	Secret string
	// TTL is how long a saved session stays valid.
	TTL time.Duration
}

func (c Config) fill() Config {
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.TTL <= 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	return c
}

// Session is the acting user. It is never modified after hydration.
type Session struct {
	user      structures.User
	expiresAt time.Time
}

func (s *Session) UID() string {
	return s.user.UID
}

func (s *Session) User() structures.User {
	return s.user
}

func (s *Session) ExpiresAt() time.Time {
	return s.expiresAt
}

func (s *Session) Author() structures.Author {
	return s.user.Author()
}

type Cache struct {
	blob   Blob
	users  UserGetter
	config Config

	mtx      sync.Mutex
	hydrated bool
	current  *Session
}

func NewCache(blob Blob, users UserGetter, config Config) (*Cache, error) {
	if config.Secret == "" {
		return nil, errors.ErrMissingSecretKey
	}
	return &Cache{
		blob:   blob,
		users:  users,
		config: config.fill(),
	}, nil
}

// Hydrate reads the stored session on first use and returns the same value
// afterwards. It returns errors.ErrNoSession when no one is signed in.
func (c *Cache) Hydrate(ctx context.Context) (*Session, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.hydrated {
		if c.current == nil {
			return nil, errors.ErrNoSession
		}
		return c.current, nil
	}

	s, err := c.load(ctx)
	if err != nil && !errors.Is(err, errors.ErrNoSession) {
		return nil, err
	}
	c.hydrated = true
	c.current = s
	if s == nil {
		return nil, errors.ErrNoSession
	}
	return s, nil
}

func (c *Cache) load(ctx context.Context) (*Session, error) {
	token, err := c.blob.Read(ctx)
	if err != nil {
		return nil, err
	}

	var claims structures.JwtSession
	if err := structures.DecodeJwt(&claims, c.config.Secret, token); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrJwtTokenInvalid, err)
	}

	user, err := c.users.Get(ctx, claims.UID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		c.config.Logger.WithField("uid", claims.UID).Warn("stored session refers to unknown user")
		return nil, errors.ErrSessionMismatch
	}

	// the canonical record wins over the values captured at sign in
	merged := claims.User()
	merged.Name = user.Name
	merged.Avatar = user.Avatar
	if user.Email != "" {
		merged.Email = user.Email
	}

	return &Session{
		user:      merged,
		expiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
	}, nil
}

// Save signs user in and makes it the current session.
func (c *Cache) Save(ctx context.Context, user structures.User) (*Session, error) {
	now := time.Now().UTC()
	claims := structures.JwtSession{
		UID:    user.UID,
		Name:   user.Name,
		Email:  user.Email,
		Avatar: user.Avatar,
	}
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(c.config.TTL).Unix()

	token, err := structures.EncodeJwt(claims, c.config.Secret)
	if err != nil {
		return nil, err
	}
	if err := c.blob.Write(ctx, token); err != nil {
		return nil, err
	}

	s := &Session{user: user, expiresAt: time.Unix(claims.ExpiresAt, 0).UTC()}

	c.mtx.Lock()
	c.hydrated = true
	c.current = s
	c.mtx.Unlock()
	return s, nil
}

// Clear signs the user out.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.blob.Remove(ctx); err != nil {
		return err
	}
	c.mtx.Lock()
	c.hydrated = true
	c.current = nil
	c.mtx.Unlock()
	return nil
}
