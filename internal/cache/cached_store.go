package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
	"github.com/weiawesome/wes-io-live/roomchat/internal/repository"
	"github.com/weiawesome/wes-io-live/roomchat/pkg/log"
)

const (
	keyKindRoom = "room"
	keyKindUser = "user"
)

// CachedStore decorates a repository.Store with cache-aside lookups for
// rooms and users. Writes go straight to the store.
type CachedStore struct {
	repository.Store
	cache Cache
	ttl   time.Duration
	sf    singleflight.Group
}

func NewCachedStore(store repository.Store, c Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: c,
		ttl:   ttl,
	}
}

func (s *CachedStore) FindRoomByName(ctx context.Context, name string) (*domain.Room, error) {
	key := s.cache.BuildKey(keyKindRoom, name)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		var room domain.Room
		if s.lookup(ctx, key, &room) {
			return &room, nil
		}
		found, err := s.Store.FindRoomByName(ctx, name)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, key, found)
		return found, nil
	})
	if err != nil {
		return nil, err
	}

	room, ok := result.(*domain.Room)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	copied := *room
	return &copied, nil
}

func (s *CachedStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	key := s.cache.BuildKey(keyKindUser, id)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		var user domain.User
		if s.lookup(ctx, key, &user) {
			return &user, nil
		}
		found, err := s.Store.FindUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, key, found)
		return found, nil
	})
	if err != nil {
		return nil, err
	}

	user, ok := result.(*domain.User)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	copied := *user
	return &copied, nil
}

func (s *CachedStore) DeleteUser(ctx context.Context, name string) (*domain.User, error) {
	user, err := s.Store.DeleteUser(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, s.cache.BuildKey(keyKindUser, user.ID)); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, user.ID).Msg("cache delete error")
	}
	return user, nil
}

// lookup reports a cache hit. Cache failures other than a miss are logged
// and treated as a miss.
func (s *CachedStore) lookup(ctx context.Context, key string, dest interface{}) bool {
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("key", key).Msg("cache get error")
	}
	return false
}

func (s *CachedStore) fill(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("key", key).Msg("cache set error")
	}
}
