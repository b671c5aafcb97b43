package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/model"
)

// readFlag returns (value, present). Anything other than "1" is false.
func (s *RedisStore) readFlag(ctx context.Context, key string) (bool, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, errors.Wrapf(err, "read %s", key)
	}
	return raw == "1", true, nil
}

func (s *RedisStore) writeFlag(ctx context.Context, key string, value bool) error {
	return errors.Wrapf(s.client.Set(ctx, key, encodeFlag(value), 0).Err(), "write %s", key)
}

func (s *RedisStore) MuteAll(ctx context.Context) (bool, error) {
	value, _, err := s.readFlag(ctx, MuteAllKey)
	return value, err
}

func (s *RedisStore) SetMuteAll(ctx context.Context, muted bool) error {
	return s.writeFlag(ctx, MuteAllKey, muted)
}

func (s *RedisStore) ProjectMuted(ctx context.Context, project string) (bool, error) {
	value, _, err := s.readFlag(ctx, ProjectMuteKey(project))
	return value, err
}

func (s *RedisStore) SetProjectMute(ctx context.Context, project string, muted bool) error {
	return s.writeFlag(ctx, ProjectMuteKey(project), muted)
}

// NotifySetting returns the explicit setting for scope/kind and whether one exists.
func (s *RedisStore) NotifySetting(ctx context.Context, scope string, kind model.NotifyKind) (bool, bool, error) {
	return s.readFlag(ctx, NotifyKey(scope, kind))
}

func (s *RedisStore) SetNotifySetting(ctx context.Context, scope string, kind model.NotifyKind, enabled bool) error {
	return s.writeFlag(ctx, NotifyKey(scope, kind), enabled)
}

func (s *RedisStore) ResetNotifySettings(ctx context.Context, scope string) error {
	keys := make([]string, 0, len(model.NotifyKinds))
	for _, kind := range model.NotifyKinds {
		keys = append(keys, NotifyKey(scope, kind))
	}
	return errors.Wrapf(s.client.Del(ctx, keys...).Err(), "reset notify settings %s", scope)
}

func (s *RedisStore) SortMode(ctx context.Context) (string, error) {
	raw, err := s.client.Get(ctx, SortProjectsKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return raw, errors.Wrap(err, "read sort mode")
}

func (s *RedisStore) SetSortMode(ctx context.Context, mode string) error {
	return errors.Wrap(s.client.Set(ctx, SortProjectsKey, mode, 0).Err(), "write sort mode")
}
