package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/codec"
)

func (s *RedisStore) AppendTempError(ctx context.Context, project string, item string, line string) error {
	key := TempErrorsKey(project, item)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, line)
		pipe.Expire(ctx, key, s.bufferTTL)
		return nil
	})
	return errors.Wrapf(err, "append temp error %s/%s", project, item)
}

func (s *RedisStore) ClearTempErrors(ctx context.Context, project string, item string) error {
	return errors.Wrapf(s.client.Del(ctx, TempErrorsKey(project, item)).Err(), "clear temp errors %s/%s", project, item)
}

// TakeTempErrors reads and deletes the buffer in one MULTI/EXEC.
func (s *RedisStore) TakeTempErrors(ctx context.Context, project string, item string) ([]string, error) {
	key := TempErrorsKey(project, item)
	var lines *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lines = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "take temp errors %s/%s", project, item)
	}
	return lines.Val(), nil
}

// CommitFailure overwrites the item's committed log and adds the item to the
// worker's failure set.
func (s *RedisStore) CommitFailure(ctx context.Context, project string, worker string, item string, lines []string) error {
	if lines == nil {
		lines = []string{}
	}
	encoded, err := codec.MarshalString(lines)
	if err != nil {
		return errors.Wrap(err, "encode failure log")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, FailLogsKey(project, worker), item, encoded)
		pipe.SAdd(ctx, FailuresKey(project, worker), item)
		return nil
	})
	return errors.Wrapf(err, "commit failure %s/%s/%s", project, worker, item)
}

func (s *RedisStore) FailureItems(ctx context.Context, project string, worker string) ([]string, error) {
	items, err := s.client.SMembers(ctx, FailuresKey(project, worker)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list failures %s/%s", project, worker)
	}
	sort.Strings(items)
	return items, nil
}

func (s *RedisStore) FailureCount(ctx context.Context, project string, worker string) (int64, error) {
	count, err := s.client.SCard(ctx, FailuresKey(project, worker)).Result()
	return count, errors.Wrapf(err, "count failures %s/%s", project, worker)
}

func (s *RedisStore) FailureLog(ctx context.Context, project string, worker string, item string) ([]string, error) {
	raw, err := s.client.HGet(ctx, FailLogsKey(project, worker), item).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read failure log %s/%s/%s", project, worker, item)
	}
	return decodeLogLines(raw), nil
}

func (s *RedisStore) FailureLogs(ctx context.Context, project string, worker string) (map[string][]string, error) {
	entries, err := s.client.HGetAll(ctx, FailLogsKey(project, worker)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read failure logs %s/%s", project, worker)
	}
	out := make(map[string][]string, len(entries))
	for item, raw := range entries {
		out[item] = decodeLogLines(raw)
	}
	return out, nil
}

// ClearErrors drops failure sets, committed logs and temp buffers for one
// project, or for every project when project is empty.
func (s *RedisStore) ClearErrors(ctx context.Context, project string) (int, error) {
	scope := "*"
	if project != "" {
		scope = project + ":*"
	}
	return s.deleteMatching(ctx, failuresPrefix+scope, failLogsPrefix+scope, tempErrorsPrefix+scope)
}

func (s *RedisStore) FactoryReset(ctx context.Context) (int, error) {
	return s.deleteMatching(ctx, statusPrefix+"*", failuresPrefix+"*", failLogsPrefix+"*", settingsPrefix+"*", tempErrorsPrefix+"*")
}

// decodeLogLines accepts the JSON array written by CommitFailure and falls
// back to a single raw line for anything older.
func decodeLogLines(raw string) []string {
	var lines []string
	if err := codec.UnmarshalString(raw, &lines); err == nil {
		return lines
	}
	return []string{raw}
}
