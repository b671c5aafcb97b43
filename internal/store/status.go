package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/codec"
	"fleetwatch/internal/model"
)

// WorkerStatus is one hash entry of status:{project}. Err is set, and Record
// left zero, when the stored JSON could not be decoded.
type WorkerStatus struct {
	Worker string
	Record model.StatusRecord
	Err    error
}

func (s *RedisStore) WriteStatus(ctx context.Context, project string, worker string, record model.StatusRecord) error {
	encoded, err := codec.MarshalString(record)
	if err != nil {
		return errors.Wrap(err, "encode status record")
	}
	key := StatusKey(project)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, worker, encoded)
		pipe.Expire(ctx, key, s.statusTTL)
		return nil
	})
	return errors.Wrapf(err, "write status %s/%s", project, worker)
}

func (s *RedisStore) ReadStatus(ctx context.Context, project string, worker string) (model.StatusRecord, error) {
	raw, err := s.client.HGet(ctx, StatusKey(project), worker).Result()
	if errors.Is(err, redis.Nil) {
		return model.StatusRecord{}, ErrNotFound
	}
	if err != nil {
		return model.StatusRecord{}, errors.Wrapf(err, "read status %s/%s", project, worker)
	}
	return decodeStatus(raw)
}

func (s *RedisStore) ProjectStatus(ctx context.Context, project string) ([]WorkerStatus, error) {
	entries, err := s.client.HGetAll(ctx, StatusKey(project)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read project status %s", project)
	}
	out := make([]WorkerStatus, 0, len(entries))
	for worker, raw := range entries {
		record, decodeErr := decodeStatus(raw)
		out = append(out, WorkerStatus{Worker: worker, Record: record, Err: decodeErr})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Worker < out[j].Worker
	})
	return out, nil
}

func (s *RedisStore) ListProjects(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, statusPrefix+"*")
	if err != nil {
		return nil, err
	}
	projects := make([]string, 0, len(keys))
	for _, key := range keys {
		if project, ok := projectFromStatusKey(key); ok {
			projects = append(projects, project)
		}
	}
	sort.Strings(projects)
	return projects, nil
}

func (s *RedisStore) DeleteWorker(ctx context.Context, project string, worker string) (bool, error) {
	removed, err := s.client.HDel(ctx, StatusKey(project), worker).Result()
	if err != nil {
		return false, errors.Wrapf(err, "delete worker %s/%s", project, worker)
	}
	return removed > 0, nil
}

func decodeStatus(raw string) (model.StatusRecord, error) {
	var record model.StatusRecord
	if err := codec.UnmarshalString(raw, &record); err != nil {
		return model.StatusRecord{}, errors.Wrap(ErrMalformed, err.Error())
	}
	return record, nil
}
