// Package redis stores every job as a hash and keeps creation ordered
// indexes in sorted sets.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/CZERTAINLY/Runner/internal/model"
)

const (
	prefix  = "runner:"
	allKey  = prefix + "jobs"
	dataKey = "data"
)

func jobKey(id string) string        { return prefix + "job:" + id }
func clientKey(client string) string { return prefix + "client:" + client }

type Store struct {
	client goredis.UniversalClient
	owned  bool
}

// Open connects to a redis:// url.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s := New(client)
	s.owned = true
	return s, nil
}

// New uses an existing client, which the caller keeps owning.
func New(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Save(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.JobID, err)
	}
	// microseconds keep the score exact in a float64
	score := float64(job.CreateAt.UnixMicro())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.JobID),
		"client", job.Client,
		"status", string(job.Status),
		dataKey, string(data),
	)
	pipe.ZAdd(ctx, allKey, goredis.Z{Score: score, Member: job.JobID})
	pipe.ZAdd(ctx, clientKey(job.Client), goredis.Z{Score: score, Member: job.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (model.Job, error) {
	data, err := s.client.HGet(ctx, jobKey(jobID), dataKey).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return model.Job{}, model.ErrJobNotFound
	case err != nil:
		return model.Job{}, fmt.Errorf("getting job %s: %w", jobID, err)
	}
	return decode(data)
}

func (s *Store) List(ctx context.Context, client string) ([]model.Job, error) {
	key := allKey
	if client != "" {
		key = clientKey(client)
	}
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, jobKey(id), dataKey)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	ret := make([]model.Job, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing jobs: %w", err)
		}
		job, err := decode(data)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	return ret, nil
}

// Close closes a client created by Open.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func decode(data string) (model.Job, error) {
	var job model.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return model.Job{}, fmt.Errorf("decoding job: %w", err)
	}
	return job, nil
}
