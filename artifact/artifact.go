/*
Copyright 2024 Relock Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package artifact persists each pipeline stage's output so the next stage
// (possibly a separate process invocation) can read it back. Records are
// keyed by stage and stored as JSON, either as files in an output directory
// or in redis.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/relock-labs/relock/config"
	redis_db "github.com/relock-labs/relock/internal/redis-db"
)

// ErrNotFound is returned when no artifact exists under the requested key.
var ErrNotFound = errors.New("artifact not found")

// Store reads and writes stage artifacts.
type Store interface {
	Save(ctx context.Context, key string, value interface{}) error
	Load(ctx context.Context, key string, value interface{}) error
}

// NewStore builds the artifact store selected by the configuration.
func NewStore(cnf *config.Configuration) (Store, error) {
	switch cnf.Artifacts.Backend {
	case "", "file":
		return NewFileStore(cnf.Artifacts.Dir)
	case "redis":
		return NewRedisStore(cnf.Artifacts.Redis.Dns)
	}
	return nil, errors.Errorf("unknown artifact backend %q", cnf.Artifacts.Backend)
}

// FileStore keeps one JSON file per artifact key in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating artifact directory")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStore) Save(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding artifact %s", key)
	}
	if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
		return errors.Wrapf(err, "writing artifact %s", key)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, key string, value interface{}) error {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return errors.Wrapf(err, "reading artifact %s", key)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrapf(err, "decoding artifact %s", key)
	}
	return nil
}

const redisArtifactTTL = 24 * time.Hour

// RedisStore keeps artifacts in redis. Artifacts are JSON-encoded before
// caching so both backends share one canonical format, including the
// string-tagged big integer amounts.
type RedisStore struct {
	cache *cache.Cache
}

func NewRedisStore(dns string) (*RedisStore, error) {
	client, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", dns)})
	if err != nil {
		return nil, err
	}
	return newRedisStore(client.Client()), nil
}

func newRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{cache: cache.New(&cache.Options{Redis: client})}
}

func (s *RedisStore) redisKey(key string) string {
	return "relock:artifact:" + key
}

func (s *RedisStore) Save(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding artifact %s", key)
	}
	return s.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   s.redisKey(key),
		Value: data,
		TTL:   redisArtifactTTL,
	})
}

func (s *RedisStore) Load(ctx context.Context, key string, value interface{}) error {
	var data []byte
	err := s.cache.Get(ctx, s.redisKey(key), &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return errors.Wrapf(err, "reading artifact %s", key)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrapf(err, "decoding artifact %s", key)
	}
	return nil
}
