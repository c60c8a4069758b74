// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pattern

import (
	"context"
	"time"

	"github.com/ClusterCockpit/cc-artifactgraph/pkg/lrucache"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/log"
	"github.com/ClusterCockpit/cc-artifactgraph/pkg/schema"
	"github.com/redis/go-redis/v9"
)

// localCacheTTL bounds how long a pattern stays in the in-process cache
// before its existence in Redis is reconfirmed. Patterns never change once
// registered, so this only protects against a pattern having been evicted
// from Redis out from under us.
const localCacheTTL = 10 * time.Minute

// Store is where registered patterns are persisted so the external matcher
// (the content backend driving e.g. a ClamAV-style scanner) can read
// signature lines independently of which Work Manager process registered
// them ("stored externally", spec §4.3).
type Store interface {
	Put(ctx context.Context, p *schema.Pattern) error
	Signatures(ctx context.Context) ([]string, error)
}

// RedisStore persists patterns as a Redis hash keyed by pattern name, with a
// local LRU (pkg/lrucache) read-through cache so re-registering a pattern
// already known to this process doesn't round-trip to Redis.
type RedisStore struct {
	client    *redis.Client
	localSeen *lrucache.Cache
	key       string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{
		client:    client,
		localSeen: lrucache.New(1 << 20), // 1 MiB of pattern-name bookkeeping
		key:       key,
	}
}

// Put records p's signature line, skipping the Redis round-trip when this
// process has already persisted that exact pattern name.
func (s *RedisStore) Put(ctx context.Context, p *schema.Pattern) error {
	if cached := s.localSeen.Get(p.Name, nil); cached != nil {
		return nil
	}

	if err := s.client.HSet(ctx, s.key, p.Name, p.Signature).Err(); err != nil {
		log.Warnf("pattern: redis HSET %s/%s failed: %v", s.key, p.Name, err)
		return err
	}

	s.localSeen.Put(p.Name, true, len(p.Name), localCacheTTL)
	return nil
}

// Signatures returns every signature line currently persisted, for handing
// to the external matcher at backend startup.
func (s *RedisStore) Signatures(ctx context.Context) ([]string, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for _, sig := range m {
		out = append(out, sig)
	}
	return out, nil
}
