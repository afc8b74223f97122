// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"context"
	"encoding/hex"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ProgramStore abstracts the minimal Redis surface a policy cache needs: GET
// and SET by key. Implementations may wrap *redis.Client or, in tests, a
// plain map.
type ProgramStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// GoRedisStore is a ProgramStore backed by github.com/redis/go-redis/v9.
type GoRedisStore struct{ c *redis.Client }

// NewGoRedisStore dials addr lazily (go-redis connects on first use).
func NewGoRedisStore(addr string) *GoRedisStore {
	return &GoRedisStore{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *GoRedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *GoRedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.c.Set(ctx, key, value, ttl).Err()
}

// programCacheKey namespaces a serialized program by its BLAKE3 digest (spec
// §3.3) so two proxies that install byte-identical policies share one cache
// entry.
func programCacheKey(hash [32]byte) string {
	return "armour:program:" + hex.EncodeToString(hash[:])
}

// cacheSerializedProgram writes encoded (the gob+gzip+base64 blob from
// program.Program.Serialize) to store under its digest, best-effort: a
// cache-write failure never fails SetPolicy. The entry is only written here;
// lookupSerializedProgram, the read side, has no caller in this module
// (spec §4.5's SetPolicy contract says nothing about caching — this is
// grounded on the teacher's persistence.RedisPersister shape).
func cacheSerializedProgram(ctx context.Context, store ProgramStore, hash [32]byte, encoded string) {
	if store == nil {
		return
	}
	_ = store.Set(ctx, programCacheKey(hash), encoded, 24*time.Hour)
}

// lookupSerializedProgram returns a previously cached program blob for hash,
// if any.
func lookupSerializedProgram(ctx context.Context, store ProgramStore, hash [32]byte) (string, bool) {
	if store == nil {
		return "", false
	}
	v, err := store.Get(ctx, programCacheKey(hash))
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}
