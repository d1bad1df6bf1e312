// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/redis/go-redis/v9"
)

// Store persists a capability snapshot between processes.
type Store interface {
	// Load returns the stored snapshot; found is false when nothing usable is stored.
	Load(ctx context.Context) (caps Capabilities, found bool, err error)
	Save(ctx context.Context, caps Capabilities) error
}

// FileStore keeps the snapshot as a flat JSON file.
type FileStore struct {
	path string
}

// NewFileStore stores the snapshot under dir, named after CacheVersion.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, CacheVersion+".json")}
}

// Path returns the file backing the store.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (Capabilities, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Capabilities{}, false, nil
		}
		return Capabilities{}, false, fmt.Errorf("read capability cache: %w", err)
	}
	caps, ok := Decode(data)
	return caps, ok, nil
}

func (s *FileStore) Save(_ context.Context, caps Capabilities) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending capability file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write capability file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace capability file: %w", err)
	}
	return nil
}

// RedisStore shares one snapshot between hosts with identical ffmpeg builds.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore stores the snapshot under "<prefix>:<CacheVersion>". A
// trailing ":" on prefix is dropped. A zero ttl never expires.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "clipanim"
	}
	return &RedisStore{client: client, key: prefix + ":" + CacheVersion, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context) (Capabilities, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Capabilities{}, false, nil
	}
	if err != nil {
		return Capabilities{}, false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	caps, ok := Decode(data)
	return caps, ok, nil
}

func (s *RedisStore) Save(ctx context.Context, caps Capabilities) error {
	data, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// NopStore persists nothing.
type NopStore struct{}

func (NopStore) Load(context.Context) (Capabilities, bool, error) { return Capabilities{}, false, nil }
func (NopStore) Save(context.Context, Capabilities) error        { return nil }
