// Package realtime implements the managed keyed-store tier on Redis.
// The tier is gated entirely by credential presence: without an address
// it is constructed disabled and never touches the network.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

var allTypes = []types.MemoryType{
	types.MemoryEpisodic,
	types.MemorySemantic,
	types.MemoryProcedural,
	types.MemoryWorking,
}

// Store is the Redis-backed realtime tier.
type Store struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
	enabled   bool
	now       func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithNow injects the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds the store. Construction never dials: reachability is the
// mesh's business (probes and per-call failures), capability is ours.
func New(cfg config.RealtimeConfig, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "memmesh:"
	}

	s := &Store{
		keyPrefix: prefix,
		logger:    logger.With(zap.String("backend", backend.NameRealtime)),
		enabled:   cfg.Addr != "",
		now:       time.Now,
	}
	if s.enabled {
		s.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements backend.Backend.
func (s *Store) Name() string { return backend.NameRealtime }

// Enabled implements backend.Backend.
func (s *Store) Enabled() bool { return s.enabled }

func (s *Store) memoryKey(id string) string {
	return s.keyPrefix + "mem:" + id
}

func (s *Store) typeKey(t types.MemoryType) string {
	return s.keyPrefix + "type:" + string(t)
}

// Save persists a record under its keyed slot and indexes it by type.
// SETNX enforces the write-once invariant.
func (s *Store) Save(ctx context.Context, m types.Memory) (string, error) {
	if !s.enabled {
		return "", types.NewError(types.ErrCodeUnavailable, "realtime backend not configured")
	}
	m.Normalize()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if err := m.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	ok, err := s.client.SetNX(ctx, s.memoryKey(m.ID), data, 0).Result()
	if err != nil {
		return "", s.mapErr("save", err)
	}
	if !ok {
		return "", types.NewError(types.ErrCodeProtocol,
			fmt.Sprintf("record %s already exists", m.ID)).WithBackend(s.Name())
	}
	if err := s.client.SAdd(ctx, s.typeKey(m.Type), m.ID).Err(); err != nil {
		return "", s.mapErr("save index", err)
	}
	return m.ID, nil
}

// Get fetches a record by id.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	if !s.enabled {
		return nil, types.NewError(types.ErrCodeUnavailable, "realtime backend not configured")
	}

	data, err := s.client.Get(ctx, s.memoryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewError(types.ErrCodeNotFound,
			fmt.Sprintf("no record %s", id)).WithBackend(s.Name())
	}
	if err != nil {
		return nil, s.mapErr("get", err)
	}

	var m types.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.NewError(types.ErrCodeProtocol, "stored record malformed").
			WithBackend(s.Name()).WithCause(err)
	}
	return &m, nil
}

// Load enumerates the per-type id sets named by the filter (all types
// when unconstrained), bulk-fetches the candidates, and settles the
// residual filter in memory.
func (s *Store) Load(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error) {
	if !s.enabled {
		return nil, types.NewError(types.ErrCodeUnavailable, "realtime backend not configured")
	}

	candidates := f.Types
	if len(candidates) == 0 {
		candidates = allTypes
	}

	var ids []string
	for _, t := range candidates {
		members, err := s.client.SMembers(ctx, s.typeKey(t)).Result()
		if err != nil {
			return nil, s.mapErr("load index", err)
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []types.Memory{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.memoryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.mapErr("load", err)
	}

	memories := make([]types.Memory, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index points at an evicted or missing key
		}
		var m types.Memory
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn("dropping malformed record", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		memories = append(memories, m)
	}
	return f.Apply(memories), nil
}

// Probe implements backend.Backend with a PING.
func (s *Store) Probe(ctx context.Context) error {
	if !s.enabled {
		return types.NewError(types.ErrCodeUnavailable, "realtime backend not configured")
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) mapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCodeTimeout,
			fmt.Sprintf("%s timed out", op)).WithBackend(s.Name()).WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrCodeProtocol,
		fmt.Sprintf("%s failed", op)).WithBackend(s.Name()).WithCause(err).WithRetryable(true)
}
