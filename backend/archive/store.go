// Package archive implements the cold tier: long-term, append-biased
// storage of memory records as individually addressable objects in a
// version-controlled object store, with a metadata index layered on top
// so filtered retrieval does not fetch every object's content.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/internal/metrics"
	"github.com/kestrelhq/memmesh/types"
)

// PartialFailure reports an archive batch that partly failed. Records
// already committed when a failure occurs stay committed; the batch is
// not atomic. Archival is best-effort with reporting: callers inspect
// Failed to learn which ids did not make it.
type PartialFailure struct {
	Failed map[string]error
}

// Error implements the error interface.
func (e *PartialFailure) Error() string {
	return fmt.Sprintf("[%s] %d records failed to archive: %s",
		types.ErrCodePartialArchive, len(e.Failed), strings.Join(e.FailedIDs(), ", "))
}

// FailedIDs returns the failed record ids, sorted.
func (e *PartialFailure) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store is the archival tier.
type Store struct {
	cfg     config.ArchiveConfig
	objects objectStore
	ix      *index
	cache   *contentCache
	logger  *zap.Logger
	metrics *metrics.Collector
	enabled bool
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithNow injects the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics attaches the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// New builds the store. The tier is enabled iff URL, repo and token are
// all configured; a disabled store answers the typed archival API with
// empty results and no error, which lets the mesh treat "not
// configured" identically to "currently unreachable".
func New(cfg config.ArchiveConfig, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:     cfg,
		ix:      newIndex(),
		cache:   newContentCache(),
		logger:  logger.With(zap.String("backend", backend.NameArchival)),
		enabled: cfg.URL != "" && cfg.Repo != "" && cfg.Token != "",
		now:     time.Now,
	}
	if s.enabled {
		s.objects = newGitStore(cfg)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements backend.Backend.
func (s *Store) Name() string { return backend.NameArchival }

// Enabled implements backend.Backend.
func (s *Store) Enabled() bool { return s.enabled }

// storagePath derives the deterministic object path for a record,
// namespaced by type then id.
func storagePath(m types.Memory) string {
	return fmt.Sprintf("memories/%s/%s.json", m.Type, m.ID)
}

// Archive commits each record as an independent unit. Records already
// archived under the same id are skipped, which makes re-running a
// batch idempotent. Failed ids are reported through *PartialFailure;
// nil means every record committed.
func (s *Store) Archive(ctx context.Context, records []types.Memory) error {
	if !s.enabled {
		return nil
	}
	if err := s.ix.load(ctx, s.objects); err != nil {
		return err
	}

	failed := make(map[string]error)
	committed := 0
	for _, m := range records {
		m.Normalize()
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		if err := m.Validate(); err != nil {
			failed[m.ID] = err
			continue
		}
		if s.ix.has(m.ID) {
			s.logger.Debug("already archived", zap.String("id", m.ID))
			continue
		}

		path := storagePath(m)
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			failed[m.ID] = err
			continue
		}
		if _, err := s.objects.put(ctx, path, data, "",
			fmt.Sprintf("memmesh: archive %s memory %s", m.Type, m.ID)); err != nil {
			s.logger.Warn("failed to archive record", zap.String("id", m.ID), zap.Error(err))
			failed[m.ID] = err
			continue
		}

		s.ix.upsert(types.DescribeMemory(m, path))
		s.cache.set(path, data)
		committed++
	}

	if committed > 0 {
		msg := fmt.Sprintf("memmesh: index %d archived memories", committed)
		if err := s.ix.commit(ctx, s.objects, msg); err != nil {
			// The objects stand; only the persisted index is behind.
			// The in-process view still covers them until restart.
			s.logger.Error("failed to commit manifest", zap.Error(err))
			return types.NewError(types.ErrCodePartialArchive, "manifest commit failed").
				WithBackend(s.Name()).WithCause(err)
		}
	}

	if len(failed) > 0 {
		return &PartialFailure{Failed: failed}
	}
	return nil
}

// Retrieve answers a filtered query in two phases: the metadata index
// shortlists candidate paths (type, importance bounds, date range),
// then content is fetched only for the shortlist and the residual
// filter (tags) is applied in memory.
func (s *Store) Retrieve(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error) {
	if !s.enabled {
		return []types.Memory{}, nil
	}
	if err := s.ix.load(ctx, s.objects); err != nil {
		return nil, err
	}

	shortlist := s.ix.shortlist(f)
	memories := make([]types.Memory, 0, len(shortlist))
	for _, d := range shortlist {
		m, err := s.fetch(ctx, d.StoragePath)
		if err != nil {
			s.logger.Warn("failed to fetch archived record",
				zap.String("path", d.StoragePath), zap.Error(err))
			continue
		}
		if !f.Match(*m) {
			continue
		}
		memories = append(memories, *m)
		if f.Limit > 0 && len(memories) >= f.Limit {
			break
		}
	}
	return memories, nil
}

// List returns a pagination window of index entries, no content fetch.
func (s *Store) List(ctx context.Context, limit, offset int) ([]types.Descriptor, error) {
	if !s.enabled {
		return []types.Descriptor{}, nil
	}
	if err := s.ix.load(ctx, s.objects); err != nil {
		return nil, err
	}
	return s.ix.list(limit, offset), nil
}

// Stats aggregates from the index alone.
func (s *Store) Stats(ctx context.Context) (*types.ArchiveStats, error) {
	if !s.enabled {
		return &types.ArchiveStats{ByType: map[types.MemoryType]int{}}, nil
	}
	if err := s.ix.load(ctx, s.objects); err != nil {
		return nil, err
	}

	total, byType, oldest, newest := s.ix.stats()
	st := &types.ArchiveStats{
		Total:        total,
		ByType:       byType,
		CacheHitRate: s.cache.hitRate(),
		Backend:      s.cfg.Repo,
	}
	if total > 0 {
		st.Oldest = oldest.CreatedAt
		st.Newest = newest.CreatedAt
	}
	return st, nil
}

// GetPath is the backward-compatible key/value shim: it reads an
// arbitrary object through the same codec and cache as Retrieve.
func (s *Store) GetPath(ctx context.Context, path string) (*types.Memory, error) {
	if !s.enabled {
		return nil, nil
	}
	m, err := s.fetch(ctx, path)
	if errors.Is(err, errObjectNotFound) {
		return nil, types.NewError(types.ErrCodeNotFound,
			fmt.Sprintf("no object at %s", path)).WithBackend(s.Name())
	}
	return m, err
}

// SetPath is the write half of the shim: it commits a record at an
// arbitrary path with the caller's commit message and keeps the index
// in step so Retrieve can see it.
func (s *Store) SetPath(ctx context.Context, path string, m types.Memory, message string) error {
	if !s.enabled {
		return nil
	}
	m.Normalize()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.ix.load(ctx, s.objects); err != nil {
		return err
	}

	// Replacing an existing object needs its revision handle.
	var sha string
	if _, existing, err := s.objects.get(ctx, path); err == nil {
		sha = existing
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if _, err := s.objects.put(ctx, path, data, sha, message); err != nil {
		return err
	}

	s.ix.upsert(types.DescribeMemory(m, path))
	s.cache.set(path, data)
	return s.ix.commit(ctx, s.objects, "memmesh: index "+m.ID)
}

// ClearCache drops every cached content entry. The next fetch of any
// path goes back to the object store.
func (s *Store) ClearCache() {
	s.cache.clear()
}

// Load implements backend.Backend as a rung of the fallback chain.
func (s *Store) Load(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error) {
	if !s.enabled {
		return nil, types.NewError(types.ErrCodeUnavailable, "archive backend not configured")
	}
	return s.Retrieve(ctx, f)
}

// Get implements backend.Backend: an index lookup plus a single
// content fetch.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	if !s.enabled {
		return nil, types.NewError(types.ErrCodeUnavailable, "archive backend not configured")
	}
	if err := s.ix.load(ctx, s.objects); err != nil {
		return nil, err
	}
	d, ok := s.ix.descriptor(id)
	if !ok {
		return nil, types.NewError(types.ErrCodeNotFound,
			fmt.Sprintf("no record %s", id)).WithBackend(s.Name())
	}
	return s.fetch(ctx, d.StoragePath)
}

// Save implements backend.Backend by archiving a single record.
func (s *Store) Save(ctx context.Context, m types.Memory) (string, error) {
	if !s.enabled {
		return "", types.NewError(types.ErrCodeUnavailable, "archive backend not configured")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if err := s.Archive(ctx, []types.Memory{m}); err != nil {
		var pf *PartialFailure
		if errors.As(err, &pf) {
			if cause, ok := pf.Failed[m.ID]; ok {
				return "", cause
			}
		}
		return "", err
	}
	return m.ID, nil
}

// Probe implements backend.Backend. A missing manifest still proves
// the store is reachable: the archive is merely empty.
func (s *Store) Probe(ctx context.Context) error {
	if !s.enabled {
		return types.NewError(types.ErrCodeUnavailable, "archive backend not configured")
	}
	_, _, err := s.objects.get(ctx, manifestPath)
	if errors.Is(err, errObjectNotFound) {
		return nil
	}
	return err
}

// fetch reads a record through the content cache.
func (s *Store) fetch(ctx context.Context, path string) (*types.Memory, error) {
	if data, ok := s.cache.get(path); ok {
		s.metrics.RecordCacheHit()
		return decodeMemory(data)
	}
	s.metrics.RecordCacheMiss()

	data, _, err := s.objects.get(ctx, path)
	if err != nil {
		return nil, err
	}
	s.cache.set(path, data)
	return decodeMemory(data)
}

func decodeMemory(data []byte) (*types.Memory, error) {
	var m types.Memory
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.NewError(types.ErrCodeProtocol, "archived object malformed").WithCause(err)
	}
	return &m, nil
}
