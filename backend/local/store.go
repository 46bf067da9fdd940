// Package local implements the always-available durable tier: a SQLite
// file store that serves as the guaranteed rung of the fallback ladder.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

// memoryRow is the persisted shape of a record. Tags are stored as a
// JSON array in a single column; filtering on tags happens in memory
// after the indexed columns have narrowed the candidate set.
type memoryRow struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Type        string    `gorm:"column:type;index"`
	Content     string    `gorm:"column:content"`
	Importance  float64   `gorm:"column:importance;index"`
	Tags        string    `gorm:"column:tags"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
	AccessCount int       `gorm:"column:access_count"`
}

func (memoryRow) TableName() string { return "memories" }

// Store is the SQLite-backed durable tier.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithNow injects the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (or creates) the SQLite database at cfg.Path and migrates
// the schema. The local tier has no credentials to miss, so it is the
// only tier that can fail construction outright.
func New(cfg config.LocalConfig, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = "./data/memmesh.db"
	}
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create local store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := db.AutoMigrate(&memoryRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With(zap.String("backend", backend.NameLocal)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements backend.Backend.
func (s *Store) Name() string { return backend.NameLocal }

// Enabled always reports true: the local tier needs no external
// credentials or coordinates.
func (s *Store) Enabled() bool { return true }

// Save persists a new record. Records are write-once: a duplicate id is
// rejected rather than overwritten.
func (s *Store) Save(ctx context.Context, m types.Memory) (string, error) {
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

	row, err := toRow(m)
	if err != nil {
		return "", err
	}

	res := s.db.WithContext(ctx).Create(&row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) || isUniqueViolation(res.Error) {
			return "", types.NewError(types.ErrCodeProtocol,
				fmt.Sprintf("record %s already exists", m.ID)).WithBackend(s.Name())
		}
		return "", types.NewError(types.ErrCodeProtocol, "local save failed").
			WithBackend(s.Name()).WithCause(res.Error)
	}

	s.logger.Debug("saved memory",
		zap.String("id", m.ID),
		zap.String("type", string(m.Type)))
	return m.ID, nil
}

// Load queries records matching the filter, newest first. Indexed
// columns narrow the candidate set in SQL; the shared filter predicate
// settles the rest (tags) in memory.
func (s *Store) Load(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error) {
	q := s.db.WithContext(ctx).Model(&memoryRow{}).Order("created_at DESC")
	if len(f.Types) > 0 {
		ts := make([]string, len(f.Types))
		for i, t := range f.Types {
			ts[i] = string(t)
		}
		q = q.Where("type IN ?", ts)
	}
	if f.MinImportance > 0 {
		q = q.Where("importance >= ?", f.MinImportance)
	}
	if f.MaxImportance > 0 {
		q = q.Where("importance <= ?", f.MaxImportance)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at <= ?", f.Until)
	}

	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrCodeProtocol, "local load failed").
			WithBackend(s.Name()).WithCause(err)
	}

	memories := make([]types.Memory, 0, len(rows))
	for _, row := range rows {
		m, err := fromRow(row)
		if err != nil {
			s.logger.Warn("dropping malformed row", zap.String("id", row.ID), zap.Error(err))
			continue
		}
		memories = append(memories, m)
	}
	return f.Apply(memories), nil
}

// Get fetches a record by id and bumps its access count. A miss is
// reported as a NOT_FOUND error for the mesh to advance on.
func (s *Store) Get(ctx context.Context, id string) (*types.Memory, error) {
	var row memoryRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrCodeNotFound,
			fmt.Sprintf("no record %s", id)).WithBackend(s.Name())
	}
	if err != nil {
		return nil, types.NewError(types.ErrCodeProtocol, "local get failed").
			WithBackend(s.Name()).WithCause(err)
	}

	// Access bookkeeping only; record content stays write-once.
	s.db.WithContext(ctx).Model(&memoryRow{}).Where("id = ?", id).
		UpdateColumn("access_count", gorm.Expr("access_count + 1"))

	m, err := fromRow(row)
	if err != nil {
		return nil, types.NewError(types.ErrCodeProtocol, "local row malformed").
			WithBackend(s.Name()).WithCause(err)
	}
	m.AccessCount++
	return &m, nil
}

// Probe implements backend.Backend with a database ping.
func (s *Store) Probe(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(m types.Memory) (memoryRow, error) {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return memoryRow{
		ID:          m.ID,
		Type:        string(m.Type),
		Content:     m.Content,
		Importance:  m.Importance,
		Tags:        string(tags),
		CreatedAt:   m.CreatedAt.UTC(),
		AccessCount: m.AccessCount,
	}, nil
}

func fromRow(row memoryRow) (types.Memory, error) {
	var tags []string
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return types.Memory{}, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return types.Memory{
		ID:          row.ID,
		Content:     row.Content,
		Type:        types.MemoryType(row.Type),
		Importance:  row.Importance,
		Tags:        tags,
		CreatedAt:   row.CreatedAt,
		AccessCount: row.AccessCount,
	}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
