package mesh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/internal/metrics"
	"github.com/kestrelhq/memmesh/types"
)

// Mesh presents one logical storage interface over an ordered chain of
// tiers. Reads traverse the chain until one tier answers; writes go to
// exactly one tier, the first enabled one whose save succeeds.
type Mesh struct {
	tiers        []backend.Backend
	dataTimeout  time.Duration
	probeTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Collector

	// mu guards the informational state below. Both are last-writer-
	// wins under concurrency and carry no correctness weight.
	mu       sync.Mutex
	active   string
	attempts []backend.Attempt
}

// Option customizes a Mesh.
type Option func(*Mesh)

// WithMetrics attaches the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Mesh) { m.metrics = c }
}

// New builds the mesh. tiers may arrive in any order; cfg.Order (or the
// default priority) decides the chain. Tiers absent from the supplied
// set are simply not part of the chain.
func New(cfg config.MeshConfig, tiers []backend.Backend, logger *zap.Logger, opts ...Option) *Mesh {
	if logger == nil {
		logger = zap.NewNop()
	}

	byName := make(map[string]backend.Backend, len(tiers))
	for _, t := range tiers {
		byName[t.Name()] = t
	}
	order := cfg.Order
	if len(order) == 0 {
		order = backend.DefaultOrder
	}
	chain := make([]backend.Backend, 0, len(order))
	for _, name := range order {
		if t, ok := byName[name]; ok {
			chain = append(chain, t)
		}
	}

	dataTimeout := cfg.DataTimeout
	if dataTimeout <= 0 {
		dataTimeout = 10 * time.Second
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}

	m := &Mesh{
		tiers:        chain,
		dataTimeout:  dataTimeout,
		probeTimeout: probeTimeout,
		logger:       logger.With(zap.String("component", "mesh")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadMemoriesFrom queries the chain and returns the first successful
// tier's result together with that tier's name. Exhaustion yields an
// empty slice and "".
func (m *Mesh) LoadMemoriesFrom(ctx context.Context, f types.MemoryFilter) ([]types.Memory, string) {
	var result []types.Memory
	name := m.run(ctx, "load", func(ctx context.Context, b backend.Backend) error {
		memories, err := b.Load(ctx, f)
		if err != nil {
			return err
		}
		result = memories
		return nil
	})
	if name == "" || result == nil {
		return []types.Memory{}, name
	}
	return result, name
}

// LoadMemories is the convenience form of LoadMemoriesFrom.
func (m *Mesh) LoadMemories(ctx context.Context, f types.MemoryFilter) []types.Memory {
	memories, _ := m.LoadMemoriesFrom(ctx, f)
	return memories
}

// GetMemoryFrom fetches one record by id. A tier's miss advances the
// chain like any failure; exhaustion yields (nil, "").
func (m *Mesh) GetMemoryFrom(ctx context.Context, id string) (*types.Memory, string) {
	var result *types.Memory
	name := m.run(ctx, "get", func(ctx context.Context, b backend.Backend) error {
		memory, err := b.Get(ctx, id)
		if err != nil {
			return err
		}
		result = memory
		return nil
	})
	if name == "" {
		return nil, ""
	}
	return result, name
}

// GetMemory is the convenience form of GetMemoryFrom.
func (m *Mesh) GetMemory(ctx context.Context, id string) *types.Memory {
	memory, _ := m.GetMemoryFrom(ctx, id)
	return memory
}

// SaveMemoryTo writes to exactly one tier: the first enabled one whose
// save succeeds. It returns the backend-assigned id and the tier name,
// or ("", "") when every tier is disabled or failing. No replication
// happens on any path.
func (m *Mesh) SaveMemoryTo(ctx context.Context, rec types.Memory) (string, string) {
	var id string
	name := m.run(ctx, "save", func(ctx context.Context, b backend.Backend) error {
		assigned, err := b.Save(ctx, rec)
		if err != nil {
			return err
		}
		id = assigned
		return nil
	})
	if name == "" {
		return "", ""
	}
	return id, name
}

// SaveMemory is the convenience form of SaveMemoryTo.
func (m *Mesh) SaveMemory(ctx context.Context, rec types.Memory) string {
	id, _ := m.SaveMemoryTo(ctx, rec)
	return id
}

// run executes the fallback chain for one logical operation. A failing
// tier advances the chain, a succeeding one terminates it. It returns
// the satisfying tier's name, or "" when the chain is exhausted.
func (m *Mesh) run(ctx context.Context, op string, attempt func(context.Context, backend.Backend) error) string {
	attempts := make([]backend.Attempt, 0, len(m.tiers))

	for _, b := range m.tiers {
		if !b.Enabled() {
			attempts = append(attempts, backend.Attempt{
				Backend: b.Name(), Op: op,
				State: backend.AttemptSkipped, Reason: "disabled by configuration",
			})
			m.metrics.RecordAttempt(b.Name(), op, string(backend.AttemptSkipped))
			continue
		}

		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, m.dataTimeout)
		err := attempt(cctx, b)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			attempts = append(attempts, backend.Attempt{
				Backend: b.Name(), Op: op,
				State: backend.AttemptFailed, Reason: err.Error(), Err: err,
				Elapsed: elapsed,
			})
			m.metrics.RecordAttempt(b.Name(), op, string(backend.AttemptFailed))
			m.logger.Warn("backend attempt failed",
				zap.String("backend", b.Name()),
				zap.String("op", op),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			continue
		}

		attempts = append(attempts, backend.Attempt{
			Backend: b.Name(), Op: op,
			State: backend.AttemptOK, Elapsed: elapsed,
		})
		m.metrics.RecordAttempt(b.Name(), op, string(backend.AttemptOK))

		m.mu.Lock()
		m.active = b.Name()
		m.attempts = attempts
		m.mu.Unlock()
		return b.Name()
	}

	m.metrics.RecordExhausted(op)
	m.logger.Warn("all backends exhausted", zap.String("op", op))

	m.mu.Lock()
	m.attempts = attempts
	m.mu.Unlock()
	return ""
}

// ActiveBackend returns the tier that most recently satisfied a
// request, or "". The marker is informational: under concurrency it is
// last-writer-wins and must not be read as authoritative.
func (m *Mesh) ActiveBackend() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Diagnostics returns the per-tier attempt outcomes of the most recent
// logical operation. Debug surface only; never mixed into primary
// results.
func (m *Mesh) Diagnostics() []backend.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.Attempt(nil), m.attempts...)
}
