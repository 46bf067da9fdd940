package mesh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

// stub is an in-memory tier with scriptable failures.
type stub struct {
	name     string
	enabled  bool
	memories map[string]types.Memory
	failWith error
	delay    time.Duration
	probeErr error

	loads  atomic.Int64
	saves  atomic.Int64
	probes atomic.Int64
}

func newStub(name string, enabled bool) *stub {
	return &stub{name: name, enabled: enabled, memories: map[string]types.Memory{}}
}

func (s *stub) Name() string  { return s.name }
func (s *stub) Enabled() bool { return s.enabled }

func (s *stub) wait(ctx context.Context) error {
	if s.delay == 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stub) Load(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error) {
	s.loads.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []types.Memory
	for _, m := range s.memories {
		out = append(out, m)
	}
	return f.Apply(out), nil
}

func (s *stub) Get(ctx context.Context, id string) (*types.Memory, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.failWith != nil {
		return nil, s.failWith
	}
	m, ok := s.memories[id]
	if !ok {
		return nil, types.NewError(types.ErrCodeNotFound, "miss").WithBackend(s.name)
	}
	return &m, nil
}

func (s *stub) Save(ctx context.Context, m types.Memory) (string, error) {
	s.saves.Add(1)
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if s.failWith != nil {
		return "", s.failWith
	}
	if m.ID == "" {
		m.ID = s.name + "-assigned"
	}
	s.memories[m.ID] = m
	return m.ID, nil
}

func (s *stub) Probe(ctx context.Context) error {
	s.probes.Add(1)
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.probeErr
}

func newTestMesh(t *testing.T, cfg config.MeshConfig, tiers ...backend.Backend) *Mesh {
	t.Helper()
	return New(cfg, tiers, zap.NewNop())
}

func TestFallbackReturnsHighestPriorityResult(t *testing.T) {
	t.Parallel()

	svc := newStub(backend.NameService, true)
	svc.memories["s1"] = types.Memory{ID: "s1", Content: "from service", Type: types.MemoryWorking}
	local := newStub(backend.NameLocal, true)
	local.memories["l1"] = types.Memory{ID: "l1", Content: "from local", Type: types.MemoryWorking}

	m := newTestMesh(t, config.MeshConfig{}, svc, local)

	got, used := m.LoadMemoriesFrom(context.Background(), types.MemoryFilter{})
	require.Equal(t, backend.NameService, used)
	require.Len(t, got, 1)
	require.Equal(t, "s1", got[0].ID)
	require.Equal(t, backend.NameService, m.ActiveBackend())
	require.Equal(t, int64(0), local.loads.Load())
}

func TestFailureAdvancesToNextTier(t *testing.T) {
	t.Parallel()

	svc := newStub(backend.NameService, true)
	svc.failWith = errors.New("connection reset")
	local := newStub(backend.NameLocal, true)
	local.memories["l1"] = types.Memory{ID: "l1", Content: "held locally", Type: types.MemoryWorking}

	m := newTestMesh(t, config.MeshConfig{}, svc, local)

	got, used := m.LoadMemoriesFrom(context.Background(), types.MemoryFilter{})
	require.Equal(t, backend.NameLocal, used)
	require.Len(t, got, 1)

	attempts := m.Diagnostics()
	require.Len(t, attempts, 2)
	require.Equal(t, backend.AttemptFailed, attempts[0].State)
	require.Equal(t, backend.AttemptOK, attempts[1].State)
}

func TestGracefulExhaustion(t *testing.T) {
	t.Parallel()

	svc := newStub(backend.NameService, false)
	local := newStub(backend.NameLocal, true)
	local.failWith = errors.New("disk full")

	m := newTestMesh(t, config.MeshConfig{}, svc, local)
	ctx := context.Background()

	got, used := m.LoadMemoriesFrom(ctx, types.MemoryFilter{})
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Empty(t, used)

	rec, used := m.GetMemoryFrom(ctx, "anything")
	require.Nil(t, rec)
	require.Empty(t, used)

	id := m.SaveMemory(ctx, types.Memory{Content: "x", Type: types.MemoryWorking})
	require.Empty(t, id)

	attempts := m.Diagnostics()
	require.Len(t, attempts, 2)
	require.Equal(t, backend.AttemptSkipped, attempts[0].State)
	require.Equal(t, "disabled by configuration", attempts[0].Reason)
	require.Equal(t, backend.AttemptFailed, attempts[1].State)
}

func TestSaveWritesToExactlyOneTier(t *testing.T) {
	t.Parallel()

	local := newStub(backend.NameLocal, true)
	realtime := newStub(backend.NameRealtime, true)

	m := newTestMesh(t, config.MeshConfig{Order: []string{"local", "realtime"}}, local, realtime)
	ctx := context.Background()

	id, used := m.SaveMemoryTo(ctx, types.Memory{Content: "keep once", Type: types.MemorySemantic})
	require.Equal(t, backend.NameLocal, used)
	require.NotEmpty(t, id)
	require.Equal(t, int64(1), local.saves.Load())
	require.Equal(t, int64(0), realtime.saves.Load())

	// The id is retrievable against the tier that accepted the write.
	rec, from := m.GetMemoryFrom(ctx, id)
	require.NotNil(t, rec)
	require.Equal(t, backend.NameLocal, from)
	require.Equal(t, "keep once", rec.Content)
}

func TestDegradedModeScenario(t *testing.T) {
	t.Parallel()

	remote := newStub(backend.NameService, false)
	local := newStub(backend.NameLocal, true)
	local.memories["l1"] = types.Memory{ID: "l1", Content: "local survives", Type: types.MemoryWorking}
	archival := newStub(backend.NameArchival, true)
	archival.memories["a1"] = types.Memory{ID: "a1", Content: "cold", Type: types.MemoryWorking}

	m := newTestMesh(t, config.MeshConfig{}, remote, local, archival)

	got := m.LoadMemories(context.Background(), types.MemoryFilter{})
	require.Len(t, got, 1)
	require.Equal(t, "l1", got[0].ID)
	require.Equal(t, backend.NameLocal, m.ActiveBackend())
}

func TestHungBackendCannotStallTheChain(t *testing.T) {
	t.Parallel()

	slow := newStub(backend.NameService, true)
	slow.delay = 500 * time.Millisecond
	local := newStub(backend.NameLocal, true)
	local.memories["l1"] = types.Memory{ID: "l1", Content: "fast", Type: types.MemoryWorking}

	m := newTestMesh(t, config.MeshConfig{DataTimeout: 30 * time.Millisecond}, slow, local)

	start := time.Now()
	got, used := m.LoadMemoriesFrom(context.Background(), types.MemoryFilter{})
	require.Equal(t, backend.NameLocal, used)
	require.Len(t, got, 1)
	require.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestGetMissAdvancesChain(t *testing.T) {
	t.Parallel()

	svc := newStub(backend.NameService, true)
	local := newStub(backend.NameLocal, true)
	local.memories["only-local"] = types.Memory{ID: "only-local", Content: "here", Type: types.MemoryWorking}

	m := newTestMesh(t, config.MeshConfig{}, svc, local)

	rec, used := m.GetMemoryFrom(context.Background(), "only-local")
	require.NotNil(t, rec)
	require.Equal(t, backend.NameLocal, used)
}

func TestBackendStatus(t *testing.T) {
	t.Parallel()

	svc := newStub(backend.NameService, true)
	svc.probeErr = errors.New("gateway timeout")
	local := newStub(backend.NameLocal, true)
	archival := newStub(backend.NameArchival, false)
	realtime := newStub(backend.NameRealtime, true)

	m := newTestMesh(t, config.MeshConfig{}, svc, local, archival, realtime)

	st := m.BackendStatus(context.Background())
	require.False(t, st.Service)
	require.True(t, st.Local)
	require.False(t, st.Archival) // disabled, never probed
	require.True(t, st.Realtime)
	require.Equal(t, int64(0), archival.probes.Load())
}

func TestStatusProbesRunInParallelUnderProbeTimeout(t *testing.T) {
	t.Parallel()

	tiers := make([]backend.Backend, 0, 3)
	for _, name := range []string{backend.NameService, backend.NameLocal, backend.NameRealtime} {
		s := newStub(name, true)
		s.delay = 80 * time.Millisecond
		tiers = append(tiers, s)
	}

	m := newTestMesh(t, config.MeshConfig{ProbeTimeout: time.Second}, tiers...)

	start := time.Now()
	st := m.BackendStatus(context.Background())
	elapsed := time.Since(start)

	require.True(t, st.Service && st.Local && st.Realtime)
	// Three sequential 80ms probes would take 240ms+.
	require.Less(t, elapsed, 200*time.Millisecond)
}

func TestConfiguredOrderOverridesDefault(t *testing.T) {
	t.Parallel()

	local := newStub(backend.NameLocal, true)
	local.memories["l1"] = types.Memory{ID: "l1", Content: "local", Type: types.MemoryWorking}
	realtime := newStub(backend.NameRealtime, true)
	realtime.memories["r1"] = types.Memory{ID: "r1", Content: "realtime", Type: types.MemoryWorking}

	m := newTestMesh(t, config.MeshConfig{Order: []string{"realtime", "local"}}, local, realtime)

	_, used := m.LoadMemoriesFrom(context.Background(), types.MemoryFilter{})
	require.Equal(t, backend.NameRealtime, used)
}
