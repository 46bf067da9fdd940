package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	s := New(
		config.RealtimeConfig{Addr: mr.Addr(), KeyPrefix: "test:"},
		zap.NewNop(),
		WithNow(func() time.Time { return now }),
	)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, types.Memory{
		Content:    "the spare key lives under the third flowerpot",
		Type:       types.MemorySemantic,
		Importance: 0.8,
		Tags:       []string{"household"},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.MemorySemantic, got.Type)
	require.Equal(t, 0.8, got.Importance)
	require.False(t, got.CreatedAt.IsZero())
}

func TestWriteOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	m := types.Memory{ID: "dup", Content: "first", Type: types.MemoryWorking, Importance: 0.3}
	_, err := s.Save(ctx, m)
	require.NoError(t, err)

	m.Content = "second"
	_, err = s.Save(ctx, m)
	require.Error(t, err)

	got, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	require.Equal(t, "first", got.Content)
}

func TestLoadUsesTypeIndex(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	seed := []types.Memory{
		{ID: "e1", Content: "walked the pier", Type: types.MemoryEpisodic, Importance: 0.5},
		{ID: "p1", Content: "how to bleed the radiator", Type: types.MemoryProcedural, Importance: 0.9, Tags: []string{"diy"}},
		{ID: "w1", Content: "call back at noon", Type: types.MemoryWorking, Importance: 0.2},
	}
	for _, m := range seed {
		_, err := s.Save(ctx, m)
		require.NoError(t, err)
	}

	got, err := s.Load(ctx, types.MemoryFilter{Types: []types.MemoryType{types.MemoryProcedural}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].ID)

	got, err = s.Load(ctx, types.MemoryFilter{MinImportance: 0.4})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.Load(ctx, types.MemoryFilter{Tags: []string{"diy"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].ID)
}

func TestGetMissIsNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Get(context.Background(), "ghost")
	require.Error(t, err)
	require.True(t, types.IsNotFound(err))
}

func TestDisabledWithoutCredentials(t *testing.T) {
	t.Parallel()

	s := New(config.RealtimeConfig{}, zap.NewNop())
	require.False(t, s.Enabled())

	_, err := s.Load(context.Background(), types.MemoryFilter{})
	require.True(t, types.IsUnavailable(err))
	_, err = s.Save(context.Background(), types.Memory{Content: "x", Type: types.MemoryWorking})
	require.True(t, types.IsUnavailable(err))
	require.Error(t, s.Probe(context.Background()))
}

func TestProbe(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Probe(context.Background()))
}
