package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	s, err := New(
		config.LocalConfig{Path: "file::memory:"},
		zap.NewNop(),
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, types.Memory{
		Content:    "grandfather's workshop is in the back shed",
		Type:       types.MemorySemantic,
		Importance: 0.7,
		Tags:       []string{"family", "places"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "grandfather's workshop is in the back shed", got.Content)
	require.Equal(t, types.MemorySemantic, got.Type)
	require.Equal(t, []string{"family", "places"}, got.Tags)
	require.Equal(t, 1, got.AccessCount)

	// Access count keeps climbing; everything else is write-once.
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, got.AccessCount)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.Error(t, err)
	require.True(t, types.IsNotFound(err))
}

func TestSaveRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	m := types.Memory{ID: "fixed", Content: "once", Type: types.MemoryWorking, Importance: 0.1}
	_, err := s.Save(ctx, m)
	require.NoError(t, err)

	m.Content = "twice"
	_, err = s.Save(ctx, m)
	require.Error(t, err)

	got, err := s.Get(ctx, "fixed")
	require.NoError(t, err)
	require.Equal(t, "once", got.Content)
}

func TestLoadFilters(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	seed := []types.Memory{
		{ID: "a", Content: "fix the gate latch", Type: types.MemoryProcedural, Importance: 0.9, Tags: []string{"x"}},
		{ID: "b", Content: "picnic by the river", Type: types.MemoryEpisodic, Importance: 0.2, Tags: []string{"y"}},
		{ID: "c", Content: "birthday is in june", Type: types.MemorySemantic, Importance: 0.6, Tags: []string{"x", "y"}},
	}
	for _, m := range seed {
		_, err := s.Save(ctx, m)
		require.NoError(t, err)
	}

	got, err := s.Load(ctx, types.MemoryFilter{MinImportance: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.Load(ctx, types.MemoryFilter{Tags: []string{"y"}})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = s.Load(ctx, types.MemoryFilter{
		Types: []types.MemoryType{types.MemoryEpisodic},
		Tags:  []string{"y"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].ID)

	got, err = s.Load(ctx, types.MemoryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestProbeAndEnabled(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.True(t, s.Enabled())
	require.NoError(t, s.Probe(context.Background()))
}
