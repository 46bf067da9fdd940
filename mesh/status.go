package mesh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/types"
)

// BackendStatus probes every tier independently and reports a fresh
// reachability snapshot. Probes run in parallel, each bounded by the
// short probe timeout, so the call never blocks longer than the
// slowest single probe. Nothing is cached; disabled tiers report false
// without a network touch.
func (m *Mesh) BackendStatus(ctx context.Context) types.BackendStatus {
	var (
		mu      sync.Mutex
		healthy = make(map[string]bool, len(m.tiers))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range m.tiers {
		if !b.Enabled() {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, m.probeTimeout)
			defer cancel()

			start := time.Now()
			err := b.Probe(pctx)
			m.metrics.RecordProbe(b.Name(), time.Since(start))
			if err != nil {
				m.logger.Debug("probe failed",
					zap.String("backend", b.Name()), zap.Error(err))
			}

			mu.Lock()
			healthy[b.Name()] = err == nil
			mu.Unlock()
			return nil // a failed probe is a status, not an error
		})
	}
	_ = g.Wait()

	return types.BackendStatus{
		Service:  healthy[backend.NameService],
		Local:    healthy[backend.NameLocal],
		Archival: healthy[backend.NameArchival],
		Realtime: healthy[backend.NameRealtime],
	}
}
