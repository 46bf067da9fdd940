package backend

import (
	"context"
	"time"

	"github.com/kestrelhq/memmesh/types"
)

// Canonical tier names used in configuration, status snapshots, logs,
// and metrics labels.
const (
	NameService  = "service"
	NameLocal    = "local"
	NameArchival = "archival"
	NameRealtime = "realtime"
)

// DefaultOrder is the fallback priority when no order is configured.
var DefaultOrder = []string{NameService, NameLocal, NameArchival, NameRealtime}

// Backend is one storage tier in the fallback chain.
//
// Load, Get and Save honor ctx deadlines; the mesh bounds every call
// with a per-backend timeout. Get returns a NOT_FOUND types.Error for a
// per-tier miss so the mesh can distinguish "this tier has no such
// record" from a transport failure, though both advance the chain.
type Backend interface {
	Name() string

	// Enabled reports the capability fixed at construction time. A
	// disabled tier is skipped without an attempt.
	Enabled() bool

	Load(ctx context.Context, f types.MemoryFilter) ([]types.Memory, error)
	Get(ctx context.Context, id string) (*types.Memory, error)
	Save(ctx context.Context, m types.Memory) (string, error)

	// Probe is a lightweight reachability check, bounded by the short
	// probe timeout rather than the data timeout.
	Probe(ctx context.Context) error
}

// AttemptState classifies one backend attempt within a logical operation.
type AttemptState string

const (
	AttemptOK      AttemptState = "ok"
	AttemptSkipped AttemptState = "skipped"
	AttemptFailed  AttemptState = "failed"
)

// Attempt records the outcome of one backend try. The mesh keeps the
// attempts of the most recent logical operation for diagnostics; they
// are never mixed into the primary return value.
type Attempt struct {
	Backend string       `json:"backend"`
	Op      string       `json:"op"`
	State   AttemptState `json:"state"`
	Reason  string       `json:"reason,omitempty"`
	Err     error        `json:"-"`
	Elapsed time.Duration `json:"elapsed_ns"`
}
