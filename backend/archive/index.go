package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/kestrelhq/memmesh/types"
)

// manifestPath is the index object enumerating every archived record.
const manifestPath = "manifest.json"

// manifest is the on-store shape of the metadata index: one descriptor
// per archived record, regenerated from the canonical objects, never
// hand-edited.
type manifest struct {
	Descriptors []types.Descriptor `json:"descriptors"`
}

// index is the lazily loaded, mutex-guarded in-process view of the
// manifest plus the revision handle needed to commit updates.
type index struct {
	mu     sync.Mutex
	loaded bool
	sha    string
	byID   map[string]types.Descriptor
	order  []string // insertion order of ids, for stable listings
}

func newIndex() *index {
	return &index{byID: make(map[string]types.Descriptor)}
}

// load pulls the manifest from the object store on first use. A missing
// manifest is an empty archive, not an error.
func (ix *index) load(ctx context.Context, store objectStore) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loadLocked(ctx, store)
}

func (ix *index) loadLocked(ctx context.Context, store objectStore) error {
	if ix.loaded {
		return nil
	}

	data, sha, err := store.get(ctx, manifestPath)
	if errors.Is(err, errObjectNotFound) {
		ix.loaded = true
		return nil
	}
	if err != nil {
		return err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return types.NewError(types.ErrCodeProtocol, "manifest malformed").WithCause(err)
	}

	ix.sha = sha
	for _, d := range m.Descriptors {
		if _, ok := ix.byID[d.ID]; !ok {
			ix.order = append(ix.order, d.ID)
		}
		ix.byID[d.ID] = d
	}
	ix.loaded = true
	return nil
}

// upsert replaces or appends a descriptor in the in-process view. The
// caller is responsible for committing afterwards.
func (ix *index) upsert(d types.Descriptor) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.byID[d.ID]; !ok {
		ix.order = append(ix.order, d.ID)
	}
	ix.byID[d.ID] = d
}

// has reports whether an id is already archived.
func (ix *index) has(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.byID[id]
	return ok
}

// descriptor returns the entry for id.
func (ix *index) descriptor(id string) (types.Descriptor, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	d, ok := ix.byID[id]
	return d, ok
}

// shortlist returns the descriptors matching the index-expressible
// filter fields, in insertion order.
func (ix *index) shortlist(f types.MemoryFilter) []types.Descriptor {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]types.Descriptor, 0, len(ix.order))
	for _, id := range ix.order {
		d := ix.byID[id]
		if f.MatchDescriptor(d) {
			out = append(out, d)
		}
	}
	return out
}

// list returns a pagination window over all descriptors, oldest first.
func (ix *index) list(limit, offset int) []types.Descriptor {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	all := make([]types.Descriptor, 0, len(ix.order))
	for _, id := range ix.order {
		all = append(all, ix.byID[id])
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []types.Descriptor{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// stats aggregates from descriptors alone, no content fetches.
func (ix *index) stats() (total int, byType map[types.MemoryType]int, oldest, newest types.Descriptor) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	byType = make(map[types.MemoryType]int)
	for i, id := range ix.order {
		d := ix.byID[id]
		byType[d.Type]++
		if i == 0 || d.CreatedAt.Before(oldest.CreatedAt) {
			oldest = d
		}
		if i == 0 || d.CreatedAt.After(newest.CreatedAt) {
			newest = d
		}
	}
	return len(ix.order), byType, oldest, newest
}

// commit serializes the in-process view and writes it back to the
// object store, refreshing the revision handle.
func (ix *index) commit(ctx context.Context, store objectStore, message string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	m := manifest{Descriptors: make([]types.Descriptor, 0, len(ix.order))}
	for _, id := range ix.order {
		m.Descriptors = append(m.Descriptors, ix.byID[id])
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	sha, err := store.put(ctx, manifestPath, data, ix.sha, message)
	if err != nil {
		return err
	}
	if sha != "" {
		ix.sha = sha
		return nil
	}

	// Host answered without a revision handle; re-read it so the next
	// commit does not conflict.
	if _, fresh, err := store.get(ctx, manifestPath); err == nil {
		ix.sha = fresh
	}
	return nil
}
