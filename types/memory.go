package types

import (
	"fmt"
	"sort"
	"time"
)

// MemoryType classifies a memory record.
type MemoryType string

const (
	// MemoryEpisodic represents event-based experiential memories.
	MemoryEpisodic MemoryType = "episodic"

	// MemorySemantic represents factual knowledge.
	MemorySemantic MemoryType = "semantic"

	// MemoryProcedural represents how-to knowledge.
	MemoryProcedural MemoryType = "procedural"

	// MemoryWorking represents short-term task context.
	MemoryWorking MemoryType = "working"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryEpisodic, MemorySemantic, MemoryProcedural, MemoryWorking:
		return true
	}
	return false
}

// Memory is the record flowing through every storage tier.
//
// Records are write-once: no tier exposes an update-in-place operation,
// only create and archive. CreatedAt is immutable once set. AccessCount
// is read bookkeeping and not part of the record's identity.
type Memory struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Type        MemoryType `json:"type"`
	Importance  float64    `json:"importance"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	AccessCount int        `json:"access_count,omitempty"`
}

// Normalize clamps importance into [0,1], deduplicates and sorts tags,
// and defaults a zero type to working. Backends call this at their
// boundary so malformed remote payloads cannot leak odd shapes inward.
func (m *Memory) Normalize() {
	if m.Importance < 0 {
		m.Importance = 0
	}
	if m.Importance > 1 {
		m.Importance = 1
	}
	if m.Type == "" {
		m.Type = MemoryWorking
	}
	if len(m.Tags) > 1 {
		m.Tags = dedupTags(m.Tags)
	}
}

// Validate reports whether the record is acceptable for storage.
func (m *Memory) Validate() error {
	if m.Content == "" {
		return NewError(ErrCodeProtocol, "memory content is empty")
	}
	if !m.Type.Valid() {
		return NewError(ErrCodeProtocol, fmt.Sprintf("unknown memory type %q", m.Type))
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewError(ErrCodeProtocol, fmt.Sprintf("importance %v outside [0,1]", m.Importance))
	}
	return nil
}

// HasTag reports whether the record carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func dedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0]
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MemoryFilter selects records on load. Zero fields mean "no constraint";
// MaxImportance zero means unbounded above.
type MemoryFilter struct {
	Types         []MemoryType `json:"types,omitempty"`
	MinImportance float64      `json:"min_importance,omitempty"`
	MaxImportance float64      `json:"max_importance,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Since         time.Time    `json:"since,omitempty"`
	Until         time.Time    `json:"until,omitempty"`
	Limit         int          `json:"limit,omitempty"`
}

// Match reports whether the record satisfies every constraint of the
// filter except Limit. All tiers share this predicate so filter semantics
// cannot drift between backends.
func (f MemoryFilter) Match(m Memory) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if m.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if m.Importance < f.MinImportance {
		return false
	}
	if f.MaxImportance > 0 && m.Importance > f.MaxImportance {
		return false
	}
	if !f.Since.IsZero() && m.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.CreatedAt.After(f.Until) {
		return false
	}
	for _, tag := range f.Tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	return true
}

// Apply filters and truncates a slice of records in document order.
func (f MemoryFilter) Apply(in []Memory) []Memory {
	out := make([]Memory, 0, len(in))
	for _, m := range in {
		if !f.Match(m) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Descriptor is a lightweight archival index entry: a projection of a
// record sufficient to filter without fetching content. Descriptors are
// regenerated from the canonical object at archive time, never hand
// edited.
type Descriptor struct {
	ID          string     `json:"id"`
	Type        MemoryType `json:"type"`
	Importance  float64    `json:"importance"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StoragePath string     `json:"storage_path"`
}

// DescribeMemory projects a record into its index descriptor.
func DescribeMemory(m Memory, storagePath string) Descriptor {
	return Descriptor{
		ID:          m.ID,
		Type:        m.Type,
		Importance:  m.Importance,
		Tags:        append([]string(nil), m.Tags...),
		CreatedAt:   m.CreatedAt,
		StoragePath: storagePath,
	}
}

// MatchDescriptor applies the index-expressible filter fields (type,
// importance bounds, date range) to a descriptor. Tag constraints are
// deliberately excluded: tags require the canonical object and are
// applied after content fetch.
func (f MemoryFilter) MatchDescriptor(d Descriptor) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if d.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if d.Importance < f.MinImportance {
		return false
	}
	if f.MaxImportance > 0 && d.Importance > f.MaxImportance {
		return false
	}
	if !f.Since.IsZero() && d.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && d.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// BackendStatus is a per-query reachability snapshot. It is recomputed on
// every status call and never persisted.
type BackendStatus struct {
	Service  bool `json:"service"`
	Local    bool `json:"local"`
	Archival bool `json:"archival"`
	Realtime bool `json:"realtime"`
}

// ArchiveStats aggregates archival index metadata without content fetches.
type ArchiveStats struct {
	Total        int                `json:"total"`
	ByType       map[MemoryType]int `json:"by_type"`
	CacheHitRate float64            `json:"cache_hit_rate"`
	Oldest       time.Time          `json:"oldest,omitempty"`
	Newest       time.Time          `json:"newest,omitempty"`
	Backend      string             `json:"backend"`
}
