// Package mesh implements the fallback orchestrator: one logical
// storage interface over the service, local, archival and realtime
// tiers, tried sequentially in priority order under per-backend
// timeouts.
//
// The mesh never returns an error to its caller. Every internal failure
// is logged, counted, and converted into "try the next tier" or, once
// every tier is exhausted, into the documented degraded result: an
// empty slice, a nil record, or an empty id. Callers treat an empty
// result as "temporarily no data available" — the mesh cannot
// distinguish "not found anywhere" from "every tier unreachable".
package mesh
