// Package backend defines the contract every storage tier implements and
// the per-attempt outcome record the fallback mesh keeps for diagnostics.
//
// Capability is resolved once at construction time: each tier inspects
// its configuration and fixes Enabled() for the life of the process, so
// the mesh never re-inspects the environment per call.
package backend
