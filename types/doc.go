// Package types provides the shared type definitions for the memmesh
// storage subsystem.
//
// types is the lowest-level package in the module and depends on nothing
// internal. It defines the memory record model shared by every storage
// tier, the query filter applied uniformly across tiers, the archival
// index descriptor, the backend status snapshot, and the structured
// error type exchanged between backends and the fallback mesh.
package types
