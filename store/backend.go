// Package store implements the replicated key/value data store built
// on top of package channel: a single-writer master, N read-mostly
// clones, and the pluggable storage backend contract both sit on
// (spec.md §4.4-§4.6, §6).
package store

import (
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/data"
)

// KeyAspect selects which facet of a stored entry Get returns.
type KeyAspect int

const (
	// ValueAspect returns the stored value (the default).
	ValueAspect KeyAspect = iota
	// ExpiryAspect returns the key's absolute expiry, or data.None()
	// if the key carries no expiry. Supplemented from
	// original_source/src/internal/master_actor.cc's aspect-aware get.
	ExpiryAspect
)

// ExpiryEntry pairs a key with its absolute expiry deadline, as
// returned by Backend.Expiries.
type ExpiryEntry struct {
	Key      data.Value
	Deadline int64 // UnixNano
}

// Backend is the pluggable storage contract of spec.md §6. Every
// method returns a BackendFailure-coded error on storage faults;
// domain-level absence (no such key) is reported as false by Exists
// and as a NoSuchKey-coded error by Get, GetAspect and Subtract.
type Backend interface {
	Put(key, value data.Value, expiry command.Expiry) error
	Get(key data.Value) (data.Value, error)
	GetAspect(key data.Value, aspect KeyAspect) (data.Value, error)
	Add(key, value data.Value, initType command.InitType, expiry command.Expiry) (data.Value, error)
	Subtract(key, value data.Value, expiry command.Expiry) (data.Value, error)
	Erase(key data.Value) error
	Exists(key data.Value) bool
	Clear() error
	Keys() ([]data.Value, error)
	Snapshot() (map[string]command.SnapshotEntry, error)
	InstallSnapshot(snapshot map[string]command.SnapshotEntry) error
	Expiries() ([]ExpiryEntry, error)
	// Expire deletes key if it is present and its stored deadline is
	// <= now; it reports whether a deletion actually happened.
	Expire(key data.Value, now int64) (bool, error)
}
