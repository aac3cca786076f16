// Package storage defines the generic contract that repository storage
// drivers implement.
//
// A driver presents a cloud blob store (or any other backing store) as a
// filesystem-like storage target: a flat keyspace addressed by /-separated
// names, with directory-like prefixes emulated by the driver where the
// backing store has no real directories.
package storage

import (
	"context"
	"io"
	"time"
)

// InfoLevel controls how much detail an Info or List operation retrieves.
//
// Higher levels may cost more to produce (e.g. parsing per-entry properties
// out of a listing payload), so callers should request the lowest level
// that satisfies them.
type InfoLevel int

const (
	// InfoLevelExists reports only whether the entry exists.
	InfoLevelExists InfoLevel = iota

	// InfoLevelType adds the entry type (file or path).
	InfoLevelType

	// InfoLevelBasic adds size and last-modified time.
	InfoLevelBasic
)

// Type identifies the kind of a storage entry.
type Type int

const (
	// TypeFile is a regular object.
	TypeFile Type = iota

	// TypePath is a directory-like prefix emulated by the driver.
	TypePath
)

// String returns the string representation of the entry type.
func (t Type) String() string {
	if t == TypePath {
		return "path"
	}
	return "file"
}

// Info is the canonical record describing a single storage entry.
//
// The same shape is produced by metadata lookups and by listing, regardless
// of the backing store.
type Info struct {
	// Name is the entry name relative to the storage root, without a
	// leading separator.
	Name string

	// Exists reports whether the entry exists. Info lookups on missing
	// entries return a record with Exists false rather than an error.
	Exists bool

	// Type is the entry kind. Only meaningful at InfoLevelType and above.
	Type Type

	// Size is the entry size in bytes. Only populated at InfoLevelBasic
	// and only for files.
	Size int64

	// ModTime is the last-modified time. Only populated at InfoLevelBasic
	// and only for files.
	ModTime time.Time
}

// InfoVisitor is invoked once per entry during a Walk, in the order the
// backing store returns entries. Returning a non-nil error aborts the walk
// and propagates the error to the caller.
type InfoVisitor func(info Info) error

// ListOptions configures List and Walk operations.
type ListOptions struct {
	// Level selects how much detail each returned Info carries.
	Level InfoLevel

	// Expression is an optional glob used to narrow the listing. Drivers
	// may use its literal prefix to limit the server-side query; entries
	// outside the literal prefix are still possible and callers remain
	// responsible for exact matching.
	Expression string

	// Recurse lists the entire subtree instead of a single level.
	// Recursive listings return only files, since emulated paths have no
	// independent existence.
	Recurse bool
}

// ReadOptions configures a NewRead operation.
type ReadOptions struct {
	// Offset is the byte offset to start reading from.
	Offset int64

	// Limit is the maximum number of bytes to read. Zero reads to the end.
	Limit int64
}

// Driver abstracts a repository storage target.
//
// Name and path arguments are storage-root-relative, using / as the
// separator. The empty string or "/" addresses the root.
type Driver interface {
	// Info returns metadata for a single entry. A missing entry yields
	// Exists false, not an error.
	Info(ctx context.Context, name string, level InfoLevel) (Info, error)

	// List collects the entries under path into a slice.
	List(ctx context.Context, path string, opts ListOptions) ([]Info, error)

	// Walk invokes visit once per entry under path, in storage order.
	Walk(ctx context.Context, path string, opts ListOptions, visit InfoVisitor) error

	// NewRead opens an entry for reading. A missing entry is reported as
	// an error satisfying IsNotFound.
	NewRead(ctx context.Context, name string, opts ReadOptions) (io.ReadCloser, error)

	// NewWrite opens an entry for writing. The write is not visible until
	// Close returns nil.
	NewWrite(ctx context.Context, name string) (io.WriteCloser, error)

	// Remove deletes a single entry. Removing a missing entry is not an
	// error.
	Remove(ctx context.Context, name string) error

	// PathRemove deletes every file under path.
	PathRemove(ctx context.Context, path string) error

	// Close releases any resources held by the driver.
	Close() error
}

// DriverType identifies a storage driver.
type DriverType string

const (
	// DriverAzure represents Azure Blob Storage.
	DriverAzure DriverType = "azure"

	// DriverPosix represents a local filesystem (future).
	DriverPosix DriverType = "posix"
)

// String returns the string representation of the driver type.
func (d DriverType) String() string {
	return string(d)
}
