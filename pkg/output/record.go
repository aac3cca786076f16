// Package output provides JSONL output for repository operations.
//
// Output is structured as typed record envelopes containing repository
// entries, errors, and operation summaries. Each line is a self-contained
// JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: pgbackrest.<type>.v<version>
const (
	// TypeEntry identifies repository entry records.
	TypeEntry = "pgbackrest.entry.v1"

	// TypeError identifies error records.
	TypeError = "pgbackrest.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "pgbackrest.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "pgbackrest.entry.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this operation.
	JobID string `json:"job_id"`

	// Repo identifies the repository storage type (e.g., "azure").
	Repo string `json:"repo"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// EntryRecord is the data payload for repository listings. It also
// serves as the YAML rendering of a listing entry.
type EntryRecord struct {
	// Name is the entry name, relative to the listed path.
	Name string `json:"name" yaml:"name"`

	// Type is the entry type: "file" or "path".
	Type string `json:"type" yaml:"type"`

	// Size is the entry size in bytes. Only meaningful for files.
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`

	// LastModified is when the entry was last modified, when known.
	LastModified *time.Time `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors related to individual entries are emitted as records rather
// than failing the entire operation, allowing partial results.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Name is the entry name related to this error, if applicable.
	Name string `json:"name,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the entry was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeThrottled indicates rate limiting by the repository.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeUnavailable indicates the repository was unreachable.
	ErrCodeUnavailable = "UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of an operation with aggregate
// statistics.
type SummaryRecord struct {
	// Entries is the total number of entries reported.
	Entries int64 `json:"entries"`

	// Files is the number of file entries.
	Files int64 `json:"files"`

	// Paths is the number of path entries.
	Paths int64 `json:"paths"`

	// BytesTotal is the cumulative size of file entries in bytes.
	BytesTotal int64 `json:"bytes_total"`

	// Duration is the total operation duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Errors is the count of errors encountered.
	Errors int64 `json:"errors"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
