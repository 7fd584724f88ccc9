// Package storage provides interfaces and types for durable record storage.
//
// It defines the RecordStore interface that all storage backends must
// satisfy, along with the MemoryRecord type and its integrity checksum
// helpers.
package storage

import (
	"context"
	"time"
)

// RecordStore defines the interface for durable record storage backends.
//
// All backends (file, SQLite, PostgreSQL, MySQL) must implement this
// interface. Every write seals the record (checksum over the canonical
// serialization) and every read verifies it; a record that fails
// verification and cannot be recovered surfaces as resource-corrupted.
type RecordStore interface {
	// Put inserts or replaces a record. The backend seals the record
	// before persisting; the write is atomic with respect to readers and
	// crashes (a failed write leaves the prior version intact).
	Put(ctx context.Context, record *MemoryRecord) error

	// Get retrieves a record by ID, verifying its checksum.
	//
	// Returns resource-not-found for an unknown id and resource-corrupted
	// when verification fails and no recovery path exists.
	Get(ctx context.Context, id int64) (*MemoryRecord, error)

	// Touch records a read: increments the reference count and sets
	// LastReferenced to the given time, resealing the record.
	Touch(ctx context.Context, id int64, at time.Time) error

	// Delete removes a record by ID. Unknown ids return
	// resource-not-found.
	Delete(ctx context.Context, id int64) error

	// All retrieves every record, ordered by ascending ID.
	All(ctx context.Context) ([]*MemoryRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}

// Backuper is implemented by backends that keep redundant copies for
// checksum-failure recovery. The file backend implements it; SQL backends
// rely on the database's own durability instead.
type Backuper interface {
	// Backup snapshots every record's current good version, rotating old
	// snapshots past the configured retention.
	Backup(ctx context.Context) error
}
