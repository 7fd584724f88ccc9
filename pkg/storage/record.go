package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// MemoryRecord is a durable memory entry.
//
// A record is sealed before it is persisted: Seal normalizes timestamps and
// computes the integrity checksum over every field except the checksum
// itself. A record read back from any backend is verified against its stored
// checksum before it is returned.
type MemoryRecord struct {
	// ID is the unique record identifier (snowflake).
	ID int64 `json:"id"`

	// Content is the text content of the record.
	Content string `json:"content"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// LastReferenced is when the record was last read.
	LastReferenced time.Time `json:"last_referenced"`

	// ReferenceCount is how many times the record has been read.
	ReferenceCount int64 `json:"reference_count"`

	// Themes are free-form classification tags.
	Themes []string `json:"themes,omitempty"`

	// Emotions maps emotion names to intensities in [0, 1].
	Emotions map[string]float64 `json:"emotions,omitempty"`

	// Checksum is the hex SHA-256 of the sealed record.
	Checksum string `json:"checksum"`
}

// ComputeChecksum returns the hex SHA-256 over the record's canonical
// serialization, excluding the checksum field itself. Map keys serialize in
// sorted order, so the digest is deterministic for equal records.
func (r *MemoryRecord) ComputeChecksum() string {
	shadow := *r
	shadow.Checksum = ""
	data, _ := json.Marshal(&shadow)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal normalizes the record's timestamps to UTC and stamps its checksum.
// Backends seal on write; callers never set Checksum directly.
func (r *MemoryRecord) Seal() {
	r.CreatedAt = r.CreatedAt.UTC()
	if !r.LastReferenced.IsZero() {
		r.LastReferenced = r.LastReferenced.UTC()
	}
	r.Checksum = r.ComputeChecksum()
}

// Verify checks the stored checksum against a recomputation.
//
// Returns a resource-corrupted StandardError on mismatch, nil otherwise.
func (r *MemoryRecord) Verify() error {
	if r.Checksum == "" {
		return swarmerr.Newf(swarmerr.KindCorrupted,
			"record %d has no checksum", r.ID)
	}
	if got := r.ComputeChecksum(); got != r.Checksum {
		return swarmerr.Newf(swarmerr.KindCorrupted,
			"record %d failed checksum verification", r.ID).
			WithDetail("expected", r.Checksum).
			WithDetail("actual", got)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *MemoryRecord) Clone() *MemoryRecord {
	out := *r
	if r.Themes != nil {
		out.Themes = append([]string(nil), r.Themes...)
	}
	if r.Emotions != nil {
		out.Emotions = make(map[string]float64, len(r.Emotions))
		for k, v := range r.Emotions {
			out.Emotions[k] = v
		}
	}
	return &out
}
