package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Row is a MemoryRecord flattened into SQL-friendly column values.
// Timestamps are RFC 3339 strings with nanoseconds, matching the record's
// canonical JSON serialization so checksums survive a database round trip.
type Row struct {
	ID             int64
	Content        string
	CreatedAt      string
	LastReferenced sql.NullString
	ReferenceCount int64
	Themes         sql.NullString
	Emotions       sql.NullString
	Checksum       string
}

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// EncodeRow flattens a sealed record into column values.
func EncodeRow(record *MemoryRecord) (*Row, error) {
	row := &Row{
		ID:             record.ID,
		Content:        record.Content,
		CreatedAt:      record.CreatedAt.Format(time.RFC3339Nano),
		ReferenceCount: record.ReferenceCount,
		Checksum:       record.Checksum,
	}

	if !record.LastReferenced.IsZero() {
		row.LastReferenced = sql.NullString{
			String: record.LastReferenced.Format(time.RFC3339Nano), Valid: true}
	}
	if record.Themes != nil {
		data, err := json.Marshal(record.Themes)
		if err != nil {
			return nil, swarmerr.Wrap(swarmerr.KindInternal, "failed to encode themes", err)
		}
		row.Themes = sql.NullString{String: string(data), Valid: true}
	}
	if record.Emotions != nil {
		data, err := json.Marshal(record.Emotions)
		if err != nil {
			return nil, swarmerr.Wrap(swarmerr.KindInternal, "failed to encode emotions", err)
		}
		row.Emotions = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

// ScanRow reads one record from a row or result set.
//
// Scan errors (including sql.ErrNoRows) pass through untranslated so callers
// can branch on them; parse failures of stored values surface as
// resource-corrupted.
func ScanRow(scanner RowScanner) (*MemoryRecord, error) {
	var row Row
	if err := scanner.Scan(
		&row.ID, &row.Content, &row.CreatedAt, &row.LastReferenced,
		&row.ReferenceCount, &row.Themes, &row.Emotions, &row.Checksum,
	); err != nil {
		return nil, err
	}

	record := &MemoryRecord{
		ID:             row.ID,
		Content:        row.Content,
		ReferenceCount: row.ReferenceCount,
		Checksum:       row.Checksum,
	}

	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, swarmerr.Newf(swarmerr.KindCorrupted,
			"record %d has malformed created_at %q", row.ID, row.CreatedAt)
	}
	record.CreatedAt = createdAt

	if row.LastReferenced.Valid {
		lastReferenced, err := time.Parse(time.RFC3339Nano, row.LastReferenced.String)
		if err != nil {
			return nil, swarmerr.Newf(swarmerr.KindCorrupted,
				"record %d has malformed last_referenced %q", row.ID, row.LastReferenced.String)
		}
		record.LastReferenced = lastReferenced
	}
	if row.Themes.Valid {
		if err := json.Unmarshal([]byte(row.Themes.String), &record.Themes); err != nil {
			return nil, swarmerr.Newf(swarmerr.KindCorrupted,
				"record %d has malformed themes", row.ID)
		}
	}
	if row.Emotions.Valid {
		if err := json.Unmarshal([]byte(row.Emotions.String), &record.Emotions); err != nil {
			return nil, swarmerr.Newf(swarmerr.KindCorrupted,
				"record %d has malformed emotions", row.ID)
		}
	}
	return record, nil
}
