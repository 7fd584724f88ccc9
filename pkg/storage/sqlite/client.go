// Package sqlite provides a SQLite implementation of durable record storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-node deployments. Timestamps are stored as RFC 3339 strings and
// themes/emotions as JSON in TEXT fields, so a record round-trips bit-exactly
// through its integrity checksum.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Client implements RecordStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

var _ storage.RecordStore = (*Client)(nil)

// Config contains configuration for creating a SQLite RecordStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use. Defaults to "memories".
	TableName string
}

// NewClient creates a new SQLite RecordStore client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	if cfg.DBPath == "" {
		return nil, swarmerr.New(swarmerr.KindMissingField, "db_path is required")
	}
	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}

	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, swarmerr.Wrap(swarmerr.KindInternal,
				"failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindDependency, "failed to open database", err)
	}
	if err := db.Ping(); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindDependency, "failed to reach database", err)
	}

	client := &Client{db: db, tableName: tableName}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

// initTables initializes the database table structure.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_referenced TEXT,
			reference_count INTEGER NOT NULL DEFAULT 0,
			themes TEXT,
			emotions TEXT,
			checksum TEXT NOT NULL
		)
	`, c.tableName)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to create table", err)
	}

	indexQuery := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at)`,
		c.tableName, c.tableName)
	if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to create index", err)
	}
	return nil
}

// Put inserts or replaces a record, sealing it first.
func (c *Client) Put(ctx context.Context, record *storage.MemoryRecord) error {
	if record == nil || record.ID == 0 {
		return swarmerr.New(swarmerr.KindMissingField, "record id is required")
	}

	sealed := record.Clone()
	sealed.Seal()
	row, err := storage.EncodeRow(sealed)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
		(id, content, created_at, last_referenced, reference_count, themes, emotions, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		row.ID, row.Content, row.CreatedAt, row.LastReferenced,
		row.ReferenceCount, row.Themes, row.Emotions, row.Checksum)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to write record", err)
	}

	record.Checksum = sealed.Checksum
	record.CreatedAt = sealed.CreatedAt
	record.LastReferenced = sealed.LastReferenced
	return nil
}

// Get retrieves a record by ID, verifying its checksum.
func (c *Client) Get(ctx context.Context, id int64) (*storage.MemoryRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, content, created_at, last_referenced, reference_count, themes, emotions, checksum
		FROM %s WHERE id = ?
	`, c.tableName)

	record, err := storage.ScanRow(c.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, swarmerr.Newf(swarmerr.KindNotFound, "record %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := record.Verify(); err != nil {
		return nil, err
	}
	return record, nil
}

// Touch increments the reference count and updates LastReferenced, resealing
// the record inside a transaction.
func (c *Client) Touch(ctx context.Context, id int64, at time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		SELECT id, content, created_at, last_referenced, reference_count, themes, emotions, checksum
		FROM %s WHERE id = ?
	`, c.tableName)
	record, err := storage.ScanRow(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return swarmerr.Newf(swarmerr.KindNotFound, "record %d not found", id)
	}
	if err != nil {
		return err
	}
	if err := record.Verify(); err != nil {
		return err
	}

	record.ReferenceCount++
	record.LastReferenced = at
	record.Seal()
	row, err := storage.EncodeRow(record)
	if err != nil {
		return err
	}

	update := fmt.Sprintf(`
		UPDATE %s SET last_referenced = ?, reference_count = ?, checksum = ?
		WHERE id = ?
	`, c.tableName)
	if _, err := tx.ExecContext(ctx, update,
		row.LastReferenced, row.ReferenceCount, row.Checksum, id); err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to update record", err)
	}

	if err := tx.Commit(); err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to commit", err)
	}
	return nil
}

// Delete deletes a record by ID.
func (c *Client) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.tableName)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to delete record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to delete record", err)
	}
	if affected == 0 {
		return swarmerr.Newf(swarmerr.KindNotFound, "record %d not found", id)
	}
	return nil
}

// All retrieves every record ordered by ascending ID, verifying each.
func (c *Client) All(ctx context.Context) ([]*storage.MemoryRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, content, created_at, last_referenced, reference_count, themes, emotions, checksum
		FROM %s ORDER BY id
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindDependency, "failed to list records", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*storage.MemoryRecord
	for rows.Next() {
		record, err := storage.ScanRow(rows)
		if err != nil {
			return nil, err
		}
		if err := record.Verify(); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindDependency, "failed to list records", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", c.tableName)
	if err := c.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, swarmerr.Wrap(swarmerr.KindDependency, "failed to count records", err)
	}
	return n, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
