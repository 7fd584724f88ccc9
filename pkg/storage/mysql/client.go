// Package mysql provides a MySQL implementation of durable record storage.
//
// MySQL (and compatible servers) suits deployments that already operate a
// MySQL fleet. Timestamps are stored as RFC 3339 strings and themes/emotions
// as JSON in TEXT fields, so a record round-trips bit-exactly through its
// integrity checksum.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Client implements RecordStore using MySQL as the backend.
type Client struct {
	// db is the MySQL database connection pool.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

var _ storage.RecordStore = (*Client)(nil)

// Config contains configuration for creating a MySQL RecordStore.
type Config struct {
	// Host is the database server hostname.
	Host string

	// Port is the database server port.
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DBName is the database name.
	DBName string

	// TableName is the name of the table to use. Defaults to "memories".
	TableName string
}

// NewClient creates a new MySQL RecordStore client.
//
// Parameters:
//   - cfg: Configuration containing connection settings and table name
//
// Returns:
//   - *Client: The MySQL client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
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
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			last_referenced VARCHAR(64),
			reference_count BIGINT NOT NULL DEFAULT 0,
			themes TEXT,
			emotions TEXT,
			checksum VARCHAR(64) NOT NULL,
			INDEX idx_created (created_at)
		)
	`, c.tableName)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to create table", err)
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
		INSERT INTO %s
		(id, content, created_at, last_referenced, reference_count, themes, emotions, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			content = VALUES(content),
			created_at = VALUES(created_at),
			last_referenced = VALUES(last_referenced),
			reference_count = VALUES(reference_count),
			themes = VALUES(themes),
			emotions = VALUES(emotions),
			checksum = VALUES(checksum)
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
// the record inside a transaction. SELECT FOR UPDATE keeps concurrent
// touches from losing counts.
func (c *Client) Touch(ctx context.Context, id int64, at time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
		SELECT id, content, created_at, last_referenced, reference_count, themes, emotions, checksum
		FROM %s WHERE id = ? FOR UPDATE
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

// Close closes the database connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
