// Package postgres provides a PostgreSQL implementation of durable record
// storage.
//
// PostgreSQL suits multi-node deployments where several daemons share one
// store. Timestamps are stored as RFC 3339 strings and themes/emotions as
// JSON in TEXT fields, so a record round-trips bit-exactly through its
// integrity checksum.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Client implements RecordStore using PostgreSQL as the backend.
type Client struct {
	// db is the PostgreSQL database connection pool.
	db *sql.DB

	// tableName is the name of the table storing records.
	tableName string
}

var _ storage.RecordStore = (*Client)(nil)

// Config contains configuration for creating a PostgreSQL RecordStore.
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

	// SSLMode is the libpq sslmode setting (disable, require, verify-full).
	SSLMode string
}

// NewClient creates a new PostgreSQL RecordStore client.
//
// Parameters:
//   - cfg: Configuration containing connection settings and table name
//
// Returns:
//   - *Client: The PostgreSQL client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
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
			created_at TEXT NOT NULL,
			last_referenced TEXT,
			reference_count BIGINT NOT NULL DEFAULT 0,
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
		INSERT INTO %s
		(id, content, created_at, last_referenced, reference_count, themes, emotions, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			created_at = EXCLUDED.created_at,
			last_referenced = EXCLUDED.last_referenced,
			reference_count = EXCLUDED.reference_count,
			themes = EXCLUDED.themes,
			emotions = EXCLUDED.emotions,
			checksum = EXCLUDED.checksum
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
		FROM %s WHERE id = $1
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
		FROM %s WHERE id = $1 FOR UPDATE
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
		UPDATE %s SET last_referenced = $1, reference_count = $2, checksum = $3
		WHERE id = $4
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
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.tableName)

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
