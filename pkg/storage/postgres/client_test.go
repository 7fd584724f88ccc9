package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// newTestClient connects to the PostgreSQL instance described by the
// SWARM_POSTGRES_* environment, skipping when none is configured.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	password := os.Getenv("SWARM_POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: SWARM_POSTGRES_PASSWORD not set")
	}

	port := 5432
	if portStr := os.Getenv("SWARM_POSTGRES_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			t.Skipf("Skipping PostgreSQL test: invalid SWARM_POSTGRES_PORT: %s", portStr)
		}
		port = p
	}

	host := os.Getenv("SWARM_POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	user := os.Getenv("SWARM_POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	dbName := os.Getenv("SWARM_POSTGRES_DATABASE")
	if dbName == "" {
		dbName = "swarm_test"
	}

	c, err := NewClient(&Config{
		Host:      host,
		Port:      port,
		User:      user,
		Password:  password,
		DBName:    dbName,
		TableName: "memories_test",
	})
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: failed to connect: %v", err)
	}
	t.Cleanup(func() {
		for _, rec := range mustAll(t, c) {
			_ = c.Delete(context.Background(), rec.ID)
		}
		_ = c.Close()
	})
	return c
}

func mustAll(t *testing.T, c *Client) []*storage.MemoryRecord {
	t.Helper()
	all, err := c.All(context.Background())
	require.NoError(t, err)
	return all
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &storage.MemoryRecord{
		ID:        9001,
		Content:   "postgres round trip",
		CreatedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Themes:    []string{"infra"},
		Emotions:  map[string]float64{"calm": 0.4},
	}
	require.NoError(t, c.Put(ctx, rec))

	got, err := c.Get(ctx, 9001)
	require.NoError(t, err)
	assert.Equal(t, "postgres round trip", got.Content)
	assert.NoError(t, got.Verify())
}

func TestTouchAndDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &storage.MemoryRecord{
		ID:        9002,
		Content:   "touch me",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.Put(ctx, rec))
	require.NoError(t, c.Touch(ctx, 9002, time.Now().UTC()))

	got, err := c.Get(ctx, 9002)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ReferenceCount)

	require.NoError(t, c.Delete(ctx, 9002))
	_, err = c.Get(ctx, 9002)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}
