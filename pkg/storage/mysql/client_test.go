package mysql

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

// newTestClient connects to the MySQL instance described by the
// SWARM_MYSQL_* environment, skipping when none is configured.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	password := os.Getenv("SWARM_MYSQL_PASSWORD")
	if password == "" {
		t.Skip("Skipping MySQL test: SWARM_MYSQL_PASSWORD not set")
	}

	port := 3306
	if portStr := os.Getenv("SWARM_MYSQL_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			t.Skipf("Skipping MySQL test: invalid SWARM_MYSQL_PORT: %s", portStr)
		}
		port = p
	}

	host := os.Getenv("SWARM_MYSQL_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	user := os.Getenv("SWARM_MYSQL_USER")
	if user == "" {
		user = "root"
	}
	dbName := os.Getenv("SWARM_MYSQL_DATABASE")
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
		t.Skipf("Skipping MySQL test: failed to connect: %v", err)
	}
	t.Cleanup(func() {
		all, err := c.All(context.Background())
		require.NoError(t, err)
		for _, rec := range all {
			_ = c.Delete(context.Background(), rec.ID)
		}
		_ = c.Close()
	})
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &storage.MemoryRecord{
		ID:        9101,
		Content:   "mysql round trip",
		CreatedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Themes:    []string{"infra"},
		Emotions:  map[string]float64{"calm": 0.4},
	}
	require.NoError(t, c.Put(ctx, rec))

	got, err := c.Get(ctx, 9101)
	require.NoError(t, err)
	assert.Equal(t, "mysql round trip", got.Content)
	assert.NoError(t, got.Verify())
}

func TestTouchAndDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &storage.MemoryRecord{
		ID:        9102,
		Content:   "touch me",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.Put(ctx, rec))
	require.NoError(t, c.Touch(ctx, 9102, time.Now().UTC()))

	got, err := c.Get(ctx, 9102)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ReferenceCount)

	require.NoError(t, c.Delete(ctx, 9102))
	_, err = c.Get(ctx, 9102)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}
