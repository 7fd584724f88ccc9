package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		DBPath:    filepath.Join(t.TempDir(), "swarm.db"),
		TableName: "memories",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testRecord(id int64, content string) *storage.MemoryRecord {
	return &storage.MemoryRecord{
		ID:        id,
		Content:   content,
		CreatedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Themes:    []string{"notes"},
		Emotions:  map[string]float64{"calm": 0.6},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := testRecord(1, "first entry")
	require.NoError(t, c.Put(ctx, rec))

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first entry", got.Content)
	assert.Equal(t, []string{"notes"}, got.Themes)
	assert.Equal(t, 0.6, got.Emotions["calm"])
	assert.NoError(t, got.Verify())
}

func TestPutReplacesExisting(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testRecord(1, "v1")))
	require.NoError(t, c.Put(ctx, testRecord(1, "v2")))

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetUnknownID(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Get(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}

func TestTouchIncrementsAndReseals(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, testRecord(1, "touched")))

	at := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, c.Touch(ctx, 1, at))
	require.NoError(t, c.Touch(ctx, 1, at.Add(time.Hour)))

	got, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ReferenceCount)
	assert.True(t, got.LastReferenced.Equal(at.Add(time.Hour)))
	assert.NoError(t, got.Verify())
}

func TestTouchUnknownID(t *testing.T) {
	c := newTestClient(t)

	err := c.Touch(context.Background(), 404, time.Now())
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}

func TestGetDetectsTampering(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, testRecord(1, "authentic")))

	// Flip the content out of band; the stored checksum no longer matches.
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET content = ? WHERE id = ?", c.tableName),
		"forged", int64(1))
	require.NoError(t, err)

	_, err = c.Get(ctx, 1)
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindCorrupted))
}

func TestDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, testRecord(1, "gone soon")))

	require.NoError(t, c.Delete(ctx, 1))

	_, err := c.Get(ctx, 1)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))

	err = c.Delete(ctx, 1)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}

func TestAllOrderedAndCounted(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for _, id := range []int64{30, 10, 20} {
		require.NoError(t, c.Put(ctx, testRecord(id, "r")))
	}

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(10), all[0].ID)
	assert.Equal(t, int64(20), all[1].ID)
	assert.Equal(t, int64(30), all[2].ID)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
