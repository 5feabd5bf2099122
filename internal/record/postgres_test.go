package record

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool connects to TEST_DATABASE_URL, skipping when it is unset.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")
	t.Cleanup(pool.Close)
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool, strict bool) *PostgresStore {
	t.Helper()
	table := fmt.Sprintf("image_processing_log_test_%d", time.Now().UnixNano())
	store := NewPostgresStore(pool, table, strict)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+store.table)
	})
	return store
}

func TestPostgresStore_InsertThenFind(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool, false)
	ctx := context.Background()

	got, err := store.FindByKey(ctx, "photos/sample.jpg")
	require.NoError(t, err)
	assert.Nil(t, got)

	id, err := store.Insert(ctx, sampleRecord())
	require.NoError(t, err)

	got, err = store.FindByKey(ctx, "photos/sample.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.RecordID)
	assert.Equal(t, "2024-05-01T10:00:00Z", got.ProcessedAt)
	assert.Equal(t, 480, got.BasicAttributes.Height)
	assert.Len(t, got.DerivedLocations, 2)
	assert.Equal(t, "Canon", got.ExtendedAttributes["EXIF"].(map[string]any)["Make"])

	_, err = store.Insert(ctx, sampleRecord())
	require.NoError(t, err, "best-effort mode keeps duplicates")

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPostgresStore_StrictConflict(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool, true)
	ctx := context.Background()

	_, err := store.Insert(ctx, sampleRecord())
	require.NoError(t, err)

	_, err = store.Insert(ctx, sampleRecord())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresStore_RejectsBadTimestamp(t *testing.T) {
	store := NewPostgresStore(nil, "unused", false)
	rec := sampleRecord()
	rec.ProcessedAt = "yesterday"

	_, err := store.Insert(context.Background(), rec)
	assert.ErrorContains(t, err, "processedAt")
}
