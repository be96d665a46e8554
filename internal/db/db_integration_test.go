//go:build integration

package db

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	_, err := Migrate(dsn)
	require.NoError(t, err)

	db, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	return db
}

func TestIntegration_Migrate_Idempotent(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	_, err := Migrate(dsn)
	require.NoError(t, err)

	again, err := Migrate(dsn)
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.False(t, again.Dirty)
	assert.GreaterOrEqual(t, again.Version, uint(1))
}

func TestIntegration_Videos_CRUD(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	runID := uuid.New().String()
	defer func() {
		_, _ = db.pool.Exec(context.Background(), "DELETE FROM videos WHERE run_id = $1", runID)
	}()

	id, err := db.SaveVideo(ctx, VideoInput{Filename: "final_" + runID + ".mp4", RunID: runID, Data: []byte("mp4-bytes")})
	require.NoError(t, err)

	v, err := db.GetVideo(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []byte("mp4-bytes"), v.Data)
	assert.Equal(t, int64(9), v.SizeBytes)
	assert.Equal(t, DefaultContentType, v.ContentType)

	list, err := db.ListVideosByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	missing, err := db.GetVideo(ctx, -1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
