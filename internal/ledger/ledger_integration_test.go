//go:build integration

package ledger

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	l, err := New(url, nil)
	require.NoError(t, err)
	return l
}

func TestLedger_UpsertRunCoalesces(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, l.UpsertRun(ctx, runID, RunUpdate{
		ScriptGenStatus: Str("ok"),
		Topic:           Str("photosynthesis"),
		CleanedScript:   json.RawMessage(`[{"script_seq":1}]`),
	}))
	first, err := l.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, l.UpsertRun(ctx, runID, RunUpdate{MergeStatus: Str("ok")}))

	rec, err := l.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "ok", *rec.ScriptGenStatus)
	assert.Equal(t, "ok", *rec.MergeStatus)
	assert.Equal(t, "photosynthesis", *rec.Topic)
	assert.JSONEq(t, `[{"script_seq":1}]`, string(rec.CleanedScript))
	assert.False(t, rec.UpdatedAt.Before(first.UpdatedAt))
}

func TestLedger_GetRunMissing(t *testing.T) {
	l := setupTestLedger(t)

	rec, err := l.GetRun(context.Background(), uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLedger_RecordFaultAppends(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	runID := uuid.New().String()

	require.NoError(t, l.RecordFault(ctx, runID, StageMerge, "unit 1 failed", "media"))
	require.NoError(t, l.RecordFault(ctx, runID, StageMerge, "unit 1 failed", "media"))

	faults, err := l.ListFaults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, faults, 2)
	assert.NotEqual(t, faults[0].FaultID, faults[1].FaultID)
	assert.Equal(t, StageMerge, faults[0].Stage)
}

func TestLedger_ConcurrentWritersHealSafely(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()
	runID := uuid.New().String()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- l.UpsertRun(ctx, runID, RunUpdate{RenderStatus: Str(StatusSuccess)})
			} else {
				errs <- l.RecordFault(ctx, runID, StageRenderAudio, "scene skipped", "render")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
