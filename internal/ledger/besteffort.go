package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// BestEffort wraps a Recorder so ledger failures are logged and swallowed.
// The pipeline always writes through it so ledger outages never block a run.
type BestEffort struct {
	rec    Recorder
	logger *zap.Logger
}

// NewBestEffort wraps rec. A nil rec discards every write.
func NewBestEffort(rec Recorder, logger *zap.Logger) *BestEffort {
	if rec == nil {
		rec = Discard{}
	}
	return &BestEffort{rec: rec, logger: logging.OrNop(logger)}
}

// UpsertRun forwards to the wrapped recorder and always returns nil.
func (b *BestEffort) UpsertRun(ctx context.Context, runID string, update RunUpdate) error {
	if err := b.rec.UpsertRun(ctx, runID, update); err != nil {
		b.logger.Warn("ignoring ledger upsert failure", zap.String("run_id", runID), zap.Error(err))
	}
	return nil
}

// RecordFault forwards to the wrapped recorder and always returns nil.
func (b *BestEffort) RecordFault(ctx context.Context, runID, stage, description, module string) error {
	if err := b.rec.RecordFault(ctx, runID, stage, description, module); err != nil {
		b.logger.Warn("ignoring ledger fault failure",
			zap.String("run_id", runID), zap.String("stage", stage), zap.Error(err))
	}
	return nil
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) UpsertRun(context.Context, string, RunUpdate) error { return nil }

func (Discard) RecordFault(context.Context, string, string, string, string) error { return nil }

// Memory is an in-process Recorder and Reader with the same coalescing
// semantics as Ledger. Used when no database is configured.
type Memory struct {
	mu     sync.Mutex
	runs   map[string]*RunRecord
	faults []FaultRecord
	now    func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*RunRecord), now: time.Now}
}

// UpsertRun coalesces update into the stored run.
func (m *Memory) UpsertRun(_ context.Context, runID string, update RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.runs[runID]
	if !ok {
		rec = &RunRecord{RunID: runID, CreatedAt: now}
		m.runs[runID] = rec
	}
	update.ApplyTo(rec)
	rec.UpdatedAt = now
	return nil
}

// RecordFault appends a fault with a fresh identifier.
func (m *Memory) RecordFault(_ context.Context, runID, stage, description, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.faults = append(m.faults, FaultRecord{
		FaultID:     uuid.New(),
		RunID:       runID,
		Stage:       stage,
		Description: description,
		Module:      module,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return nil
}

// GetRun returns a copy of the stored run, or nil.
func (m *Memory) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListFaults returns the faults for runID in insertion order.
func (m *Memory) ListFaults(_ context.Context, runID string) ([]FaultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FaultRecord
	for _, f := range m.faults {
		if f.RunID == runID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
