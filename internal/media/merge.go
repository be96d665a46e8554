package media

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

const faultModule = "media.merger"

// Muxer combines one video payload and one audio payload.
type Muxer interface {
	Mux(ctx context.Context, video, audio []byte, ordinal int) (MergedUnit, error)
}

// Concatenator joins merged units in the given order.
type Concatenator interface {
	Concatenate(ctx context.Context, units [][]byte) ([]byte, error)
}

// MergeOutcome summarizes one MergeAll call.
// UnitsSucceeded == UnitsAttempted - len(FailedOrdinals) always holds.
// FinalBytes is nil when no unit muxed or the concatenation failed.
type MergeOutcome struct {
	FinalBytes     []byte
	UnitsAttempted int
	UnitsSucceeded int
	FailedOrdinals []int
}

// MergerOptions tunes the orchestrator.
type MergerOptions struct {
	// Parallelism bounds concurrent mux calls. 0 or 1 muxes sequentially.
	Parallelism int
}

// Merger drives the muxer over every scene pair and concatenates the result.
type Merger struct {
	muxer  Muxer
	concat Concatenator
	ledger ledger.Recorder
	logger *zap.Logger
	opts   MergerOptions
}

// NewMerger wires a Merger. Ledger writes go through a best-effort wrapper
// so a ledger outage never changes the merge result.
func NewMerger(muxer Muxer, concat Concatenator, rec ledger.Recorder, logger *zap.Logger, opts MergerOptions) *Merger {
	logger = logging.OrNop(logger)
	return &Merger{
		muxer:  muxer,
		concat: concat,
		ledger: ledger.NewBestEffort(rec, logger),
		logger: logger,
		opts:   opts,
	}
}

type muxResult struct {
	unit MergedUnit
	err  error
}

// MergeAll muxes video[i] with audio[i] as ordinal i+1 and concatenates the
// successful units in ordinal order.
//
// Lists of different lengths are a *ContractViolation: a fault is recorded,
// merge_status is set to failed and the error is returned. Per-unit failures
// are recorded and skipped. When nothing muxes, or the concatenation fails,
// FinalBytes is nil and merge_status is failed; the error is still nil.
func (m *Merger) MergeAll(ctx context.Context, video, audio [][]byte, runID string) (*MergeOutcome, error) {
	log := m.logger.With(zap.String("run_id", runID))

	if len(video) != len(audio) {
		cv := &ContractViolation{VideoUnits: len(video), AudioUnits: len(audio)}
		log.Error("merge rejected", zap.Error(cv))
		_ = m.ledger.RecordFault(ctx, runID, StageMerge, cv.Error(), faultModule)
		_ = m.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageMerge, ledger.StatusFailed))
		return nil, cv
	}

	outcome := &MergeOutcome{UnitsAttempted: len(video)}
	if len(video) == 0 {
		log.Warn("nothing to merge")
		_ = m.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageMerge, ledger.StatusFailed))
		return outcome, nil
	}

	log.Info("merging units", zap.Int("units", len(video)), zap.Int("parallelism", m.parallelism()))
	results := m.muxAll(ctx, video, audio)

	merged := make([]MergedUnit, 0, len(results))
	for i, res := range results {
		ordinal := i + 1
		if res.err != nil {
			outcome.FailedOrdinals = append(outcome.FailedOrdinals, ordinal)
			_ = m.ledger.RecordFault(ctx, runID, StageMerge, res.err.Error(), faultModule)
			continue
		}
		merged = append(merged, res.unit)
	}
	outcome.UnitsSucceeded = len(merged)

	if len(merged) == 0 {
		log.Error("all units failed to mux", zap.Ints("failed_ordinals", outcome.FailedOrdinals))
		_ = m.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageMerge, ledger.StatusFailed))
		return outcome, nil
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Ordinal < merged[j].Ordinal })
	payloads := make([][]byte, len(merged))
	for i, u := range merged {
		payloads[i] = u.Bytes
	}

	final, err := m.concat.Concatenate(ctx, payloads)
	if err != nil || final == nil {
		if err == nil {
			err = fmt.Errorf("concatenation produced no output")
		}
		log.Error("concatenation failed", zap.Error(err))
		_ = m.ledger.RecordFault(ctx, runID, StageMerge, err.Error(), faultModule)
		_ = m.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageMerge, ledger.StatusFailed))
		return outcome, nil
	}

	outcome.FinalBytes = final
	_ = m.ledger.UpsertRun(ctx, runID, ledger.StatusUpdate(ledger.StageMerge, ledger.StatusSuccess))
	log.Info("merge complete",
		zap.Int("units_succeeded", outcome.UnitsSucceeded),
		zap.Ints("failed_ordinals", outcome.FailedOrdinals),
		zap.Int("output_bytes", len(final)))
	return outcome, nil
}

// muxAll returns one result per pair, indexed by ordinal-1.
func (m *Merger) muxAll(ctx context.Context, video, audio [][]byte) []muxResult {
	results := make([]muxResult, len(video))

	if m.parallelism() <= 1 {
		for i := range video {
			unit, err := m.muxer.Mux(ctx, video[i], audio[i], i+1)
			results[i] = muxResult{unit: unit, err: err}
		}
		return results
	}

	// Each goroutine owns results[i]; failures are data, not group errors.
	var g errgroup.Group
	g.SetLimit(m.parallelism())
	for i := range video {
		g.Go(func() error {
			unit, err := m.muxer.Mux(ctx, video[i], audio[i], i+1)
			results[i] = muxResult{unit: unit, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Merger) parallelism() int {
	if m.opts.Parallelism < 1 {
		return 1
	}
	return m.opts.Parallelism
}
