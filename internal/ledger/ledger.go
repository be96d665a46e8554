// Package ledger records the lifecycle of pipeline runs and the faults raised
// along the way. Every call opens its own connection, heals the schema,
// executes in one transaction and closes the connection again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// Recorder is the write side of the ledger used by pipeline stages.
type Recorder interface {
	// UpsertRun creates the run row or coalesces update into it.
	UpsertRun(ctx context.Context, runID string, update RunUpdate) error
	// RecordFault appends a fault row with a fresh identifier.
	RecordFault(ctx context.Context, runID, stage, description, module string) error
}

// Reader is the read side of the ledger used by the HTTP surface and CLI.
type Reader interface {
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListFaults(ctx context.Context, runID string) ([]FaultRecord, error)
}

// UnavailableError reports that the ledger database could not be reached.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Ledger is the PostgreSQL-backed Recorder and Reader.
type Ledger struct {
	databaseURL string
	logger      *zap.Logger
}

// New returns a Ledger for databaseURL. No connection is made until the first call.
func New(databaseURL string, logger *zap.Logger) (*Ledger, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("ledger database URL is required")
	}
	return &Ledger{databaseURL: databaseURL, logger: logging.OrNop(logger)}, nil
}

// UpsertRun creates the run row if absent, otherwise updates only the fields
// set in update. updated_at is refreshed either way.
func (l *Ledger) UpsertRun(ctx context.Context, runID string, update RunUpdate) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	sql, args := BuildUpsertRun(runID, update)
	err := l.withTx(ctx, "upsert run", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("failed to upsert run %s: %w", runID, err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("ledger upsert failed", zap.String("run_id", runID), zap.Error(err))
		return err
	}
	l.logger.Debug("ledger run upserted", zap.String("run_id", runID))
	return nil
}

// RecordFault inserts a new fault row. It never updates an existing one.
func (l *Ledger) RecordFault(ctx context.Context, runID, stage, description, module string) error {
	faultID := uuid.New()
	err := l.withTx(ctx, "record fault", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO fault (fault_id, run_id, stage, description, module, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
			faultID, runID, stage, description, module,
		)
		if err != nil {
			return fmt.Errorf("failed to insert fault for run %s: %w", runID, err)
		}
		return nil
	})
	if err != nil {
		l.logger.Error("ledger fault insert failed",
			zap.String("run_id", runID), zap.String("stage", stage), zap.Error(err))
		return err
	}
	l.logger.Debug("ledger fault recorded",
		zap.String("run_id", runID), zap.String("stage", stage), zap.String("fault_id", faultID.String()))
	return nil
}

// GetRun returns the run row, or nil when it does not exist.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec *RunRecord
	err := l.withTx(ctx, "get run", func(tx pgx.Tx) error {
		var r RunRecord
		var script []byte
		err := tx.QueryRow(ctx,
			`SELECT run_id, topic, meta_prompt, cleaned_script, script_gen_status, file_gen_status,
			        code_gen_status, render_status, merge_status, video_status, upload_status,
			        created_at, updated_at
			 FROM run WHERE run_id = $1`,
			runID,
		).Scan(&r.RunID, &r.Topic, &r.MetaPrompt, &script, &r.ScriptGenStatus, &r.FileGenStatus,
			&r.CodeGenStatus, &r.RenderStatus, &r.MergeStatus, &r.VideoStatus, &r.UploadStatus,
			&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get run: %w", err)
		}
		r.CleanedScript = script
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListFaults returns every fault recorded for runID, oldest first.
func (l *Ledger) ListFaults(ctx context.Context, runID string) ([]FaultRecord, error) {
	var faults []FaultRecord
	err := l.withTx(ctx, "list faults", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT fault_id, run_id, COALESCE(stage, ''), COALESCE(description, ''),
			        COALESCE(module, ''), created_at, updated_at
			 FROM fault WHERE run_id = $1 ORDER BY created_at, fault_id`,
			runID,
		)
		if err != nil {
			return fmt.Errorf("failed to list faults: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var f FaultRecord
			if err := rows.Scan(&f.FaultID, &f.RunID, &f.Stage, &f.Description, &f.Module, &f.CreatedAt, &f.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan fault: %w", err)
			}
			faults = append(faults, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return faults, nil
}

// withTx opens a dedicated connection, heals the schema and runs fn in one
// transaction. The connection is closed before returning.
func (l *Ledger) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	conn, err := pgx.Connect(ctx, l.databaseURL)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	defer func() { _ = conn.Close(context.Background()) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := heal(ctx, tx); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	return nil
}
