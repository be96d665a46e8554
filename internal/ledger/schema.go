package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// schemaLockKey serializes schema healing across concurrent writers.
const schemaLockKey int64 = 0x6c6564676572

type column struct {
	name    string
	sqlType string
}

// runColumns lists the optional run columns in upsert order. New columns are
// appended here and picked up by both healing and upsert.
var runColumns = []column{
	{"topic", "TEXT"},
	{"meta_prompt", "TEXT"},
	{"cleaned_script", "JSONB"},
	{"script_gen_status", "TEXT"},
	{"file_gen_status", "TEXT"},
	{"code_gen_status", "TEXT"},
	{"render_status", "TEXT"},
	{"merge_status", "TEXT"},
	{"video_status", "TEXT"},
	{"upload_status", "TEXT"},
}

var faultColumns = []column{
	{"run_id", "TEXT"},
	{"stage", "TEXT"},
	{"description", "TEXT"},
	{"module", "TEXT"},
}

// SchemaStatements returns the idempotent DDL that creates the ledger tables
// and adds any optional column that is missing.
func SchemaStatements() []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run (
			run_id     TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, c := range runColumns {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE run ADD COLUMN IF NOT EXISTS %s %s", c.name, c.sqlType))
	}

	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS fault (
			fault_id   UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	for _, c := range faultColumns {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE fault ADD COLUMN IF NOT EXISTS %s %s", c.name, c.sqlType))
	}
	stmts = append(stmts, `CREATE INDEX IF NOT EXISTS fault_run_id_idx ON fault (run_id)`)
	return stmts
}

// heal brings both tables up to date inside tx.
func heal(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("failed to lock ledger schema: %w", err)
	}
	for _, stmt := range SchemaStatements() {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to heal ledger schema (%s): %w", firstLine(stmt), err)
		}
	}
	return nil
}

// BuildUpsertRun returns the coalescing upsert statement and its arguments.
// Every optional column is bound; nil arguments leave the stored value intact.
func BuildUpsertRun(runID string, u RunUpdate) (string, []any) {
	names := make([]string, 0, len(runColumns))
	placeholders := make([]string, 0, len(runColumns))
	sets := make([]string, 0, len(runColumns)+1)
	for i, c := range runColumns {
		names = append(names, c.name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, run.%s)", c.name, c.name, c.name))
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at")

	sql := fmt.Sprintf(
		`INSERT INTO run (run_id, %s, updated_at) VALUES ($1, %s, NOW())
		 ON CONFLICT (run_id) DO UPDATE SET %s`,
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ", "),
	)

	var script any
	if len(u.CleanedScript) > 0 {
		script = string(u.CleanedScript)
	}
	args := []any{
		runID,
		nullable(u.Topic),
		nullable(u.MetaPrompt),
		script,
		nullable(u.ScriptGenStatus),
		nullable(u.FileGenStatus),
		nullable(u.CodeGenStatus),
		nullable(u.RenderStatus),
		nullable(u.MergeStatus),
		nullable(u.VideoStatus),
		nullable(u.UploadStatus),
	}
	return sql, args
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
