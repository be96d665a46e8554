// Package db provides pooled PostgreSQL access for final video artifacts.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// SaveVideo stores a rendered video and returns its row ID
func (db *DB) SaveVideo(ctx context.Context, input VideoInput) (int64, error) {
	if input.Filename == "" {
		return 0, fmt.Errorf("filename is required")
	}
	if len(input.Data) == 0 {
		return 0, fmt.Errorf("video data is empty")
	}
	contentType := input.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO videos (filename, run_id, video, size_bytes, content_type)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		input.Filename, nullableString(input.RunID), input.Data, len(input.Data), contentType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save video %s: %w", input.Filename, err)
	}
	return id, nil
}

// GetVideo retrieves a stored video including its bytes
func (db *DB) GetVideo(ctx context.Context, id int64) (*Video, error) {
	var v Video
	var runID *string
	err := db.pool.QueryRow(ctx,
		`SELECT id, filename, run_id, video, size_bytes, content_type, created_at
		 FROM videos WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.Filename, &runID, &v.Data, &v.SizeBytes, &v.ContentType, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	if runID != nil {
		v.RunID = *runID
	}
	return &v, nil
}

// ListVideosByRun returns metadata for every video saved for a run, newest first
func (db *DB) ListVideosByRun(ctx context.Context, runID string) ([]VideoSummary, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, filename, COALESCE(run_id, ''), size_bytes, content_type, created_at
		 FROM videos WHERE run_id = $1 ORDER BY created_at DESC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []VideoSummary
	for rows.Next() {
		var v VideoSummary
		if err := rows.Scan(&v.ID, &v.Filename, &v.RunID, &v.SizeBytes, &v.ContentType, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
