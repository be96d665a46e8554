// Package artifacts persists the final lesson video and places copies next to
// the run's input files.
package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/db"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
)

// Saver stores the final video under name and returns a locator for it.
type Saver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// VideoStore is the subset of db.DB the postgres saver needs.
type VideoStore interface {
	SaveVideo(ctx context.Context, input db.VideoInput) (int64, error)
}

// Options carries the dependencies a saver may need.
type Options struct {
	OutputDir   string
	Store       VideoStore
	DatabaseURL string
	Logger      *zap.Logger
}

type factory func(Options) (Saver, error)

var savers = map[string]factory{
	"local": func(o Options) (Saver, error) {
		return NewLocalSaver(o.OutputDir, o.Logger)
	},
	"postgres": func(o Options) (Saver, error) {
		if o.Store == nil {
			return nil, fmt.Errorf("postgres saver requires a database connection")
		}
		return NewPostgresSaver(o.Store, o.DatabaseURL, o.Logger), nil
	},
}

// NewSaver resolves a saver by name. Unknown names are an error.
func NewSaver(name string, opts Options) (Saver, error) {
	f, ok := savers[name]
	if !ok {
		return nil, fmt.Errorf("unknown saver %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts)
}

// Names lists the registered savers in sorted order.
func Names() []string {
	names := make([]string, 0, len(savers))
	for n := range savers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LocalSaver writes videos to a directory on disk.
type LocalSaver struct {
	dir    string
	logger *zap.Logger
}

// NewLocalSaver creates dir if needed.
func NewLocalSaver(dir string, logger *zap.Logger) (*LocalSaver, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &LocalSaver{dir: dir, logger: logging.OrNop(logger)}, nil
}

// Save writes <dir>/<name>.mp4 and returns its path.
func (s *LocalSaver) Save(_ context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to save empty video %q", name)
	}
	path := filepath.Join(s.dir, WithMP4Suffix(filepath.Base(name)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write video: %w", err)
	}
	s.logger.Info("saved video", zap.String("path", path), zap.Int("output_bytes", len(data)))
	return path, nil
}

// PostgresSaver stores videos as BYTEA rows in the videos table.
type PostgresSaver struct {
	store  VideoStore
	base   string
	logger *zap.Logger
}

// NewPostgresSaver builds locators of the form postgres://host/db/videos/<name>
// from databaseURL; credentials and query parameters are dropped.
func NewPostgresSaver(store VideoStore, databaseURL string, logger *zap.Logger) *PostgresSaver {
	return &PostgresSaver{store: store, base: locatorBase(databaseURL), logger: logging.OrNop(logger)}
}

// Save inserts the video and returns its locator.
func (s *PostgresSaver) Save(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to save empty video %q", name)
	}
	filename := WithMP4Suffix(name)
	id, err := s.store.SaveVideo(ctx, db.VideoInput{
		Filename: filename,
		RunID:    runIDFromName(filename),
		Data:     data,
	})
	if err != nil {
		return "", err
	}
	locator := s.base + "/videos/" + filename
	s.logger.Info("saved video", zap.Int64("video_id", id), zap.String("locator", locator), zap.Int("output_bytes", len(data)))
	return locator, nil
}

// WithMP4Suffix appends .mp4 unless name already ends with it.
func WithMP4Suffix(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".mp4") {
		return name
	}
	return name + ".mp4"
}

// FinalName is the artifact name used for a run's final video.
func FinalName(runID string) string {
	return "final_" + runID + ".mp4"
}

func runIDFromName(filename string) string {
	base := strings.TrimSuffix(filename, ".mp4")
	if strings.HasPrefix(base, "final_") {
		return strings.TrimPrefix(base, "final_")
	}
	return ""
}

func locatorBase(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "postgres://localhost"
	}
	return "postgres://" + u.Host + u.Path
}
