// Package server provides the HTTP API of the lesson-video pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
	"github.com/jonathan/lesson-video-pipeline/internal/server/ratelimit"
)

// Pipeline is the part of the coordinator the server drives.
type Pipeline interface {
	Run(ctx context.Context, runID string, req scripting.Request) (*pipeline.Result, error)
	RenderFolder(ctx context.Context, runID, path string) (*pipeline.Result, error)
	GenerateFiles(ctx context.Context, runID, scriptJSON string) (*pipeline.Result, error)
	GenerateCode(ctx context.Context, runID, path, scriptJSON string) (*pipeline.Result, error)
	WriteScripts(ctx context.Context, runID, path string, programs map[int]string) (*pipeline.Result, error)
	UploadFolder(ctx context.Context, runID, path string) (*pipeline.Result, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	pipeline    Pipeline
	ledger      ledger.Reader
	hub         *ProgressHub
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	logger      *zap.Logger
	runTimeout  time.Duration

	// background runs started by POST /runs
	runs sync.WaitGroup
	// baseCtx is cancelled on shutdown so background runs stop.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Config holds server configuration
type Config struct {
	Port     int
	Pipeline Pipeline
	Ledger   ledger.Reader
	// Hub receives the coordinator's progress events; nil creates one.
	Hub        *ProgressHub
	RateLimit  *ratelimit.Config
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("server requires a pipeline")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("server requires a ledger reader")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewProgressHub()
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = ratelimit.LoadConfig()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("runid", validRunID); err != nil {
		return nil, fmt.Errorf("failed to register run id validation: %w", err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		pipeline:    cfg.Pipeline,
		ledger:      cfg.Ledger,
		hub:         cfg.Hub,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
		validate:    validate,
		logger:      logging.OrNop(cfg.Logger),
		runTimeout:  cfg.RunTimeout,
		baseCtx:     baseCtx,
		cancel:      cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/faults", s.handleListFaults)
	mux.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /videos", s.handleRenderVideo)
	mux.HandleFunc("POST /generate-files-api", s.handleGenerateFiles)
	mux.HandleFunc("POST /Generator", s.handleGenerateCode)
	mux.HandleFunc("POST /write-scripts", s.handleWriteScripts)
	mux.HandleFunc("POST /upload-folder-to-drive", s.handleUploadFolder)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // POST /videos renders synchronously and /events streams
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub returns the progress hub the coordinator should publish to.
func (s *Server) Hub() *ProgressHub {
	return s.hub
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, cancels background runs and waits for
// them to finish their deferred bookkeeping.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background runs still active at shutdown")
	}

	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", zap.Error(err))
	}
}

// writeError writes the {error, stage, message} body with the status err maps to.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.jsonResponse(w, HTTPStatus(err), NewErrorBody(err))
}
