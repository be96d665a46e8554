package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/ledger"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
	"github.com/jonathan/lesson-video-pipeline/internal/pipeline/steps"
	"github.com/jonathan/lesson-video-pipeline/internal/scripting"
)

// CreateRunRequest represents the request body for POST /runs
type CreateRunRequest struct {
	RunID    string `json:"run_id,omitempty" validate:"omitempty,runid"`
	Topic    string `json:"topic" validate:"required,max=500"`
	Class    string `json:"class,omitempty" validate:"max=50"`
	Language string `json:"language,omitempty" validate:"max=50"`
}

// RunResponse represents the response for POST /runs
type RunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RenderVideoRequest represents the request body for POST /videos
type RenderVideoRequest struct {
	RunID string `json:"run_id" validate:"required,runid"`
	// Path is a run folder; empty or "latest" picks the newest one.
	Path string `json:"path,omitempty"`
}

// RenderVideoResponse represents a successful POST /videos
type RenderVideoResponse struct {
	RunID         string `json:"run_id"`
	FinalVideo    string `json:"final_video"`
	ProcessedFrom string `json:"processed_from"`
}

// RunStatusResponse represents the response for GET /runs/{id}
type RunStatusResponse struct {
	Run           *ledger.RunRecord `json:"run"`
	NextStages    []string          `json:"next_stages"`
	BlockedStages []string          `json:"blocked_stages"`
}

// FaultsResponse represents the response for GET /runs/{id}/faults
type FaultsResponse struct {
	RunID  string               `json:"run_id"`
	Faults []ledger.FaultRecord `json:"faults"`
}

// validRunID backs the "runid" tag: run ids end up in folder names and
// object keys.
func validRunID(fl validator.FieldLevel) bool {
	return ledger.ValidateRunID(fl.Field().String()) == nil
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ErrValidation{Field: strings.ToLower(verrs[0].Field()), Message: verrs[0].Tag()}
		}
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// handleCreateRun starts a full lesson run in the background.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	lesson := scripting.Request{Topic: req.Topic, Class: req.Class, Language: req.Language}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		ctx, cancel := s.runContext()
		defer cancel()
		if _, err := s.pipeline.Run(ctx, runID, lesson); err != nil {
			s.logger.Warn("background run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	s.jsonResponse(w, http.StatusAccepted, RunResponse{RunID: runID, Status: "accepted"})
}

// handleRenderVideo renders an existing run folder synchronously.
func (s *Server) handleRenderVideo(w http.ResponseWriter, r *http.Request) {
	var req RenderVideoRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipeline.RenderFolder(ctx, req.RunID, req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, RenderVideoResponse{
		RunID:         res.RunID,
		FinalVideo:    res.FinalVideo,
		ProcessedFrom: res.ProcessedFrom,
	})
}

// handleGetRun returns the ledger row of a run and the stages it can run next.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	rec, err := s.ledger.GetRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		err := &ErrRunNotFound{RunID: runID}
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, RunStatusResponse{
		Run:           rec,
		NextStages:    nonNil(steps.Available(rec)),
		BlockedStages: nonNil(steps.Blocked(rec)),
	})
}

// handleListFaults returns every fault recorded for a run.
func (s *Server) handleListFaults(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	faults, err := s.ledger.ListFaults(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if faults == nil {
		faults = []ledger.FaultRecord{}
	}
	s.jsonResponse(w, http.StatusOK, FaultsResponse{RunID: runID, Faults: faults})
}

// handleRunEvents streams progress events of a run until it finishes or the
// client disconnects.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	stream, err := openEventStream(w)
	if err != nil {
		s.writeError(w, err)
		return
	}

	events, unsubscribe := s.hub.Subscribe(runID)
	defer unsubscribe()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			_ = stream.send("error", ErrorBody{Error: "unavailable", Message: "server shutting down"})
			return
		case <-keepAlive.C:
			if err := stream.ping(); err != nil {
				return
			}
		case event := <-events:
			if err := stream.send("progress", event); err != nil {
				return
			}
			if event.Stage == pipeline.StageRun {
				_ = stream.send("complete", map[string]string{"run_id": runID, "status": event.Status})
				return
			}
		}
	}
}

func (s *Server) runContext() (context.Context, context.CancelFunc) {
	if s.runTimeout > 0 {
		return context.WithTimeout(s.baseCtx, s.runTimeout)
	}
	return context.WithCancel(s.baseCtx)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
