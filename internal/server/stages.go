package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonathan/lesson-video-pipeline/internal/storage"
	"github.com/jonathan/lesson-video-pipeline/internal/workspace"
)

// GenerateFilesRequest represents the request body for POST /generate-files-api
type GenerateFilesRequest struct {
	RunID string `json:"run_id,omitempty" validate:"omitempty,runid"`
	// Scenes is a lesson script: a JSON array of scene objects.
	Scenes json.RawMessage `json:"scenes" validate:"required"`
}

// GenerateCodeRequest represents the request body for POST /Generator
type GenerateCodeRequest struct {
	RunID  string          `json:"run_id,omitempty" validate:"omitempty,runid"`
	Path   string          `json:"path,omitempty"`
	Scenes json.RawMessage `json:"scenes" validate:"required"`
}

// WriteScriptsRequest represents the request body for POST /write-scripts
type WriteScriptsRequest struct {
	RunID string `json:"run_id,omitempty" validate:"omitempty,runid"`
	Path  string `json:"path,omitempty"`
	// Scripts maps a scene name (script_seqN) to its program.
	Scripts map[string]string `json:"scripts" validate:"required,min=1"`
}

// UploadFolderRequest represents the request body for POST /upload-folder-to-drive
type UploadFolderRequest struct {
	RunID      string `json:"run_id,omitempty" validate:"omitempty,runid"`
	FolderPath string `json:"folder_path,omitempty"`
}

// StageResponse represents a successful single-stage request
type StageResponse struct {
	RunID         string                `json:"run_id"`
	ProcessedFrom string                `json:"processed_from"`
	Scenes        int                   `json:"scenes,omitempty"`
	Upload        *storage.UploadResult `json:"upload,omitempty"`
}

// handleGenerateFiles writes a run folder from the supplied scenes.
func (s *Server) handleGenerateFiles(w http.ResponseWriter, r *http.Request) {
	var req GenerateFilesRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.pipeline.GenerateFiles(r.Context(), req.RunID, string(req.Scenes))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := StageResponse{RunID: res.RunID, ProcessedFrom: res.ProcessedFrom}
	if res.Script != nil {
		resp.Scenes = len(res.Script.Scenes)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleGenerateCode writes one generated program per scene into a run folder.
func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var req GenerateCodeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipeline.GenerateCode(ctx, req.RunID, req.Path, string(req.Scenes))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := StageResponse{RunID: res.RunID, ProcessedFrom: res.ProcessedFrom}
	if res.Script != nil {
		resp.Scenes = len(res.Script.Scenes)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleWriteScripts stores the supplied programs and renders the folder.
func (s *Server) handleWriteScripts(w http.ResponseWriter, r *http.Request) {
	var req WriteScriptsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	programs := make(map[int]string, len(req.Scripts))
	for name, code := range req.Scripts {
		seq, ok := workspace.ParseSceneName(name)
		if !ok {
			s.writeError(w, &ErrValidation{Field: "scripts", Message: fmt.Sprintf("%q is not a scene name", name)})
			return
		}
		programs[seq] = code
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipeline.WriteScripts(ctx, req.RunID, req.Path, programs)
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

// handleUploadFolder uploads a run folder to object storage.
func (s *Server) handleUploadFolder(w http.ResponseWriter, r *http.Request) {
	var req UploadFolderRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()
	res, err := s.pipeline.UploadFolder(ctx, req.RunID, req.FolderPath)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, StageResponse{
		RunID:         res.RunID,
		ProcessedFrom: res.ProcessedFrom,
		Upload:        res.Upload,
	})
}

// requestContext bounds a synchronous request by the run timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.runTimeout > 0 {
		return context.WithTimeout(r.Context(), s.runTimeout)
	}
	return context.WithCancel(r.Context())
}
