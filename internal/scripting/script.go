// Package scripting turns a topic into a storytelling script and each scene of
// that script into animation code.
package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/llm"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/prompts"
	"github.com/jonathan/lesson-video-pipeline/internal/schemas"
)

// Scene is one entry of a storytelling script. Step i of ForManim is narrated
// by line i of VoiceOver.
type Scene struct {
	Seq       int      `json:"script_seq"`
	ForManim  []string `json:"script_for_manim"`
	VoiceOver []string `json:"script_voice_over"`
	Length    float64  `json:"script_length,omitempty"`
}

// Narration joins the voice-over lines into the text read by the TTS backend.
func (s Scene) Narration() string {
	lines := make([]string, 0, len(s.VoiceOver))
	for _, l := range s.VoiceOver {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// Request describes the lesson to script.
type Request struct {
	Topic    string `json:"topic" validate:"required"`
	Class    string `json:"class,omitempty"`
	Language string `json:"language,omitempty"`
}

// MetaPrompt renders the request the way it is stored on the run record.
func (r Request) MetaPrompt() string {
	if r.Class == "" && r.Language == "" {
		return r.Topic
	}
	class := r.Class
	if class == "" {
		class = "general"
	}
	lang := r.Language
	if lang == "" {
		lang = "English"
	}
	return prompts.Format(prompts.MustGet("script.json", "meta-prompt"), map[string]string{
		"Topic":    r.Topic,
		"Class":    class,
		"Language": lang,
	})
}

// Script is a validated storytelling script.
type Script struct {
	Scenes     []Scene
	Cleaned    json.RawMessage // the validated JSON array, fences stripped
	MetaPrompt string
}

// Generator produces a storytelling script for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Script, error)
}

// ScriptError reports a generated script that could not be used.
type ScriptError struct {
	Message string
	Cause   error
}

func (e *ScriptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid script: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid script: %s", e.Message)
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// LLMGenerator asks an LLM for the storytelling script.
type LLMGenerator struct {
	client llm.Client
	logger *zap.Logger
}

// NewLLMGenerator returns a Generator backed by client.
func NewLLMGenerator(client llm.Client, logger *zap.Logger) *LLMGenerator {
	return &LLMGenerator{client: client, logger: logging.OrNop(logger)}
}

// Generate builds the prompt, calls the model and validates the result.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (*Script, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}

	meta := req.MetaPrompt()
	prompt := prompts.Format(prompts.MustGet("script.json", "storytelling-script"), map[string]string{
		"Topic": meta,
	})

	g.logger.Info("generating script", zap.String("meta_prompt", meta), zap.String("model", g.client.Model(llm.TierScript)))
	raw, err := g.client.GenerateJSON(ctx, prompt, llm.TierScript)
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}

	script, err := ParseScript(raw)
	if err != nil {
		return nil, err
	}
	script.MetaPrompt = meta
	g.logger.Info("script generated", zap.Int("scenes", len(script.Scenes)))
	return script, nil
}

// ParseScript strips code fences, validates the JSON against the lesson
// script schema and returns the scenes ordered by Seq. Duplicate sequence
// numbers are rejected.
func ParseScript(raw string) (*Script, error) {
	cleaned := llm.CleanJSONBlock(raw)
	if cleaned == "" {
		return nil, &ScriptError{Message: "empty response"}
	}
	if err := schemas.ValidateLessonScript(cleaned); err != nil {
		return nil, &ScriptError{Message: "schema validation failed", Cause: err}
	}

	var scenes []Scene
	if err := json.Unmarshal([]byte(cleaned), &scenes); err != nil {
		return nil, &ScriptError{Message: "failed to decode scenes", Cause: err}
	}

	seen := make(map[int]bool, len(scenes))
	for _, s := range scenes {
		if seen[s.Seq] {
			return nil, &ScriptError{Message: fmt.Sprintf("duplicate script_seq %d", s.Seq)}
		}
		seen[s.Seq] = true
	}
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Seq < scenes[j].Seq })

	return &Script{Scenes: scenes, Cleaned: json.RawMessage(cleaned)}, nil
}

// MockGenerator returns a one-scene script without calling a model.
type MockGenerator struct{}

// Generate implements Generator.
func (MockGenerator) Generate(_ context.Context, req Request) (*Script, error) {
	scenes := []Scene{{
		Seq:       1,
		ForManim:  []string{fmt.Sprintf("Display topic title '%s'", req.Topic)},
		VoiceOver: []string{fmt.Sprintf("Welcome! Today we'll discuss %s.", req.Topic)},
		Length:    30,
	}}
	data, err := json.Marshal(scenes)
	if err != nil {
		return nil, err
	}
	return &Script{Scenes: scenes, Cleaned: data, MetaPrompt: req.MetaPrompt()}, nil
}
