package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/llm"
	"github.com/jonathan/lesson-video-pipeline/internal/logging"
	"github.com/jonathan/lesson-video-pipeline/internal/prompts"
)

// ReferenceSource supplies example code relevant to a query.
type ReferenceSource interface {
	Snippets(ctx context.Context, query string) ([]string, error)
}

// SceneClassPattern matches a Manim scene class declaration.
var SceneClassPattern = regexp.MustCompile(`class\s+(\w+)\((\w*)Scene\)`)

// CodeResult holds generated code keyed by scene sequence number.
type CodeResult struct {
	Code   map[int]string
	Failed map[int]error
}

// CodeGenerator writes one animation program per scene.
type CodeGenerator struct {
	client llm.Client
	refs   ReferenceSource
	logger *zap.Logger
}

// NewCodeGenerator returns a CodeGenerator. refs may be nil.
func NewCodeGenerator(client llm.Client, refs ReferenceSource, logger *zap.Logger) *CodeGenerator {
	return &CodeGenerator{client: client, refs: refs, logger: logging.OrNop(logger)}
}

// GenerateAll generates code for every scene. A failed scene is recorded in
// Failed and does not stop the others.
func (g *CodeGenerator) GenerateAll(ctx context.Context, scenes []Scene) *CodeResult {
	res := &CodeResult{Code: make(map[int]string), Failed: make(map[int]error)}
	for _, s := range scenes {
		code, err := g.Generate(ctx, s)
		if err != nil {
			g.logger.Warn("code generation failed", zap.Int("ordinal", s.Seq), zap.Error(err))
			res.Failed[s.Seq] = err
			continue
		}
		res.Code[s.Seq] = code
	}
	return res
}

// Generate returns the animation program for one scene.
func (g *CodeGenerator) Generate(ctx context.Context, scene Scene) (string, error) {
	prompt, err := g.buildPrompt(ctx, scene)
	if err != nil {
		return "", err
	}

	g.logger.Info("generating scene code", zap.Int("ordinal", scene.Seq), zap.String("model", g.client.Model(llm.TierCode)))
	raw, err := g.client.GenerateContent(ctx, prompt, llm.TierCode)
	if err != nil {
		return "", fmt.Errorf("failed to generate code for scene %d: %w", scene.Seq, err)
	}

	code := llm.StripCodeFence(raw)
	if code == "" {
		return "", fmt.Errorf("empty code for scene %d", scene.Seq)
	}
	if !SceneClassPattern.MatchString(code) {
		return "", fmt.Errorf("code for scene %d declares no Scene class", scene.Seq)
	}
	return code + "\n", nil
}

func (g *CodeGenerator) buildPrompt(ctx context.Context, scene Scene) (string, error) {
	steps, err := json.MarshalIndent(scene.ForManim, "", "  ")
	if err != nil {
		return "", err
	}
	voice, err := json.MarshalIndent(scene.VoiceOver, "", "  ")
	if err != nil {
		return "", err
	}

	length := scene.Length
	if length <= 0 {
		length = 30
	}

	references := ""
	if g.refs != nil {
		snippets, err := g.refs.Snippets(ctx, strings.Join(scene.ForManim, " "))
		if err != nil {
			g.logger.Warn("reference snippets unavailable", zap.Int("ordinal", scene.Seq), zap.Error(err))
		} else if len(snippets) > 0 {
			references = prompts.Format(prompts.MustGet("codegen.json", "reference-block"), map[string]string{
				"Snippets": strings.Join(snippets, "\n---\n"),
			})
		}
	}

	return prompts.Format(prompts.MustGet("codegen.json", "manim-scene"), map[string]string{
		"Seq":        strconv.Itoa(scene.Seq),
		"Steps":      string(steps),
		"VoiceOver":  string(voice),
		"Length":     strconv.FormatFloat(length, 'f', -1, 64),
		"References": references,
	}), nil
}

// MockCodeGenerator writes a title-card scene per scene without calling a
// model. Used by --mock runs to exercise the render and merge stages.
type MockCodeGenerator struct{}

// GenerateAll implements the coordinator's code writer.
func (MockCodeGenerator) GenerateAll(_ context.Context, scenes []Scene) *CodeResult {
	res := &CodeResult{Code: make(map[int]string), Failed: make(map[int]error)}
	for _, s := range scenes {
		res.Code[s.Seq] = MockSceneProgram(s)
	}
	return res
}

// MockSceneProgram renders the scene's visual steps as stacked text lines.
func MockSceneProgram(scene Scene) string {
	var lines []string
	for _, step := range scene.ForManim {
		lines = append(lines, strconv.Quote(step))
	}
	wait := scene.Length
	if wait <= 0 {
		wait = 5
	}
	return fmt.Sprintf(`from manim import *


class Scene%d(Scene):
    def construct(self):
        lines = VGroup(*[Text(t, font_size=28) for t in [%s]]).arrange(DOWN)
        self.play(Write(lines))
        self.wait(%s)
`, scene.Seq, strings.Join(lines, ", "), strconv.FormatFloat(wait, 'f', -1, 64))
}
