package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
	"google.golang.org/api/option"
)

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent returns the model's text reply to prompt.
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateJSON is GenerateContent with the reply reduced to its JSON value.
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// Model reports the model name a tier resolves to.
	Model(tier ModelTier) string
	Close() error
}

var _ Client = (*ProviderClient)(nil)

// backend is one provider's completion call.
type backend interface {
	complete(ctx context.Context, model, prompt string, temperature float32, wantJSON bool) (string, error)
	close() error
}

// ProviderClient implements Client on top of a provider backend.
type ProviderClient struct {
	config  *Config
	backend backend
}

// NewClient creates a client for config.Provider. A nil config selects
// DefaultConfig.
func NewClient(ctx context.Context, config *Config, apiKey string) (*ProviderClient, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for provider %s", config.Provider)
	}

	var (
		b   backend
		err error
	)
	switch config.Provider {
	case ProviderGemini:
		b, err = newGeminiBackend(ctx, apiKey)
	case ProviderOpenAI:
		b = newOpenAIBackend(apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &ProviderClient{config: config, backend: b}, nil
}

// Provider reports which provider backs the client.
func (c *ProviderClient) Provider() Provider {
	return c.config.Provider
}

func (c *ProviderClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, prompt, tier, false)
}

func (c *ProviderClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.generate(ctx, prompt, tier, true)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *ProviderClient) Model(tier ModelTier) string {
	return c.config.Model(tier)
}

func (c *ProviderClient) Close() error {
	return c.backend.close()
}

func (c *ProviderClient) generate(ctx context.Context, prompt string, tier ModelTier, wantJSON bool) (string, error) {
	model := c.config.Model(tier)
	if model == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}
	text, err := c.backend.complete(ctx, model, prompt, c.config.Temperature, wantJSON)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", c.config.Provider, model, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s %s: empty reply", c.config.Provider, model)
	}
	return text, nil
}

type geminiBackend struct {
	client *genai.Client
}

func newGeminiBackend(ctx context.Context, apiKey string) (*geminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiBackend{client: client}, nil
}

func (g *geminiBackend) complete(ctx context.Context, model, prompt string, temperature float32, wantJSON bool) (string, error) {
	m := g.client.GenerativeModel(model)
	m.SetTemperature(temperature)
	if wantJSON {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return geminiText(resp)
}

func (g *geminiBackend) close() error {
	return g.client.Close()
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return "", fmt.Errorf("no content in response")
	}

	var sb strings.Builder
	for _, part := range content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return sb.String(), nil
}

type openAIBackend struct {
	client openai.Client
}

func newOpenAIBackend(apiKey string) *openAIBackend {
	return &openAIBackend{client: openai.NewClient(openaioption.WithAPIKey(apiKey))}
}

// complete ignores wantJSON: script replies are top-level arrays, which the
// json_object response format rejects. CleanJSONBlock handles the reply.
func (o *openAIBackend) complete(ctx context.Context, model, prompt string, temperature float32, _ bool) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(float64(temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return completion.Choices[0].Message.Content, nil
}

func (o *openAIBackend) close() error {
	return nil
}
