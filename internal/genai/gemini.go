package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gemini "github.com/google/generative-ai-go/genai"
	gopt "google.golang.org/api/option"
)

// contentGenerator is the part of *gemini.GenerativeModel the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...gemini.Part) (*gemini.GenerateContentResponse, error)
}

// GeminiClient generates replies with Google Gemini.
type GeminiClient struct {
	client *gemini.Client
	model  string
	// newModel returns a model configured with the given system instruction.
	newModel func(systemPrompt string) contentGenerator
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini client. The key comes from WithAPIKey or
// the GEMINI_API_KEY environment variable.
func NewGeminiClient(opts ...Option) (*GeminiClient, error) {
	cfg := newOpts(opts...)
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := gemini.NewClient(context.Background(), gopt.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	temperature := float32(cfg.Temperature)
	maxTokens := int32(cfg.MaxTokens)
	g := &GeminiClient{client: client, model: model}
	g.newModel = func(systemPrompt string) contentGenerator {
		m := client.GenerativeModel(model)
		m.SetTemperature(temperature)
		if maxTokens > 0 {
			m.SetMaxOutputTokens(maxTokens)
		}
		if systemPrompt != "" {
			m.SystemInstruction = &gemini.Content{Parts: []gemini.Part{gemini.Text(systemPrompt)}}
		}
		return m
	}
	slog.Debug("genai.NewGeminiClient: Gemini client created", "model", model)
	return g, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (g *GeminiClient) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := g.newModel(systemPrompt).GenerateContent(ctx, gemini.Text(userPrompt))
	if err != nil {
		slog.Error("GeminiClient.GeneratePrompt: request failed", "model", g.model, "error", err)
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	text := extractText(resp)
	if text == "" {
		return "", ErrNoChoicesReturned
	}
	return text, nil
}

// Close releases the underlying client.
func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func extractText(resp *gemini.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(gemini.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
