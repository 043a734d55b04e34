// Package genai provides the text generators used by the coach: OpenAI chat
// completions and Google Gemini, behind one Generator interface.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/NudgePipe/internal/util"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation settings.
const (
	DefaultOpenAIModel = openai.ChatModelGPT4oMini
	DefaultGeminiModel = "gemini-1.5-flash"
	// DefaultTemperature keeps coaching replies consistent.
	DefaultTemperature = 0.2
	// DefaultMaxTokens bounds the length of a coaching reply.
	DefaultMaxTokens = 300
)

// ErrNoChoicesReturned is returned when the provider answers without any content.
var ErrNoChoicesReturned = errors.New("no choices returned")

// Generator turns a system prompt and a user prompt into a reply.
type Generator interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI ChatCompletion service for generating prompts.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

var _ Generator = (*Client)(nil)

// NewClient initializes a new OpenAI client. The key comes from WithAPIKey or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := newOpts(opts...)
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	model := cfg.Model
	if model == "" {
		model = string(DefaultOpenAIModel)
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("genai.NewClient: OpenAI client created", "model", model, "debug", cfg.DebugMode)
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("Client.GeneratePrompt: OpenAI request failed", "model", c.model, "error", err)
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	c.writeDebugLog("GeneratePrompt", params, resp)
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// writeDebugLog dumps one request/response pair under <stateDir>/debug when
// debug mode is on. Failures are only logged.
func (c *Client) writeDebugLog(method string, params, response interface{}) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebugLog: create dir failed", "error", err)
		return
	}
	now := time.Now().UTC()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  response,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405"), util.GenerateRandomHex(8))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Client.writeDebugLog: write failed", "error", err)
	}
}
