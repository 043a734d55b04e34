package genai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gemini "github.com/google/generative-ai-go/genai"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("Hello World")}
	client := &Client{chat: mock, model: "test-model", temperature: 0.2}
	out, err := client.GeneratePrompt(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("model = %q, want test-model", mock.params.Model)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: &openai.ChatCompletion{}}}
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-test"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-test" || cli.temperature != DefaultTemperature {
		t.Errorf("unexpected client config: model=%s temperature=%v", cli.model, cli.temperature)
	}
}

// Test the debug logging functionality
func TestDebugLogging(t *testing.T) {
	tempDir := t.TempDir()
	client := &Client{
		chat:      &mockChatService{resp: completion("Test response")},
		model:     "test-model",
		debugMode: true,
		stateDir:  tempDir,
	}
	if _, err := client.GeneratePrompt(context.Background(), "System prompt", "User prompt"); err != nil {
		t.Fatalf("GeneratePrompt failed: %v", err)
	}

	debugDir := filepath.Join(tempDir, "debug")
	files, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("Failed to read debug directory: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one debug file, got %d", len(files))
	}
	content, err := os.ReadFile(filepath.Join(debugDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Failed to unmarshal debug log: %v", err)
	}
	for _, field := range []string{"timestamp", "method", "model", "params", "response"} {
		if _, exists := logEntry[field]; !exists {
			t.Errorf("Required field '%s' missing from debug log", field)
		}
	}
	if logEntry["method"] != "GeneratePrompt" {
		t.Errorf("Expected method 'GeneratePrompt', got %v", logEntry["method"])
	}
}

// Test that debug logging is disabled when debug mode is false
func TestDebugLoggingDisabled(t *testing.T) {
	tempDir := t.TempDir()
	client := &Client{chat: &mockChatService{resp: completion("ok")}, model: "test-model", stateDir: tempDir}
	if _, err := client.GeneratePrompt(context.Background(), "s", "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "debug")); !os.IsNotExist(err) {
		t.Errorf("Debug directory should not be created when debug mode is disabled")
	}
}

// fakeGemini records the parts it was asked to generate from.
type fakeGemini struct {
	resp *gemini.GenerateContentResponse
	err  error
	got  []gemini.Part
}

func (f *fakeGemini) GenerateContent(ctx context.Context, parts ...gemini.Part) (*gemini.GenerateContentResponse, error) {
	f.got = parts
	return f.resp, f.err
}

func TestGeminiGeneratePrompt(t *testing.T) {
	fake := &fakeGemini{resp: &gemini.GenerateContentResponse{
		Candidates: []*gemini.Candidate{
			{Content: &gemini.Content{Parts: []gemini.Part{gemini.Text("Start "), gemini.Text("now.")}}},
		},
	}}
	var system string
	g := &GeminiClient{model: "gemini-test", newModel: func(s string) contentGenerator {
		system = s
		return fake
	}}
	out, err := g.GeneratePrompt(context.Background(), "be brief", "I am stuck")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Start now." {
		t.Errorf("output = %q", out)
	}
	if system != "be brief" {
		t.Errorf("system instruction = %q", system)
	}
	if len(fake.got) != 1 || fake.got[0] != gemini.Text("I am stuck") {
		t.Errorf("parts = %v", fake.got)
	}
}

func TestGeminiEmptyAndError(t *testing.T) {
	empty := &GeminiClient{newModel: func(string) contentGenerator {
		return &fakeGemini{resp: &gemini.GenerateContentResponse{}}
	}}
	if _, err := empty.GeneratePrompt(context.Background(), "", "x"); !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
	failing := &GeminiClient{newModel: func(string) contentGenerator {
		return &fakeGemini{err: errors.New("quota")}
	}}
	if _, err := failing.GeneratePrompt(context.Background(), "", "x"); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("expected quota error, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(WithProvider("OpenAI"), WithAPIKey("k"))
	if err != nil {
		t.Fatalf("New(openai) failed: %v", err)
	}
	if _, ok := gen.(*Client); !ok {
		t.Errorf("New(openai) = %T, want *Client", gen)
	}
	if _, err := New(WithProvider("cohere"), WithAPIKey("k")); err == nil {
		t.Error("expected error for unknown provider")
	}
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := New(WithProvider(ProviderGemini)); err == nil {
		t.Error("expected error when Gemini key is missing")
	}
}
