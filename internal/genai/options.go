package genai

import (
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Opts holds configuration shared by both generators.
type Opts struct {
	Provider    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option configures a generator.
type Option func(*Opts)

// WithProvider selects the backend used by New.
func WithProvider(provider string) Option {
	return func(o *Opts) { o.Provider = strings.ToLower(strings.TrimSpace(provider)) }
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens bounds reply length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebug writes every OpenAI request and response under stateDir/debug.
func WithDebug(stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = true
		o.StateDir = stateDir
	}
}

func newOpts(opts ...Option) Opts {
	cfg := Opts{
		Provider:    ProviderOpenAI,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// New builds the generator for the configured provider.
func New(opts ...Option) (Generator, error) {
	cfg := newOpts(opts...)
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewClient(opts...)
	case ProviderGemini:
		return NewGeminiClient(opts...)
	default:
		return nil, fmt.Errorf("unknown genai provider %q", cfg.Provider)
	}
}
