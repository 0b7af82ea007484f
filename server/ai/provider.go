// Package ai implements the provider gateway: a uniform completion interface
// over multiple external text-generation backends with health tracking,
// timeouts and fallback ordering.
package ai

import (
	"context"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// CompletionRequest carries one generation request through the gateway.
type CompletionRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// GenerationResult is a successful provider response.
type GenerationResult struct {
	ProviderID string
	Text       string
	// ProviderConfidence is the backend's self-reported certainty in [0,1],
	// or 0 when the backend does not report one.
	ProviderConfidence float64
	Latency            time.Duration
	// Confidence is the gateway's combined score, filled in after the call.
	Confidence float64
}

// Provider is a single text-generation backend.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*GenerationResult, error)
}

// ProviderConfig configures an OpenAI-compatible provider client.
type ProviderConfig struct {
	ID      string
	APIKey  string
	BaseURL string
	Model   string
	// MaxTokens caps the response length when the request does not set one.
	MaxTokens int
}

// OpenAIProvider talks to any OpenAI-compatible backend (openai, deepseek,
// siliconflow). Retry and breaker policy live in the Gateway; a provider
// performs exactly one attempt per call.
type OpenAIProvider struct {
	id     string
	client *openai.Client
	model  string
	tokens int
}

// NewOpenAIProvider creates a provider client from its config.
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.ID == "" {
		return nil, errors.New("provider id is required")
	}
	if cfg.Model == "" {
		return nil, errors.Errorf("provider %s requires a model", cfg.ID)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = 512
	}

	return &OpenAIProvider{
		id:     cfg.ID,
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		tokens: tokens,
	}, nil
}

// ID returns the provider identifier.
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Complete performs a single chat completion attempt.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*GenerationResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.tokens
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty chat response")
	}

	return &GenerationResult{
		ProviderID: p.id,
		Text:       resp.Choices[0].Message.Content,
		Latency:    time.Since(start),
	}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
