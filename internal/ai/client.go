package ai

import (
	"context"
	"errors"
	"strings"
)

// Client answers questions about a repository and embeds text for storage.
type Client interface {
	Answer(ctx context.Context, q Question) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Question is one chat turn plus the repository text the model may consult.
type Question struct {
	Repository string
	Message    string
	Context    string
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// StubAnswer is returned by the stub provider for every question.
const StubAnswer = "API integration pending"

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider Provider

	APIBase    string
	APIKey     string
	APIType    string
	APIVersion string
	ChatModel  string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string
}

// ParseProvider maps a configured provider name onto a Provider.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "azure":
		return ProviderOpenAI, nil
	case "vertexai", "google":
		return ProviderVertexAI, nil
	case "stub", "":
		return ProviderStub, nil
	default:
		return "", errors.New("unsupported provider: " + name)
	}
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient answers every question with StubAnswer and embeds to zero vectors.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

func (s *StubClient) Answer(ctx context.Context, q Question) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return StubAnswer, nil
}

func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

const systemPrompt = "You answer questions about a source code repository. " +
	"Use the repository files provided below when they are relevant and say so when they do not contain the answer. " +
	"Be concise and quote file paths when you refer to code."

// userPrompt renders the question and repository context sent to chat models.
func userPrompt(q Question) string {
	var b strings.Builder
	b.WriteString("Repository: ")
	b.WriteString(q.Repository)
	b.WriteString("\n")
	if strings.TrimSpace(q.Context) != "" {
		b.WriteString("---\n")
		b.WriteString(q.Context)
		b.WriteString("\n---\n")
	}
	b.WriteString("Question: ")
	b.WriteString(q.Message)
	return b.String()
}
