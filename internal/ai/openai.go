package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultOpenAIBase = "https://api.openai.com"

// OpenAIClient talks to the OpenAI API or to an Azure OpenAI deployment
// when APIType is "azure".
type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.APIBase == "" {
		config.APIBase = defaultOpenAIBase
	}
	config.APIBase = strings.TrimRight(config.APIBase, "/")
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		default:
			// text-embedding-3-small and text-embedding-ada-002
			config.Dim = 1536
		}
	}

	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("REPOCHAT_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OpenAIClient{
		config: config,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
	}
}

func (c *OpenAIClient) azure() bool {
	return strings.EqualFold(c.config.APIType, "azure")
}

// endpoint builds the URL for an operation ("chat/completions", "embeddings")
// against the given model or Azure deployment.
func (c *OpenAIClient) endpoint(op, model string) string {
	if c.azure() {
		u := c.config.APIBase + "/openai/deployments/" + url.PathEscape(model) + "/" + op
		if c.config.APIVersion != "" {
			u += "?api-version=" + url.QueryEscape(c.config.APIVersion)
		}
		return u
	}
	return c.config.APIBase + "/v1/" + op
}

// Embed implements the embedding functionality
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY unset")
	}

	payload := map[string]string{"input": text}
	if !c.azure() {
		payload["model"] = c.config.EmbedModel
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, c.endpoint("embeddings", c.config.EmbedModel), payload, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, errors.New("no embedding")
	}
	return out.Data[0].Embedding, nil
}

// Answer sends the question with its repository context as a chat completion.
func (c *OpenAIClient) Answer(ctx context.Context, q Question) (string, error) {
	if c.config.APIKey == "" {
		return "", errors.New("OPENAI_API_KEY unset")
	}

	payload := map[string]any{
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt(q)},
		},
		"temperature": 0.2,
	}
	if !c.azure() {
		payload["model"] = c.config.ChatModel
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, c.endpoint("chat/completions", c.config.ChatModel), payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

func (c *OpenAIClient) post(ctx context.Context, endpoint string, payload any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return errors.New(e.Error.Message)
		}
		return errors.New(resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.azure() {
		req.Header.Set("api-key", c.config.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}
