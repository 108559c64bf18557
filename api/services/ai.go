package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// AIProvider is the interface for chat-completion providers.
type AIProvider interface {
	// Complete issues exactly one request for env and returns the reply text.
	Complete(ctx context.Context, env ModelEnvelope) (string, error)
	GetProviderName() string
}

// OpenAIProvider talks to an OpenAI-compatible chat-completion endpoint.
type OpenAIProvider struct {
	APIKey string
	client *openai.Client
}

// NewOpenAIProvider creates a provider. An empty baseURL uses the OpenAI API.
// httpClient may be nil.
func NewOpenAIProvider(apiKey, baseURL string, httpClient *http.Client) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	return &OpenAIProvider{
		APIKey: apiKey,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (o *OpenAIProvider) GetProviderName() string {
	return "openai"
}

// Complete never retries: replies are non-deterministic and a retry only adds cost.
func (o *OpenAIProvider) Complete(ctx context.Context, env ModelEnvelope) (string, error) {
	if o.APIKey == "" {
		return "", NewError(KindAuthMisconfigured, "AI is not configured (set OPENAI_API_KEY)")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(env.Messages))
	for _, m := range env.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       env.Model,
		Messages:    messages,
		MaxTokens:   env.MaxTokens,
		Temperature: env.Temperature,
	})
	if err != nil {
		return "", classifyProviderError(err)
	}

	if len(resp.Choices) == 0 {
		return "", NewError(KindUpstreamProtocol, "AI response contained no choices")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", NewError(KindUpstreamProtocol, "AI response contained no message content")
	}

	return content, nil
}

// classifyProviderError maps a go-openai error onto the local taxonomy.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Type, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "", strings.TrimSpace(reqErr.Error()), err)
	}

	if isTransportError(err) {
		return Wrap(KindUpstreamUnavailable, "AI service is unavailable", err)
	}

	return Wrap(KindUpstreamError, "AI service error: "+err.Error(), err)
}

func classifyStatus(status int, errType, message string, err error) error {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		errType == "authentication_error" || errType == "invalid_api_key":
		return Wrap(KindAuthMisconfigured, "AI credential was rejected", err)
	case status == http.StatusTooManyRequests:
		return Wrap(KindRateLimited, "AI service rate limit reached, try again later", err)
	default:
		return Wrap(KindUpstreamError, "AI service error: "+message, err)
	}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
