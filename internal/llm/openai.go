package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

type OpenAIConfig struct {
	// Name labels errors; it distinguishes openai from openrouter and other
	// compatible endpoints.
	Name    string
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// ChatClient is the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIProvider struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	chat    ChatClient
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIProvider{
		name:    defaultIfEmpty(cfg.Name, "openai"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		chat:    openai.NewClientWithConfig(clientConfig),
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, &provider.ProviderError{Provider: p.name, Kind: provider.ErrAuth, Err: errMissingAPIKey}
	}
	if p.model == "" {
		return Response{}, errMissingModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	request := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens(req),
		Temperature: float32(req.Temperature),
	}
	if req.JSON {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return Response{}, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("LLM response had no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Response{}, errEmptyResponse
	}
	return Response{Text: content, TotalTokens: resp.Usage.TotalTokens}, nil
}

func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return provider.FromStatus(p.name, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return provider.FromStatus(p.name, reqErr.HTTPStatusCode, err)
	}
	return provider.Classify(p.name, err)
}
