package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// MessagesClient is satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

type AnthropicProvider struct {
	apiKey string
	model  string
	msg    MessagesClient
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		// Retries are owned by WithRetry.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	client := sdk.NewClient(opts...)
	return &AnthropicProvider{apiKey: cfg.APIKey, model: cfg.Model, msg: &client.Messages}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, &provider.ProviderError{Provider: "anthropic", Kind: provider.ErrAuth, Err: errMissingAPIKey}
	}
	if p.model == "" {
		return Response{}, errMissingModel
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens(req)),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.User))},
		Model:     sdk.Model(p.model),
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
			return Response{}, provider.FromStatus("anthropic", apiErr.StatusCode, err)
		}
		return Response{}, provider.Classify("anthropic", err)
	}
	if msg == nil {
		return Response{}, errEmptyResponse
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return Response{}, errEmptyResponse
	}
	return Response{Text: text, TotalTokens: int(msg.Usage.InputTokens + msg.Usage.OutputTokens)}, nil
}
