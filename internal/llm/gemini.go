package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ContentGenerator is satisfied by genai's Models service.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiProvider struct {
	apiKey  string
	model   string
	timeout time.Duration

	once    sync.Once
	models  ContentGenerator
	initErr error
}

func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiProvider{apiKey: cfg.APIKey, model: cfg.Model, timeout: timeout}
}

func (p *GeminiProvider) generator(ctx context.Context) (ContentGenerator, error) {
	p.once.Do(func() {
		if p.models != nil {
			return
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     p.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: p.timeout},
		})
		if err != nil {
			p.initErr = fmt.Errorf("failed to create GenAI client: %w", err)
			return
		}
		p.models = client.Models
	})
	return p.models, p.initErr
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" && p.models == nil {
		return Response{}, &provider.ProviderError{Provider: "gemini", Kind: provider.ErrAuth, Err: errMissingAPIKey}
	}
	if p.model == "" {
		return Response{}, errMissingModel
	}
	models, err := p.generator(ctx)
	if err != nil {
		return Response{}, err
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req)),
	}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := models.GenerateContent(ctx, p.model, genai.Text(req.User), config)
	if err != nil {
		return Response{}, provider.Classify("gemini", err)
	}
	if resp == nil {
		return Response{}, errEmptyResponse
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Response{}, errEmptyResponse
	}
	out := Response{Text: text}
	if resp.UsageMetadata != nil {
		out.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}
