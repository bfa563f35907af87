// Package openai implements vision providers for OpenAI-compatible chat
// completion APIs: OpenAI itself, Groq, OpenRouter and Azure OpenAI.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/adapter"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/tidwall/gjson"
)

const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	maxTokens         = 512
	completeMaxTokens = 200
)

// Options configures one provider instance (one model or deployment).
type Options struct {
	adapter.Identity
	// URL is the full chat completions endpoint.
	URL     string
	Headers map[string]string
	// SendModel is false for Azure, where the deployment in the URL picks the model.
	SendModel bool
	Client    *http.Client
}

// Provider implements models.VisionProvider over an OpenAI-compatible API.
type Provider struct {
	adapter.Identity
	url       string
	headers   map[string]string
	sendModel bool
	client    *http.Client
}

func New(opts Options) *Provider {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{
		Identity:  opts.Identity,
		url:       opts.URL,
		headers:   opts.Headers,
		sendModel: opts.SendModel,
		client:    client,
	}
}

// NewOpenAI returns a provider for api.openai.com.
func NewOpenAI(apiKey, model string, rates scoring.Pricing) *Provider {
	return New(Options{
		Identity:  adapter.Identity{VendorName: "openai", ModelID: model, Rates: rates},
		URL:       OpenAIBaseURL + "/chat/completions",
		Headers:   map[string]string{"Authorization": "Bearer " + apiKey},
		SendModel: true,
	})
}

// NewGroq returns a provider for Groq's OpenAI-compatible endpoint.
func NewGroq(apiKey, model string, rates scoring.Pricing) *Provider {
	return New(Options{
		Identity:  adapter.Identity{VendorName: "groq", ModelID: model, Rates: rates},
		URL:       GroqBaseURL + "/chat/completions",
		Headers:   map[string]string{"Authorization": "Bearer " + apiKey},
		SendModel: true,
	})
}

// NewOpenRouter returns a provider for an OpenRouter-hosted model such as
// "openai/gpt-4o". Its name uses the last path segment: "openrouter/gpt-4o".
func NewOpenRouter(apiKey, model string, rates scoring.Pricing) *Provider {
	display := model
	if i := strings.LastIndex(model, "/"); i >= 0 {
		display = model[i+1:]
	}
	return New(Options{
		Identity: adapter.Identity{VendorName: "openrouter", ModelID: model, Display: display, Rates: rates},
		URL:      OpenRouterBaseURL + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + apiKey,
			"HTTP-Referer":  "https://snapfind.app",
			"X-Title":       "SnapFind",
		},
		SendModel: true,
	})
}

// NewAzure returns a provider for one Azure OpenAI deployment.
func NewAzure(apiKey, endpoint, deployment, apiVersion string, rates scoring.Pricing) *Provider {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(endpoint, "/"), deployment, apiVersion)
	return New(Options{
		Identity: adapter.Identity{VendorName: "azure", ModelID: deployment, Rates: rates},
		URL:      url,
		Headers:  map[string]string{"api-key": apiKey},
	})
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

func (p *Provider) Analyse(ctx context.Context, image []byte, hint string) (models.ProviderResult, error) {
	req := chatRequest{
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "system", Content: adapter.SystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{
					URL:    "data:" + adapter.DetectMediaType(image) + ";base64," + base64.StdEncoding.EncodeToString(image),
					Detail: "high",
				}},
				{Type: "text", Text: adapter.UserPrompt(hint)},
			}},
		},
	}
	if p.sendModel {
		req.Model = p.ModelID
	}

	start := time.Now()
	raw, err := adapter.PostJSON(ctx, p.client, p.url, p.headers, req)
	if err != nil {
		return models.ProviderResult{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	latency := time.Since(start)

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if content.String() == "" {
		return models.ProviderResult{}, fmt.Errorf("%s: %w: empty completion", p.Name(), adapter.ErrInvalidResponse)
	}

	res, err := p.Result(content.String(),
		int(gjson.GetBytes(raw, "usage.prompt_tokens").Int()),
		int(gjson.GetBytes(raw, "usage.completion_tokens").Int()),
		latency)
	if err != nil {
		return models.ProviderResult{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return res, nil
}

// Complete sends a text-only prompt and returns the reply. It serves the
// query refiner, which needs no image and no JSON contract.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		MaxTokens: completeMaxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	if p.sendModel {
		req.Model = p.ModelID
	}

	raw, err := adapter.PostJSON(ctx, p.client, p.url, p.headers, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Name(), err)
	}
	text := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if text == "" {
		return "", fmt.Errorf("%s: %w: empty completion", p.Name(), adapter.ErrInvalidResponse)
	}
	return text, nil
}

var _ models.VisionProvider = (*Provider)(nil)
