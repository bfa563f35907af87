// Package gemini implements a vision provider on the Google Gemini REST API.
package gemini

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
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxTokens      = 512

	completeMaxTokens = 200
)

// Product photos trip the default filters surprisingly often.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

type Provider struct {
	adapter.Identity
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewProvider creates a provider for one Gemini model. baseURL may be empty.
func NewProvider(apiKey, model string, rates scoring.Pricing, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		Identity: adapter.Identity{VendorName: "google", ModelID: model, Rates: rates},
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SafetySettings    []safetySetting  `json:"safetySettings"`
}

func (p *Provider) Analyse(ctx context.Context, image []byte, hint string) (models.ProviderResult, error) {
	req := generateRequest{
		SystemInstruction: content{Parts: []part{{Text: adapter.SystemPrompt}}},
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: adapter.DetectMediaType(image), Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: adapter.UserPrompt(hint)},
			},
		}},
		GenerationConfig: generationConfig{MaxOutputTokens: maxTokens, ResponseMimeType: "application/json"},
	}
	for _, c := range safetyCategories {
		req.SafetySettings = append(req.SafetySettings, safetySetting{Category: c, Threshold: "BLOCK_NONE"})
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.ModelID)
	start := time.Now()
	raw, err := adapter.PostJSON(ctx, p.client, url, map[string]string{"x-goog-api-key": p.apiKey}, req)
	if err != nil {
		return models.ProviderResult{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	latency := time.Since(start)

	if reason := gjson.GetBytes(raw, "promptFeedback.blockReason").String(); reason != "" {
		return models.ProviderResult{}, fmt.Errorf("%s: %w: blocked (%s)", p.Name(), adapter.ErrInvalidResponse, reason)
	}

	var text strings.Builder
	for _, t := range gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array() {
		text.WriteString(t.String())
	}
	if text.Len() == 0 {
		return models.ProviderResult{}, fmt.Errorf("%s: %w: no candidate text", p.Name(), adapter.ErrInvalidResponse)
	}

	res, err := p.Result(text.String(),
		int(gjson.GetBytes(raw, "usageMetadata.promptTokenCount").Int()),
		int(gjson.GetBytes(raw, "usageMetadata.candidatesTokenCount").Int()),
		latency)
	if err != nil {
		return models.ProviderResult{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return res, nil
}

type textRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// Complete sends a text-only prompt and returns the reply.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	req := textRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{MaxOutputTokens: completeMaxTokens, ResponseMimeType: "text/plain"},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.ModelID)
	raw, err := adapter.PostJSON(ctx, p.client, url, map[string]string{"x-goog-api-key": p.apiKey}, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Name(), err)
	}

	var text strings.Builder
	for _, t := range gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array() {
		text.WriteString(t.String())
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("%s: %w: no candidate text", p.Name(), adapter.ErrInvalidResponse)
	}
	return strings.TrimSpace(text.String()), nil
}

var _ models.VisionProvider = (*Provider)(nil)
