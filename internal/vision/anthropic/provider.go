// Package anthropic implements a vision provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/adapter"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

const (
	maxTokens         = 512
	completeMaxTokens = 200
)

// Provider implements models.VisionProvider using anthropic-sdk-go.
type Provider struct {
	adapter.Identity
	client sdk.Client
}

// NewProvider creates a provider for one Claude model. Extra request
// options (e.g. option.WithBaseURL in tests) are appended after the key.
func NewProvider(apiKey, model string, rates scoring.Pricing, opts ...option.RequestOption) *Provider {
	// The orchestrator owns timeouts and failure counting; SDK retries would hide both.
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	return &Provider{
		Identity: adapter.Identity{VendorName: "anthropic", ModelID: model, Rates: rates},
		client:   sdk.NewClient(append(base, opts...)...),
	}
}

func (p *Provider) Analyse(ctx context.Context, image []byte, hint string) (models.ProviderResult, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.ModelID),
		MaxTokens:   maxTokens,
		Temperature: sdk.Float(0),
		System:      []sdk.TextBlockParam{{Text: adapter.SystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(adapter.DetectMediaType(image), base64.StdEncoding.EncodeToString(image)),
				sdk.NewTextBlock(adapter.UserPrompt(hint)),
			),
		},
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return models.ProviderResult{}, fmt.Errorf("%s: %w", p.Name(), classify(err))
	}
	latency := time.Since(start)

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return models.ProviderResult{}, fmt.Errorf("%s: %w: no text content", p.Name(), adapter.ErrInvalidResponse)
	}

	res, err := p.Result(text.String(), int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), latency)
	if err != nil {
		return models.ProviderResult{}, fmt.Errorf("%s: %w", p.Name(), err)
	}
	return res, nil
}

// Complete sends a text-only prompt and returns the reply.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.ModelID),
		MaxTokens: completeMaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.Name(), classify(err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("%s: %w: no text content", p.Name(), adapter.ErrInvalidResponse)
	}
	return strings.TrimSpace(text.String()), nil
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &adapter.StatusError{Code: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return adapter.ClassifyError(err)
}

var _ models.VisionProvider = (*Provider)(nil)
