package vision

import (
	"strings"

	"github.com/kiranshivaraju/snapfind/internal/config"
	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/anthropic"
	"github.com/kiranshivaraju/snapfind/internal/vision/gemini"
	"github.com/kiranshivaraju/snapfind/internal/vision/openai"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// ModelSpec is one model a vendor can serve.
type ModelSpec struct {
	ID      string
	Pricing scoring.Pricing
	// DefaultOn models load unless ENABLE_<ID>=false; others need ENABLE_<ID>=true.
	DefaultOn bool
}

// Factory builds a provider from the vendor's resolved credentials.
type Factory func(creds map[string]string, m ModelSpec) models.VisionProvider

// Vendor is one catalogue entry: required credentials, models and a factory.
type Vendor struct {
	Name        string
	Credentials []string
	Models      []ModelSpec
	Build       Factory
}

// imageTokens is the typical high-detail image cost expressed in input tokens.
const (
	openAIImageTokens    = 765
	anthropicImageTokens = 1600
)

func tokenPriced(perKIn, perKOut float64, imageTokens int) scoring.Pricing {
	return scoring.Pricing{
		PerImage:   float64(imageTokens) / 1000 * perKIn,
		PerKInput:  perKIn,
		PerKOutput: perKOut,
	}
}

// OpenRouter does not publish a rate card per request; these are its list defaults.
var openRouterPricing = scoring.Pricing{PerKInput: 0.005, PerKOutput: 0.015}

// Catalogue returns every vendor the server knows, in dispatch order with
// cheaper models first inside each vendor. OpenRouter models and Azure
// deployments come from configuration.
func Catalogue(cfg config.VisionConfig) []Vendor {
	vendors := []Vendor{
		{
			Name:        "openai",
			Credentials: []string{credentials.OpenAIKey},
			Models: []ModelSpec{
				{ID: "gpt-4o-mini", Pricing: tokenPriced(0.00015, 0.0006, openAIImageTokens), DefaultOn: true},
				{ID: "gpt-4o", Pricing: tokenPriced(0.005, 0.015, openAIImageTokens), DefaultOn: true},
			},
			Build: func(c map[string]string, m ModelSpec) models.VisionProvider {
				return openai.NewOpenAI(c[credentials.OpenAIKey], m.ID, m.Pricing)
			},
		},
		{
			Name:        "anthropic",
			Credentials: []string{credentials.AnthropicKey},
			Models: []ModelSpec{
				{ID: "claude-3-haiku-20240307", Pricing: tokenPriced(0.00025, 0.00125, anthropicImageTokens), DefaultOn: true},
				{ID: "claude-3-5-sonnet-20241022", Pricing: tokenPriced(0.003, 0.015, anthropicImageTokens), DefaultOn: true},
			},
			Build: func(c map[string]string, m ModelSpec) models.VisionProvider {
				return anthropic.NewProvider(c[credentials.AnthropicKey], m.ID, m.Pricing)
			},
		},
		{
			Name:        "google",
			Credentials: []string{credentials.GoogleKey},
			Models: []ModelSpec{
				{ID: "gemini-1.5-flash", Pricing: scoring.Pricing{PerImage: 0.00002, PerKInput: 0.000075, PerKOutput: 0.0003}, DefaultOn: true},
				{ID: "gemini-2.0-flash", Pricing: scoring.Pricing{PerImage: 0.00004, PerKInput: 0.0001, PerKOutput: 0.0004}, DefaultOn: true},
				{ID: "gemini-1.5-pro", Pricing: scoring.Pricing{PerImage: 0.001315, PerKInput: 0.0035, PerKOutput: 0.0105}, DefaultOn: true},
			},
			Build: func(c map[string]string, m ModelSpec) models.VisionProvider {
				return gemini.NewProvider(c[credentials.GoogleKey], m.ID, m.Pricing, "")
			},
		},
		{
			Name:        "groq",
			Credentials: []string{credentials.GroqKey},
			Models: []ModelSpec{
				{ID: "meta-llama/llama-4-scout-17b-16e-instruct", Pricing: scoring.Pricing{PerImage: 0.00006, PerKInput: 0.00011, PerKOutput: 0.00034}},
				{ID: "meta-llama/llama-3.2-11b-vision-preview", Pricing: scoring.Pricing{PerImage: 0.00009, PerKInput: 0.00018, PerKOutput: 0.00018}},
				{ID: "meta-llama/llama-3.2-90b-vision-preview", Pricing: scoring.Pricing{PerImage: 0.0004, PerKInput: 0.00079, PerKOutput: 0.00079}},
			},
			Build: func(c map[string]string, m ModelSpec) models.VisionProvider {
				return openai.NewGroq(c[credentials.GroqKey], m.ID, m.Pricing)
			},
		},
	}

	if len(cfg.OpenRouterModels) > 0 {
		v := Vendor{
			Name:        "openrouter",
			Credentials: []string{credentials.OpenRouterKey},
			Build: func(c map[string]string, m ModelSpec) models.VisionProvider {
				return openai.NewOpenRouter(c[credentials.OpenRouterKey], m.ID, m.Pricing)
			},
		}
		for _, id := range cfg.OpenRouterModels {
			v.Models = append(v.Models, ModelSpec{ID: id, Pricing: openRouterPricing, DefaultOn: true})
		}
		vendors = append(vendors, v)
	}

	if len(cfg.AzureDeployments) > 0 {
		apiVersion := cfg.AzureAPIVersion
		v := Vendor{
			Name:        "azure",
			Credentials: []string{credentials.AzureOpenAIKey, credentials.AzureOpenAIEndpoint},
			Build: func(c map[string]string, m ModelSpec) models.VisionProvider {
				return openai.NewAzure(c[credentials.AzureOpenAIKey], c[credentials.AzureOpenAIEndpoint], m.ID, apiVersion, m.Pricing)
			},
		}
		for _, d := range cfg.AzureDeployments {
			v.Models = append(v.Models, ModelSpec{ID: d, Pricing: azurePricing(d), DefaultOn: true})
		}
		vendors = append(vendors, v)
	}

	return vendors
}

// azurePricing infers the rate card from the deployment name.
func azurePricing(deployment string) scoring.Pricing {
	if strings.Contains(strings.ToLower(deployment), "mini") {
		return tokenPriced(0.00015, 0.0006, openAIImageTokens)
	}
	return tokenPriced(0.005, 0.015, openAIImageTokens)
}
