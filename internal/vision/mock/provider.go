// Package mock provides scriptable vision providers for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/adapter"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// MockProvider satisfies models.VisionProvider for testing.
type MockProvider struct {
	Name_       string
	Rates       scoring.Pricing
	AnalyseFunc func(ctx context.Context, image []byte, hint string) (models.ProviderResult, error)

	calls atomic.Int64
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Vendor() string { return "mock" }

func (m *MockProvider) Model() string { return m.Name_ }

func (m *MockProvider) Pricing() scoring.Pricing { return m.Rates }

func (m *MockProvider) Analyse(ctx context.Context, image []byte, hint string) (models.ProviderResult, error) {
	m.calls.Add(1)
	if m.AnalyseFunc != nil {
		return m.AnalyseFunc(ctx, image, hint)
	}
	return models.ProviderResult{}, nil
}

// Calls reports how many times Analyse ran.
func (m *MockProvider) Calls() int { return int(m.calls.Load()) }

// Result builds the ProviderResult a provider named name would return.
func Result(name string, id models.Identification, cost float64) models.ProviderResult {
	return models.NewProviderResult(name, name, id, models.CallUsage{
		Latency:      10 * time.Millisecond,
		InputTokens:  adapter.FallbackInputTokens,
		OutputTokens: adapter.FallbackOutputTokens,
		CostUSD:      cost,
	})
}

// NewMockProvider returns a provider that always answers with id.
func NewMockProvider(name string, id models.Identification) *MockProvider {
	return &MockProvider{
		Name_: name,
		AnalyseFunc: func(_ context.Context, _ []byte, _ string) (models.ProviderResult, error) {
			return Result(name, id, 0.001), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(name string, err error) *MockProvider {
	return &MockProvider{
		Name_: name,
		AnalyseFunc: func(_ context.Context, _ []byte, _ string) (models.ProviderResult, error) {
			return models.ProviderResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		AnalyseFunc: func(ctx context.Context, _ []byte, _ string) (models.ProviderResult, error) {
			<-ctx.Done()
			return models.ProviderResult{}, adapter.ErrCallTimeout
		},
	}
}

// NewPanickingProvider returns a MockProvider whose Analyse panics.
func NewPanickingProvider(name string) *MockProvider {
	return &MockProvider{
		Name_: name,
		AnalyseFunc: func(_ context.Context, _ []byte, _ string) (models.ProviderResult, error) {
			panic("adapter bug")
		},
	}
}

// Compile-time check that MockProvider implements VisionProvider.
var _ models.VisionProvider = (*MockProvider)(nil)
