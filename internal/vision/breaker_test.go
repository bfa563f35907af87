package vision_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/config"
	"github.com/kiranshivaraju/snapfind/internal/health"
	"github.com/kiranshivaraju/snapfind/internal/vision"
	"github.com/kiranshivaraju/snapfind/internal/vision/mock"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wiredCore assembles tracker, registry and orchestrator the way the server
// does, over an in-memory health store.
func wiredCore(t *testing.T, providers map[string]*mock.MockProvider, threshold int) (*vision.Orchestrator, *vision.Registry, *health.MemoryStore) {
	t.Helper()
	build := func(_ map[string]string, m vision.ModelSpec) models.VisionProvider {
		p, ok := providers["alpha/"+m.ID]
		require.True(t, ok, m.ID)
		return p
	}
	vendors := []vision.Vendor{{
		Name:        "alpha",
		Credentials: []string{"alpha_key"},
		Models: []vision.ModelSpec{
			{ID: "gone", DefaultOn: true},
			{ID: "flaky", DefaultOn: true},
			{ID: "steady", DefaultOn: true},
		},
		Build: build,
	}}

	store := health.NewMemoryStore()
	tracker := health.NewTracker(store, nil, health.Config{FailureThreshold: threshold, GonePatterns: config.DefaultGonePatterns})
	registry := vision.NewRegistry(credMap{"alpha_key": "k"}, tracker, config.VisionConfig{}, vendors)
	tracker.AddInvalidator(registry)
	return vision.NewOrchestrator(registry, tracker, time.Second), registry, store
}

func TestBreaker_GoneProviderAbsentFromNextDispatch(t *testing.T) {
	id := models.Identification{ProductName: "Hydro Flask 32oz", PrimaryQuery: "hydro flask 32 oz", Confidence: "high"}
	gone := mock.NewFailingProvider("alpha/gone", errors.New("404: model alpha-gone not found"))
	steady := mock.NewMockProvider("alpha/steady", id)
	flaky := mock.NewMockProvider("alpha/flaky", id)
	orch, registry, store := wiredCore(t, map[string]*mock.MockProvider{
		"alpha/gone": gone, "alpha/flaky": flaky, "alpha/steady": steady,
	}, 3)
	ctx := context.Background()

	ordered, err := registry.Ordered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/gone", "alpha/flaky", "alpha/steady"}, names(ordered))

	_, all, err := orch.Analyse(ctx, []byte("img"), "best", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, gone.Calls())

	disabled, err := store.DisabledSet(ctx)
	require.NoError(t, err)
	assert.True(t, disabled["alpha/gone"])

	ordered, err = registry.Ordered(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/flaky", "alpha/steady"}, names(ordered))

	_, all, err = orch.Analyse(ctx, []byte("img"), "best", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, gone.Calls())
	assert.Equal(t, 2, steady.Calls())
}

func TestBreaker_ThresholdOpensOnLastFailure(t *testing.T) {
	id := models.Identification{ProductName: "Kindle", PrimaryQuery: "kindle paperwhite", Confidence: "medium"}
	flaky := mock.NewFailingProvider("alpha/flaky", errors.New("503 service unavailable"))
	steady := mock.NewMockProvider("alpha/steady", id)
	gone := mock.NewMockProvider("alpha/gone", id)
	orch, _, _ := wiredCore(t, map[string]*mock.MockProvider{
		"alpha/gone": gone, "alpha/flaky": flaky, "alpha/steady": steady,
	}, 2)
	ctx := context.Background()

	for range 2 {
		_, _, err := orch.Analyse(ctx, []byte("img"), "best", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, flaky.Calls())

	_, all, err := orch.Analyse(ctx, []byte("img"), "compare", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, flaky.Calls())
}
