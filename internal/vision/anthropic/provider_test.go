package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/adapter"
	"github.com/kiranshivaraju/snapfind/internal/vision/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-3-haiku-20240307",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 1600, "output_tokens": 120},
	}
}

func TestAnalyse_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-haiku-20240307", body["model"])
		content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
		src := content[0].(map[string]any)["source"].(map[string]any)
		assert.Equal(t, "image/jpeg", src["media_type"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse( //nolint:errcheck
			"```json\n" + `{"product_name":"LEGO Millennium Falcon 75257","brand":"LEGO","category":"Toys","key_features":["1351 pieces"],"amazon_search_query":"LEGO 75257 Millennium Falcon","confidence":"high"}` + "\n```"))
	}))
	defer ts.Close()

	rates := scoring.Pricing{PerImage: 0.0004, PerKInput: 0.00025, PerKOutput: 0.00125}
	p := anthropic.NewProvider("test-key", "claude-3-haiku-20240307", rates, option.WithBaseURL(ts.URL))

	res, err := p.Analyse(context.Background(), jpegBytes, "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-3-haiku-20240307", res.Provider())
	assert.Equal(t, "LEGO", res.Brand())
	assert.Equal(t, 1600, res.Usage().InputTokens)
	assert.Equal(t, 120, res.Usage().OutputTokens)
	assert.InDelta(t, rates.Estimate(1600, 120), res.Usage().CostUSD, 1e-12)
}

func TestAnalyse_NotFoundModel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"type":"error","error":{"type":"not_found_error","message":"model: claude-3-opus-1999"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	p := anthropic.NewProvider("k", "claude-3-opus-1999", scoring.Pricing{}, option.WithBaseURL(ts.URL))
	_, err := p.Analyse(context.Background(), jpegBytes, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapter.ErrProviderUnavailable))

	var se *adapter.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, err.Error(), "not_found_error")
}

func TestAnalyse_ProseReplyIsInvalid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse("It looks like a coffee mug.")) //nolint:errcheck
	}))
	defer ts.Close()

	p := anthropic.NewProvider("k", "claude-3-haiku-20240307", scoring.Pricing{}, option.WithBaseURL(ts.URL))
	_, err := p.Analyse(context.Background(), jpegBytes, "")
	assert.True(t, errors.Is(err, adapter.ErrInvalidResponse))
}

func TestComplete_TextOnly(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 200, body["max_tokens"])
		content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
		require.Len(t, content, 1)
		assert.Equal(t, "text", content[0].(map[string]any)["type"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse("standing desk converter")) //nolint:errcheck
	}))
	defer ts.Close()

	p := anthropic.NewProvider("k", "claude-3-haiku-20240307", scoring.Pricing{}, option.WithBaseURL(ts.URL))
	text, err := p.Complete(context.Background(), "refine: a thing to make my desk taller")
	require.NoError(t, err)
	assert.Equal(t, "standing desk converter", text)
}
