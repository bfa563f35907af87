package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/adapter"
	"github.com/kiranshivaraju/snapfind/internal/vision/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n-fake-image-")

const reply = `{"product_name":"Stanley Quencher 40oz","brand":"Stanley","category":"Kitchen","key_features":["40oz","handle"],"amazon_search_query":"Stanley Quencher 40oz tumbler","confidence":"high"}`

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		"usage":   map[string]any{"prompt_tokens": 1200, "completion_tokens": 90},
	})
	return string(b)
}

func newServer(t *testing.T, check func(r *http.Request, body map[string]any), status int, resp string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(r, body)
		}
		w.WriteHeader(status)
		w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyse_Success(t *testing.T) {
	srv := newServer(t, func(r *http.Request, body map[string]any) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.EqualValues(t, 512, body["max_tokens"])

		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		user := msgs[1].(map[string]any)["content"].([]any)
		img := user[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		assert.True(t, strings.HasPrefix(img, "data:image/png;base64,"))
		assert.Contains(t, user[1].(map[string]any)["text"], "birthday gift")
	}, http.StatusOK, completion(reply))

	rates := scoring.Pricing{PerImage: 0.0001, PerKInput: 0.00015, PerKOutput: 0.0006}
	p := openai.New(openai.Options{
		Identity:  adapter.Identity{VendorName: "openai", ModelID: "gpt-4o-mini", Rates: rates},
		URL:       srv.URL,
		Headers:   map[string]string{"Authorization": "Bearer sk-test"},
		SendModel: true,
	})

	res, err := p.Analyse(context.Background(), pngBytes, "birthday gift")
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o-mini", res.Provider())
	assert.Equal(t, "Stanley", res.Brand())
	assert.Equal(t, 1200, res.Usage().InputTokens)
	assert.Equal(t, 90, res.Usage().OutputTokens)
	assert.InDelta(t, rates.Estimate(1200, 90), res.Usage().CostUSD, 1e-12)
}

func TestAnalyse_AzureOmitsModel(t *testing.T) {
	srv := newServer(t, func(r *http.Request, body map[string]any) {
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		_, hasModel := body["model"]
		assert.False(t, hasModel)
	}, http.StatusOK, completion(reply))

	p := openai.New(openai.Options{
		Identity: adapter.Identity{VendorName: "azure", ModelID: "gpt4o-prod"},
		URL:      srv.URL,
		Headers:  map[string]string{"api-key": "azure-key"},
	})
	res, err := p.Analyse(context.Background(), pngBytes, "")
	require.NoError(t, err)
	assert.Equal(t, "azure/gpt4o-prod", res.Provider())
}

func TestAnalyse_GoneModelErrorCarriesVendorMessage(t *testing.T) {
	srv := newServer(t, nil, http.StatusNotFound,
		`{"error":{"message":"The model llama-3.2-11b-vision-preview has been decommissioned"}}`)

	p := openai.New(openai.Options{
		Identity: adapter.Identity{VendorName: "groq", ModelID: "llama-3.2-11b-vision-preview"},
		URL:      srv.URL,
	})
	_, err := p.Analyse(context.Background(), pngBytes, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapter.ErrProviderUnavailable))
	assert.Contains(t, err.Error(), "decommissioned")
	assert.Contains(t, err.Error(), "groq/llama-3.2-11b-vision-preview")
}

func TestAnalyse_MalformedOutput(t *testing.T) {
	srv := newServer(t, nil, http.StatusOK, completion("Sorry, I can't tell what that is."))
	p := openai.New(openai.Options{Identity: adapter.Identity{VendorName: "openai", ModelID: "gpt-4o"}, URL: srv.URL})

	_, err := p.Analyse(context.Background(), pngBytes, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapter.ErrInvalidResponse))
}

func TestAnalyse_EmptyChoices(t *testing.T) {
	srv := newServer(t, nil, http.StatusOK, `{"choices":[]}`)
	p := openai.New(openai.Options{Identity: adapter.Identity{VendorName: "openai", ModelID: "gpt-4o"}, URL: srv.URL})

	_, err := p.Analyse(context.Background(), pngBytes, "")
	assert.True(t, errors.Is(err, adapter.ErrInvalidResponse))
}

func TestPresets(t *testing.T) {
	assert.Equal(t, "openai/gpt-4o", openai.NewOpenAI("k", "gpt-4o", scoring.Pricing{}).Name())
	assert.Equal(t, "groq/meta-llama/llama-4-scout-17b-16e-instruct",
		openai.NewGroq("k", "meta-llama/llama-4-scout-17b-16e-instruct", scoring.Pricing{}).Name())

	or := openai.NewOpenRouter("k", "meta-llama/llama-3.2-90b-vision-instruct", scoring.Pricing{})
	assert.Equal(t, "openrouter/llama-3.2-90b-vision-instruct", or.Name())
	assert.Equal(t, "meta-llama/llama-3.2-90b-vision-instruct", or.Model())

	az := openai.NewAzure("k", "https://acme.openai.azure.com/", "gpt4o-mini-eu", "2024-12-01-preview", scoring.Pricing{})
	assert.Equal(t, "azure/gpt4o-mini-eu", az.Name())
	assert.Equal(t, "azure", az.Vendor())
}

func TestComplete_TextOnly(t *testing.T) {
	srv := newServer(t, func(r *http.Request, body map[string]any) {
		assert.Equal(t, "llama-3.3-70b-versatile", body["model"])
		assert.EqualValues(t, 200, body["max_tokens"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "refine this", msgs[0].(map[string]any)["content"])
	}, http.StatusOK, completion("  wireless earbuds noise cancelling \n"))
	p := openai.New(openai.Options{
		Identity:  adapter.Identity{VendorName: "groq", ModelID: "llama-3.3-70b-versatile"},
		URL:       srv.URL,
		SendModel: true,
	})

	text, err := p.Complete(context.Background(), "refine this")
	require.NoError(t, err)
	assert.Equal(t, "wireless earbuds noise cancelling", text)
}

func TestComplete_EmptyReply(t *testing.T) {
	srv := newServer(t, nil, http.StatusOK, completion("   "))
	p := openai.New(openai.Options{Identity: adapter.Identity{VendorName: "openai", ModelID: "gpt-4o-mini"}, URL: srv.URL})

	_, err := p.Complete(context.Background(), "x")
	assert.True(t, errors.Is(err, adapter.ErrInvalidResponse))
}
