package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/refine"
	"github.com/kiranshivaraju/snapfind/internal/search"
	"github.com/kiranshivaraju/snapfind/internal/vision"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeIdentifier struct {
	winner models.ProviderResult
	all    []models.ProviderResult
	err    error

	gotImage []byte
	gotMode  string
	gotHint  string
}

func (f *fakeIdentifier) Analyse(_ context.Context, image []byte, mode, hint string) (models.ProviderResult, []models.ProviderResult, error) {
	f.gotImage, f.gotMode, f.gotHint = image, mode, hint
	return f.winner, f.all, f.err
}

type fakeSearcher struct {
	items []models.SearchItem
	err   error

	gotQuery    models.NormalizedQuery
	gotMax      int
	gotEligible bool
	gotPage     int
	calls       int
}

func (f *fakeSearcher) Search(_ context.Context, q models.NormalizedQuery, maxResults int, eligibleOnly bool, page int) ([]models.SearchItem, error) {
	f.calls++
	f.gotQuery, f.gotMax, f.gotEligible, f.gotPage = q, maxResults, eligibleOnly, page
	return f.items, f.err
}

func result(provider string, cost float64) models.ProviderResult {
	return models.NewProviderResult(provider, "m", models.Identification{
		ProductName:      "Hydro Flask 32oz",
		Brand:            "Hydro Flask",
		Category:         "Kitchen",
		KeyFeatures:      []string{"insulated"},
		PrimaryQuery:     "hydro flask 32 oz wide mouth",
		AlternativeQuery: "insulated water bottle 32oz",
		Confidence:       "high",
	}, models.CallUsage{Latency: 900 * time.Millisecond, CostUSD: cost})
}

// --- helpers ---

func multipartReq(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	if image != nil {
		fw, err := mpw.CreateFormFile("image", "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	require.NoError(t, mpw.Close())

	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.Header.Set("Content-Type", mpw.FormDataContentType())
	return r
}

func jsonReq(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(method, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Data
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) (string, any) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error.Code, env.Error.Details
}

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

// --- identify ---

func TestIdentify_Success(t *testing.T) {
	a, b := result("openai/gpt-4o", 0.004), result("google/gemini-1.5-flash", 0.001)
	id := &fakeIdentifier{winner: a, all: []models.ProviderResult{a, b}}
	h := NewIdentifyHandler(id, IdentifyOptions{DefaultMode: "compare"})

	rec := httptest.NewRecorder()
	h(rec, multipartReq(t, "/api/v1/identify", jpeg, map[string]string{"hint": " blue bottle "}))

	data := decodeData(t, rec)
	assert.Equal(t, "compare", data["mode"])
	assert.InDelta(t, 0.005, data["total_cost_usd"], 1e-9)
	assert.Len(t, data["results"], 2)
	assert.Equal(t, "openai/gpt-4o", data["winner"].(map[string]any)["provider"])
	assert.Equal(t, "hydro flask 32 oz wide mouth", data["query"].(map[string]any)["primary_query"])

	assert.Equal(t, jpeg, id.gotImage)
	assert.Equal(t, "compare", id.gotMode)
	assert.Equal(t, "blue bottle", id.gotHint)
}

func TestIdentify_ModeField(t *testing.T) {
	id := &fakeIdentifier{winner: result("openai/gpt-4o", 0), all: []models.ProviderResult{result("openai/gpt-4o", 0)}}
	h := NewIdentifyHandler(id, IdentifyOptions{})

	rec := httptest.NewRecorder()
	h(rec, multipartReq(t, "/api/v1/identify", jpeg, map[string]string{"mode": "single:openai/gpt-4o"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "single:openai/gpt-4o", id.gotMode)
}

func TestIdentify_DefaultsToBest(t *testing.T) {
	id := &fakeIdentifier{winner: result("x/y", 0), all: []models.ProviderResult{result("x/y", 0)}}
	h := NewIdentifyHandler(id, IdentifyOptions{})

	rec := httptest.NewRecorder()
	h(rec, multipartReq(t, "/api/v1/identify", jpeg, nil))
	assert.Equal(t, "best", id.gotMode)
}

func TestIdentify_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		code int
		err  string
	}{
		{"not multipart", func(t *testing.T) *http.Request {
			return jsonReq(t, http.MethodPost, "/api/v1/identify", map[string]string{"a": "b"})
		}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing image", func(t *testing.T) *http.Request {
			return multipartReq(t, "/api/v1/identify", nil, map[string]string{"hint": "x"})
		}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty image", func(t *testing.T) *http.Request {
			return multipartReq(t, "/api/v1/identify", []byte{}, nil)
		}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"too large", func(t *testing.T) *http.Request {
			return multipartReq(t, "/api/v1/identify", bytes.Repeat([]byte{1}, 2048), nil)
		}, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &fakeIdentifier{}
			h := NewIdentifyHandler(id, IdentifyOptions{MaxImageBytes: 1024})

			rec := httptest.NewRecorder()
			h(rec, tt.req(t))

			assert.Equal(t, tt.code, rec.Code)
			code, _ := decodeErr(t, rec)
			assert.Equal(t, tt.err, code)
			assert.Nil(t, id.gotImage, "orchestrator must not be called")
		})
	}
}

func TestIdentify_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no providers", vision.ErrNoProvidersAvailable, http.StatusServiceUnavailable, "NO_PROVIDERS"},
		{"all failed", &vision.AllFailedError{Failures: []vision.ProviderFailure{{Provider: "openai/gpt-4o", Reason: "timeout"}}}, http.StatusBadGateway, "ALL_PROVIDERS_FAILED"},
		{"unknown provider", &vision.UnknownProviderError{Name: "foo/bar", Available: []string{"openai/gpt-4o"}}, http.StatusBadRequest, "UNKNOWN_PROVIDER"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIdentifyHandler(&fakeIdentifier{err: tt.err}, IdentifyOptions{})

			rec := httptest.NewRecorder()
			h(rec, multipartReq(t, "/api/v1/identify", jpeg, nil))

			assert.Equal(t, tt.status, rec.Code)
			code, _ := decodeErr(t, rec)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestIdentify_AllFailedDetailsListProviders(t *testing.T) {
	err := &vision.AllFailedError{Failures: []vision.ProviderFailure{
		{Provider: "openai/gpt-4o", Reason: "timed out after 45s"},
		{Provider: "anthropic/claude-3-5-haiku-20241022", Reason: "status 529"},
	}}
	h := NewIdentifyHandler(&fakeIdentifier{err: err}, IdentifyOptions{})

	rec := httptest.NewRecorder()
	h(rec, multipartReq(t, "/api/v1/identify", jpeg, nil))

	_, details := decodeErr(t, rec)
	list, ok := details.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "openai/gpt-4o", list[0].(map[string]any)["provider"])
}

// --- search ---

func TestSearch_Success(t *testing.T) {
	price := 29.95
	s := &fakeSearcher{items: []models.SearchItem{models.NewSearchItem(models.SearchItem{ID: "B01", Title: "Bottle", Price: &price})}}
	h := NewSearchHandler(s, nil, SearchDefaults{MaxResults: 20})

	rec := httptest.NewRecorder()
	h(rec, jsonReq(t, http.MethodPost, "/api/v1/search", map[string]any{
		"product_name":      "Bottle",
		"primary_query":     "  hydro flask  ",
		"alternative_query": "water bottle",
		"page":              2,
	}))

	data := decodeData(t, rec)
	assert.EqualValues(t, 2, data["page"])
	assert.Len(t, data["items"], 1)

	assert.Equal(t, "hydro flask", s.gotQuery.PrimaryQuery)
	assert.Equal(t, "water bottle", s.gotQuery.AlternativeQuery)
	assert.Equal(t, 20, s.gotMax)
	assert.False(t, s.gotEligible)
	assert.Equal(t, 2, s.gotPage)
}

func TestSearch_OverridesAndCaps(t *testing.T) {
	s := &fakeSearcher{}
	h := NewSearchHandler(s, nil, SearchDefaults{MaxResults: 20, EligibleOnly: true})

	rec := httptest.NewRecorder()
	h(rec, jsonReq(t, http.MethodPost, "/api/v1/search", map[string]any{
		"primary_query": "q",
		"max_results":   500,
		"eligible_only": false,
	}))

	data := decodeData(t, rec)
	assert.Equal(t, []any{}, data["items"])
	assert.Equal(t, maxResultsCap, s.gotMax)
	assert.False(t, s.gotEligible)
	assert.Equal(t, 1, s.gotPage)
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing primary", map[string]any{"product_name": "x"}},
		{"blank primary", map[string]any{"primary_query": "   "}},
		{"negative page", map[string]any{"primary_query": "q", "page": -1}},
		{"text without refiner", map[string]any{"text": "a comfy chair"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSearcher{}
			rec := httptest.NewRecorder()
			NewSearchHandler(s, nil, SearchDefaults{})(rec, jsonReq(t, http.MethodPost, "/api/v1/search", tt.body))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, s.calls)
		})
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	NewSearchHandler(&fakeSearcher{}, nil, SearchDefaults{})(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeRefiner struct {
	got string
	res refine.Result
}

func (f *fakeRefiner) Refine(_ context.Context, text string) refine.Result {
	f.got = text
	return f.res
}

func TestSearch_RefinesFreeText(t *testing.T) {
	s := &fakeSearcher{}
	ref := &fakeRefiner{res: refine.Result{Language: "he", English: "Baby stroller", Query: "lightweight baby stroller", Model: "groq/llama-3.3-70b-versatile"}}

	rec := httptest.NewRecorder()
	NewSearchHandler(s, ref, SearchDefaults{})(rec,
		jsonReq(t, http.MethodPost, "/api/v1/search", map[string]any{"text": "  עגלת תינוק  "}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "עגלת תינוק", ref.got)
	assert.Equal(t, "lightweight baby stroller", s.gotQuery.PrimaryQuery)
	assert.Equal(t, "Baby stroller", s.gotQuery.ProductName)
	assert.Equal(t, "groq/llama-3.3-70b-versatile", s.gotQuery.Source)

	refined := decodeData(t, rec)["refined"].(map[string]any)
	assert.Equal(t, "he", refined["language"])
	assert.Equal(t, "lightweight baby stroller", refined["query"])
}

func TestSearch_PrimaryQueryBypassesRefiner(t *testing.T) {
	s := &fakeSearcher{}
	ref := &fakeRefiner{}

	rec := httptest.NewRecorder()
	NewSearchHandler(s, ref, SearchDefaults{})(rec,
		jsonReq(t, http.MethodPost, "/api/v1/search", map[string]any{"primary_query": "usb hub", "text": "ignored"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ref.got)
	assert.Equal(t, "usb hub", s.gotQuery.PrimaryQuery)
	_, hasRefined := decodeData(t, rec)["refined"]
	assert.False(t, hasRefined)
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not configured", search.ErrNoBackendConfigured, http.StatusServiceUnavailable, "SEARCH_NOT_CONFIGURED"},
		{"missing creds", &search.ConfigError{Backend: "paapi", Missing: []string{"amazon_secret_key"}}, http.StatusServiceUnavailable, "SEARCH_NOT_CONFIGURED"},
		{"no results", &search.NoResultsError{Backend: "rapidapi", Queries: []string{"q"}}, http.StatusNotFound, "NO_RESULTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewSearchHandler(&fakeSearcher{err: tt.err}, nil, SearchDefaults{})(rec,
				jsonReq(t, http.MethodPost, "/api/v1/search", map[string]any{"primary_query": "q"}))

			assert.Equal(t, tt.status, rec.Code)
			code, _ := decodeErr(t, rec)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestSearch_ConfigErrorNamesMissingCredentials(t *testing.T) {
	err := &search.ConfigError{Backend: "paapi", Missing: []string{"amazon_secret_key", "amazon_associate_tag"}}
	rec := httptest.NewRecorder()
	NewSearchHandler(&fakeSearcher{err: err}, nil, SearchDefaults{})(rec,
		jsonReq(t, http.MethodPost, "/api/v1/search", map[string]any{"primary_query": "q"}))

	_, details := decodeErr(t, rec)
	d := details.(map[string]any)
	assert.Equal(t, "paapi", d["backend"])
	assert.Equal(t, []any{"amazon_secret_key", "amazon_associate_tag"}, d["missing"])
}

// --- find ---

func TestFind_IdentifiesThenSearches(t *testing.T) {
	win := result("openai/gpt-4o", 0.003)
	id := &fakeIdentifier{winner: win, all: []models.ProviderResult{win}}
	s := &fakeSearcher{items: []models.SearchItem{models.NewSearchItem(models.SearchItem{ID: "B01", Title: "Bottle"})}}
	h := NewFindHandler(id, s, IdentifyOptions{}, SearchDefaults{MaxResults: 10})

	rec := httptest.NewRecorder()
	h(rec, multipartReq(t, "/api/v1/find", jpeg, map[string]string{"eligible_only": "true", "max_results": "5"}))

	data := decodeData(t, rec)
	assert.Len(t, data["items"], 1)
	assert.Equal(t, "openai/gpt-4o", data["winner"].(map[string]any)["provider"])

	assert.Equal(t, win.ToQuery(), s.gotQuery)
	assert.Equal(t, 5, s.gotMax)
	assert.True(t, s.gotEligible)
	assert.Equal(t, 1, s.gotPage)
}

func TestFind_NoResultsKeepsIdentification(t *testing.T) {
	win := result("openai/gpt-4o", 0.003)
	id := &fakeIdentifier{winner: win, all: []models.ProviderResult{win}}
	s := &fakeSearcher{err: &search.NoResultsError{Backend: "rapidapi"}}

	rec := httptest.NewRecorder()
	NewFindHandler(id, s, IdentifyOptions{}, SearchDefaults{})(rec, multipartReq(t, "/api/v1/find", jpeg, nil))

	data := decodeData(t, rec)
	assert.Equal(t, []any{}, data["items"])
	assert.NotNil(t, data["winner"])
	assert.Equal(t, true, data["no_results"])
	assert.Contains(t, data["search_error"], "rapidapi")
}

func TestFind_ResultsClearNoResultsFlag(t *testing.T) {
	win := result("openai/gpt-4o", 0.003)
	s := &fakeSearcher{items: []models.SearchItem{models.NewSearchItem(models.SearchItem{ID: "B01", Title: "Bottle"})}}

	rec := httptest.NewRecorder()
	NewFindHandler(&fakeIdentifier{winner: win, all: []models.ProviderResult{win}}, s, IdentifyOptions{}, SearchDefaults{})(rec,
		multipartReq(t, "/api/v1/find", jpeg, nil))

	data := decodeData(t, rec)
	assert.Equal(t, false, data["no_results"])
	_, hasErr := data["search_error"]
	assert.False(t, hasErr)
}

func TestFind_VisionFailureSkipsSearch(t *testing.T) {
	s := &fakeSearcher{}
	rec := httptest.NewRecorder()
	NewFindHandler(&fakeIdentifier{err: vision.ErrNoProvidersAvailable}, s, IdentifyOptions{}, SearchDefaults{})(rec,
		multipartReq(t, "/api/v1/find", jpeg, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, s.calls)
}

func TestFind_SearchNotConfigured(t *testing.T) {
	win := result("openai/gpt-4o", 0)
	rec := httptest.NewRecorder()
	NewFindHandler(&fakeIdentifier{winner: win, all: []models.ProviderResult{win}},
		&fakeSearcher{err: search.ErrNoBackendConfigured}, IdentifyOptions{}, SearchDefaults{})(rec,
		multipartReq(t, "/api/v1/find", jpeg, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, _ := decodeErr(t, rec)
	assert.Equal(t, "SEARCH_NOT_CONFIGURED", code)
}

func TestFind_BadEligibleOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	NewFindHandler(&fakeIdentifier{}, &fakeSearcher{}, IdentifyOptions{}, SearchDefaults{})(rec,
		multipartReq(t, "/api/v1/find", jpeg, map[string]string{"eligible_only": "maybe"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
