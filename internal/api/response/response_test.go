package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"provider": "openai/gpt-4o"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "openai/gpt-4o", data["provider"])
}

func TestCreated(t *testing.T) {
	w := httptest.NewRecorder()
	response.Created(w, map[string]string{"key": "sf_abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "sf_abc", data["key"])
}

func TestList(t *testing.T) {
	w := httptest.NewRecorder()
	items := []map[string]string{{"id": "B01"}, {"id": "B02"}}

	response.List(w, items, response.ListMeta{Count: 2, Page: 3})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["data"], 2)

	m := body["meta"].(map[string]any)
	assert.Equal(t, float64(2), m["count"])
	assert.Equal(t, float64(3), m["page"])
}

func TestList_OmitsPageWhenUnpaged(t *testing.T) {
	w := httptest.NewRecorder()
	response.List(w, []string{}, response.ListMeta{})

	m := decode(t, w)["meta"].(map[string]any)
	assert.Equal(t, float64(0), m["count"])
	_, hasPage := m["page"]
	assert.False(t, hasPage)
}

func TestNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	response.NoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(response.RequestIDHeader, "req-42")
	response.Error(w, http.StatusServiceUnavailable, "SEARCH_NOT_CONFIGURED", "Search backend is not configured", map[string]any{
		"missing": []string{"amazon_secret_key"},
	})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "SEARCH_NOT_CONFIGURED", errObj["code"])
	assert.Equal(t, "Search backend is not configured", errObj["message"])
	assert.Equal(t, "req-42", errObj["request_id"])
	assert.NotNil(t, errObj["details"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusNotFound, "NO_RESULTS", "No products found", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)

	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "NO_RESULTS", errObj["code"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
	_, hasID := errObj["request_id"]
	assert.False(t, hasID)
}
