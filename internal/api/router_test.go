package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/snapfind/internal/api"
	mw "github.com/kiranshivaraju/snapfind/internal/api/middleware"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- stub key store: one read-scoped key, or none ---

type stubKeys struct {
	keys []*models.APIKey
}

func (s *stubKeys) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return s.keys, nil
}
func (s *stubKeys) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

type stubCounter struct{}

func (stubCounter) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func newTestRouter(keys *stubKeys) http.Handler {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":{}}`))
	}
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(keys),
		RateLimit: mw.NewRateLimit(stubCounter{}, 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		SearchHandler: ok,
		ListProviders: ok,
	})
}

func readKey(t *testing.T, raw string) *stubKeys {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	return &stubKeys{keys: []*models.APIKey{{
		ID:        uuid.New(),
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    []string{models.ScopeRead},
	}}}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)["code"].(string)
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(&stubKeys{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(&stubKeys{})

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/identify"},
		{"POST", "/api/v1/search"},
		{"POST", "/api/v1/find"},
		{"GET", "/api/v1/admin/providers"},
		{"POST", "/api/v1/admin/providers/openai/gpt-4o/enable"},
		{"GET", "/api/v1/admin/credentials"},
		{"PUT", "/api/v1/admin/credentials/openai_api_key"},
		{"GET", "/api/v1/admin/usage"},
		{"GET", "/api/v1/admin/tags"},
		{"POST", "/api/v1/admin/tags/deactivate"},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))
		})
	}
}

func TestRouter_ReadKeyReachesSearch(t *testing.T) {
	raw := "sf_reader_0123456789"
	router := newTestRouter(readKey(t, raw))

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
}

func TestRouter_AdminRequiresScope(t *testing.T) {
	raw := "sf_reader_0123456789"
	router := newTestRouter(readKey(t, raw))

	req := httptest.NewRequest("GET", "/api/v1/admin/providers", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))
}

func TestRouter_UnwiredHandlerIsNotImplemented(t *testing.T) {
	raw := "sf_reader_0123456789"
	router := newTestRouter(readKey(t, raw))

	req := httptest.NewRequest("POST", "/api/v1/identify", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", errorCode(t, w))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(&stubKeys{})

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_ErrorEchoesRequestID(t *testing.T) {
	router := newTestRouter(&stubKeys{})

	req := httptest.NewRequest("POST", "/api/v1/search", nil)
	req.Header.Set("X-Request-ID", "trace-7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trace-7", body["error"].(map[string]any)["request_id"])
}
