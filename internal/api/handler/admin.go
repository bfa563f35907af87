package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/snapfind/internal/api/middleware"
	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/store"
	"github.com/kiranshivaraju/snapfind/internal/vision"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// ProviderLister is satisfied by vision.Registry.
type ProviderLister interface {
	Providers(ctx context.Context) (map[string]models.VisionProvider, error)
}

// HealthAdmin is satisfied by health.Tracker.
type HealthAdmin interface {
	Snapshot(ctx context.Context) ([]models.ProviderHealthRecord, error)
	Reenable(ctx context.Context, provider string) error
}

// BackendNamer is satisfied by search.Selector.
type BackendNamer interface {
	ActiveName(ctx context.Context) string
}

type providerView struct {
	Name    string          `json:"name"`
	Vendor  string          `json:"vendor"`
	Model   string          `json:"model"`
	Pricing scoring.Pricing `json:"pricing"`
}

type providersResponse struct {
	Active        []providerView                `json:"active"`
	Health        []models.ProviderHealthRecord `json:"health"`
	SearchBackend string                        `json:"search_backend,omitempty"`
}

// NewListProvidersHandler returns GET /api/v1/admin/providers: the active
// registry snapshot, circuit-breaker records and the selected search backend.
func NewListProvidersHandler(reg ProviderLister, h HealthAdmin, backends BackendNamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers, err := reg.Providers(r.Context())
		if err != nil && !errors.Is(err, vision.ErrNoProvidersAvailable) {
			writeError(w, err)
			return
		}

		active := make([]providerView, 0, len(providers))
		for _, p := range providers {
			active = append(active, providerView{Name: p.Name(), Vendor: p.Vendor(), Model: p.Model(), Pricing: p.Pricing()})
		}
		sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })

		records, err := h.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if records == nil {
			records = []models.ProviderHealthRecord{}
		}

		resp := providersResponse{Active: active, Health: records}
		if backends != nil {
			resp.SearchBackend = backends.ActiveName(r.Context())
		}
		response.JSON(w, resp)
	}
}

// NewEnableProviderHandler returns POST
// /api/v1/admin/providers/{vendor}/{model}/enable, closing the breaker.
// Model IDs that contain a slash arrive percent-encoded.
func NewEnableProviderHandler(h HealthAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vendor := chi.URLParam(r, "vendor")
		model, err := url.PathUnescape(chi.URLParam(r, "model"))
		if err != nil || vendor == "" || model == "" {
			badRequest(w, "provider must be of the form vendor/model")
			return
		}
		name := vendor + "/" + model

		if err := h.Reenable(r.Context(), name); err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, map[string]any{"provider": name, "enabled": true})
	}
}

// CredentialAdmin is satisfied by credentials.Store.
type CredentialAdmin interface {
	List(ctx context.Context) ([]models.Credential, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

func NewListCredentialsHandler(c CredentialAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := c.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		response.List(w, creds, response.ListMeta{Count: len(creds)})
	}
}

// NewSetCredentialHandler returns PUT /api/v1/admin/credentials/{name}.
func NewSetCredentialHandler(c CredentialAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Value) == "" {
			badRequest(w, "value is required")
			return
		}

		if err := c.Set(r.Context(), name, strings.TrimSpace(req.Value)); err != nil {
			writeCredentialError(w, name, err)
			return
		}
		response.JSON(w, map[string]any{"name": name, "masked": credentials.Mask(req.Value)})
	}
}

func NewDeleteCredentialHandler(c CredentialAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := c.Delete(r.Context(), name); err != nil {
			writeCredentialError(w, name, err)
			return
		}
		response.NoContent(w)
	}
}

func writeCredentialError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, credentials.ErrUnknownCredential) {
		response.Error(w, http.StatusBadRequest, "UNKNOWN_CREDENTIAL",
			"Unknown credential name", map[string]any{"name": name, "known": credentials.Known})
		return
	}
	writeError(w, err)
}

// UsageReader is satisfied by store.PostgresStore.
type UsageReader interface {
	ProviderUsage(ctx context.Context, since time.Time) ([]models.ProviderUsage, error)
}

// NewUsageHandler returns GET /api/v1/admin/usage. The window is ?since=
// (RFC3339) and defaults to the last 30 days.
func NewUsageHandler(u UsageReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since := time.Now().UTC().AddDate(0, 0, -30)
		if v := r.URL.Query().Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(w, "since must be a valid RFC3339 timestamp")
				return
			}
			since = t
		}

		usage, err := u.ProviderUsage(r.Context(), since)
		if err != nil {
			writeError(w, err)
			return
		}
		if usage == nil {
			usage = []models.ProviderUsage{}
		}
		response.JSON(w, map[string]any{"since": since.UTC().Format(time.RFC3339), "providers": usage})
	}
}

// KeyAdmin is the part of store.Store that API key management needs.
type KeyAdmin interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

const rawKeyPrefix = "sf_"

var validScopes = []string{models.ScopeRead, models.ScopeAdmin}

// NewCreateKeyHandler returns POST /api/v1/admin/keys. The raw key appears
// only in this response; the store keeps its bcrypt hash.
func NewCreateKeyHandler(k KeyAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			badRequest(w, "name is required")
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{models.ScopeRead}
		}
		for _, s := range req.Scopes {
			if !slices.Contains(validScopes, s) {
				badRequest(w, "scopes must be read or admin")
				return
			}
		}

		raw, err := generateKey()
		if err != nil {
			writeError(w, err)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, err)
			return
		}

		key := &models.APIKey{
			ID:        uuid.New(),
			Name:      strings.TrimSpace(req.Name),
			KeyHash:   string(hash),
			KeyPrefix: raw[:mw.KeyPrefixLen],
			Scopes:    req.Scopes,
		}
		if err := k.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, err)
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
		})
	}
}

func NewListKeysHandler(k KeyAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := k.ListAPIKeys(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.List(w, keys, response.ListMeta{Count: len(keys)})
	}
}

func NewRevokeKeyHandler(k KeyAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			badRequest(w, "keyID must be a UUID")
			return
		}
		if err := k.RevokeAPIKey(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
				return
			}
			writeError(w, err)
			return
		}
		response.NoContent(w)
	}
}

func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return rawKeyPrefix + hex.EncodeToString(b), nil
}

// TagAdmin is the part of store.Store that affiliate tag management needs.
type TagAdmin interface {
	CreateAffiliateTag(ctx context.Context, tag *models.AffiliateTag) error
	ListAffiliateTags(ctx context.Context) ([]models.AffiliateTag, error)
	ActivateAffiliateTag(ctx context.Context, id uuid.UUID) error
	DeactivateAffiliateTags(ctx context.Context) error
	DeleteAffiliateTag(ctx context.Context, id uuid.UUID) error
}

func NewListTagsHandler(t TagAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := t.ListAffiliateTags(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if tags == nil {
			tags = []models.AffiliateTag{}
		}
		response.List(w, tags, response.ListMeta{Count: len(tags)})
	}
}

// NewCreateTagHandler returns POST /api/v1/admin/tags. With "active": true
// the new tag replaces the current active one.
func NewCreateTagHandler(t TagAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tag         string `json:"tag"`
			Description string `json:"description"`
			Active      bool   `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}
		req.Tag = strings.TrimSpace(req.Tag)
		if req.Tag == "" || strings.ContainsAny(req.Tag, " \t/?&#") {
			badRequest(w, "tag is required and must not contain spaces or URL delimiters")
			return
		}

		tag := &models.AffiliateTag{
			ID:          uuid.New(),
			Tag:         req.Tag,
			Description: strings.TrimSpace(req.Description),
			Active:      req.Active,
			CreatedAt:   time.Now().UTC(),
		}
		if err := t.CreateAffiliateTag(r.Context(), tag); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_TAG", "Affiliate tag already exists", map[string]any{"tag": req.Tag})
				return
			}
			writeError(w, err)
			return
		}
		response.Created(w, tag)
	}
}

func NewActivateTagHandler(t TagAdmin) http.HandlerFunc {
	return tagByID(t.ActivateAffiliateTag, func(w http.ResponseWriter, id uuid.UUID) {
		response.JSON(w, map[string]any{"id": id, "active": true})
	})
}

func NewDeleteTagHandler(t TagAdmin) http.HandlerFunc {
	return tagByID(t.DeleteAffiliateTag, func(w http.ResponseWriter, _ uuid.UUID) { response.NoContent(w) })
}

// NewDeactivateTagsHandler returns POST /api/v1/admin/tags/deactivate.
func NewDeactivateTagsHandler(t TagAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := t.DeactivateAffiliateTags(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		response.NoContent(w)
	}
}

func tagByID(op func(ctx context.Context, id uuid.UUID) error, ok func(w http.ResponseWriter, id uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "tagID"))
		if err != nil {
			badRequest(w, "tagID must be a UUID")
			return
		}
		if err := op(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Affiliate tag not found", nil)
				return
			}
			writeError(w, err)
			return
		}
		ok(w, id)
	}
}
