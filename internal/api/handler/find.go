package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/internal/search"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

type findResponse struct {
	identifyResponse
	Items []models.SearchItem `json:"items"`
	// NoResults distinguishes a search that matched nothing from a
	// successful one; SearchError carries the backend's explanation.
	NoResults   bool   `json:"no_results"`
	SearchError string `json:"search_error,omitempty"`
}

// NewFindHandler returns an http.HandlerFunc for POST /api/v1/find: identify
// the uploaded image, then search with the winning query. A search that
// finds nothing still returns the identification with an empty item list.
func NewFindHandler(id Identifier, s Searcher, opts IdentifyOptions, defaults SearchDefaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		up, ok := readUpload(w, r, opts)
		if !ok {
			return
		}

		var eligibleOnly *bool
		if v := r.FormValue("eligible_only"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				badRequest(w, "eligible_only must be a boolean")
				return
			}
			eligibleOnly = &b
		}
		maxResults, _ := strconv.Atoi(r.FormValue("max_results"))
		maxResults, eligible, _ := defaults.resolve(maxResults, eligibleOnly, 1)

		winner, all, err := id.Analyse(r.Context(), up.image, up.mode, up.hint)
		if err != nil {
			writeError(w, err)
			return
		}

		resp := findResponse{identifyResponse: newIdentifyResponse(up.mode, winner, all)}
		items, err := s.Search(r.Context(), winner.ToQuery(), maxResults, eligible, 1)
		switch {
		case errors.Is(err, search.ErrNoResults):
			resp.NoResults = true
			resp.SearchError = err.Error()
		case err != nil:
			writeError(w, err)
			return
		}

		resp.Items = nonNil(items)
		response.JSON(w, resp)
	}
}
