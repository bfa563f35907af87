package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/snapfind/internal/api/response"
	"github.com/kiranshivaraju/snapfind/internal/refine"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

const maxResultsCap = 50

// Searcher is satisfied by search.Orchestrator.
type Searcher interface {
	Search(ctx context.Context, q models.NormalizedQuery, maxResults int, eligibleOnly bool, page int) ([]models.SearchItem, error)
}

// QueryRefiner is satisfied by refine.Refiner.
type QueryRefiner interface {
	Refine(ctx context.Context, text string) refine.Result
}

// SearchDefaults apply when the request leaves a field unset.
type SearchDefaults struct {
	MaxResults   int
	EligibleOnly bool
}

func (d SearchDefaults) resolve(maxResults int, eligibleOnly *bool, page int) (int, bool, int) {
	if maxResults <= 0 {
		maxResults = d.MaxResults
	}
	maxResults = min(maxResults, maxResultsCap)
	eligible := d.EligibleOnly
	if eligibleOnly != nil {
		eligible = *eligibleOnly
	}
	return maxResults, eligible, max(page, 1)
}

type searchResponse struct {
	Query        models.NormalizedQuery `json:"query"`
	Items        []models.SearchItem    `json:"items"`
	Page         int                    `json:"page"`
	EligibleOnly bool                   `json:"eligible_only"`
	Refined      *refine.Result         `json:"refined,omitempty"`
}

// NewSearchHandler returns an http.HandlerFunc for POST /api/v1/search.
// A request may send free text instead of primary_query; ref turns it into
// an English query. ref may be nil, in which case text is rejected.
func NewSearchHandler(s Searcher, ref QueryRefiner, defaults SearchDefaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			models.NormalizedQuery
			Text         string `json:"text"`
			MaxResults   int    `json:"max_results"`
			EligibleOnly *bool  `json:"eligible_only"`
			Page         int    `json:"page"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid JSON body")
			return
		}

		q := req.NormalizedQuery
		q.PrimaryQuery = strings.TrimSpace(q.PrimaryQuery)
		q.AlternativeQuery = strings.TrimSpace(q.AlternativeQuery)
		text := strings.TrimSpace(req.Text)
		if q.PrimaryQuery == "" && (text == "" || ref == nil) {
			badRequest(w, "primary_query is required")
			return
		}
		if req.MaxResults < 0 || req.Page < 0 {
			badRequest(w, "max_results and page must not be negative")
			return
		}

		var refined *refine.Result
		if q.PrimaryQuery == "" {
			res := ref.Refine(r.Context(), text)
			refined = &res
			q.PrimaryQuery = res.Query
			if q.ProductName == "" {
				q.ProductName = res.English
			}
			q.Source = res.Model
		}

		maxResults, eligible, page := defaults.resolve(req.MaxResults, req.EligibleOnly, req.Page)
		items, err := s.Search(r.Context(), q, maxResults, eligible, page)
		if err != nil {
			writeError(w, err)
			return
		}

		response.JSON(w, searchResponse{
			Query:        q,
			Items:        nonNil(items),
			Page:         page,
			EligibleOnly: eligible,
			Refined:      refined,
		})
	}
}

func nonNil(items []models.SearchItem) []models.SearchItem {
	if items == nil {
		return []models.SearchItem{}
	}
	return items
}
