package models

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/snapfind/internal/scoring"
)

// SearchBackend is the capability every product-search vendor implements.
type SearchBackend interface {
	Name() string
	// Search returns one page of candidate offers for query.
	Search(ctx context.Context, query string, maxResults, page int) ([]SearchItem, error)
}

// SearchItem is one candidate offer. Build it with NewSearchItem so that
// Score is populated.
type SearchItem struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	ImageURL            string   `json:"image_url,omitempty"`
	URL                 string   `json:"url,omitempty"`
	Price               *float64 `json:"price,omitempty"`
	Currency            string   `json:"currency"`
	Rating              *float64 `json:"rating,omitempty"`
	ReviewCount         *int     `json:"review_count,omitempty"`
	FulfilledByPlatform bool     `json:"fulfilled_by_platform"`
	SoldByPlatform      bool     `json:"sold_by_platform"`
	MembershipEligible  bool     `json:"membership_eligible"`
	Availability        string   `json:"availability,omitempty"`
	Score               float64  `json:"score"`
	// Affiliate is the tagged product link, set by the search orchestrator.
	Affiliate           string   `json:"affiliate_url,omitempty"`
}

// NewSearchItem fills in the derived ranking score.
func NewSearchItem(item SearchItem) SearchItem {
	if item.Currency == "" {
		item.Currency = "USD"
	}
	item.Score = scoring.ItemScore(item.Rating, item.ReviewCount)
	return item
}

// Eligible reports whether the item qualifies for guaranteed delivery.
func (i SearchItem) Eligible() bool {
	return scoring.Eligible(i.FulfilledByPlatform, i.SoldByPlatform, i.MembershipEligible)
}

const productBaseURL = "https://www.amazon.com/dp/"

// AffiliateURL returns the product page link for the item's ASIN carrying
// the associate tag. An empty tag yields the plain product link.
func (i SearchItem) AffiliateURL(tag string) string {
	link := productBaseURL + url.PathEscape(i.ID)
	if tag == "" {
		return link
	}
	return link + "?tag=" + url.QueryEscape(tag) + "&linkCode=ogi&th=1&psc=1"
}

// NoTag is recorded in search logs when no associate tag was applied.
const NoTag = "none"

// AffiliateTag is an associate tag that can be applied to product links.
// At most one tag is active at a time.
type AffiliateTag struct {
	ID          uuid.UUID `json:"id"`
	Tag         string    `json:"tag"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	SearchCount int       `json:"search_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchLog records one search request.
type SearchLog struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Backend      string    `json:"backend"`
	ResultCount  int       `json:"result_count"`
	EligibleOnly bool      `json:"eligible_only"`
	Page         int       `json:"page"`
	TagUsed      string    `json:"tag_used"`
	CreatedAt    time.Time `json:"created_at"`
}
