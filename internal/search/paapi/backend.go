// Package paapi searches Amazon through the Product Advertising API 5.0.
package paapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/search/transport"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL     = "https://webservices.amazon.com"
	DefaultRegion      = "us-east-1"
	DefaultMarketplace = "www.amazon.com"
	searchPath         = "/paapi5/searchitems"

	pageSize = 10
	maxPages = 10
)

var searchResources = []string{
	"Images.Primary.Medium",
	"ItemInfo.Title",
	"Offers.Listings.Price",
	"Offers.Listings.DeliveryInfo.IsAmazonFulfilled",
	"Offers.Listings.DeliveryInfo.IsFreeShippingEligible",
	"Offers.Listings.MerchantInfo",
	"Offers.Listings.Availability.Message",
	"CustomerReviews.Count",
	"CustomerReviews.StarRating",
}

type Config struct {
	BaseURL     string
	Region      string
	Marketplace string
	Timeout     time.Duration
	// RequestsPerSecond paces calls; PA-API allows one per second by default.
	RequestsPerSecond float64
}

// Backend implements models.SearchBackend.
type Backend struct {
	partnerTag  string
	marketplace string
	baseURL     string
	signer      signer
	limiter     *rate.Limiter
	client      *http.Client
	now         func() time.Time
}

func New(accessKey, secretKey, partnerTag string, cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Marketplace == "" {
		cfg.Marketplace = DefaultMarketplace
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &Backend{
		partnerTag:  partnerTag,
		marketplace: cfg.Marketplace,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		signer:      newSigner(accessKey, secretKey, cfg.Region),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		client:      &http.Client{Timeout: cfg.Timeout},
		now:         time.Now,
	}
}

func (b *Backend) Name() string { return "paapi" }

type searchRequest struct {
	Keywords    string   `json:"Keywords"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	ItemCount   int      `json:"ItemCount"`
	ItemPage    int      `json:"ItemPage"`
	Resources   []string `json:"Resources"`
}

// Search collects up to maxResults unique items. PA-API returns at most 10
// items per call, so one logical page spans ceil(maxResults/10) API pages;
// logical page n continues where page n-1 stopped. API pages beyond 10 do
// not exist and yield no items.
func (b *Backend) Search(ctx context.Context, query string, maxResults, page int) ([]models.SearchItem, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	if page < 1 {
		page = 1
	}
	span := (maxResults + pageSize - 1) / pageSize
	first := (page-1)*span + 1
	last := min(first+span-1, maxPages)

	seen := make(map[string]bool)
	var items []models.SearchItem
	for itemPage := first; itemPage <= last && len(items) < maxResults; itemPage++ {
		raw, err := b.call(ctx, query, itemPage)
		if err != nil {
			if errors.Is(err, errNoResults) {
				break
			}
			if len(items) == 0 && itemPage == first {
				return nil, err
			}
			slog.Warn("paapi page failed, returning partial results", "query", query, "item_page", itemPage, "error", err)
			break
		}

		found := gjson.GetBytes(raw, "SearchResult.Items").Array()
		if len(found) == 0 {
			break
		}
		for _, it := range found {
			item, ok := parseItem(it)
			if !ok || seen[item.ID] {
				continue
			}
			seen[item.ID] = true
			items = append(items, item)
		}
	}

	if len(items) > maxResults {
		items = items[:maxResults]
	}
	return items, nil
}

var errNoResults = errors.New("paapi: no results")

func (b *Backend) call(ctx context.Context, query string, itemPage int) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, transport.ClassifyError(err)
	}

	body, err := json.Marshal(searchRequest{
		Keywords:    query,
		PartnerTag:  b.partnerTag,
		PartnerType: "Associates",
		Marketplace: b.marketplace,
		ItemCount:   pageSize,
		ItemPage:    itemPage,
		Resources:   searchResources,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if err := b.signer.sign(ctx, req, body, b.now()); err != nil {
		return nil, err
	}

	raw, err := transport.Do(b.client, req)
	if err != nil {
		if strings.Contains(err.Error(), "NoResults") {
			return nil, errNoResults
		}
		return nil, fmt.Errorf("paapi: %w", err)
	}
	if code := gjson.GetBytes(raw, "Errors.0.Code").String(); code == "NoResults" {
		return nil, errNoResults
	}
	return raw, nil
}

func parseItem(raw gjson.Result) (models.SearchItem, bool) {
	asin := raw.Get("ASIN").String()
	title := raw.Get("ItemInfo.Title.DisplayValue").String()
	if asin == "" || title == "" {
		return models.SearchItem{}, false
	}

	item := models.SearchItem{
		ID:           asin,
		Title:        title,
		ImageURL:     raw.Get("Images.Primary.Medium.URL").String(),
		URL:          raw.Get("DetailPageURL").String(),
		Availability: "Unknown",
	}

	listing := raw.Get("Offers.Listings.0")
	if listing.Exists() {
		if amount := listing.Get("Price.Amount"); amount.Exists() {
			p := amount.Float()
			item.Price = &p
		}
		item.Currency = listing.Get("Price.Currency").String()
		item.FulfilledByPlatform = listing.Get("DeliveryInfo.IsAmazonFulfilled").Bool()
		item.MembershipEligible = listing.Get("DeliveryInfo.IsFreeShippingEligible").Bool()
		merchant := strings.ToLower(listing.Get("MerchantInfo.Name").String())
		item.SoldByPlatform = merchant == "amazon.com" || merchant == "amazon"
		if msg := listing.Get("Availability.Message").String(); msg != "" {
			item.Availability = msg
		}
	}

	if r := raw.Get("CustomerReviews.StarRating.Value"); r.Exists() {
		v := r.Float()
		item.Rating = &v
	}
	if c := raw.Get("CustomerReviews.Count.Value"); c.Exists() {
		n := int(c.Int())
		item.ReviewCount = &n
	}

	return models.NewSearchItem(item), true
}

var _ models.SearchBackend = (*Backend)(nil)
