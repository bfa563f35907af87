// Package rapidapi searches Amazon through the RapidAPI "Real-Time Amazon
// Data" service.
package rapidapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/search/transport"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/tidwall/gjson"
)

const (
	Host           = "real-time-amazon-data.p.rapidapi.com"
	DefaultBaseURL = "https://" + Host

	defaultRetryDelay = 1500 * time.Millisecond
)

var nonPrice = regexp.MustCompile(`[^\d.]`)

// Config holds the optional knobs; zero values take defaults.
type Config struct {
	BaseURL    string
	Country    string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Backend implements models.SearchBackend.
type Backend struct {
	apiKey     string
	baseURL    string
	country    string
	retryDelay time.Duration
	client     *http.Client
}

func New(apiKey string, cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Backend{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		country:    cfg.Country,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *Backend) Name() string { return "rapidapi" }

// Search fetches one results page. The service sometimes answers a burst
// with an empty list, so an empty first answer is retried once.
func (b *Backend) Search(ctx context.Context, query string, maxResults, page int) ([]models.SearchItem, error) {
	products, err := b.fetch(ctx, query, page)
	if err != nil {
		return nil, err
	}

	if len(products) == 0 {
		slog.Warn("rapidapi returned no products, retrying", "query", query, "delay", b.retryDelay)
		select {
		case <-time.After(b.retryDelay):
		case <-ctx.Done():
			return nil, transport.ClassifyError(ctx.Err())
		}
		if products, err = b.fetch(ctx, query, page); err != nil {
			return nil, err
		}
	}

	items := make([]models.SearchItem, 0, len(products))
	for _, p := range products {
		if maxResults > 0 && len(items) >= maxResults {
			break
		}
		if item, ok := parseProduct(p); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (b *Backend) fetch(ctx context.Context, query string, page int) ([]gjson.Result, error) {
	params := url.Values{
		"query":   {query},
		"page":    {strconv.Itoa(page)},
		"country": {b.country},
		"sort_by": {"RELEVANCE"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", b.apiKey)
	req.Header.Set("X-RapidAPI-Host", Host)

	body, err := transport.Do(b.client, req)
	if err != nil {
		return nil, fmt.Errorf("rapidapi: %w", err)
	}
	return gjson.GetBytes(body, "data.products").Array(), nil
}

func parseProduct(p gjson.Result) (models.SearchItem, bool) {
	asin := p.Get("asin").String()
	if asin == "" {
		return models.SearchItem{}, false
	}

	item := models.SearchItem{
		ID:       asin,
		Title:    strings.TrimSpace(p.Get("product_title").String()),
		ImageURL: firstString(p, "product_photo", "thumbnail"),
		URL:      p.Get("product_url").String(),
	}
	if raw := firstString(p, "product_price", "product_minimum_offer_price"); raw != "" {
		item.Price = parsePrice(raw)
	}
	if r := p.Get("product_star_rating").Float(); r > 0 {
		item.Rating = &r
	}
	if n := int(p.Get("product_num_ratings").Int()); n > 0 {
		item.ReviewCount = &n
	}

	delivery := strings.ToLower(p.Get("delivery").String())
	seller := strings.ToLower(strings.TrimSpace(firstString(p, "sales_volume", "product_details.seller")))

	item.SoldByPlatform = strings.Contains(seller, "amazon.com") || seller == "amazon"
	item.FulfilledByPlatform = strings.Contains(delivery, "shipped by amazon") ||
		strings.Contains(delivery, "fulfilled by amazon") ||
		item.SoldByPlatform
	item.MembershipEligible = p.Get("is_prime").Bool() || strings.Contains(delivery, "prime members")

	item.Availability = "Unknown"
	if item.URL != "" {
		item.Availability = "In Stock"
	}
	return models.NewSearchItem(item), true
}

func parsePrice(raw string) *float64 {
	cleaned := nonPrice.ReplaceAllString(strings.ReplaceAll(raw, ",", ""), "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstString(p gjson.Result, paths ...string) string {
	for _, path := range paths {
		if s := p.Get(path).String(); s != "" {
			return s
		}
	}
	return ""
}

var _ models.SearchBackend = (*Backend)(nil)
