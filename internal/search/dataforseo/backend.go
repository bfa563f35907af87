// Package dataforseo searches Amazon through the DataForSEO live SERP API.
package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kiranshivaraju/snapfind/internal/search/transport"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.dataforseo.com"
	livePath       = "/v3/serp/amazon/organic/live/advanced"

	locationUS = 2840
	statusOK   = 20000
)

var dpASIN = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Backend implements models.SearchBackend.
type Backend struct {
	login    string
	password string
	baseURL  string
	client   *http.Client
}

func New(login, password string, cfg Config) *Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Backend{
		login:    login,
		password: password,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *Backend) Name() string { return "dataforseo" }

type task struct {
	Keyword      string `json:"keyword"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
	Device       string `json:"device"`
	Depth        int    `json:"depth"`
	Offset       int    `json:"offset,omitempty"`
}

// Search runs one live SERP task. Page n starts at offset (n-1)*maxResults.
func (b *Backend) Search(ctx context.Context, query string, maxResults, page int) ([]models.SearchItem, error) {
	if maxResults <= 0 {
		maxResults = 20
	}
	if page < 1 {
		page = 1
	}
	payload, err := json.Marshal([]task{{
		Keyword:      query,
		LocationCode: locationUS,
		LanguageCode: "en",
		Device:       "desktop",
		Depth:        maxResults,
		Offset:       (page - 1) * maxResults,
	}})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+livePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(b.login, b.password)
	req.Header.Set("Content-Type", "application/json")

	body, err := transport.Do(b.client, req)
	if err != nil {
		return nil, fmt.Errorf("dataforseo: %w", err)
	}

	var items []models.SearchItem
	for _, raw := range extractItems(body, query) {
		if len(items) >= maxResults {
			break
		}
		if item, ok := parseItem(raw); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// extractItems unpacks tasks[].result[].items[], keeping amazon_serp items
// of successful tasks.
func extractItems(body []byte, query string) []gjson.Result {
	var out []gjson.Result
	for _, t := range gjson.GetBytes(body, "tasks").Array() {
		if code := t.Get("status_code").Int(); code != statusOK {
			slog.Warn("dataforseo task failed", "query", query, "status_code", code, "message", t.Get("status_message").String())
			continue
		}
		for _, res := range t.Get("result").Array() {
			for _, it := range res.Get("items").Array() {
				if it.Get("type").String() == "amazon_serp" {
					out = append(out, it)
				}
			}
		}
	}
	return out
}

func parseItem(raw gjson.Result) (models.SearchItem, bool) {
	url := raw.Get("url").String()
	asin := raw.Get("data_asin").String()
	if asin == "" {
		m := dpASIN.FindStringSubmatch(url)
		if m == nil {
			return models.SearchItem{}, false
		}
		asin = m[1]
	}
	title := strings.TrimSpace(raw.Get("title").String())
	if title == "" {
		return models.SearchItem{}, false
	}

	item := models.SearchItem{
		ID:           asin,
		Title:        title,
		ImageURL:     raw.Get("image_url").String(),
		URL:          url,
		Availability: "In Stock",
	}
	for _, field := range []string{"price_from", "price_to"} {
		if v := raw.Get(field); v.Type == gjson.Number {
			p := v.Float()
			item.Price = &p
			break
		}
	}
	if r := raw.Get("rating.value").Float(); r > 0 {
		item.Rating = &r
	}
	if n := int(raw.Get("rating.votes_count").Int()); n > 0 {
		item.ReviewCount = &n
	}

	var delivery []string
	for _, d := range raw.Get("delivery_info").Array() {
		delivery = append(delivery, d.String())
	}
	deliveryText := strings.ToLower(strings.Join(delivery, " "))
	seller := strings.ToLower(strings.TrimSpace(raw.Get("seller").String()))

	item.SoldByPlatform = seller == "amazon" || strings.Contains(seller, "amazon.com")
	item.FulfilledByPlatform = strings.Contains(deliveryText, "shipped by amazon") ||
		strings.Contains(deliveryText, "fulfilled by amazon") ||
		item.SoldByPlatform
	item.MembershipEligible = raw.Get("is_prime").Bool()

	return models.NewSearchItem(item), true
}

var _ models.SearchBackend = (*Backend)(nil)
