package adapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/snapfind/pkg/models"
	"github.com/tidwall/gjson"
)

const (
	defaultProductName = "Unknown"
	defaultCategory    = "All"
	defaultConfidence  = "medium"
)

// ParseIdentification decodes a model's reply. Markdown code fences are
// tolerated; anything that is not a JSON object wraps ErrInvalidResponse.
func ParseIdentification(raw string) (models.Identification, error) {
	text := stripFences(raw)
	if !gjson.Valid(text) {
		return models.Identification{}, fmt.Errorf("%w: not JSON: %.120q", ErrInvalidResponse, raw)
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return models.Identification{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidResponse)
	}

	id := models.Identification{
		ProductName:  stringOr(doc.Get("product_name"), defaultProductName),
		Brand:        brand(doc.Get("brand")),
		Category:     stringOr(doc.Get("category"), defaultCategory),
		PrimaryQuery: doc.Get("amazon_search_query").String(),
		Confidence:   strings.ToLower(stringOr(doc.Get("confidence"), defaultConfidence)),
		Notes:        doc.Get("notes").String(),
	}
	id.AlternativeQuery = stringOr(doc.Get("alternative_query"), id.PrimaryQuery)

	features := doc.Get("key_features")
	if features.IsArray() {
		for _, f := range features.Array() {
			if s := strings.TrimSpace(f.String()); s != "" {
				id.KeyFeatures = append(id.KeyFeatures, s)
			}
		}
	}
	return id, nil
}

// DetectMediaType sniffs the image format, defaulting to JPEG.
func DetectMediaType(image []byte) string {
	switch ct := http.DetectContentType(image); ct {
	case "image/png", "image/gif", "image/webp", "image/jpeg":
		return ct
	default:
		return "image/jpeg"
	}
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stringOr(r gjson.Result, def string) string {
	if !r.Exists() || r.Type == gjson.Null {
		return def
	}
	return r.String()
}

func brand(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	s := strings.TrimSpace(r.String())
	switch strings.ToLower(s) {
	case "null", "none", "unknown", "n/a":
		return ""
	}
	return s
}
