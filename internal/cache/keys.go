package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const searchPrefix = "search:"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// SearchResultKey identifies one cached backend page. The query is hashed
// after trimming and lowercasing so equivalent queries share an entry.
func SearchResultKey(backend, query string, maxResults, page int) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("%s%s:%s:%d:%d", searchPrefix, backend, hex.EncodeToString(sum[:12]), maxResults, page)
}

// SearchPrefix matches every cached page for backend, or all backends when empty.
func SearchPrefix(backend string) string {
	if backend == "" {
		return searchPrefix
	}
	return searchPrefix + backend + ":"
}
