// Package adapter holds what every vision vendor adapter shares: the
// identification prompt, response parsing, transport error mapping and the
// provider identity/pricing embedded in each adapter.
package adapter

import "strings"

// SystemPrompt asks the model for a single JSON object describing the product.
const SystemPrompt = `You identify retail products from photos.
Reply with ONE JSON object and nothing else: no markdown, no commentary.

{
  "product_name":        "short name, brand and model when visible",
  "brand":               "brand name, or null when unknown",
  "category":            "store browse category, e.g. Electronics or Kitchen",
  "key_features":        ["at most 5 distinguishing features"],
  "amazon_search_query": "keyword search of at most 100 characters, most specific terms first",
  "alternative_query":   "broader search to use when the first finds little",
  "confidence":          "high | medium | low",
  "notes":               "one line on how certain the identification is"
}

Include a model number in amazon_search_query when one is readable.
Leave an unknown brand out of the queries so they still return results.
Pick key_features that separate this product from close look-alikes.`

const baseUserPrompt = "Identify the product in this photo and return the JSON so a shopper can find the exact item."

// UserPrompt returns the per-image instruction, with the caller's hint appended when given.
func UserPrompt(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return baseUserPrompt
	}
	return baseUserPrompt + "\nThe shopper added this context: " + hint
}
