// Package refine turns free-text product descriptions, in English, Hebrew
// or Russian, into a short English search query using the cheapest text
// model that has credentials configured.
package refine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/internal/scoring"
	"github.com/kiranshivaraju/snapfind/internal/vision/anthropic"
	"github.com/kiranshivaraju/snapfind/internal/vision/gemini"
	"github.com/kiranshivaraju/snapfind/internal/vision/openai"
)

const (
	maxQueryLen       = 200
	maxTranslationLen = 300
)

const refinePrompt = "You are a product search assistant. Convert the user's product description " +
	"into a precise Amazon search query (English only, at most 80 characters). " +
	"Output ONLY the search query, with no quotes, no explanation and no punctuation at the end." +
	"\n\nProduct description: "

const translatePrompt = "Translate the following %s text to English, then produce a concise Amazon " +
	"product search query for it.\n" +
	"Reply with exactly two lines:\n" +
	"Line 1: English translation\n" +
	"Line 2: Amazon search query (at most 80 chars, most specific terms first)\n\n" +
	"Text: %s"

var languageNames = map[string]string{"he": "Hebrew", "ru": "Russian"}

// Completer answers a text-only prompt. The openai, gemini and anthropic
// providers implement it.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Candidate is one text model, built only when its credential is set.
type Candidate struct {
	Credential string
	New        func(key string) Completer
}

// DefaultCandidates lists the text models in cheapest-first order.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{Credential: credentials.GoogleKey, New: func(key string) Completer {
			return gemini.NewProvider(key, "gemini-2.0-flash-001", scoring.Pricing{}, "")
		}},
		{Credential: credentials.OpenAIKey, New: func(key string) Completer {
			return openai.NewOpenAI(key, "gpt-4o-mini", scoring.Pricing{})
		}},
		{Credential: credentials.AnthropicKey, New: func(key string) Completer {
			return anthropic.NewProvider(key, "claude-3-haiku-20240307", scoring.Pricing{})
		}},
		{Credential: credentials.GroqKey, New: func(key string) Completer {
			return openai.NewGroq(key, "llama-3.3-70b-versatile", scoring.Pricing{})
		}},
	}
}

// Result is the outcome of Refine. Model is empty when no model answered
// and Query fell back to the input text.
type Result struct {
	Language string `json:"language"`
	English  string `json:"english"`
	Query    string `json:"query"`
	Model    string `json:"model,omitempty"`
}

type Refiner struct {
	creds      credentials.Getter
	candidates []Candidate
}

func New(creds credentials.Getter, candidates []Candidate) *Refiner {
	return &Refiner{creds: creds, candidates: candidates}
}

// DetectLanguage returns "he" or "ru" when text contains any Hebrew or
// Cyrillic letter, and "en" otherwise. Hebrew wins over Cyrillic.
func DetectLanguage(text string) string {
	lang := "en"
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hebrew, r):
			return "he"
		case unicode.Is(unicode.Cyrillic, r):
			lang = "ru"
		}
	}
	return lang
}

// Refine never fails: when every model errors, the input text is returned
// as both the translation and the query.
func (r *Refiner) Refine(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	res := Result{Language: DetectLanguage(text), English: text, Query: text}

	if res.Language == "en" {
		reply, model := r.complete(ctx, refinePrompt+text)
		if reply != "" {
			res.Query = truncate(firstLine(reply), maxQueryLen)
			res.Model = model
		}
		return res
	}

	reply, model := r.complete(ctx, fmt.Sprintf(translatePrompt, languageNames[res.Language], text))
	var lines []string
	for _, ln := range strings.Split(reply, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}
	switch {
	case len(lines) >= 2:
		res.English, res.Query = truncate(lines[0], maxTranslationLen), truncate(lines[1], maxQueryLen)
	case len(lines) == 1:
		res.English, res.Query = truncate(lines[0], maxTranslationLen), truncate(lines[0], maxQueryLen)
	default:
		return res
	}
	res.Model = model
	return res
}

func (r *Refiner) complete(ctx context.Context, prompt string) (string, string) {
	for _, c := range r.candidates {
		key, ok, err := r.creds.Lookup(ctx, c.Credential)
		if err != nil {
			slog.Warn("credential lookup failed for text model", "credential", c.Credential, "error", err)
		}
		if !ok {
			continue
		}

		m := c.New(key)
		reply, err := m.Complete(ctx, prompt)
		if err != nil {
			slog.Warn("text model call failed", "model", m.Name(), "error", err)
			if ctx.Err() != nil {
				return "", ""
			}
			continue
		}
		if reply = strings.TrimSpace(reply); reply != "" {
			return reply, m.Name()
		}
	}
	slog.Error("no text model available to refine query")
	return "", ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.Trim(strings.TrimSpace(line), `"'`)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
