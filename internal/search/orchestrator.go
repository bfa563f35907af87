// Package search runs product searches for an identified product against the
// active search backend: query fallback, deduplication, eligibility
// filtering and ranking.
package search

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

const (
	defaultMaxResults = 20
	defaultMinResults = 3
)

// BackendSource yields the active backend. Selector implements it.
type BackendSource interface {
	Backend(ctx context.Context) (models.SearchBackend, error)
}

// SearchLogger persists one row per search.
type SearchLogger interface {
	RecordSearch(ctx context.Context, log *models.SearchLog) error
}

// Options tunes the query strategy. Zero MaxResults and MinResults take
// defaults; a zero FallbackBackoff runs the alternative query immediately.
type Options struct {
	MaxResults      int
	FallbackBackoff time.Duration
	// MinResults is the unique-item count below which the alternative query runs.
	MinResults int
}

// TagSource supplies the associate tag for product links. affiliate.Resolver
// implements it.
type TagSource interface {
	ActiveTag(ctx context.Context) string
	RecordUse(ctx context.Context, tag string)
}

type Orchestrator struct {
	backends BackendSource
	logger   SearchLogger
	tags     TagSource
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(backends BackendSource, opts Options) *Orchestrator {
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	if opts.FallbackBackoff < 0 {
		opts.FallbackBackoff = 0
	}
	if opts.MinResults <= 0 {
		opts.MinResults = defaultMinResults
	}
	return &Orchestrator{backends: backends, opts: opts, sleep: sleepCtx}
}

// WithLogger records every search to l.
func (o *Orchestrator) WithLogger(l SearchLogger) *Orchestrator {
	o.logger = l
	return o
}

// WithTags sets an affiliate link on every returned item and counts the
// searches each tag served.
func (o *Orchestrator) WithTags(t TagSource) *Orchestrator {
	o.tags = t
	return o
}

// Search returns up to maxResults items for q, best first. Page 1 may run
// the alternative query; later pages make exactly one call and never fail.
func (o *Orchestrator) Search(ctx context.Context, q models.NormalizedQuery, maxResults int, eligibleOnly bool, page int) ([]models.SearchItem, error) {
	if maxResults <= 0 {
		maxResults = o.opts.MaxResults
	}
	if page < 1 {
		page = 1
	}

	backend, err := o.backends.Backend(ctx)
	if err != nil {
		return nil, err
	}

	var m merger
	if page > 1 {
		o.run(ctx, backend, &m, q.PrimaryQuery, maxResults, page)
	} else {
		o.run(ctx, backend, &m, q.PrimaryQuery, maxResults, 1)

		queries := []string{q.PrimaryQuery}
		if q.AlternativeQuery != "" && q.AlternativeQuery != q.PrimaryQuery && len(m.items) < o.opts.MinResults {
			if err := o.sleep(ctx, o.opts.FallbackBackoff); err != nil {
				return nil, err
			}
			o.run(ctx, backend, &m, q.AlternativeQuery, maxResults, 1)
			queries = append(queries, q.AlternativeQuery)
		}

		if len(m.items) == 0 {
			o.logSearch(ctx, backend.Name(), q.PrimaryQuery, 0, eligibleOnly, page, o.applyTag(ctx, nil))
			return nil, &NoResultsError{Backend: backend.Name(), Queries: queries, Failures: m.failures}
		}
	}

	result := Rank(m.items, maxResults, eligibleOnly)
	o.logSearch(ctx, backend.Name(), q.PrimaryQuery, len(result), eligibleOnly, page, o.applyTag(ctx, result))
	return result, nil
}

// applyTag links items with the active tag and returns the tag for the
// search log. Searches are counted against the tag even when empty.
func (o *Orchestrator) applyTag(ctx context.Context, items []models.SearchItem) string {
	if o.tags == nil {
		return models.NoTag
	}
	tag := o.tags.ActiveTag(ctx)
	for i := range items {
		items[i].Affiliate = items[i].AffiliateURL(tag)
	}
	if tag == "" {
		return models.NoTag
	}
	o.tags.RecordUse(context.WithoutCancel(ctx), tag)
	return tag
}

// Rank applies the eligibility filter (ignored when it would empty the
// list), sorts by score descending and truncates to maxResults.
func Rank(items []models.SearchItem, maxResults int, eligibleOnly bool) []models.SearchItem {
	result := append([]models.SearchItem(nil), items...)

	if eligibleOnly {
		filtered := result[:0:0]
		for _, it := range result {
			if it.Eligible() {
				filtered = append(filtered, it)
			}
		}
		if len(filtered) > 0 {
			result = filtered
		} else {
			slog.Info("eligibility filter would remove every item, returning unfiltered", "count", len(result))
		}
	}

	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	if maxResults > 0 && len(result) > maxResults {
		result = result[:maxResults]
	}
	return result
}

// merger accumulates items keyed by ID; the first occurrence wins.
type merger struct {
	items    []models.SearchItem
	seen     map[string]bool
	failures []string
}

func (m *merger) add(items []models.SearchItem) int {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	added := 0
	for _, it := range items {
		if it.ID == "" || m.seen[it.ID] {
			continue
		}
		m.seen[it.ID] = true
		m.items = append(m.items, it)
		added++
	}
	return added
}

func (o *Orchestrator) run(ctx context.Context, backend models.SearchBackend, m *merger, query string, maxResults, page int) {
	items, err := backend.Search(ctx, query, maxResults, page)
	if err != nil {
		slog.Warn("search call failed", "backend", backend.Name(), "query", query, "page", page, "error", err)
		m.failures = append(m.failures, err.Error())
		return
	}
	added := m.add(items)
	slog.Info("search call", "backend", backend.Name(), "query", query, "page", page, "returned", len(items), "new", added, "total", len(m.items))
}

func (o *Orchestrator) logSearch(ctx context.Context, backend, query string, count int, eligibleOnly bool, page int, tagUsed string) {
	if o.logger == nil {
		return
	}
	entry := &models.SearchLog{
		ID:           uuid.New().String(),
		Query:        query,
		Backend:      backend,
		ResultCount:  count,
		EligibleOnly: eligibleOnly,
		Page:         page,
		TagUsed:      tagUsed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.logger.RecordSearch(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("recording search", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
