// Package affiliate picks the associate tag applied to product links and
// counts the searches each stored tag served.
package affiliate

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/snapfind/internal/credentials"
)

// TagStore is the part of store.Store the resolver needs.
type TagStore interface {
	ActiveAffiliateTag(ctx context.Context) (string, error)
	IncrementTagSearchCount(ctx context.Context, tag string) error
}

// Resolver prefers the active stored tag and falls back to the
// amazon_associate_tag credential. Lookup errors degrade to the next
// source; links are never withheld because of them.
type Resolver struct {
	tags  TagStore
	creds credentials.Getter
}

func NewResolver(tags TagStore, creds credentials.Getter) *Resolver {
	return &Resolver{tags: tags, creds: creds}
}

// ActiveTag returns the tag to apply, or "" for untagged links.
func (r *Resolver) ActiveTag(ctx context.Context) string {
	if r.tags != nil {
		tag, err := r.tags.ActiveAffiliateTag(ctx)
		if err != nil {
			slog.Warn("reading active affiliate tag", "error", err)
		} else if tag != "" {
			return tag
		}
	}
	if r.creds == nil {
		return ""
	}
	tag, ok, err := r.creds.Lookup(ctx, credentials.AmazonAssociateTag)
	if err != nil {
		slog.Warn("reading associate tag credential", "error", err)
	}
	if !ok {
		return ""
	}
	return tag
}

// RecordUse bumps the search count of tag.
func (r *Resolver) RecordUse(ctx context.Context, tag string) {
	if r.tags == nil || tag == "" {
		return
	}
	if err := r.tags.IncrementTagSearchCount(ctx, tag); err != nil {
		slog.Warn("incrementing tag search count", "tag", tag, "error", err)
	}
}
