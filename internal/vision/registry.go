// Package vision turns a photo into a product identification by fanning out
// to every active vision provider and picking the best answer.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"

	"github.com/kiranshivaraju/snapfind/internal/config"
	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/pkg/models"
	"golang.org/x/sync/singleflight"
)

// DisabledSource reports providers whose breaker is open.
type DisabledSource interface {
	Disabled(ctx context.Context) (map[string]bool, error)
}

// Registry holds the set of usable providers. It is built lazily from the
// catalogue, credentials, model toggles and the disabled set, then cached
// until Invalidate is called. A set built while the health or credential
// store was failing is served to the callers that built it but never cached.
type Registry struct {
	creds    credentials.Getter
	disabled DisabledSource
	cfg      config.VisionConfig
	vendors  []Vendor

	mu      sync.RWMutex
	ordered []models.VisionProvider
	byName  map[string]models.VisionProvider
	gen     uint64

	// lastDisabled is the most recent disabled set read successfully.
	lastDisabled map[string]bool
	haveDisabled bool

	group singleflight.Group
}

func NewRegistry(creds credentials.Getter, disabled DisabledSource, cfg config.VisionConfig, vendors []Vendor) *Registry {
	return &Registry{
		creds:    creds,
		disabled: disabled,
		cfg:      cfg,
		vendors:  vendors,
	}
}

// Invalidate drops the cached set. The next call rebuilds it.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.ordered = nil
	r.byName = nil
	r.gen++
	r.mu.Unlock()
}

// Ordered returns the active providers in catalogue order.
func (r *Registry) Ordered(ctx context.Context) ([]models.VisionProvider, error) {
	ordered, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.VisionProvider(nil), ordered...), nil
}

// Providers returns the active providers keyed by name.
func (r *Registry) Providers(ctx context.Context) (map[string]models.VisionProvider, error) {
	_, byName, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.VisionProvider, len(byName))
	for k, v := range byName {
		out[k] = v
	}
	return out, nil
}

type snapshot struct {
	ordered  []models.VisionProvider
	byName   map[string]models.VisionProvider
	degraded bool
}

func (r *Registry) load(ctx context.Context) ([]models.VisionProvider, map[string]models.VisionProvider, error) {
	r.mu.RLock()
	ordered, byName, gen := r.ordered, r.byName, r.gen
	r.mu.RUnlock()
	if ordered != nil {
		return ordered, byName, nil
	}

	// Keyed by generation so a build that straddles Invalidate is never
	// shared with callers that arrive after it. The build is shared, so it
	// must not fail because the first caller went away.
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		r.mu.RLock()
		cached := snapshot{ordered: r.ordered, byName: r.byName}
		r.mu.RUnlock()
		if cached.ordered != nil {
			return cached, nil
		}

		s, err := r.build(buildCtx)
		if err != nil {
			return nil, err
		}
		if s.degraded {
			return s, nil
		}
		r.mu.Lock()
		if r.gen == gen {
			r.ordered, r.byName = s.ordered, s.byName
		}
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, nil, err
	}
	s := v.(snapshot)
	return s.ordered, s.byName, nil
}

func (r *Registry) build(ctx context.Context) (snapshot, error) {
	disabled, degraded, err := r.disabledSet(ctx)
	if err != nil {
		return snapshot{}, err
	}

	s := snapshot{byName: make(map[string]models.VisionProvider), degraded: degraded}
	for _, vendor := range r.vendors {
		creds, ok, credErr := r.resolve(ctx, vendor.Credentials)
		if credErr != nil {
			slog.Warn("credential store failed, provider set will not be cached", "vendor", vendor.Name, "error", credErr)
			s.degraded = true
		}
		if !ok {
			continue
		}
		for _, m := range vendor.Models {
			if !r.cfg.ModelEnabled(m.ID, m.DefaultOn) {
				slog.Debug("skipping provider, disabled by toggle", "vendor", vendor.Name, "model", m.ID, "toggle", config.ToggleKey(m.ID))
				continue
			}
			p := vendor.Build(creds, m)
			if disabled[p.Name()] {
				slog.Info("skipping provider, breaker open", "provider", p.Name())
				continue
			}
			if _, dup := s.byName[p.Name()]; dup {
				continue
			}
			s.ordered = append(s.ordered, p)
			s.byName[p.Name()] = p
		}
	}

	if len(s.ordered) == 0 {
		return snapshot{}, ErrNoProvidersAvailable
	}
	slog.Info("vision providers loaded", "count", len(s.ordered), "degraded", s.degraded)
	return s, nil
}

// disabledSet reads the open breakers. When the store fails it falls back
// to the last set read successfully and reports the result as degraded; with
// no earlier read there is nothing safe to dispatch against.
func (r *Registry) disabledSet(ctx context.Context) (map[string]bool, bool, error) {
	disabled, err := r.disabled.Disabled(ctx)
	if err == nil {
		r.mu.Lock()
		r.lastDisabled, r.haveDisabled = maps.Clone(disabled), true
		r.mu.Unlock()
		return disabled, false, nil
	}

	r.mu.RLock()
	last, ok := maps.Clone(r.lastDisabled), r.haveDisabled
	r.mu.RUnlock()
	if !ok {
		return nil, false, fmt.Errorf("load disabled providers: %w", err)
	}
	slog.Warn("loading disabled providers failed, using last known set", "error", err, "disabled", len(last))
	return last, true, nil
}

// resolve reports whether every credential is set. err is non-nil when the
// credential store failed for any of them, even if a fallback value was found.
func (r *Registry) resolve(ctx context.Context, names []string) (map[string]string, bool, error) {
	creds := make(map[string]string, len(names))
	var errs []error
	ok := true
	for _, name := range names {
		v, found, err := r.creds.Lookup(ctx, name)
		if err != nil {
			errs = append(errs, err)
		}
		if !found || v == "" {
			ok = false
			continue
		}
		creds[name] = v
	}
	return creds, ok, errors.Join(errs...)
}
