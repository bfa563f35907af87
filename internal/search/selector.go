package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/snapfind/internal/credentials"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// ModeAuto picks the first backend, in priority order, whose credentials are set.
const ModeAuto = "auto"

// BackendSpec describes one search backend and what it needs to run.
type BackendSpec struct {
	Name        string
	Credentials []string
	Build       func(creds map[string]string) models.SearchBackend
}

// Selector chooses the active backend once and caches it until Invalidate.
type Selector struct {
	creds    credentials.Getter
	mode     string
	specs    []BackendSpec
	decorate func(models.SearchBackend) models.SearchBackend

	mu     sync.Mutex
	active models.SearchBackend
}

// NewSelector creates a Selector. specs are in auto-mode priority order.
func NewSelector(creds credentials.Getter, mode string, specs []BackendSpec) *Selector {
	if mode == "" {
		mode = ModeAuto
	}
	return &Selector{creds: creds, mode: mode, specs: specs}
}

// WithDecorator wraps every backend the selector builds, e.g. in a cache.
func (s *Selector) WithDecorator(fn func(models.SearchBackend) models.SearchBackend) *Selector {
	s.decorate = fn
	return s
}

func (s *Selector) Invalidate() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// Backend returns the active backend, building it on first use. An explicit
// mode without credentials fails with *ConfigError; auto mode with nothing
// configured fails with ErrNoBackendConfigured. A backend chosen while the
// credential store was failing may not be the highest-priority one, so it is
// returned but not cached.
func (s *Selector) Backend(ctx context.Context) (models.SearchBackend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return s.active, nil
	}

	b, degraded, err := s.build(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	if s.decorate != nil {
		b = s.decorate(b)
	}
	if degraded {
		slog.Warn("search backend chosen from degraded credentials, not caching", "backend", b.Name())
		return b, nil
	}
	s.active = b
	return b, nil
}

// ActiveName reports the active backend's name, or "" when none can be built.
func (s *Selector) ActiveName(ctx context.Context) string {
	b, err := s.Backend(ctx)
	if err != nil {
		return ""
	}
	return b.Name()
}

func (s *Selector) build(ctx context.Context) (models.SearchBackend, bool, error) {
	if s.mode != ModeAuto {
		for _, spec := range s.specs {
			if spec.Name != s.mode {
				continue
			}
			creds, missing, err := s.resolve(ctx, spec.Credentials)
			if err != nil {
				slog.Warn("credential store failed while selecting search backend", "backend", spec.Name, "error", err)
			}
			if len(missing) > 0 {
				return nil, false, &ConfigError{Backend: spec.Name, Missing: missing}
			}
			slog.Info("search backend selected", "backend", spec.Name, "mode", s.mode)
			return spec.Build(creds), err != nil, nil
		}
		return nil, false, &ConfigError{Backend: s.mode}
	}

	degraded := false
	for _, spec := range s.specs {
		creds, missing, err := s.resolve(ctx, spec.Credentials)
		if err != nil {
			slog.Warn("credential store failed while selecting search backend", "backend", spec.Name, "error", err)
			degraded = true
		}
		if len(missing) > 0 {
			continue
		}
		slog.Info("search backend selected", "backend", spec.Name, "mode", ModeAuto)
		return spec.Build(creds), degraded, nil
	}
	return nil, false, ErrNoBackendConfigured
}

// resolve returns the credentials that are set, the names that are not, and
// any credential store error hit along the way.
func (s *Selector) resolve(ctx context.Context, names []string) (map[string]string, []string, error) {
	creds := make(map[string]string, len(names))
	var missing []string
	var errs []error
	for _, name := range names {
		v, ok, err := s.creds.Lookup(ctx, name)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		creds[name] = v
	}
	return creds, missing, errors.Join(errs...)
}
