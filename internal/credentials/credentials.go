// Package credentials resolves vendor secrets: the database first, then the
// process environment using the upper-cased name.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// Well-known credential names.
const (
	OpenAIKey           = "openai_api_key"
	AnthropicKey        = "anthropic_api_key"
	GoogleKey           = "google_api_key"
	GroqKey             = "groq_api_key"
	OpenRouterKey       = "openrouter_api_key"
	AzureOpenAIKey      = "azure_openai_api_key"
	AzureOpenAIEndpoint = "azure_openai_endpoint"
	RapidAPIKey         = "rapidapi_key"
	AmazonAccessKey     = "amazon_access_key"
	AmazonSecretKey     = "amazon_secret_key"
	AmazonAssociateTag  = "amazon_associate_tag"
	DataForSEOLogin     = "dataforseo_login"
	DataForSEOPassword  = "dataforseo_password"
)

// Known lists every credential name the server understands, in display order.
var Known = []string{
	OpenAIKey, AnthropicKey, GoogleKey, GroqKey, OpenRouterKey,
	AzureOpenAIKey, AzureOpenAIEndpoint,
	RapidAPIKey, AmazonAccessKey, AmazonSecretKey, AmazonAssociateTag,
	DataForSEOLogin, DataForSEOPassword,
}

var ErrUnknownCredential = errors.New("unknown credential")

// Getter is the read side consumed by the registry and backend selector.
// Lookup returns the environment fallback together with any database error,
// so callers can tell a degraded answer from an authoritative one.
type Getter interface {
	Lookup(ctx context.Context, name string) (string, bool, error)
}

// Backend persists credentials. store.PostgresStore implements it.
type Backend interface {
	GetCredential(ctx context.Context, name string) (string, bool, error)
	SetCredential(ctx context.Context, name, value string) error
	DeleteCredential(ctx context.Context, name string) error
	ListCredentials(ctx context.Context) ([]models.Credential, error)
}

// Store layers a persistent backend over environment variables and fans
// out change events to registered listeners.
type Store struct {
	db        Backend
	lookupEnv func(string) (string, bool)

	mu        sync.RWMutex
	listeners []func()
}

// NewStore creates a Store. db may be nil, in which case only the environment is consulted.
func NewStore(db Backend) *Store {
	return &Store{db: db, lookupEnv: os.LookupEnv}
}

// WithEnv replaces the environment lookup. Used by tests.
func (s *Store) WithEnv(lookup func(string) (string, bool)) *Store {
	s.lookupEnv = lookup
	return s
}

// OnChange registers fn to run after every successful Set or Delete.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Lookup returns the credential value and whether it is set. A database
// error does not stop the environment fallback; it is returned alongside it.
func (s *Store) Lookup(ctx context.Context, name string) (string, bool, error) {
	var dbErr error
	if s.db != nil {
		val, found, err := s.db.GetCredential(ctx, name)
		if err != nil {
			dbErr = fmt.Errorf("get credential %q: %w", name, err)
		} else if found && val != "" {
			return val, true, nil
		}
	}
	if val, ok := s.lookupEnv(strings.ToUpper(name)); ok && val != "" {
		return val, true, dbErr
	}
	return "", false, dbErr
}

// Get is Lookup with database errors logged instead of returned.
func (s *Store) Get(ctx context.Context, name string) (string, bool) {
	val, ok, err := s.Lookup(ctx, name)
	if err != nil {
		slog.Warn("credential lookup failed, falling back to environment", "name", name, "error", err)
	}
	return val, ok
}

// Set stores a credential and notifies listeners.
func (s *Store) Set(ctx context.Context, name, value string) error {
	if !isKnown(name) {
		return fmt.Errorf("%w: %q", ErrUnknownCredential, name)
	}
	if s.db == nil {
		return fmt.Errorf("set credential %q: no persistent store configured", name)
	}
	if err := s.db.SetCredential(ctx, name, strings.TrimSpace(value)); err != nil {
		return err
	}
	slog.Info("credential updated", "name", name)
	s.notify()
	return nil
}

// Delete removes a stored credential and notifies listeners. The environment
// value, if any, becomes effective again.
func (s *Store) Delete(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("delete credential %q: no persistent store configured", name)
	}
	if err := s.db.DeleteCredential(ctx, name); err != nil {
		return err
	}
	slog.Info("credential deleted", "name", name)
	s.notify()
	return nil
}

// List reports every known credential with its masked value and source.
func (s *Store) List(ctx context.Context) ([]models.Credential, error) {
	stored := map[string]models.Credential{}
	if s.db != nil {
		creds, err := s.db.ListCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		for _, c := range creds {
			stored[c.Name] = c
		}
	}

	out := make([]models.Credential, 0, len(Known))
	for _, name := range Known {
		c := models.Credential{Name: name, Source: "unset"}
		if db, ok := stored[name]; ok && db.Value != "" {
			c = db
			c.Source = "database"
		} else if v, ok := s.lookupEnv(strings.ToUpper(name)); ok && v != "" {
			c.Value = v
			c.Source = "environment"
		}
		c.Masked = Mask(c.Value)
		c.Value = ""
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) notify() {
	s.mu.RLock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// Mask hides all but the first and last four characters of a secret.
func Mask(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return "****"
	default:
		return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
}

func isKnown(name string) bool {
	for _, k := range Known {
		if k == name {
			return true
		}
	}
	return false
}
