package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the SnapFind server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Vision    VisionConfig
	Search    SearchConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port          int
	Env           string
	MaxImageBytes int64
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// VisionConfig controls provider selection and the circuit breaker.
type VisionConfig struct {
	Mode             string
	CallTimeout      time.Duration
	FailureThreshold int
	GonePatterns     []string
	// ModelToggles maps a toggle key (see ToggleKey) to its explicit value.
	// Models without an entry use their catalogue default.
	ModelToggles     map[string]bool
	OpenRouterModels []string
	AzureDeployments []string
	AzureAPIVersion  string
}

// SearchConfig controls backend selection and the query strategy.
type SearchConfig struct {
	Backend                  string
	MaxResults               int
	EligibleOnly             bool
	FallbackBackoff          time.Duration
	MinResultsBeforeFallback int
	CacheTTL                 time.Duration
	Country                  string
	RequestTimeout           time.Duration
}

type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

var validBackends = map[string]bool{
	"auto":       true,
	"paapi":      true,
	"dataforseo": true,
	"rapidapi":   true,
}

// DefaultGonePatterns are error substrings that mean a model is permanently unavailable.
var DefaultGonePatterns = []string{
	"not found",
	"no such model",
	"deprecated",
	"invalid model",
	"does not exist",
	"decommissioned",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("SNAPFIND_PORT", 8080),
			Env:           envString("SNAPFIND_ENV", "development"),
			MaxImageBytes: int64(envInt("SNAPFIND_MAX_IMAGE_BYTES", 10<<20)),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Vision: VisionConfig{
			Mode:             envString("VISION_MODE", "best"),
			CallTimeout:      envDurationSecs("VISION_CALL_TIMEOUT_SECS", 45*time.Second),
			FailureThreshold: envInt("VISION_FAILURE_THRESHOLD", 3),
			GonePatterns:     envList("VISION_GONE_PATTERNS", DefaultGonePatterns),
			ModelToggles:     envToggles(os.Environ()),
			OpenRouterModels: envList("OPENROUTER_MODELS", nil),
			AzureDeployments: envList("AZURE_OPENAI_DEPLOYMENTS", nil),
			AzureAPIVersion:  envString("AZURE_OPENAI_API_VERSION", "2024-12-01-preview"),
		},
		Search: SearchConfig{
			Backend:                  strings.ToLower(envString("SEARCH_BACKEND", "auto")),
			MaxResults:               envInt("SEARCH_MAX_RESULTS", 20),
			EligibleOnly:             envBool("SEARCH_ELIGIBLE_ONLY", false),
			FallbackBackoff:          envDuration("SEARCH_FALLBACK_BACKOFF", time.Second),
			MinResultsBeforeFallback: envInt("SEARCH_MIN_RESULTS_BEFORE_FALLBACK", 3),
			CacheTTL:                 envDuration("SEARCH_CACHE_TTL", 10*time.Minute),
			Country:                  envString("SEARCH_COUNTRY", "US"),
			RequestTimeout:           envDurationSecs("SEARCH_REQUEST_TIMEOUT_SECS", 30*time.Second),
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
			Timeout:    envDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Search.Backend] {
		return fmt.Errorf("SEARCH_BACKEND must be one of auto, paapi, dataforseo, rapidapi; got %q", c.Search.Backend)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("SEARCH_MAX_RESULTS must be positive, got %d", c.Search.MaxResults)
	}

	if c.Vision.FailureThreshold <= 0 {
		return fmt.Errorf("VISION_FAILURE_THRESHOLD must be positive, got %d", c.Vision.FailureThreshold)
	}
	if c.Vision.CallTimeout <= 0 {
		return fmt.Errorf("VISION_CALL_TIMEOUT_SECS must be positive")
	}

	if c.Notify.WebhookURL != "" &&
		!strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		return fmt.Errorf("NOTIFY_WEBHOOK_URL must start with http:// or https://, got %q", c.Notify.WebhookURL)
	}

	return nil
}

// ToggleKey returns the environment variable that enables or disables a model,
// e.g. "gpt-4o-mini" -> "ENABLE_GPT_4O_MINI".
func ToggleKey(modelID string) string {
	var b strings.Builder
	b.WriteString("ENABLE_")
	for _, r := range strings.ToUpper(modelID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ModelEnabled resolves a model toggle, falling back to def when unset.
func (v VisionConfig) ModelEnabled(modelID string, def bool) bool {
	if on, ok := v.ModelToggles[ToggleKey(modelID)]; ok {
		return on
	}
	return def
}

func envToggles(environ []string) map[string]bool {
	toggles := make(map[string]bool)
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "ENABLE_") {
			continue
		}
		toggles[key] = parseBool(val, true)
	}
	return toggles
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	return parseBool(os.Getenv(key), defaultVal)
}

func parseBool(v string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return defaultVal
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
