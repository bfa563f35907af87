package models

import "time"

// ProviderHealthRecord is the durable circuit-breaker state for one provider.
type ProviderHealthRecord struct {
	Provider            string     `json:"provider"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalFailures       int        `json:"total_failures"`
	Disabled            bool       `json:"disabled"`
	LastFailureReason   string     `json:"last_failure_reason,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Credential is a stored secret. Value never leaves the server unmasked.
type Credential struct {
	Name      string    `json:"name"`
	Value     string    `json:"-"`
	Masked    string    `json:"masked"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}
