package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	GetCredential(ctx context.Context, name string) (string, bool, error)
	SetCredential(ctx context.Context, name, value string) error
	DeleteCredential(ctx context.Context, name string) error
	ListCredentials(ctx context.Context) ([]models.Credential, error)

	IncrementFailure(ctx context.Context, provider, reason string) (int, error)
	ResetFailures(ctx context.Context, provider string) error
	MarkDisabled(ctx context.Context, provider, reason string) error
	MarkEnabled(ctx context.Context, provider string) error
	DisabledSet(ctx context.Context) (map[string]bool, error)
	AllHealth(ctx context.Context) ([]models.ProviderHealthRecord, error)

	RecordVisionCall(ctx context.Context, call *models.VisionCall) error
	ProviderUsage(ctx context.Context, since time.Time) ([]models.ProviderUsage, error)
	RecordSearch(ctx context.Context, log *models.SearchLog) error

	CreateAffiliateTag(ctx context.Context, tag *models.AffiliateTag) error
	ListAffiliateTags(ctx context.Context) ([]models.AffiliateTag, error)
	ActiveAffiliateTag(ctx context.Context) (string, error)
	ActivateAffiliateTag(ctx context.Context, id uuid.UUID) error
	DeactivateAffiliateTags(ctx context.Context) error
	DeleteAffiliateTag(ctx context.Context, id uuid.UUID) error
	IncrementTagSearchCount(ctx context.Context, tag string) error
}

var _ Store = (*PostgresStore)(nil)
