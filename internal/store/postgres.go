package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/snapfind/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Credentials ---

func (s *PostgresStore) GetCredential(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM credentials WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get credential: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetCredential(ctx context.Context, name, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (name, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		name, value)
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, value, updated_at FROM credentials ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.Name, &c.Value, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		c.Source = "database"
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// --- Provider Health ---

// IncrementFailure atomically bumps both failure counters, creating the row on
// first failure, and returns the new consecutive count. Concurrent callers in
// any number of processes never lose an increment.
func (s *PostgresStore) IncrementFailure(ctx context.Context, provider, reason string) (int, error) {
	var consecutive int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO provider_health (provider, consecutive_failures, total_failures, last_failure_reason, last_failure_at, updated_at)
		 VALUES ($1, 1, 1, $2, NOW(), NOW())
		 ON CONFLICT (provider) DO UPDATE SET
		   consecutive_failures = provider_health.consecutive_failures + 1,
		   total_failures = provider_health.total_failures + 1,
		   last_failure_reason = EXCLUDED.last_failure_reason,
		   last_failure_at = EXCLUDED.last_failure_at,
		   updated_at = NOW()
		 RETURNING consecutive_failures`,
		provider, reason,
	).Scan(&consecutive)
	if err != nil {
		return 0, fmt.Errorf("increment failure: %w", err)
	}
	return consecutive, nil
}

func (s *PostgresStore) ResetFailures(ctx context.Context, provider string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE provider_health SET consecutive_failures = 0, updated_at = NOW()
		 WHERE provider = $1 AND consecutive_failures <> 0`, provider)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDisabled(ctx context.Context, provider, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_health (provider, disabled, last_failure_reason, updated_at)
		 VALUES ($1, TRUE, $2, NOW())
		 ON CONFLICT (provider) DO UPDATE SET
		   disabled = TRUE,
		   last_failure_reason = EXCLUDED.last_failure_reason,
		   updated_at = NOW()`,
		provider, reason)
	if err != nil {
		return fmt.Errorf("mark disabled: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkEnabled(ctx context.Context, provider string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_health (provider, updated_at) VALUES ($1, NOW())
		 ON CONFLICT (provider) DO UPDATE SET
		   disabled = FALSE,
		   consecutive_failures = 0,
		   updated_at = NOW()`,
		provider)
	if err != nil {
		return fmt.Errorf("mark enabled: %w", err)
	}
	return nil
}

func (s *PostgresStore) DisabledSet(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT provider FROM provider_health WHERE disabled`)
	if err != nil {
		return nil, fmt.Errorf("get disabled set: %w", err)
	}
	defer rows.Close()

	disabled := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan disabled provider: %w", err)
		}
		disabled[name] = true
	}
	return disabled, rows.Err()
}

func (s *PostgresStore) AllHealth(ctx context.Context) ([]models.ProviderHealthRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider, consecutive_failures, total_failures, disabled, last_failure_reason, last_failure_at, updated_at
		 FROM provider_health ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("get all health: %w", err)
	}
	defer rows.Close()

	var records []models.ProviderHealthRecord
	for rows.Next() {
		var h models.ProviderHealthRecord
		if err := rows.Scan(&h.Provider, &h.ConsecutiveFailures, &h.TotalFailures, &h.Disabled,
			&h.LastFailureReason, &h.LastFailureAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider health: %w", err)
		}
		records = append(records, h)
	}
	return records, rows.Err()
}

// --- Ledger ---

func (s *PostgresStore) RecordVisionCall(ctx context.Context, call *models.VisionCall) error {
	id, err := uuid.Parse(call.ID)
	if err != nil {
		id = uuid.New()
		call.ID = id.String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO vision_calls (id, provider, success, latency_ms, input_tokens, output_tokens, cost_usd, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, call.Provider, call.Success, call.LatencyMS, call.InputTokens, call.OutputTokens,
		call.CostUSD, call.Error, call.CreatedAt)
	if err != nil {
		return fmt.Errorf("record vision call: %w", err)
	}
	return nil
}

func (s *PostgresStore) ProviderUsage(ctx context.Context, since time.Time) ([]models.ProviderUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE NOT success),
		        COALESCE(SUM(cost_usd), 0),
		        COALESCE(AVG(latency_ms) FILTER (WHERE success), 0)
		 FROM vision_calls WHERE created_at >= $1
		 GROUP BY provider ORDER BY provider`, since)
	if err != nil {
		return nil, fmt.Errorf("provider usage: %w", err)
	}
	defer rows.Close()

	var usage []models.ProviderUsage
	for rows.Next() {
		var u models.ProviderUsage
		if err := rows.Scan(&u.Provider, &u.Calls, &u.Failures, &u.TotalCostUSD, &u.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("scan provider usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func (s *PostgresStore) RecordSearch(ctx context.Context, log *models.SearchLog) error {
	id, err := uuid.Parse(log.ID)
	if err != nil {
		id = uuid.New()
		log.ID = id.String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	tagUsed := log.TagUsed
	if tagUsed == "" {
		tagUsed = models.NoTag
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_logs (id, query, backend, result_count, eligible_only, page, tag_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, log.Query, log.Backend, log.ResultCount, log.EligibleOnly, log.Page, tagUsed, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("record search: %w", err)
	}
	return nil
}

// --- Affiliate Tags ---

// CreateAffiliateTag inserts tag. When tag.Active is set every other tag is
// deactivated in the same transaction.
func (s *PostgresStore) CreateAffiliateTag(ctx context.Context, tag *models.AffiliateTag) error {
	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create affiliate tag: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if tag.Active {
		if _, err := tx.Exec(ctx, `UPDATE affiliate_tags SET is_active = FALSE WHERE is_active`); err != nil {
			return fmt.Errorf("create affiliate tag: deactivate others: %w", err)
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO affiliate_tags (id, tag, description, is_active, search_count, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5)`,
		tag.ID, tag.Tag, tag.Description, tag.Active, tag.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create affiliate tag: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListAffiliateTags(ctx context.Context) ([]models.AffiliateTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tag, description, is_active, search_count, created_at
		 FROM affiliate_tags ORDER BY is_active DESC, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list affiliate tags: %w", err)
	}
	defer rows.Close()

	var tags []models.AffiliateTag
	for rows.Next() {
		var t models.AffiliateTag
		if err := rows.Scan(&t.ID, &t.Tag, &t.Description, &t.Active, &t.SearchCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan affiliate tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ActiveAffiliateTag returns the active tag, or "" when none is active.
func (s *PostgresStore) ActiveAffiliateTag(ctx context.Context) (string, error) {
	var tag string
	err := s.pool.QueryRow(ctx, `SELECT tag FROM affiliate_tags WHERE is_active LIMIT 1`).Scan(&tag)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active affiliate tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) ActivateAffiliateTag(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("activate affiliate tag: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE affiliate_tags SET is_active = FALSE WHERE is_active AND id <> $1`, id); err != nil {
		return fmt.Errorf("activate affiliate tag: deactivate others: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE affiliate_tags SET is_active = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate affiliate tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// DeactivateAffiliateTags leaves no tag active, so links go out untagged
// unless the associate tag credential is set.
func (s *PostgresStore) DeactivateAffiliateTags(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `UPDATE affiliate_tags SET is_active = FALSE WHERE is_active`); err != nil {
		return fmt.Errorf("deactivate affiliate tags: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAffiliateTag(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM affiliate_tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete affiliate tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementTagSearchCount is a no-op for tags that are not stored, such as
// one supplied through the credential.
func (s *PostgresStore) IncrementTagSearchCount(ctx context.Context, tag string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE affiliate_tags SET search_count = search_count + 1 WHERE tag = $1`, tag); err != nil {
		return fmt.Errorf("increment tag search count: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
