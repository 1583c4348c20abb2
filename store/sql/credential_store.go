package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-cloudauth/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CredentialStore persists one row per (owner, provider). Reconnecting
// reuses the row; disconnecting flips is_active.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*credentialRecord]
	now  func() time.Time
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecord](db, credentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *CredentialStore) Get(ctx context.Context, key core.CredentialKey) (core.Credential, bool, error) {
	if s == nil || s.repo == nil {
		return core.Credential{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key = normalizeCredentialKey(key)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("owner", "=", key.Owner),
		repository.SelectBy("provider_id", "=", key.ProviderID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Credential{}, false, err
	}
	if len(records) == 0 {
		return core.Credential{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, in core.CredentialUpsert) (core.Credential, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key := normalizeCredentialKey(core.CredentialKey{Owner: in.Owner, ProviderID: in.ProviderID})
	if key.Owner == "" || key.ProviderID == "" {
		return core.Credential{}, fmt.Errorf("sqlstore: owner and provider id are required")
	}
	if len(in.EncryptedAccessToken) == 0 {
		return core.Credential{}, fmt.Errorf("sqlstore: encrypted access token is required")
	}

	now := s.now()
	connectedAt := in.ConnectedAt.UTC()
	if in.ConnectedAt.IsZero() {
		connectedAt = now
	}
	expiresAt := in.ExpiresAt.UTC()

	var saved core.Credential
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &credentialRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.owner = ?", key.Owner).
			Where("?TableAlias.provider_id = ?", key.ProviderID).
			Limit(1).
			Scan(ctx)
		if err != nil && !isNoRows(err) {
			return err
		}

		record := existing
		if isNoRows(err) {
			record = &credentialRecord{
				ID:         uuid.NewString(),
				Owner:      key.Owner,
				ProviderID: key.ProviderID,
				CreatedAt:  now,
			}
		}
		record.EncryptedAccessToken = append([]byte(nil), in.EncryptedAccessToken...)
		record.EncryptedRefreshToken = append([]byte(nil), in.EncryptedRefreshToken...)
		record.TokenType = core.NormalizeTokenType(in.TokenType)
		record.ExpiresAt = &expiresAt
		record.Scopes = nonNilScopes(in.Scopes)
		record.AccountID = in.Account.AccountID
		record.Email = in.Account.Email
		record.DisplayName = in.Account.DisplayName
		record.IsActive = true
		record.DeactivationReason = ""
		record.ConnectedAt = connectedAt
		record.UpdatedAt = now

		if isNoRows(err) {
			created, createErr := s.repo.CreateTx(ctx, tx, record)
			if createErr != nil {
				return createErr
			}
			saved = created.toDomain()
			return nil
		}
		if _, updateErr := tx.NewUpdate().
			Model(record).
			WherePK().
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		saved = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Credential{}, err
	}
	return saved, nil
}

// UpdateTokens writes the refreshed token material in a single UPDATE
// guarded by is_active, so a concurrent disconnect wins.
func (s *CredentialStore) UpdateTokens(ctx context.Context, key core.CredentialKey, in core.TokenUpdate) (core.Credential, error) {
	if s == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key = normalizeCredentialKey(key)
	if len(in.EncryptedAccessToken) == 0 {
		return core.Credential{}, fmt.Errorf("sqlstore: encrypted access token is required")
	}
	expiresAt := in.ExpiresAt.UTC()

	res, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("encrypted_access_token = ?", in.EncryptedAccessToken).
		Set("encrypted_refresh_token = ?", in.EncryptedRefreshToken).
		Set("token_type = ?", core.NormalizeTokenType(in.TokenType)).
		Set("expires_at = ?", expiresAt).
		Set("scopes = ?", scopesJSON(in.Scopes)).
		Set("updated_at = ?", s.now()).
		Where("owner = ?", key.Owner).
		Where("provider_id = ?", key.ProviderID).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return core.Credential{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.Credential{}, core.NewNotConnectedError(key.Owner, key.ProviderID)
	}
	return s.mustGet(ctx, key)
}

func (s *CredentialStore) UpdateAccountInfo(ctx context.Context, key core.CredentialKey, account core.AccountInfo) (core.Credential, error) {
	if s == nil || s.db == nil {
		return core.Credential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key = normalizeCredentialKey(key)
	res, err := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("account_id = ?", account.AccountID).
		Set("email = ?", account.Email).
		Set("display_name = ?", account.DisplayName).
		Set("updated_at = ?", s.now()).
		Where("owner = ?", key.Owner).
		Where("provider_id = ?", key.ProviderID).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return core.Credential{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.Credential{}, core.NewNotConnectedError(key.Owner, key.ProviderID)
	}
	return s.mustGet(ctx, key)
}

func (s *CredentialStore) Deactivate(ctx context.Context, key core.CredentialKey, reason string, clearTokens bool) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key = normalizeCredentialKey(key)
	query := s.db.NewUpdate().
		Model((*credentialRecord)(nil)).
		Set("is_active = ?", false).
		Set("deactivation_reason = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", s.now()).
		Where("owner = ?", key.Owner).
		Where("provider_id = ?", key.ProviderID).
		Where("is_active = ?", true)
	if clearTokens {
		query = query.
			Set("encrypted_access_token = NULL").
			Set("encrypted_refresh_token = NULL")
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *CredentialStore) ListDue(ctx context.Context, providerID string, cutoff time.Time) ([]core.Credential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.is_active = ?", true).
				Where("?TableAlias.encrypted_refresh_token IS NOT NULL").
				WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.
						Where("?TableAlias.expires_at IS NULL").
						WhereOr("?TableAlias.expires_at <= ?", cutoff.UTC())
				})
		}),
		repository.OrderBy("owner ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Credential, 0, len(records))
	for _, record := range records {
		credential := record.toDomain()
		if !credential.HasRefreshToken() {
			continue
		}
		out = append(out, credential)
	}
	return out, nil
}

func (s *CredentialStore) mustGet(ctx context.Context, key core.CredentialKey) (core.Credential, error) {
	credential, ok, err := s.Get(ctx, key)
	if err != nil {
		return core.Credential{}, err
	}
	if !ok {
		return core.Credential{}, core.NewNotConnectedError(key.Owner, key.ProviderID)
	}
	return credential, nil
}

func normalizeCredentialKey(key core.CredentialKey) core.CredentialKey {
	return core.CredentialKey{
		Owner:      strings.TrimSpace(key.Owner),
		ProviderID: strings.TrimSpace(key.ProviderID),
	}
}

func nonNilScopes(scopes []string) []string {
	if scopes == nil {
		return []string{}
	}
	return append([]string(nil), scopes...)
}
