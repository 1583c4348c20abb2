package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-cloudauth/core"
	"github.com/uptrace/bun"
)

type AuthorizationStateStore struct {
	db   *bun.DB
	repo repository.Repository[*authorizationStateRecord]
	now  func() time.Time
}

func NewAuthorizationStateStore(db *bun.DB) (*AuthorizationStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*authorizationStateRecord](db, authorizationStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid authorization state repository wiring: %w", err)
		}
	}
	return &AuthorizationStateStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Save stores a freshly issued state and sweeps expired ones.
func (s *AuthorizationStateStore) Save(ctx context.Context, state core.AuthorizationState) error {
	if s == nil || s.repo == nil || s.db == nil {
		return fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	token := strings.TrimSpace(state.Token)
	if token == "" {
		return fmt.Errorf("sqlstore: authorization state token is required")
	}
	if _, err := s.db.NewDelete().
		Model((*authorizationStateRecord)(nil)).
		Where("expires_at < ?", s.now()).
		Exec(ctx); err != nil {
		return err
	}
	_, err := s.repo.Create(ctx, &authorizationStateRecord{
		Token:       token,
		Owner:       strings.TrimSpace(state.Owner),
		ProviderID:  strings.TrimSpace(state.ProviderID),
		RedirectURI: strings.TrimSpace(state.RedirectURI),
		CreatedAt:   state.CreatedAt.UTC(),
		ExpiresAt:   state.ExpiresAt.UTC(),
	})
	return err
}

// Consume reads and deletes the state inside one transaction. Only the
// caller whose DELETE removes the row gets the state back.
func (s *AuthorizationStateStore) Consume(ctx context.Context, token string) (core.AuthorizationState, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationState{}, fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.AuthorizationState{}, core.NewAuthenticationError("sqlstore: authorization state not found or already used")
	}

	var consumed core.AuthorizationState
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &authorizationStateRecord{}
		if err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.token = ?", token).
			Limit(1).
			Scan(ctx); err != nil {
			if isNoRows(err) {
				return core.NewAuthenticationError("sqlstore: authorization state not found or already used")
			}
			return err
		}
		res, err := tx.NewDelete().
			Model((*authorizationStateRecord)(nil)).
			Where("token = ?", token).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return core.NewAuthenticationError("sqlstore: authorization state not found or already used")
		}
		consumed = record.toDomain()
		return nil
	})
	if err != nil {
		return core.AuthorizationState{}, err
	}
	return consumed, nil
}

func (s *AuthorizationStateStore) Pending(ctx context.Context, owner string, providerID string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: authorization state store is not configured")
	}
	return s.db.NewSelect().
		Model((*authorizationStateRecord)(nil)).
		Where("?TableAlias.owner = ?", strings.TrimSpace(owner)).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.expires_at >= ?", now.UTC()).
		Exists(ctx)
}
