package sqlstore

import (
	"time"

	"github.com/goliatone/go-cloudauth/core"
	"github.com/goliatone/go-cloudauth/ratelimit"
	"github.com/uptrace/bun"
)

type credentialRecord struct {
	bun.BaseModel `bun:"table:cloudauth_credentials,alias:cc"`

	ID                    string     `bun:"id,pk"`
	Owner                 string     `bun:"owner,notnull"`
	ProviderID            string     `bun:"provider_id,notnull"`
	EncryptedAccessToken  []byte     `bun:"encrypted_access_token"`
	EncryptedRefreshToken []byte     `bun:"encrypted_refresh_token"`
	TokenType             string     `bun:"token_type,notnull"`
	ExpiresAt             *time.Time `bun:"expires_at,nullzero"`
	AccountID             string     `bun:"account_id,notnull"`
	Email                 string     `bun:"email,notnull"`
	DisplayName           string     `bun:"display_name,notnull"`
	Scopes                []string   `bun:"scopes,type:jsonb,notnull"`
	IsActive              bool       `bun:"is_active,notnull"`
	DeactivationReason    string     `bun:"deactivation_reason,notnull"`
	ConnectedAt           time.Time  `bun:"connected_at,nullzero,notnull"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type authorizationStateRecord struct {
	bun.BaseModel `bun:"table:cloudauth_authorization_states,alias:cas"`

	Token       string    `bun:"token,pk"`
	Owner       string    `bun:"owner,notnull"`
	ProviderID  string    `bun:"provider_id,notnull"`
	RedirectURI string    `bun:"redirect_uri,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,nullzero,notnull"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:cloudauth_rate_limit_states,alias:crl"`

	ID             string     `bun:"id,pk"`
	ProviderID     string     `bun:"provider_id,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	Limit          int        `bun:"limit_count,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	RetryAfter     *int       `bun:"retry_after_seconds"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	LastStatus     int        `bun:"last_status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	credential := core.Credential{
		ID:                    r.ID,
		Owner:                 r.Owner,
		ProviderID:            r.ProviderID,
		EncryptedAccessToken:  append([]byte(nil), r.EncryptedAccessToken...),
		EncryptedRefreshToken: append([]byte(nil), r.EncryptedRefreshToken...),
		TokenType:             r.TokenType,
		AccountID:             r.AccountID,
		Email:                 r.Email,
		DisplayName:           r.DisplayName,
		Scopes:                append([]string(nil), r.Scopes...),
		IsActive:              r.IsActive,
		DeactivationReason:    r.DeactivationReason,
		ConnectedAt:           r.ConnectedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
	if r.ExpiresAt != nil {
		credential.ExpiresAt = copyTimePointer(r.ExpiresAt)
	}
	return credential
}

func (r *authorizationStateRecord) toDomain() core.AuthorizationState {
	if r == nil {
		return core.AuthorizationState{}
	}
	return core.AuthorizationState{
		Token:       r.Token,
		Owner:       r.Owner,
		ProviderID:  r.ProviderID,
		RedirectURI: r.RedirectURI,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Key:            ratelimit.Key{ProviderID: r.ProviderID, Bucket: r.Bucket},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.RetryAfter != nil && *r.RetryAfter > 0 {
		value := time.Duration(*r.RetryAfter) * time.Second
		state.RetryAfter = &value
	}
	return state
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
