package model

import "time"

const TokenTypeBearer = "Bearer"

// GrantedToken is an issued access token with its optional refresh token and ID token.
type GrantedToken struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token,omitempty"`
	TokenType        string         `json:"token_type"`
	Scope            string         `json:"scope"`
	CreateDateTime   time.Time      `json:"create_date_time"`
	ExpiresIn        time.Duration  `json:"expires_in"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at,omitempty"`
	ClientID         string         `json:"client_id"`
	Subject          string         `json:"subject,omitempty"`
	GrantType        string         `json:"grant_type,omitempty"`
	IDToken          string         `json:"id_token,omitempty"`
	IDTokenPayload   map[string]any `json:"id_token_payload,omitempty"`
	UserInfoPayload  map[string]any `json:"user_info_payload,omitempty"`
}

func (t *GrantedToken) ExpiresAt() time.Time {
	return t.CreateDateTime.Add(t.ExpiresIn)
}

// IsExpired must be evaluated on every read; a cached answer would outlive the token.
func (t *GrantedToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

func (t *GrantedToken) IsRefreshExpired(now time.Time) bool {
	if t.RefreshExpiresAt.IsZero() {
		return t.IsExpired(now)
	}
	return !now.Before(t.RefreshExpiresAt)
}

// ExpiresInSeconds is the remaining lifetime rendered in token responses.
func (t *GrantedToken) ExpiresInSeconds(now time.Time) int64 {
	remaining := t.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}
