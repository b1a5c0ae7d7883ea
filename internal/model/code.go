package model

import "time"

// AuthorizationCode is a one-time code issued at the authorization endpoint.
type AuthorizationCode struct {
	Code                string           `json:"code"`
	ClientID            string           `json:"client_id"`
	RedirectURI         string           `json:"redirect_uri"`
	Scopes              []string         `json:"scopes"`
	CodeChallenge       string           `json:"code_challenge,omitempty"`
	CodeChallengeMethod string           `json:"code_challenge_method,omitempty"`
	CreateDateTime      time.Time        `json:"create_date_time"`
	Subject             string           `json:"subject"`
	ResourceOwnerClaims map[string]any   `json:"resource_owner_claims,omitempty"`
	Nonce               string           `json:"nonce,omitempty"`
	ClaimsParameter     *ClaimsParameter `json:"claims,omitempty"`
	AuthTime            time.Time        `json:"auth_time"`
	AMR                 []string         `json:"amr,omitempty"`
	ACR                 string           `json:"acr,omitempty"`
}

func (c *AuthorizationCode) IsExpired(now time.Time, validity time.Duration) bool {
	return now.Sub(c.CreateDateTime) > validity
}
