package model

import (
	"slices"
	"time"
)

// Consent records that a subject approved a client's access to a scope set.
type Consent struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	Claims    []string  `json:"claims,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// Covers reports whether the consent already grants every requested scope and claim.
func (c *Consent) Covers(scopes, claims []string) bool {
	for _, scope := range scopes {
		if !slices.Contains(c.Scopes, scope) {
			return false
		}
	}
	for _, claim := range claims {
		if !slices.Contains(c.Claims, claim) {
			return false
		}
	}
	return true
}
