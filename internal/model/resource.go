package model

// ResourceSet is a protected resource registered with the authorization server.
type ResourceSet struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Scopes   []string `json:"scopes"`
	Policies []Policy `json:"policies,omitempty"`
}

type Policy struct {
	ID    string       `json:"id"`
	Rules []PolicyRule `json:"rules"`
}

// PolicyClaim is a claim a rule requires. When Regex is set, Value is a
// regular expression matched against the presented value.
type PolicyClaim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Regex bool   `json:"regex,omitempty"`
}

type ClaimsProvider struct {
	Name   string `json:"name"`
	Issuer string `json:"issuer,omitempty"`
}

type PolicyRule struct {
	ID                           string          `json:"id"`
	Scopes                       []string        `json:"scopes"`
	ClientIDs                    []string        `json:"client_ids,omitempty"`
	Claims                       []PolicyClaim   `json:"claims,omitempty"`
	IsResourceOwnerConsentNeeded bool            `json:"is_resource_owner_consent_needed"`
	ClaimsProvider               *ClaimsProvider `json:"claims_provider,omitempty"`
}
